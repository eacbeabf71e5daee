// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed stores build secrets as age-encrypted NAME=value
// files. A repository keeps its sealed secrets at
// .conveyor/secrets.age, encrypted to the operator's recipients; the
// runner unseals them at run time, injects the values into step
// environments, and registers them with the output masker.
//
// The sealed file is ASCII-armored age, so it diffs as text and can be
// decrypted with the stock age tool given the identity. Identities are
// age x25519 keys held in [secret.Buffer] memory (mmap outside the Go
// heap, locked against swap, excluded from core dumps, zeroed on
// Close). Unsealed values necessarily become ordinary strings — they
// are handed to child processes as environment variables — so the
// protection here is for the at-rest file and the identity, not the
// values in a running build.
//
// Key exports:
//
//   - [Generate] -- new age x25519 keypair
//   - [SaveIdentity] / [LoadIdentity] -- identity file management
//   - [Seal] -- encrypt a NAME=value map to recipients
//   - [Unseal] -- decrypt a sealed file back into a map
//   - [ParseRecipient] -- recipient key validation
package sealed
