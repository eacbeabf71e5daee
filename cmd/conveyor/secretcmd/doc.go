// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secretcmd implements the "conveyor secret" subcommands for
// managing age-sealed secret files.
//
// Subcommands:
//
//   - init: generate the runner's age identity.
//   - seal: encrypt NAME=value pairs into a repository's secrets file.
//   - show: decrypt a secrets file and list its names (values only on
//     request).
//
// Sealed values are injected into step environments at run time and
// registered with the output masker, so they never appear in stored
// step output.
package secretcmd
