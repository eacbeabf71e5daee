// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package logstore is the content-addressed store for step output.
// Each step's combined stdout+stderr is stored as one blob, addressed
// by the BLAKE3 keyed hash of its uncompressed bytes, compressed with
// an algorithm chosen per blob, and optionally encrypted at rest.
//
// Hashing uncompressed bytes means identical output stored twice (a
// rebuilt commit, a retriggered push) deduplicates regardless of which
// compression the probe picked each time.
package logstore

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest addressing one output blob.
type Hash [32]byte

// blobDomainKey is the BLAKE3 keyed-hash domain for output blobs.
// Domain separation keeps blob hashes from ever colliding with hashes
// computed elsewhere over the same bytes. The byte values are the
// ASCII encoding of the domain name, zero-padded to 32 bytes, so the
// key is inspectable in hex dumps without sacrificing any
// cryptographic property.
var blobDomainKey = [32]byte{
	'c', 'o', 'n', 'v', 'e', 'y', 'o', 'r', '.', 'l', 'o', 'g', 's', 't', 'o', 'r',
	'e', '.', 'b', 'l', 'o', 'b', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// HashBlob computes the blob-domain BLAKE3 keyed hash of the given
// data. Always computed on uncompressed bytes so deduplication works
// across compression algorithm changes.
func HashBlob(data []byte) Hash {
	hasher, err := blake3.NewKeyed(blobDomainKey[:])
	if err != nil {
		panic("logstore: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var hash Hash
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// FormatHash returns the hex-encoded string representation of a hash.
// This is the canonical form stored in run archives and accepted by
// `conveyor history logs`.
func FormatHash(hash Hash) string {
	return hex.EncodeToString(hash[:])
}

// ParseHash parses a 64-character hex string into a Hash.
func ParseHash(hexString string) (Hash, error) {
	var hash Hash
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return hash, fmt.Errorf("parsing log blob hash: %w", err)
	}
	if len(decoded) != 32 {
		return hash, fmt.Errorf("log blob hash is %d bytes, want 32", len(decoded))
	}
	copy(hash[:], decoded)
	return hash, nil
}

// FormatRef returns the short display reference for a blob: the
// "log-" prefix followed by the first 12 hex characters. Used in
// dashboard and report output where the full hash is noise.
func FormatRef(hash Hash) string {
	return "log-" + hex.EncodeToString(hash[:6])
}
