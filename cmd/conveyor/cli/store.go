// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/hex"
	"fmt"

	"github.com/bureau-foundation/conveyor/lib/config"
	"github.com/bureau-foundation/conveyor/lib/logstore"
	"github.com/bureau-foundation/conveyor/lib/secret"
)

// OpenLogStore opens the step output blob store at the configured
// blob directory, loading the encryption key when one is configured.
// The store (and its key material, if any) lives for the remainder of
// the process; key memory is zeroed when the process exits.
func OpenLogStore(cfg *config.Config) (*logstore.Store, error) {
	var keys *logstore.EncryptionKeys
	if cfg.LogStore.KeyFile != "" {
		loaded, err := loadStoreKey(cfg.LogStore.KeyFile)
		if err != nil {
			return nil, err
		}
		keys = loaded
	}
	store, err := logstore.New(cfg.Paths.Blobs, keys)
	if err != nil {
		if keys != nil {
			keys.Close()
		}
		return nil, err
	}
	return store, nil
}

// loadStoreKey reads a hex-encoded 32-byte master key from path ("-"
// for stdin) and moves the decoded bytes into guarded memory.
func loadStoreKey(path string) (*logstore.EncryptionKeys, error) {
	hexKey, err := secret.ReadFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("reading log store key: %w", err)
	}
	defer hexKey.Close()

	decoded := make([]byte, hex.DecodedLen(hexKey.Len()))
	if _, err := hex.Decode(decoded, hexKey.Bytes()); err != nil {
		secret.Zero(decoded)
		return nil, fmt.Errorf("log store key %s: not valid hex: %w", path, err)
	}

	// NewFromBytes zeroes decoded after copying it into mmap memory.
	buffer, err := secret.NewFromBytes(decoded)
	if err != nil {
		return nil, fmt.Errorf("protecting log store key: %w", err)
	}
	keys, err := logstore.NewEncryptionKeys(buffer)
	if err != nil {
		buffer.Close()
		return nil, fmt.Errorf("log store key %s: %w", path, err)
	}
	return keys, nil
}
