// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logstore

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

// blobHeaderSize is the framing prefix on every stored blob before
// encryption: 1 byte compression tag, 8 bytes big-endian uncompressed
// size.
const blobHeaderSize = 1 + 8

// Store is a content-addressed blob store rooted at a directory.
// Blobs live in a two-level fan-out (aa/bb/aabbcc...) to keep
// directory sizes bounded. A Store with nil keys stores framed
// plaintext; with keys, every blob on disk is an encrypted envelope.
type Store struct {
	dir  string
	keys *EncryptionKeys
}

// New creates a store rooted at dir, creating the directory if
// needed. If keys is non-nil, all blobs are encrypted at rest; the
// store does not take ownership of keys and never closes them.
func New(dir string, keys *EncryptionKeys) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log store directory: %w", err)
	}
	return &Store{dir: dir, keys: keys}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

// Encrypted reports whether blobs are encrypted at rest.
func (s *Store) Encrypted() bool {
	return s.keys != nil
}

// Put stores data and returns its content address. Storing the same
// bytes twice is a no-op returning the same hash.
func (s *Store) Put(data []byte) (Hash, error) {
	hash := HashBlob(data)
	path := s.blobPath(hash)
	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}

	payload, tag, err := CompressAuto(data)
	if err != nil {
		return Hash{}, fmt.Errorf("compressing blob %s: %w", FormatHash(hash), err)
	}

	framed := make([]byte, blobHeaderSize+len(payload))
	framed[0] = byte(tag)
	binary.BigEndian.PutUint64(framed[1:blobHeaderSize], uint64(len(data)))
	copy(framed[blobHeaderSize:], payload)

	onDisk := framed
	if s.keys != nil {
		onDisk, err = s.keys.Encrypt(framed, hash)
		if err != nil {
			return Hash{}, fmt.Errorf("encrypting blob %s: %w", FormatHash(hash), err)
		}
	}

	if err := s.writeBlob(path, onDisk); err != nil {
		return Hash{}, err
	}
	return hash, nil
}

// Get retrieves the blob at the given address. The returned bytes are
// verified against the address; a mismatch (disk corruption, or a
// blob written under a different key) is an error, never silent bad
// data.
func (s *Store) Get(hash Hash) ([]byte, error) {
	onDisk, err := os.ReadFile(s.blobPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob %s not found in log store", FormatHash(hash))
		}
		return nil, fmt.Errorf("reading blob %s: %w", FormatHash(hash), err)
	}

	framed := onDisk
	if s.keys != nil {
		framed, err = s.keys.Decrypt(onDisk, hash)
		if err != nil {
			return nil, fmt.Errorf("decrypting blob %s: %w", FormatHash(hash), err)
		}
	}

	if len(framed) < blobHeaderSize {
		return nil, fmt.Errorf("blob %s is %d bytes, shorter than the %d-byte frame header",
			FormatHash(hash), len(framed), blobHeaderSize)
	}
	tag := CompressionTag(framed[0])
	uncompressedSize := binary.BigEndian.Uint64(framed[1:blobHeaderSize])

	data, err := Decompress(framed[blobHeaderSize:], tag, int(uncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("decompressing blob %s: %w", FormatHash(hash), err)
	}

	if HashBlob(data) != hash {
		return nil, fmt.Errorf("blob %s failed integrity verification after read", FormatHash(hash))
	}
	return data, nil
}

// Has reports whether a blob with the given address exists.
func (s *Store) Has(hash Hash) bool {
	_, err := os.Stat(s.blobPath(hash))
	return err == nil
}

// Delete removes the blob at the given address. Deleting a blob that
// does not exist is a no-op: pruning runs whose blobs deduplicated
// into an already-pruned run must not fail.
func (s *Store) Delete(hash Hash) error {
	err := os.Remove(s.blobPath(hash))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting blob %s: %w", FormatHash(hash), err)
	}
	return nil
}

// blobPath returns the on-disk path for a hash, fanned out over two
// levels of hex-prefix directories.
func (s *Store) blobPath(hash Hash) string {
	hex := FormatHash(hash)
	return filepath.Join(s.dir, hex[:2], hex[2:4], hex)
}

// writeBlob writes data to path atomically: temp file in the store
// root, then rename into the fan-out directory. Readers never observe
// a partially written blob.
func (s *Store) writeBlob(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating blob fan-out directory: %w", err)
	}

	tempFile, err := os.CreateTemp(s.dir, "blob-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary blob file: %w", err)
	}
	tempPath := tempFile.Name()
	success := false
	defer func() {
		if !success {
			tempFile.Close()
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		return fmt.Errorf("writing blob data: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("syncing blob data: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("closing temporary blob file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("moving blob into place: %w", err)
	}
	success = true
	return nil
}
