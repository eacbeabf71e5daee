// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logstore

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/bureau-foundation/conveyor/lib/secret"
)

// KeySize is the size in bytes of the store master key and all derived
// per-blob keys.
const KeySize = 32

// EncryptedBlobVersion is the version byte prepended to all encrypted
// blobs. Included as additional authenticated data (AAD) in the AEAD
// Seal/Open call, so tampering with the version byte causes
// authentication failure.
const EncryptedBlobVersion byte = 0x01

// EncryptedBlobOverhead is the total byte overhead per encrypted blob:
// 1 (version) + 24 (XChaCha20-Poly1305 nonce) + 16 (Poly1305 tag).
const EncryptedBlobOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// hkdfInfoBlobEncryption is the HKDF-SHA256 info string for per-blob
// key derivation. Changing it invalidates every encrypted store.
var hkdfInfoBlobEncryption = []byte("conveyor.logstore.blob.enc.v1")

// EncryptionKeys holds the store master key in guarded memory and
// derives per-blob encryption keys. Each blob is encrypted under its
// own key, derived from the master key and the blob hash, so no two
// blobs share key material.
//
// Derived keys are not cached: HKDF-SHA256 derivation takes on the
// order of a microsecond, negligible next to the AEAD pass and disk
// I/O around it.
//
// Close zeroes and releases the master key. After Close, all methods
// panic (via secret.Buffer's closed check).
type EncryptionKeys struct {
	masterKey *secret.Buffer
}

// NewEncryptionKeys creates a key set from a store master key. The
// masterKey buffer is owned by the EncryptionKeys and closed when
// Close is called; the caller must not use it afterwards.
//
// Returns an error if masterKey is not exactly KeySize (32) bytes.
func NewEncryptionKeys(masterKey *secret.Buffer) (*EncryptionKeys, error) {
	if masterKey.Len() != KeySize {
		return nil, fmt.Errorf("log store encryption key must be %d bytes, got %d", KeySize, masterKey.Len())
	}
	return &EncryptionKeys{masterKey: masterKey}, nil
}

// Close zeroes and releases the master key. Idempotent.
func (keys *EncryptionKeys) Close() error {
	return keys.masterKey.Close()
}

// Encrypt encrypts a framed blob for at-rest storage. The per-blob key
// is derived from the master key and the blob hash; the blob hash is
// also the AAD identity, binding the ciphertext to its address so
// blobs cannot be swapped on disk without detection.
func (keys *EncryptionKeys) Encrypt(plaintext []byte, blobHash Hash) ([]byte, error) {
	blobKey, err := deriveBlobKey(keys.masterKey, blobHash)
	if err != nil {
		return nil, fmt.Errorf("deriving blob encryption key: %w", err)
	}
	defer blobKey.Close()

	return encryptBlob(plaintext, blobKey, blobHash)
}

// Decrypt reverses Encrypt for the blob at the given address.
func (keys *EncryptionKeys) Decrypt(encryptedBlob []byte, blobHash Hash) ([]byte, error) {
	blobKey, err := deriveBlobKey(keys.masterKey, blobHash)
	if err != nil {
		return nil, fmt.Errorf("deriving blob encryption key: %w", err)
	}
	defer blobKey.Close()

	return decryptBlob(encryptedBlob, blobKey, blobHash)
}

// deriveBlobKey derives the per-blob key via HKDF-SHA256 with the
// blob hash appended to the info string. The salt is nil: the master
// key is already uniformly random key material, so HKDF's extract
// phase with nil salt (HMAC-SHA256 with zero key) is appropriate per
// RFC 5869.
func deriveBlobKey(masterKey *secret.Buffer, blobHash Hash) (*secret.Buffer, error) {
	info := make([]byte, len(hkdfInfoBlobEncryption)+len(blobHash))
	copy(info, hkdfInfoBlobEncryption)
	copy(info[len(hkdfInfoBlobEncryption):], blobHash[:])

	reader := hkdf.New(sha256.New, masterKey.Bytes(), nil, info)
	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		secret.Zero(derived)
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}
	// NewFromBytes copies into mmap and zeros the heap slice.
	return secret.NewFromBytes(derived)
}

// encryptBlob encrypts plaintext using XChaCha20-Poly1305 and returns
// the encrypted blob in the standard format:
//
//	[Version: 1 byte (0x01)] [Nonce: 24 bytes (random)] [Ciphertext+Tag: N+16 bytes]
//
// The version byte and identityHash are the additional authenticated
// data (AAD). The version byte authenticates the format version; the
// identityHash binds the ciphertext to the blob address it belongs to.
func encryptBlob(plaintext []byte, encryptionKey *secret.Buffer, identityHash Hash) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(encryptionKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating random nonce: %w", err)
	}

	aad := buildAAD(EncryptedBlobVersion, identityHash)

	// Allocate output: version + nonce + ciphertext + tag.
	output := make([]byte, 1+chacha20poly1305.NonceSizeX, 1+chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	output[0] = EncryptedBlobVersion
	copy(output[1:], nonce[:])

	// Seal appends the ciphertext+tag to output.
	output = aead.Seal(output, nonce[:], plaintext, aad)
	return output, nil
}

// decryptBlob decrypts an encrypted blob produced by encryptBlob. It
// verifies the version byte, extracts the nonce, and authenticates the
// ciphertext against the AAD (version byte + identityHash).
func decryptBlob(encryptedBlob []byte, encryptionKey *secret.Buffer, identityHash Hash) ([]byte, error) {
	if len(encryptedBlob) < EncryptedBlobOverhead {
		return nil, fmt.Errorf("encrypted blob is %d bytes, minimum is %d (version + nonce + tag)",
			len(encryptedBlob), EncryptedBlobOverhead)
	}

	version := encryptedBlob[0]
	if version != EncryptedBlobVersion {
		return nil, fmt.Errorf("encrypted blob version %d is not supported (expected %d)",
			version, EncryptedBlobVersion)
	}

	nonce := encryptedBlob[1 : 1+chacha20poly1305.NonceSizeX]
	ciphertext := encryptedBlob[1+chacha20poly1305.NonceSizeX:]

	aead, err := chacha20poly1305.NewX(encryptionKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	aad := buildAAD(version, identityHash)

	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("AEAD decryption failed (wrong key, tampered data, or mismatched identity): %w", err)
	}

	return plaintext, nil
}

// buildAAD constructs the additional authenticated data for AEAD
// operations: the version byte followed by the identity hash.
func buildAAD(version byte, identityHash Hash) []byte {
	aad := make([]byte, 1+len(identityHash))
	aad[0] = version
	copy(aad[1:], identityHash[:])
	return aad
}
