// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logstore

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"testing"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/bureau-foundation/conveyor/lib/secret"
)

// newTestKeys builds an EncryptionKeys set from a deterministic master
// key so failures reproduce. Different seeds give unrelated keys.
func newTestKeys(t testing.TB, seed byte) *EncryptionKeys {
	t.Helper()
	master := make([]byte, KeySize)
	for i := range master {
		master[i] = seed ^ byte(i*7)
	}
	buffer, err := secret.NewFromBytes(master)
	if err != nil {
		t.Fatal(err)
	}
	keys, err := NewEncryptionKeys(buffer)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { keys.Close() })
	return keys
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	keys := newTestKeys(t, 0x11)
	address := HashBlob([]byte("step output"))

	cases := []struct {
		name string
		size int
	}{
		{"empty", 0},
		{"single byte", 1},
		{"one line", 120},
		{"chunk sized", 64 * 1024},
		{"megabyte", 1 << 20},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plaintext := make([]byte, tc.size)
			if _, err := rand.Read(plaintext); err != nil {
				t.Fatal(err)
			}

			encrypted, err := keys.Encrypt(plaintext, address)
			if err != nil {
				t.Fatalf("Encrypt: %v", err)
			}
			decrypted, err := keys.Decrypt(encrypted, address)
			if err != nil {
				t.Fatalf("Decrypt: %v", err)
			}
			if !bytes.Equal(decrypted, plaintext) {
				t.Errorf("roundtrip of %d bytes did not return the original plaintext", tc.size)
			}
		})
	}
}

func TestEncryptNonDeterministic(t *testing.T) {
	keys := newTestKeys(t, 0x11)
	address := HashBlob([]byte("step output"))
	plaintext := []byte("identical content sealed twice")

	first, err := keys.Encrypt(plaintext, address)
	if err != nil {
		t.Fatal(err)
	}
	second, err := keys.Encrypt(plaintext, address)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(first, second) {
		t.Error("two encryptions of the same plaintext produced identical blobs; nonce is not random")
	}
}

func TestDecryptRejectsDamage(t *testing.T) {
	keys := newTestKeys(t, 0x11)
	address := HashBlob([]byte("step output"))

	encrypted, err := keys.Encrypt([]byte("cargo build --release finished in 41s"), address)
	if err != nil {
		t.Fatal(err)
	}

	nonceEnd := 1 + chacha20poly1305.NonceSizeX
	damage := []struct {
		name   string
		mutate func(blob []byte) []byte
	}{
		{"empty blob", func(blob []byte) []byte { return nil }},
		{"below minimum length", func(blob []byte) []byte { return blob[:EncryptedBlobOverhead-1] }},
		{"unknown version byte", func(blob []byte) []byte { blob[0] = 0x7f; return blob }},
		{"bit flip in nonce", func(blob []byte) []byte { blob[1] ^= 0x80; return blob }},
		{"bit flip in ciphertext", func(blob []byte) []byte { blob[nonceEnd] ^= 0x01; return blob }},
		{"bit flip in tag", func(blob []byte) []byte { blob[len(blob)-1] ^= 0x01; return blob }},
	}
	for _, tc := range damage {
		t.Run(tc.name, func(t *testing.T) {
			blob := tc.mutate(bytes.Clone(encrypted))
			if _, err := keys.Decrypt(blob, address); err == nil {
				t.Error("damaged blob decrypted without error")
			}
		})
	}
}

// A blob sealed for one address must not open at another: the address
// feeds both the derived key and the AAD, so moving a blob to a
// different address on disk fails authentication.
func TestDecryptWrongAddress(t *testing.T) {
	keys := newTestKeys(t, 0x11)
	sealed := HashBlob([]byte("step output"))
	moved := HashBlob([]byte("some other step output"))

	encrypted, err := keys.Encrypt([]byte("step data"), sealed)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := keys.Decrypt(encrypted, moved); err == nil {
		t.Error("blob opened under an address it was not sealed for")
	}
}

func TestDecryptWrongMasterKey(t *testing.T) {
	keys := newTestKeys(t, 0x11)
	otherKeys := newTestKeys(t, 0xee)
	address := HashBlob([]byte("step output"))

	encrypted, err := keys.Encrypt([]byte("release build log"), address)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := otherKeys.Decrypt(encrypted, address); err == nil {
		t.Error("blob opened under a different master key")
	}
}

func TestBlobLayout(t *testing.T) {
	keys := newTestKeys(t, 0x11)
	address := HashBlob([]byte("step output"))
	plaintext := []byte("layout probe")

	encrypted, err := keys.Encrypt(plaintext, address)
	if err != nil {
		t.Fatal(err)
	}

	if encrypted[0] != EncryptedBlobVersion {
		t.Errorf("version byte = 0x%02x, want 0x%02x", encrypted[0], EncryptedBlobVersion)
	}
	nonce := encrypted[1 : 1+chacha20poly1305.NonceSizeX]
	if bytes.Equal(nonce, make([]byte, chacha20poly1305.NonceSizeX)) {
		t.Error("nonce is all zeros; random nonce generation is broken")
	}
	if want := EncryptedBlobOverhead + len(plaintext); len(encrypted) != want {
		t.Errorf("blob length = %d, want %d (version + nonce + plaintext + tag)", len(encrypted), want)
	}
}

func TestNewEncryptionKeysRejectsWrongSize(t *testing.T) {
	for _, size := range []int{16, KeySize - 1, KeySize + 1, 64} {
		t.Run(fmt.Sprintf("%d bytes", size), func(t *testing.T) {
			buffer, err := secret.NewFromBytes(bytes.Repeat([]byte{0x42}, size))
			if err != nil {
				t.Fatal(err)
			}
			defer buffer.Close()

			if _, err := NewEncryptionKeys(buffer); err == nil {
				t.Errorf("key of %d bytes accepted, want error", size)
			}
		})
	}
}

func BenchmarkEncrypt(b *testing.B) {
	keys := newTestKeys(b, 0x11)
	address := HashBlob([]byte("step output"))

	for _, size := range []int{4 << 10, 256 << 10, 1 << 20} {
		plaintext := make([]byte, size)
		b.Run(fmt.Sprintf("%dKiB", size>>10), func(b *testing.B) {
			b.SetBytes(int64(size))
			b.ReportAllocs()
			for b.Loop() {
				if _, err := keys.Encrypt(plaintext, address); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkDecrypt(b *testing.B) {
	keys := newTestKeys(b, 0x11)
	address := HashBlob([]byte("step output"))

	plaintext := make([]byte, 256<<10)
	encrypted, err := keys.Encrypt(plaintext, address)
	if err != nil {
		b.Fatal(err)
	}

	b.SetBytes(int64(len(plaintext)))
	b.ReportAllocs()
	for b.Loop() {
		if _, err := keys.Decrypt(encrypted, address); err != nil {
			b.Fatal(err)
		}
	}
}
