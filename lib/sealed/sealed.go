// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"

	"github.com/bureau-foundation/conveyor/lib/secret"
)

// DefaultSecretsPath is where a repository keeps its sealed secrets,
// relative to the repository root.
const DefaultSecretsPath = ".conveyor/secrets.age"

// Keypair holds an age x25519 keypair. The identity (private key) is
// stored in a secret.Buffer; the recipient (public key) is a plain
// string, safe to print and share.
//
// The caller must call Close when the keypair is no longer needed.
type Keypair struct {
	// Identity is the secret key in AGE-SECRET-KEY-1... format, held
	// in mmap memory outside the Go heap. Must never be logged or
	// passed on a command line.
	Identity *secret.Buffer

	// Recipient is the corresponding public key in age1... format.
	Recipient string
}

// Close releases the identity memory (zeros, unlocks, unmaps).
// Idempotent.
func (k *Keypair) Close() error {
	if k.Identity != nil {
		return k.Identity.Close()
	}
	return nil
}

// Generate creates a new age x25519 keypair. The identity is moved
// into guarded memory immediately; the caller must Close the returned
// Keypair when done.
func Generate() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age keypair: %w", err)
	}

	identityBytes := []byte(identity.String())
	buffer, err := secret.NewFromBytes(identityBytes)
	if err != nil {
		return nil, fmt.Errorf("protecting identity: %w", err)
	}
	// identityBytes is zeroed by NewFromBytes. The string returned by
	// identity.String() is on the heap until collected — unavoidable
	// with age's API; the mmap buffer is the durable copy.

	return &Keypair{
		Identity:  buffer,
		Recipient: identity.Recipient().String(),
	}, nil
}

// SaveIdentity writes the keypair's identity to path with permissions
// 0600, creating parent directories as needed. Refuses to overwrite
// an existing file: an identity that is lost cannot be regenerated,
// so clobbering one must be an explicit rm first.
func SaveIdentity(path string, k *Keypair) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating identity directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("creating identity file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(k.Identity.Bytes(), '\n')); err != nil {
		return fmt.Errorf("writing identity file: %w", err)
	}
	return file.Sync()
}

// LoadIdentity reads an age identity from path ("-" for stdin) into
// guarded memory and validates it. The caller must Close the returned
// buffer.
func LoadIdentity(path string) (*secret.Buffer, error) {
	buffer, err := secret.ReadFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("reading identity: %w", err)
	}
	if _, err := age.ParseX25519Identity(buffer.String()); err != nil {
		buffer.Close()
		return nil, fmt.Errorf("identity %s: %w", path, err)
	}
	return buffer, nil
}

// ParseRecipient validates an age public key string.
func ParseRecipient(key string) error {
	if _, err := age.ParseX25519Recipient(key); err != nil {
		return fmt.Errorf("invalid age recipient %q: %w", key, err)
	}
	return nil
}

// RecipientFor derives the public recipient key from a loaded
// identity, so sealing can default to the identity holder without a
// separately stored recipient.
func RecipientFor(identity *secret.Buffer) (string, error) {
	parsed, err := age.ParseX25519Identity(identity.String())
	if err != nil {
		return "", fmt.Errorf("deriving recipient: %w", err)
	}
	return parsed.Recipient().String(), nil
}

// Seal encrypts the NAME=value map to the recipients and writes the
// armored ciphertext to path atomically (temp file + rename). At
// least one value and one recipient are required. Names must be valid
// environment variable names; values must not contain newlines (the
// payload is line-oriented).
func Seal(path string, values map[string]string, recipientKeys []string) error {
	if len(values) == 0 {
		return fmt.Errorf("no secret values to seal")
	}
	if len(recipientKeys) == 0 {
		return fmt.Errorf("at least one recipient is required")
	}

	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	payload, err := encodeValues(values)
	if err != nil {
		return err
	}
	defer secret.Zero(payload)

	var sealed bytes.Buffer
	armorWriter := armor.NewWriter(&sealed)
	encryptWriter, err := age.Encrypt(armorWriter, recipients...)
	if err != nil {
		return fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := encryptWriter.Write(payload); err != nil {
		return fmt.Errorf("encrypting secrets: %w", err)
	}
	if err := encryptWriter.Close(); err != nil {
		return fmt.Errorf("finalizing age encryption: %w", err)
	}
	if err := armorWriter.Close(); err != nil {
		return fmt.Errorf("finalizing armor: %w", err)
	}

	return writeFileAtomic(path, sealed.Bytes())
}

// Unseal reads the sealed file at path and decrypts it with the given
// identity, returning the NAME=value map. Both armored and binary age
// files are accepted. The decrypted payload is parsed from guarded
// memory and zeroed before return; the returned values are ordinary
// strings (they are destined for child process environments).
func Unseal(path string, identity *secret.Buffer) (map[string]string, error) {
	parsed, err := age.ParseX25519Identity(identity.String())
	if err != nil {
		return nil, fmt.Errorf("parsing identity: %w", err)
	}

	sealed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sealed secrets: %w", err)
	}

	var source io.Reader = bytes.NewReader(sealed)
	if bytes.HasPrefix(bytes.TrimLeft(sealed, " \t\r\n"), []byte(armor.Header)) {
		source = armor.NewReader(bytes.NewReader(sealed))
	}

	reader, err := age.Decrypt(source, parsed)
	if err != nil {
		return nil, fmt.Errorf("decrypting %s: %w", path, err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted secrets: %w", err)
	}

	// Parse from guarded memory so the full plaintext blob is zeroed
	// even though the individual values escape to the heap.
	buffer, err := secret.NewFromBytes(plaintext)
	if err != nil {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("protecting decrypted secrets: %w", err)
	}
	defer buffer.Close()

	values, err := parseValues(buffer.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return values, nil
}

// encodeValues renders the map as NAME=value lines in sorted name
// order, validating names and values.
func encodeValues(values map[string]string) ([]byte, error) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	var payload bytes.Buffer
	for _, name := range names {
		if err := validateName(name); err != nil {
			return nil, err
		}
		if strings.ContainsAny(values[name], "\n\r") {
			return nil, fmt.Errorf("secret %s: value must not contain newlines", name)
		}
		payload.WriteString(name)
		payload.WriteByte('=')
		payload.WriteString(values[name])
		payload.WriteByte('\n')
	}
	return payload.Bytes(), nil
}

// parseValues parses NAME=value lines. Blank lines and # comments are
// skipped so hand-authored files can carry notes.
func parseValues(data []byte) (map[string]string, error) {
	values := make(map[string]string)
	for number, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		name, value, found := strings.Cut(trimmed, "=")
		if !found {
			return nil, fmt.Errorf("line %d: not a NAME=value pair", number+1)
		}
		if err := validateName(name); err != nil {
			return nil, fmt.Errorf("line %d: %w", number+1, err)
		}
		values[name] = value
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("no secret values found")
	}
	return values, nil
}

// validateName enforces environment variable naming: a letter or
// underscore followed by letters, digits, or underscores.
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("empty secret name")
	}
	for i, r := range name {
		letter := (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || r == '_'
		digit := r >= '0' && r <= '9'
		if letter || (digit && i > 0) {
			continue
		}
		return fmt.Errorf("invalid secret name %q", name)
	}
	return nil
}

// writeFileAtomic writes data to path via a temp file and rename, so
// a crash mid-write never leaves a truncated sealed file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating secrets directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, ".secrets-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary secrets file: %w", err)
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
		return fmt.Errorf("writing sealed secrets: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("syncing sealed secrets: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("closing temporary secrets file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("moving sealed secrets into place: %w", err)
	}
	success = true
	return nil
}
