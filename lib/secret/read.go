// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
)

// ReadFromPath loads a secret into a guarded Buffer from a file, or
// from stdin when path is "-". This is the one road key material takes
// into the process: the log store master key and piped passphrases
// both arrive here. Surrounding whitespace (a trailing newline from an
// editor or a pipe) is not part of the secret and is dropped; the
// intermediate heap bytes are zeroed before returning. An all-
// whitespace source is an error.
func ReadFromPath(path string) (*Buffer, error) {
	raw, err := readSource(path)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		Zero(raw)
		return nil, fmt.Errorf("secret is empty")
	}

	// NewFromBytes zeroes trimmed; the surrounding whitespace bytes of
	// raw still need scrubbing.
	buffer, err := NewFromBytes(trimmed)
	Zero(raw)
	return buffer, err
}

// readSource reads the first line of stdin for "-", the whole file
// otherwise.
func readSource(path string) ([]byte, error) {
	if path != "-" {
		return os.ReadFile(path)
	}

	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return nil, fmt.Errorf("stdin is empty")
	}
	return scanner.Bytes(), nil
}
