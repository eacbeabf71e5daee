// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"bytes"
	"io"
	"sort"
)

// maskReplacement is what secret values become in captured output.
var maskReplacement = []byte("***")

// minMaskLength is the shortest secret value the masker will hide.
// Shorter values are ignored: masking one- or two-byte fragments
// mangles ordinary output without protecting anything.
const minMaskLength = 4

// Masker is a streaming filter that replaces secret values with ***
// before bytes reach the underlying writer. Secrets split across
// Write calls are still caught: the masker holds back the last
// longest-secret-minus-one bytes until more input (or Flush) decides
// whether they start a secret.
//
// Masking is byte-exact, not token-aware. A secret value that a
// command re-encodes (base64, URL escaping) will not be recognized.
type Masker struct {
	out      io.Writer
	secrets  [][]byte
	holdback int
	pending  []byte
}

// NewMasker wraps out with masking for the given secret values.
// Values shorter than minMaskLength are dropped. With no usable
// values every Write passes straight through.
func NewMasker(out io.Writer, values []string) *Masker {
	m := &Masker{out: out}
	for _, value := range values {
		if len(value) < minMaskLength {
			continue
		}
		m.secrets = append(m.secrets, []byte(value))
	}
	// Longest first, so a value containing a shorter value is masked
	// whole instead of being broken by the inner replacement.
	sort.Slice(m.secrets, func(i, j int) bool {
		return len(m.secrets[i]) > len(m.secrets[j])
	})
	if len(m.secrets) > 0 {
		m.holdback = len(m.secrets[0]) - 1
	}
	return m
}

// Write masks complete secret occurrences in p (joined with any held
// bytes from earlier writes) and forwards the safe prefix. Always
// reports the full length as consumed; the tail stays buffered until
// the next Write or Flush.
func (m *Masker) Write(p []byte) (int, error) {
	if len(m.secrets) == 0 {
		return m.out.Write(p)
	}

	m.pending = append(m.pending, p...)
	masked := m.mask(m.pending)

	emit := len(masked) - m.holdback
	if emit <= 0 {
		m.pending = append(m.pending[:0], masked...)
		return len(p), nil
	}
	if _, err := m.out.Write(masked[:emit]); err != nil {
		return len(p), err
	}
	m.pending = append(m.pending[:0], masked[emit:]...)
	return len(p), nil
}

// Flush masks and forwards the held-back tail. Call once after the
// final Write; the stream boundary means no secret can still be
// completed.
func (m *Masker) Flush() error {
	if len(m.pending) == 0 {
		return nil
	}
	masked := m.mask(m.pending)
	m.pending = m.pending[:0]
	_, err := m.out.Write(masked)
	return err
}

// mask returns a copy of data with every secret occurrence replaced.
func (m *Masker) mask(data []byte) []byte {
	for _, secret := range m.secrets {
		data = bytes.ReplaceAll(data, secret, maskReplacement)
	}
	return data
}
