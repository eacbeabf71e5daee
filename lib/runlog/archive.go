// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runlog

import (
	"fmt"
	"os"

	"github.com/bureau-foundation/conveyor/lib/codec"
)

// WriteArchive stores a completed run record as a deterministic CBOR
// file next to the JSONL log. The archive is the canonical
// machine-readable record: byte-identical for identical records, so
// history exports and comparisons are stable. The JSONL log stays the
// human-debuggable stream.
func WriteArchive(path string, record *RunRecord) error {
	data, err := codec.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding run archive: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing run archive %s: %w", path, err)
	}
	return nil
}

// ReadArchive loads a CBOR run archive.
func ReadArchive(path string) (*RunRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run archive %s: %w", path, err)
	}
	record := &RunRecord{}
	if err := codec.Unmarshal(data, record); err != nil {
		return nil, fmt.Errorf("decoding run archive %s: %w", path, err)
	}
	return record, nil
}
