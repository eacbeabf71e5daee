// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logstore

import (
	"bytes"
	"crypto/rand"
	"strings"
	"testing"
)

// buildLog fabricates repetitive compiler-style output, the shape most
// captured step output has.
func buildLog(lines int) []byte {
	line := "   Compiling conveyor-sample v0.1.0 (/work/source)\n"
	return []byte(strings.Repeat(line, lines))
}

// noise returns cryptographically random bytes, which no codec can
// shrink.
func noise(size int) []byte {
	data := make([]byte, size)
	rand.Read(data)
	return data
}

func TestCompressionTagString(t *testing.T) {
	tests := []struct {
		tag  CompressionTag
		want string
	}{
		{CompressionNone, "none"},
		{CompressionLZ4, "lz4"},
		{CompressionZstd, "zstd"},
		{CompressionTag(99), "unknown(99)"},
	}
	for _, test := range tests {
		if got := test.tag.String(); got != test.want {
			t.Errorf("CompressionTag(%d).String() = %q, want %q", test.tag, got, test.want)
		}
	}
}

func TestRoundtripPerTag(t *testing.T) {
	data := buildLog(2000)

	for _, tag := range []CompressionTag{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(tag.String(), func(t *testing.T) {
			packed, err := Compress(data, tag)
			if err != nil {
				t.Fatalf("Compress(%s): %v", tag, err)
			}
			if tag != CompressionNone && len(packed) >= len(data) {
				t.Errorf("%s failed to shrink %d bytes (got %d)", tag, len(data), len(packed))
			}

			recovered, err := Decompress(packed, tag, len(data))
			if err != nil {
				t.Fatalf("Decompress(%s): %v", tag, err)
			}
			if !bytes.Equal(recovered, data) {
				t.Errorf("%s roundtrip corrupted the data", tag)
			}
		})
	}
}

func TestCompressNoneAliasesInput(t *testing.T) {
	data := []byte("raw passthrough")
	packed, err := Compress(data, CompressionNone)
	if err != nil {
		t.Fatalf("Compress(none): %v", err)
	}
	if &packed[0] != &data[0] {
		t.Error("CompressionNone must return the input slice, not a copy")
	}
}

func TestDecompressRejectsWrongSize(t *testing.T) {
	data := buildLog(100)
	for _, tag := range []CompressionTag{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(tag.String(), func(t *testing.T) {
			packed, err := Compress(data, tag)
			if err != nil {
				t.Fatalf("Compress(%s): %v", tag, err)
			}
			if _, err := Decompress(packed, tag, len(data)+8); err == nil {
				t.Errorf("Decompress(%s) accepted a header size %d bytes too large", tag, 8)
			}
		})
	}
}

func TestCompressSignalsIncompressible(t *testing.T) {
	data := noise(64 * 1024)
	for _, tag := range []CompressionTag{CompressionLZ4, CompressionZstd} {
		t.Run(tag.String(), func(t *testing.T) {
			_, err := Compress(data, tag)
			if err == nil {
				t.Fatalf("Compress(%s) claimed to shrink random bytes", tag)
			}
			if !IsIncompressible(err) {
				t.Errorf("want incompressible signal, got: %v", err)
			}
		})
	}
}

func TestCompressAutoPicksZstdForLogs(t *testing.T) {
	data := buildLog(2000)

	packed, tag, err := CompressAuto(data)
	if err != nil {
		t.Fatalf("CompressAuto: %v", err)
	}
	if tag != CompressionZstd {
		t.Fatalf("tag = %s, want zstd for repetitive text", tag)
	}

	recovered, err := Decompress(packed, tag, len(data))
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(recovered, data) {
		t.Error("CompressAuto roundtrip corrupted the data")
	}
}

func TestCompressAutoStoresNoiseRaw(t *testing.T) {
	data := noise(64 * 1024)

	packed, tag, err := CompressAuto(data)
	if err != nil {
		t.Fatalf("CompressAuto: %v", err)
	}
	if tag != CompressionNone {
		t.Errorf("tag = %s, want none for random bytes", tag)
	}
	if &packed[0] != &data[0] {
		t.Error("raw fallback must hand back the input slice")
	}
}

func TestCompressAutoEmptyInput(t *testing.T) {
	_, tag, err := CompressAuto(nil)
	if err != nil {
		t.Fatalf("CompressAuto(nil): %v", err)
	}
	if tag != CompressionNone {
		t.Errorf("tag = %s, want none for empty input", tag)
	}
}

func TestUnknownTagRejected(t *testing.T) {
	if _, err := Compress([]byte("data"), CompressionTag(99)); err == nil {
		t.Error("Compress accepted an unknown tag")
	}
	if _, err := Decompress([]byte("data"), CompressionTag(99), 4); err == nil {
		t.Error("Decompress accepted an unknown tag")
	}
}

// Run with:
//
//	go test ./lib/logstore -bench=BenchmarkCompress -benchmem -run='^$'

func BenchmarkCompressAuto(b *testing.B) {
	data := buildLog(2000)
	b.SetBytes(int64(len(data)))
	b.ReportAllocs()
	for b.Loop() {
		CompressAuto(data)
	}
}

func BenchmarkDecompressZstd(b *testing.B) {
	data := buildLog(2000)
	packed, err := Compress(data, CompressionZstd)
	if err != nil {
		b.Fatal(err)
	}
	b.SetBytes(int64(len(data)))
	b.ReportAllocs()
	for b.Loop() {
		Decompress(packed, CompressionZstd, len(data))
	}
}
