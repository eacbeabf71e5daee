// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logstore

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies the compression algorithm of a stored
// blob. The tag is the first byte of every blob file — these values
// are format constants and changing them breaks existing stores.
type CompressionTag uint8

const (
	// CompressionNone indicates uncompressed data: steps that stream
	// already-packed bytes to stdout (tarballs, images) gain nothing
	// from another pass.
	CompressionNone CompressionTag = 0

	// CompressionLZ4 indicates LZ4 block compression, the fallback
	// for moderately redundant output where zstd's ratio doesn't pay
	// for its decode cost.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd indicates zstd at the default level. Build logs
	// are repetitive text; most blobs land here.
	CompressionZstd CompressionTag = 2
)

// String returns the tag's short name for logs and store inspection.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// The zstd codec is stateless per call and safe for concurrent use;
// one encoder and one decoder serve the whole store.
var (
	zstdEncoder = must(zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault)))
	zstdDecoder = must(zstd.NewReader(nil))
)

func must[T any](codec T, err error) T {
	if err != nil {
		panic("logstore: zstd init: " + err.Error())
	}
	return codec
}

// errIncompressible reports that compressed output would be no smaller
// than the input; the caller stores raw instead.
var errIncompressible = errors.New("data is incompressible")

// IsIncompressible reports whether err is the incompressible signal.
func IsIncompressible(err error) bool {
	return errors.Is(err, errIncompressible)
}

// Ratio thresholds for CompressAuto's probe: zstd must earn its decode
// cost, LZ4 only has to beat raw storage by a margin worth the tag.
const (
	zstdWorthwhileRatio = 1.5
	lz4WorthwhileRatio  = 1.1
)

// CompressAuto picks the algorithm by measuring instead of guessing:
// one zstd pass over the data decides. A strong ratio keeps the zstd
// output as-is; a middling one re-packs with LZ4 for cheaper reads;
// anything near 1:1 is stored raw. The returned slice is the input
// itself for CompressionNone.
func CompressAuto(data []byte) ([]byte, CompressionTag, error) {
	if len(data) == 0 {
		return data, CompressionNone, nil
	}

	packed := zstdEncoder.EncodeAll(data, nil)
	ratio := float64(len(data)) / float64(len(packed))

	switch {
	case ratio >= zstdWorthwhileRatio:
		return packed, CompressionZstd, nil
	case ratio >= lz4WorthwhileRatio:
		repacked, err := Compress(data, CompressionLZ4)
		if err == nil {
			return repacked, CompressionLZ4, nil
		}
		if !IsIncompressible(err) {
			return nil, 0, err
		}
	}
	return data, CompressionNone, nil
}

// Compress packs data with one specific algorithm. CompressionNone
// returns the input unchanged. Output that would not shrink comes back
// as an error satisfying IsIncompressible.
func Compress(data []byte, tag CompressionTag) ([]byte, error) {
	switch tag {
	case CompressionNone:
		return data, nil

	case CompressionLZ4:
		packed := make([]byte, lz4.CompressBlockBound(len(data)))
		written, err := lz4.CompressBlock(data, packed, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		// written == 0 is the block codec's own incompressible signal.
		if written == 0 || written >= len(data) {
			return nil, errIncompressible
		}
		return packed[:written], nil

	case CompressionZstd:
		packed := zstdEncoder.EncodeAll(data, nil)
		if len(packed) >= len(data) {
			return nil, errIncompressible
		}
		return packed, nil

	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

// Decompress reverses Compress. uncompressedSize comes from the blob
// header and must match the recovered length exactly; a mismatch means
// the blob is corrupt or mislabeled.
func Decompress(compressed []byte, tag CompressionTag, uncompressedSize int) ([]byte, error) {
	switch tag {
	case CompressionNone:
		if len(compressed) != uncompressedSize {
			return nil, fmt.Errorf("raw blob is %d bytes, header says %d", len(compressed), uncompressedSize)
		}
		return compressed, nil

	case CompressionLZ4:
		recovered := make([]byte, uncompressedSize)
		read, err := lz4.UncompressBlock(compressed, recovered)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != uncompressedSize {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, header says %d", read, uncompressedSize)
		}
		return recovered, nil

	case CompressionZstd:
		recovered, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, uncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(recovered) != uncompressedSize {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, header says %d", len(recovered), uncompressedSize)
		}
		return recovered, nil

	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}
