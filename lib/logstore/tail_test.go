// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logstore

import (
	"bytes"
	"io"
	"testing"
)

func TestTailBasicWriteRead(t *testing.T) {
	t.Parallel()
	tail := NewTail(1024)

	tail.Write([]byte("   Compiling"))
	tail.Write([]byte(" grid v0.3.0\n"))

	got := tail.Since(0)
	if !bytes.Equal(got, []byte("   Compiling grid v0.3.0\n")) {
		t.Errorf("Since(0): got %q", got)
	}
}

func TestTailSinceOffset(t *testing.T) {
	t.Parallel()
	tail := NewTail(1024)

	tail.Write([]byte("abcde"))
	tail.Write([]byte("fghij"))

	// Since(5) should skip "abcde" and return "fghij".
	got := tail.Since(5)
	if !bytes.Equal(got, []byte("fghij")) {
		t.Errorf("Since(5): got %q, want %q", got, "fghij")
	}
}

func TestTailSinceCurrentOffset(t *testing.T) {
	t.Parallel()
	tail := NewTail(1024)

	tail.Write([]byte("data"))

	// Polling at the current offset should return nil (nothing new).
	offset := tail.CurrentOffset()
	got := tail.Since(offset)
	if got != nil {
		t.Errorf("Since(current): got %q, want nil", got)
	}
}

func TestTailSinceFutureOffset(t *testing.T) {
	t.Parallel()
	tail := NewTail(1024)

	tail.Write([]byte("data"))

	got := tail.Since(tail.CurrentOffset() + 100)
	if got != nil {
		t.Errorf("Since(future): got %q, want nil", got)
	}
}

func TestTailWrapAround(t *testing.T) {
	t.Parallel()
	tail := NewTail(10)

	// Write 15 bytes into a 10-byte buffer. The first 5 bytes are lost.
	tail.Write([]byte("abcdefghijklmno"))

	got := tail.Since(0)
	if !bytes.Equal(got, []byte("fghijklmno")) {
		t.Errorf("Since(0) after wrap: got %q, want %q", got, "fghijklmno")
	}

	if tail.CurrentOffset() != 15 {
		t.Errorf("CurrentOffset: got %d, want 15", tail.CurrentOffset())
	}
}

func TestTailWrapAroundPartialRead(t *testing.T) {
	t.Parallel()
	tail := NewTail(10)

	tail.Write([]byte("abcdefghijklmno")) // 15 bytes, buffer holds "fghijklmno"

	// Since(8) should return "ijklmno" (bytes 8-14).
	got := tail.Since(8)
	if !bytes.Equal(got, []byte("ijklmno")) {
		t.Errorf("Since(8): got %q, want %q", got, "ijklmno")
	}
}

func TestTailIncrementalWrites(t *testing.T) {
	t.Parallel()
	tail := NewTail(10)

	// Write byte by byte to test wrapping with small writes.
	for i := 0; i < 25; i++ {
		tail.Write([]byte{byte('a' + i%26)})
	}

	// Buffer should hold the last 10 bytes: "pqrstuvwxy"
	got := tail.Since(0)
	want := []byte("pqrstuvwxy")
	if !bytes.Equal(got, want) {
		t.Errorf("Since(0): got %q, want %q", got, want)
	}
}

func TestTailCurrentOffset(t *testing.T) {
	t.Parallel()
	tail := NewTail(1024)

	if tail.CurrentOffset() != 0 {
		t.Errorf("initial offset: got %d, want 0", tail.CurrentOffset())
	}

	tail.Write([]byte("hello"))
	if tail.CurrentOffset() != 5 {
		t.Errorf("after write: got %d, want 5", tail.CurrentOffset())
	}

	tail.Write([]byte(" world"))
	if tail.CurrentOffset() != 11 {
		t.Errorf("after second write: got %d, want 11", tail.CurrentOffset())
	}
}

func TestTailEmptyRead(t *testing.T) {
	t.Parallel()
	tail := NewTail(1024)

	got := tail.Since(0)
	if got != nil {
		t.Errorf("Since(0) on empty tail: got %q, want nil", got)
	}
}

func TestTailLargeWrite(t *testing.T) {
	t.Parallel()
	tail := NewTail(100)

	// Write more than the buffer capacity in a single call.
	data := make([]byte, 250)
	for i := range data {
		data[i] = byte(i % 256)
	}
	tail.Write(data)

	got := tail.Since(0)
	if len(got) != 100 {
		t.Fatalf("Since(0): got %d bytes, want 100", len(got))
	}
	// Should contain the last 100 bytes of the input.
	if !bytes.Equal(got, data[150:]) {
		t.Error("large write: tail does not contain the last 100 bytes")
	}
}

func TestTailFollow(t *testing.T) {
	t.Parallel()
	tail := NewTail(1024)

	tail.Write([]byte("abcde"))

	data, next := tail.Follow(0)
	if !bytes.Equal(data, []byte("abcde")) {
		t.Errorf("Follow(0): got %q", data)
	}
	if next != 5 {
		t.Errorf("Follow(0): next = %d, want 5", next)
	}

	// Nothing new: empty data, unchanged offset.
	data, next = tail.Follow(next)
	if len(data) != 0 || next != 5 {
		t.Errorf("Follow(5) with no new data: got %q, next=%d", data, next)
	}

	tail.Write([]byte("fgh"))
	data, next = tail.Follow(next)
	if !bytes.Equal(data, []byte("fgh")) || next != 8 {
		t.Errorf("Follow(5): got %q, next=%d, want %q, 8", data, next, "fgh")
	}
}

func TestTailFollowDetectsGap(t *testing.T) {
	t.Parallel()
	tail := NewTail(10)

	// 15 bytes into a 10-byte buffer laps a reader still at offset 0.
	tail.Write([]byte("abcdefghijklmno"))

	data, next := tail.Follow(0)
	if !bytes.Equal(data, []byte("fghijklmno")) {
		t.Errorf("Follow(0) after wrap: got %q", data)
	}
	if next != 15 {
		t.Errorf("next = %d, want 15", next)
	}
	if gap := next - 0 - uint64(len(data)); gap != 5 {
		t.Errorf("gap = %d, want 5 missed bytes", gap)
	}
}

func TestTailIsAnIOWriter(t *testing.T) {
	t.Parallel()
	tail := NewTail(1024)

	// Tail sits in an io.MultiWriter next to the full capture buffer;
	// both must see every byte.
	var capture bytes.Buffer
	writer := io.MultiWriter(&capture, tail)

	n, err := writer.Write([]byte("shared output line\n"))
	if err != nil {
		t.Fatalf("MultiWriter write failed: %v", err)
	}
	if n != 19 {
		t.Errorf("write length: got %d, want 19", n)
	}

	if !bytes.Equal(tail.Since(0), capture.Bytes()) {
		t.Error("tail and capture buffer diverged")
	}
}
