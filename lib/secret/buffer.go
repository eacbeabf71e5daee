// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret keeps key material out of the places memory usually
// leaks: swap, core dumps, and the garbage collector's copies. The log
// store's at-rest key, age identities, and unsealed secret values all
// live in Buffers.
//
// A Buffer is an anonymous mmap region, so the Go runtime never moves
// or duplicates it, pinned with mlock and marked MADV_DONTDUMP. Close
// zeroes the region before giving it back to the kernel.
package secret

import (
	"crypto/subtle"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Buffer holds one secret in guarded memory. Safe for concurrent use;
// not copyable. Close releases the memory, and any later access to the
// contents panics — a use-after-close on key material is a programming
// error worth crashing on.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	length int
	closed bool
}

// New allocates a guarded buffer of the given size, zero-filled. The
// caller owns it and must Close it.
func New(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("secret: buffer size must be positive, got %d", size)
	}

	region, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("secret: mmap failed: %w", err)
	}
	if err := protect(region); err != nil {
		unix.Munmap(region)
		return nil, err
	}

	return &Buffer{data: region, length: size}, nil
}

// protect pins the region into RAM and keeps it out of core dumps.
func protect(region []byte) error {
	if err := unix.Mlock(region); err != nil {
		return fmt.Errorf("secret: mlock failed: %w", err)
	}
	if err := unix.Madvise(region, unix.MADV_DONTDUMP); err != nil {
		unix.Munlock(region)
		return fmt.Errorf("secret: madvise(MADV_DONTDUMP) failed: %w", err)
	}
	return nil
}

// NewFromBytes moves source into a guarded buffer: the bytes are
// copied in and source is zeroed, so the unguarded heap slice stops
// holding the secret the moment this returns.
func NewFromBytes(source []byte) (*Buffer, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("secret: cannot create buffer from empty source")
	}

	buffer, err := New(len(source))
	if err != nil {
		return nil, err
	}
	copy(buffer.data, source)
	Zero(source)
	return buffer, nil
}

// contents returns the live secret bytes. Callers hold b.mu.
func (b *Buffer) contents() []byte {
	if b.closed {
		panic("secret: use of closed buffer")
	}
	return b.data[:b.length]
}

// Bytes returns the secret. The slice aliases the guarded region
// directly — it dies with the Buffer, so never retain it past Close.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.contents()
}

// String copies the secret into an ordinary heap string. Only for API
// boundaries that insist on strings (age recipients, environment
// values); the copy is outside the guarded region, so prefer Bytes.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.contents())
}

// Len returns the secret's size in bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.length
}

// Equal compares two buffers without leaking where they diverge:
// constant time in the contents, though not in the lengths — buffers
// of different sizes are simply unequal.
func (b *Buffer) Equal(other *Buffer) bool {
	return subtle.ConstantTimeCompare(b.Bytes(), other.Bytes()) == 1
}

// Close zeroes the secret and returns the memory to the kernel.
// Idempotent. Unlock/unmap failures are returned but change nothing
// for the caller; the mapping dies with the process either way.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	Zero(b.data)

	var firstError error
	if err := unix.Munlock(b.data); err != nil {
		firstError = fmt.Errorf("secret: munlock failed: %w", err)
	}
	if err := unix.Munmap(b.data); err != nil && firstError == nil {
		firstError = fmt.Errorf("secret: munmap failed: %w", err)
	}
	b.data = nil
	return firstError
}

// Zero scrubs a heap slice that briefly held secret material, before
// it goes back to the allocator.
func Zero(data []byte) {
	for index := range data {
		data[index] = 0
	}
}
