// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logstore

import "sync"

// DefaultTailSize is the default tail capacity in bytes. 64 KB holds
// several hundred lines of compiler output, far more than a terminal
// viewport displays.
const DefaultTailSize = 64 * 1024

// Tail is a fixed-size circular buffer holding the most recent output
// of a running build instance. The full output goes to the content
// store when the instance finishes; the tail exists so live viewers
// can show what is happening right now without holding the whole
// stream in memory.
//
// The tail tracks a monotonically increasing byte offset so a viewer
// can poll with "everything since offset N" and only receive new
// bytes. Writes overwrite the oldest data when the buffer is full.
//
// All methods are safe for concurrent use. Tail implements io.Writer
// and never returns an error, so it can sit in an io.MultiWriter next
// to the capture buffer.
type Tail struct {
	mutex    sync.Mutex
	data     []byte
	capacity int
	// writePosition is the next position to write within the circular
	// buffer (0 to capacity-1).
	writePosition int
	// totalWritten is the total number of bytes ever written. The
	// current buffer contents span from (totalWritten - stored) to
	// totalWritten, where stored = min(totalWritten, capacity).
	totalWritten uint64
}

// NewTail creates a tail with the given capacity in bytes. Use
// DefaultTailSize for the standard 64 KB buffer.
func NewTail(capacity int) *Tail {
	return &Tail{
		data:     make([]byte, capacity),
		capacity: capacity,
	}
}

// Write appends bytes to the tail, advancing the sequence offset and
// overwriting the oldest data if the buffer is full. Always returns
// len(p), nil.
func (tail *Tail) Write(p []byte) (int, error) {
	tail.mutex.Lock()
	defer tail.mutex.Unlock()

	for offset := 0; offset < len(p); {
		available := tail.capacity - tail.writePosition
		copyLength := len(p) - offset
		if copyLength > available {
			copyLength = available
		}
		copy(tail.data[tail.writePosition:tail.writePosition+copyLength], p[offset:offset+copyLength])
		tail.writePosition = (tail.writePosition + copyLength) % tail.capacity
		offset += copyLength
	}
	tail.totalWritten += uint64(len(p))
	return len(p), nil
}

// Since returns all bytes written after the given sequence offset. If
// the offset is older than the buffer's oldest retained data, returns
// everything currently buffered (the viewer missed some output).
// Returns nil if offset is at or beyond the current write position.
func (tail *Tail) Since(offset uint64) []byte {
	tail.mutex.Lock()
	defer tail.mutex.Unlock()
	return tail.sinceLocked(offset)
}

// Follow returns the bytes written after offset together with the
// offset to pass on the next call. Unlike a Since/CurrentOffset pair,
// the returned offset corresponds exactly to the end of the returned
// data, so a poll loop neither re-reads nor skips bytes when the
// buffer wraps between calls. A gap (next - offset > len(data)) means
// the buffer lapped the caller and the missing bytes are gone.
func (tail *Tail) Follow(offset uint64) (data []byte, next uint64) {
	tail.mutex.Lock()
	defer tail.mutex.Unlock()
	return tail.sinceLocked(offset), tail.totalWritten
}

// sinceLocked implements Since. Callers hold the mutex.
func (tail *Tail) sinceLocked(offset uint64) []byte {
	if offset >= tail.totalWritten {
		return nil
	}

	storedLength := tail.totalWritten
	if storedLength > uint64(tail.capacity) {
		storedLength = uint64(tail.capacity)
	}
	oldestOffset := tail.totalWritten - storedLength

	// If the requested offset has already been overwritten, return
	// everything retained.
	readOffset := offset
	if readOffset < oldestOffset {
		readOffset = oldestOffset
	}

	bytesToRead := tail.totalWritten - readOffset
	if bytesToRead == 0 {
		return nil
	}

	result := make([]byte, bytesToRead)

	// writePosition points to the next write location. Retained data
	// runs from (writePosition - storedLength) to writePosition,
	// wrapping around.
	readPosition := (tail.writePosition - int(storedLength) + int(readOffset-oldestOffset)) % tail.capacity
	if readPosition < 0 {
		readPosition += tail.capacity
	}

	for copied := 0; copied < int(bytesToRead); {
		available := tail.capacity - readPosition
		copyLength := int(bytesToRead) - copied
		if copyLength > available {
			copyLength = available
		}
		copy(result[copied:copied+copyLength], tail.data[readPosition:readPosition+copyLength])
		readPosition = (readPosition + copyLength) % tail.capacity
		copied += copyLength
	}

	return result
}

// CurrentOffset returns the total number of bytes written to the
// tail. This is the sequence number a viewer should store and pass to
// Since on its next poll.
func (tail *Tail) CurrentOffset() uint64 {
	tail.mutex.Lock()
	defer tail.mutex.Unlock()
	return tail.totalWritten
}
