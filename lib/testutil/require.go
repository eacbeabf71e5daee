// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds the channel assertions conveyor's tests share.
// They wrap the select-or-time.After pattern so tests never hang on a
// channel that stays silent; this is the one corner of the test suite
// on real wall-clock timeouts, everything else runs against a fake
// clock. Failures go through t.Fatalf since nothing after a missed
// channel is worth running.
package testutil

import (
	"fmt"
	"time"
)

// TB is the fragment of testing.TB the assertions need. Tests pass
// *testing.T; taking the interface keeps the helpers usable from
// benchmarks and fuzz targets too.
type TB interface {
	Helper()
	Fatalf(format string, args ...any)
}

// RequireReceive returns the next value from ch, failing the test if
// the channel closes first or stays empty past the timeout.
//
//	claim := testutil.RequireReceive(t, claims, 5*time.Second, "first claim")
func RequireReceive[T any](t TB, ch <-chan T, timeout time.Duration, msgAndArgs ...any) T {
	t.Helper()
	select {
	case value, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed without sending a value: %s", describe(msgAndArgs))
		}
		return value
	case <-time.After(timeout):
		t.Fatalf("timed out after %v: %s", timeout, describe(msgAndArgs))
	}
	panic("unreachable")
}

// RequireClosed asserts that ch closes cleanly: a further value before
// the close is a failure, and so is the timeout passing. Use it on
// channels whose close is the signal, like a watcher's claim stream
// after cancellation.
func RequireClosed[T any](t TB, ch <-chan T, timeout time.Duration, msgAndArgs ...any) {
	t.Helper()
	select {
	case value, ok := <-ch:
		if ok {
			t.Fatalf("received %v while waiting for close: %s", value, describe(msgAndArgs))
		}
	case <-time.After(timeout):
		t.Fatalf("timed out after %v waiting for close: %s", timeout, describe(msgAndArgs))
	}
}

// describe renders the trailing message arguments: a bare string, a
// format string with arguments, or anything else through %v.
func describe(msgAndArgs []any) string {
	switch {
	case len(msgAndArgs) == 0:
		return "(no message)"
	case len(msgAndArgs) == 1:
		if s, ok := msgAndArgs[0].(string); ok {
			return s
		}
		return fmt.Sprintf("%v", msgAndArgs[0])
	default:
		if format, ok := msgAndArgs[0].(string); ok {
			return fmt.Sprintf(format, msgAndArgs[1:]...)
		}
		return fmt.Sprintf("%v", msgAndArgs)
	}
}
