// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package spool

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/conveyor/lib/clock"
	"github.com/bureau-foundation/conveyor/lib/event"
	"github.com/bureau-foundation/conveyor/lib/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSpool(t *testing.T) *Spool {
	t.Helper()
	s, err := New(t.TempDir(), discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func testPush(ref string) *event.Push {
	return &event.Push{
		Repo:   "/srv/git/widget.git",
		Ref:    ref,
		Before: event.ZeroSHA,
		After:  strings.Repeat("a", 40),
	}
}

func TestWriteAndClaim(t *testing.T) {
	s := newTestSpool(t)

	path, err := s.Write(testPush("refs/heads/main"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if filepath.Dir(path) != s.Dir() {
		t.Errorf("spooled outside the spool directory: %s", path)
	}

	pending, err := s.Pending()
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 1 || pending[0] != path {
		t.Fatalf("Pending = %v, want [%s]", pending, path)
	}

	claim, err := s.Claim()
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if claim == nil {
		t.Fatal("Claim returned nil for a non-empty spool")
	}
	if claim.Push.Ref != "refs/heads/main" {
		t.Errorf("claimed ref = %q", claim.Push.Ref)
	}
	if _, err := os.Stat(claim.Path()); err != nil {
		t.Errorf("claimed file missing: %v", err)
	}

	// The claimed event is no longer pending.
	pending, err = s.Pending()
	if err != nil {
		t.Fatalf("Pending after claim: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Pending after claim = %v, want empty", pending)
	}

	if err := claim.Done(); err != nil {
		t.Fatalf("Done: %v", err)
	}
	if _, err := os.Stat(claim.Path()); !os.IsNotExist(err) {
		t.Errorf("claimed file still present after Done: %v", err)
	}
	// Done is idempotent.
	if err := claim.Done(); err != nil {
		t.Errorf("second Done: %v", err)
	}
}

func TestClaimEmptySpool(t *testing.T) {
	s := newTestSpool(t)

	claim, err := s.Claim()
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if claim != nil {
		t.Errorf("Claim on empty spool = %+v, want nil", claim)
	}
}

func TestClaimOrderIsArrivalOrder(t *testing.T) {
	s := newTestSpool(t)

	refs := []string{"refs/heads/one", "refs/heads/two", "refs/heads/three"}
	for _, ref := range refs {
		if _, err := s.Write(testPush(ref)); err != nil {
			t.Fatalf("Write(%s): %v", ref, err)
		}
	}

	for _, want := range refs {
		claim, err := s.Claim()
		if err != nil {
			t.Fatalf("Claim: %v", err)
		}
		if claim == nil {
			t.Fatalf("spool empty before claiming %s", want)
		}
		if claim.Push.Ref != want {
			t.Errorf("claimed %q, want %q", claim.Push.Ref, want)
		}
		if err := claim.Done(); err != nil {
			t.Fatalf("Done: %v", err)
		}
	}
}

func TestClaimFailSetsAside(t *testing.T) {
	s := newTestSpool(t)

	if _, err := s.Write(testPush("refs/heads/main")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	claim, err := s.Claim()
	if err != nil || claim == nil {
		t.Fatalf("Claim = %v, %v", claim, err)
	}
	if err := claim.Fail(); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	pending, err := s.Pending()
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("failed event still pending: %v", pending)
	}

	failed, err := s.Failed()
	if err != nil {
		t.Fatalf("Failed: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("Failed = %v, want one entry", failed)
	}

	// Failed events are never claimed again.
	if claim, err := s.Claim(); err != nil || claim != nil {
		t.Errorf("Claim after Fail = %+v, %v; want nil, nil", claim, err)
	}
}

func TestClaimRelease(t *testing.T) {
	s := newTestSpool(t)

	if _, err := s.Write(testPush("refs/heads/main")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	claim, err := s.Claim()
	if err != nil || claim == nil {
		t.Fatalf("Claim = %v, %v", claim, err)
	}
	if err := claim.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	again, err := s.Claim()
	if err != nil {
		t.Fatalf("Claim after Release: %v", err)
	}
	if again == nil {
		t.Fatal("released event not claimable")
	}
	if again.Push.Ref != "refs/heads/main" {
		t.Errorf("reclaimed ref = %q", again.Push.Ref)
	}
}

func TestCorruptEventSetAside(t *testing.T) {
	s := newTestSpool(t)

	// A corrupt file named to sort before anything Write produces, so
	// it sits at the head of the queue.
	corruptPath := filepath.Join(s.Dir(), "e-0000000000000000-aaaaaa.json")
	if err := os.WriteFile(corruptPath, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Write(testPush("refs/heads/main")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	claim, err := s.Claim()
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if claim == nil {
		t.Fatal("corrupt head wedged the queue")
	}
	if claim.Push.Ref != "refs/heads/main" {
		t.Errorf("claimed ref = %q, want the valid event", claim.Push.Ref)
	}

	failed, err := s.Failed()
	if err != nil {
		t.Fatalf("Failed: %v", err)
	}
	if len(failed) != 1 {
		t.Errorf("Failed = %v, want the corrupt event set aside", failed)
	}
}

func TestStaleClaimReclaimed(t *testing.T) {
	s := newTestSpool(t)

	if _, err := s.Write(testPush("refs/heads/main")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	claim, err := s.Claim()
	if err != nil || claim == nil {
		t.Fatalf("Claim = %v, %v", claim, err)
	}

	// Abandon the claim and age its file past the staleness window.
	old := time.Now().Add(-DefaultStaleClaim - time.Hour)
	if err := os.Chtimes(claim.Path(), old, old); err != nil {
		t.Fatal(err)
	}

	reclaimed, err := s.Claim()
	if err != nil {
		t.Fatalf("Claim after staleness: %v", err)
	}
	if reclaimed == nil {
		t.Fatal("stale claim was not reclaimed")
	}
	if reclaimed.Push.Ref != "refs/heads/main" {
		t.Errorf("reclaimed ref = %q", reclaimed.Push.Ref)
	}
}

func TestFreshClaimNotReclaimed(t *testing.T) {
	s := newTestSpool(t)

	if _, err := s.Write(testPush("refs/heads/main")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	claim, err := s.Claim()
	if err != nil || claim == nil {
		t.Fatalf("Claim = %v, %v", claim, err)
	}

	// A second claimer must not steal the in-progress claim.
	stolen, err := s.Claim()
	if err != nil {
		t.Fatalf("second Claim: %v", err)
	}
	if stolen != nil {
		t.Errorf("fresh claim stolen: %+v", stolen)
	}
	if err := claim.Done(); err != nil {
		t.Fatalf("Done: %v", err)
	}
}

func TestWatchDeliversClaims(t *testing.T) {
	s := newTestSpool(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clk := clock.Fake(time.Unix(1700000000, 0))

	if _, err := s.Write(testPush("refs/heads/one")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := s.Write(testPush("refs/heads/two")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	claims := s.Watch(ctx, clk, time.Second)
	clk.WaitForTimers(1)

	// The backlog drains immediately, before any tick.
	first := testutil.RequireReceive(t, claims, 5*time.Second, "first claim")
	if first.Push.Ref != "refs/heads/one" {
		t.Errorf("first claim ref = %q", first.Push.Ref)
	}
	if err := first.Done(); err != nil {
		t.Fatalf("Done: %v", err)
	}
	second := testutil.RequireReceive(t, claims, 5*time.Second, "second claim")
	if second.Push.Ref != "refs/heads/two" {
		t.Errorf("second claim ref = %q", second.Push.Ref)
	}
	if err := second.Done(); err != nil {
		t.Fatalf("Done: %v", err)
	}

	// An event arriving later is picked up on a poll tick.
	if _, err := s.Write(testPush("refs/heads/three")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	clk.Advance(time.Second)
	third := testutil.RequireReceive(t, claims, 5*time.Second, "third claim")
	if third.Push.Ref != "refs/heads/three" {
		t.Errorf("third claim ref = %q", third.Push.Ref)
	}
	if err := third.Done(); err != nil {
		t.Fatalf("Done: %v", err)
	}

	cancel()
	testutil.RequireClosed(t, claims, 5*time.Second, "watch channel after cancel")
}

func TestWatchReleasesClaimOnCancel(t *testing.T) {
	s := newTestSpool(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clk := clock.Fake(time.Unix(1700000000, 0))

	path, err := s.Write(testPush("refs/heads/main"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Never receive from the channel; the watcher claims the event and
	// blocks delivering it.
	claims := s.Watch(ctx, clk, time.Second)

	// Wait until the watcher has claimed (the pending file is renamed).
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("watcher never claimed the event")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	testutil.RequireClosed(t, claims, 5*time.Second, "watch channel after cancel")

	// The undelivered claim went back to pending.
	pending, err := s.Pending()
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("Pending after cancel = %v, want the released event", pending)
	}
}
