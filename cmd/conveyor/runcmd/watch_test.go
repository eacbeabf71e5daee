// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runcmd

import (
	"context"
	"strings"
	"testing"

	"github.com/bureau-foundation/conveyor/lib/config"
	"github.com/bureau-foundation/conveyor/lib/event"
	"github.com/bureau-foundation/conveyor/lib/spool"
)

// spoolWithClaim spools one push and claims it.
func spoolWithClaim(t *testing.T, push *event.Push) (*spool.Spool, *spool.Claim) {
	t.Helper()

	sp, err := spool.New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("spool.New: %v", err)
	}
	if _, err := sp.Write(push); err != nil {
		t.Fatalf("spool.Write: %v", err)
	}
	claim, err := sp.Claim()
	if err != nil {
		t.Fatalf("spool.Claim: %v", err)
	}
	if claim == nil {
		t.Fatal("spool.Claim returned no claim")
	}
	return sp, claim
}

func spoolCounts(t *testing.T, sp *spool.Spool) (pending, failed int) {
	t.Helper()
	pendingPaths, err := sp.Pending()
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	failedPaths, err := sp.Failed()
	if err != nil {
		t.Fatalf("Failed: %v", err)
	}
	return len(pendingPaths), len(failedPaths)
}

func TestProcessClaimSetsUnplannablePushAside(t *testing.T) {
	t.Parallel()

	// The repository is gone, so planning fails and retrying would
	// fail identically: the event must move to failed, not pending.
	push := pushTo("/nonexistent/repo", "refs/heads/main",
		"4f2c9ad0e1b53687a1c2d3e4f5a6b7c8d9e0f1a2")
	sp, claim := spoolWithClaim(t, push)

	e := &executor{cfg: config.Default(), logger: testLogger()}
	e.processClaim(context.Background(), claim)

	pending, failed := spoolCounts(t, sp)
	if pending != 0 || failed != 1 {
		t.Errorf("pending = %d, failed = %d; want 0 pending, 1 failed", pending, failed)
	}
}

func TestProcessClaimCompletesDeletePush(t *testing.T) {
	t.Parallel()

	// A branch deletion plans to nothing; the event is handled and
	// leaves the spool entirely.
	push := pushTo("/srv/repos/app.git", "refs/heads/old", event.ZeroSHA)
	sp, claim := spoolWithClaim(t, push)

	e := &executor{cfg: config.Default(), logger: testLogger()}
	e.processClaim(context.Background(), claim)

	pending, failed := spoolCounts(t, sp)
	if pending != 0 || failed != 0 {
		t.Errorf("pending = %d, failed = %d; want an empty spool", pending, failed)
	}
}

func TestProcessClaimReleasesOnShutdown(t *testing.T) {
	t.Parallel()

	// Failures caused by shutdown are not the event's fault: it goes
	// back to pending for the next watcher.
	push := pushTo("/nonexistent/repo", "refs/heads/main",
		"4f2c9ad0e1b53687a1c2d3e4f5a6b7c8d9e0f1a2")
	sp, claim := spoolWithClaim(t, push)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := &executor{cfg: config.Default(), logger: testLogger()}
	e.processClaim(ctx, claim)

	pending, failed := spoolCounts(t, sp)
	if pending != 1 || failed != 0 {
		t.Errorf("pending = %d, failed = %d; want the event back in pending", pending, failed)
	}
}

func TestWatchRejectsPositionalArguments(t *testing.T) {
	t.Parallel()

	cmd := WatchCommand()
	flags := cmd.Flags()
	if err := flags.Parse([]string{"extra"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	err := cmd.Run(context.Background(), flags.Args(), testLogger())
	if err == nil || !strings.Contains(err.Error(), "unexpected argument") {
		t.Errorf("err = %v, want an unexpected-argument error", err)
	}
}
