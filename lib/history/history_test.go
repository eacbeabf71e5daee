// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package history_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/bureau-foundation/conveyor/lib/history"
	"github.com/bureau-foundation/conveyor/lib/runlog"
)

var historyTestEpoch = time.Date(2026, 8, 21, 9, 30, 0, 0, time.UTC)

func openTestDB(t *testing.T) *history.DB {
	t.Helper()

	db, err := history.Open(history.Config{
		Path:     filepath.Join(t.TempDir(), "history_test.db"),
		PoolSize: 2,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("db.Close: %v", err)
		}
	})
	return db
}

// testRun builds a completed six-instance run (three runner labels by
// two profiles) in the shape the runner records.
func testRun(runID string, started time.Time) *history.Run {
	run := &history.Run{
		RunID:         runID,
		Workflow:      "ci",
		Repo:          "/srv/git/sample.git",
		Ref:           "refs/heads/main",
		Branch:        "main",
		SHA:           "6a1f9be08cd9634f2c0d0f2e9a6bb374a1d27c55",
		Conclusion:    runlog.ConclusionSuccess,
		StartedAt:     started,
		DurationMS:    84_000,
		InstanceCount: 6,
		LogPath:       "/var/lib/conveyor/runs/" + runID + ".jsonl",
		ArchivePath:   "/var/lib/conveyor/runs/" + runID + ".cbor",
	}

	for _, label := range []string{"ubuntu-latest", "windows-latest", "macos-latest"} {
		for _, profile := range []string{"debug", "release"} {
			run.Instances = append(run.Instances, history.Instance{
				InstanceID: "build-" + label + "-" + profile,
				Job:        "build",
				Label:      label,
				OS:         osForLabel(label),
				Axes:       map[string]string{"profile": profile},
				Conclusion: runlog.ConclusionSuccess,
				DurationMS: 14_000,
				LogRef:     "log-" + runID + "-" + label + "-" + profile,
			})
		}
	}
	return run
}

func osForLabel(label string) string {
	switch label {
	case "windows-latest":
		return "windows"
	case "macos-latest":
		return "darwin"
	default:
		return "linux"
	}
}

func TestRecordAndGet(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	recorded := testRun("r-20260821-093000-a1b2", historyTestEpoch)
	recorded.Instances[3].Conclusion = runlog.ConclusionFailure
	recorded.Instances[3].FailedStep = "cargo build"
	recorded.Instances[3].Error = "run: exit code 101"
	recorded.Conclusion = runlog.ConclusionFailure

	if err := db.Record(ctx, recorded); err != nil {
		t.Fatalf("Record: %v", err)
	}

	run, err := db.Get(ctx, recorded.RunID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if run.Workflow != "ci" {
		t.Errorf("Workflow = %q, want %q", run.Workflow, "ci")
	}
	if run.Branch != "main" {
		t.Errorf("Branch = %q, want %q", run.Branch, "main")
	}
	if run.SHA != recorded.SHA {
		t.Errorf("SHA = %q, want %q", run.SHA, recorded.SHA)
	}
	if run.Conclusion != runlog.ConclusionFailure {
		t.Errorf("Conclusion = %q, want %q", run.Conclusion, runlog.ConclusionFailure)
	}
	if !run.StartedAt.Equal(historyTestEpoch) {
		t.Errorf("StartedAt = %v, want %v", run.StartedAt, historyTestEpoch)
	}
	if run.InstanceCount != 6 {
		t.Errorf("InstanceCount = %d, want 6", run.InstanceCount)
	}
	if run.LogPath != recorded.LogPath {
		t.Errorf("LogPath = %q, want %q", run.LogPath, recorded.LogPath)
	}

	if len(run.Instances) != 6 {
		t.Fatalf("got %d instances, want 6", len(run.Instances))
	}

	// Instances come back in plan order.
	for i, instance := range run.Instances {
		if instance.InstanceID != recorded.Instances[i].InstanceID {
			t.Errorf("instance[%d] = %q, want %q", i, instance.InstanceID, recorded.Instances[i].InstanceID)
		}
	}

	// The failed instance round-trips its failure detail.
	failed := run.Instances[3]
	if failed.Conclusion != runlog.ConclusionFailure {
		t.Errorf("failed instance conclusion = %q, want %q", failed.Conclusion, runlog.ConclusionFailure)
	}
	if failed.FailedStep != "cargo build" {
		t.Errorf("FailedStep = %q, want %q", failed.FailedStep, "cargo build")
	}
	if failed.Error != "run: exit code 101" {
		t.Errorf("Error = %q, want %q", failed.Error, "run: exit code 101")
	}

	// Axes round-trip through the JSON column.
	for i, instance := range run.Instances {
		profile := instance.Axes["profile"]
		if profile != "debug" && profile != "release" {
			t.Errorf("instance[%d] profile axis = %q", i, profile)
		}
	}
}

func TestGetNotFound(t *testing.T) {
	db := openTestDB(t)

	_, err := db.Get(context.Background(), "r-20260821-000000-ffff")
	if !errors.Is(err, history.ErrNotFound) {
		t.Fatalf("Get error = %v, want ErrNotFound", err)
	}
}

func TestRecordDuplicateRunID(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	run := testRun("r-20260821-093000-dupe", historyTestEpoch)
	if err := db.Record(ctx, run); err != nil {
		t.Fatalf("first Record: %v", err)
	}
	if err := db.Record(ctx, run); err == nil {
		t.Fatal("second Record of the same run ID succeeded, want error")
	}
}

func TestRecordEmptyRunID(t *testing.T) {
	db := openTestDB(t)

	err := db.Record(context.Background(), &history.Run{})
	if err == nil {
		t.Fatal("Record with empty run ID succeeded, want error")
	}
}

func TestList(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	// Three runs a minute apart; run IDs sort in creation order.
	for i := range 3 {
		started := historyTestEpoch.Add(time.Duration(i) * time.Minute)
		run := testRun(fmt.Sprintf("r-20260821-09%02d00-%04x", 30+i, i), started)
		if i == 1 {
			run.Branch = "feature/matrix"
			run.Conclusion = runlog.ConclusionFailure
		}
		if err := db.Record(ctx, run); err != nil {
			t.Fatalf("Record run %d: %v", i, err)
		}
	}

	runs, err := db.List(ctx, history.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("got %d runs, want 3", len(runs))
	}

	// Newest first.
	if runs[0].RunID != "r-20260821-093200-0002" {
		t.Errorf("first run = %q, want the newest", runs[0].RunID)
	}
	if runs[2].RunID != "r-20260821-093000-0000" {
		t.Errorf("last run = %q, want the oldest", runs[2].RunID)
	}

	// List omits instances.
	if len(runs[0].Instances) != 0 {
		t.Errorf("List returned %d instances, want 0", len(runs[0].Instances))
	}

	// Filter by branch.
	runs, err = db.List(ctx, history.Filter{Branch: "feature/matrix"})
	if err != nil {
		t.Fatalf("List (branch): %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("branch filter: got %d runs, want 1", len(runs))
	}
	if runs[0].Branch != "feature/matrix" {
		t.Errorf("branch = %q, want %q", runs[0].Branch, "feature/matrix")
	}

	// Filter by conclusion.
	runs, err = db.List(ctx, history.Filter{Conclusion: runlog.ConclusionFailure})
	if err != nil {
		t.Fatalf("List (conclusion): %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("conclusion filter: got %d runs, want 1", len(runs))
	}

	// Filter by workflow matching nothing.
	runs, err = db.List(ctx, history.Filter{Workflow: "nightly"})
	if err != nil {
		t.Fatalf("List (workflow): %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("workflow filter: got %d runs, want 0", len(runs))
	}

	// Limit applies after newest-first ordering.
	runs, err = db.List(ctx, history.Filter{Limit: 2})
	if err != nil {
		t.Fatalf("List (limit): %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("limit: got %d runs, want 2", len(runs))
	}
	if runs[0].RunID != "r-20260821-093200-0002" {
		t.Errorf("limited list starts at %q, want the newest", runs[0].RunID)
	}
}

func TestListEmpty(t *testing.T) {
	db := openTestDB(t)

	runs, err := db.List(context.Background(), history.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("got %d runs from empty database, want 0", len(runs))
	}
}

func TestPrune(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for i := range 5 {
		started := historyTestEpoch.Add(time.Duration(i) * time.Minute)
		run := testRun(fmt.Sprintf("r-20260821-09%02d00-%04x", 30+i, i), started)
		if err := db.Record(ctx, run); err != nil {
			t.Fatalf("Record run %d: %v", i, err)
		}
	}

	result, err := db.Prune(ctx, 2)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if result.Removed != 3 {
		t.Errorf("Removed = %d, want 3", result.Removed)
	}

	// The three oldest runs contributed their paths and refs.
	if len(result.LogPaths) != 3 {
		t.Errorf("got %d log paths, want 3", len(result.LogPaths))
	}
	if len(result.ArchivePaths) != 3 {
		t.Errorf("got %d archive paths, want 3", len(result.ArchivePaths))
	}
	if len(result.LogRefs) != 3*6 {
		t.Errorf("got %d log refs, want %d", len(result.LogRefs), 3*6)
	}

	// The two newest runs survive.
	runs, err := db.List(ctx, history.Filter{})
	if err != nil {
		t.Fatalf("List after prune: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs after prune, want 2", len(runs))
	}
	if runs[0].RunID != "r-20260821-093400-0004" {
		t.Errorf("newest surviving run = %q", runs[0].RunID)
	}
	if runs[1].RunID != "r-20260821-093300-0003" {
		t.Errorf("oldest surviving run = %q", runs[1].RunID)
	}

	// Pruned runs are gone, instances included.
	_, err = db.Get(ctx, "r-20260821-093000-0000")
	if !errors.Is(err, history.ErrNotFound) {
		t.Errorf("Get pruned run = %v, want ErrNotFound", err)
	}

	// A surviving run still has its instances.
	survivor, err := db.Get(ctx, "r-20260821-093400-0004")
	if err != nil {
		t.Fatalf("Get survivor: %v", err)
	}
	if len(survivor.Instances) != 6 {
		t.Errorf("survivor has %d instances, want 6", len(survivor.Instances))
	}
}

func TestPruneExcludesRefsKeptRunsStillUse(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	older := testRun("r-20260821-093000-aaaa", historyTestEpoch)
	newer := testRun("r-20260821-094000-bbbb", historyTestEpoch.Add(10*time.Minute))

	// The same commit built twice produces identical step output, so
	// both runs' first instances point at one deduplicated blob.
	shared := "log-shared-blob"
	older.Instances[0].LogRef = shared
	newer.Instances[0].LogRef = shared

	if err := db.Record(ctx, older); err != nil {
		t.Fatalf("Record older: %v", err)
	}
	if err := db.Record(ctx, newer); err != nil {
		t.Fatalf("Record newer: %v", err)
	}

	result, err := db.Prune(ctx, 1)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if result.Removed != 1 {
		t.Fatalf("Removed = %d, want 1", result.Removed)
	}

	// The shared blob backs the surviving run and must not be offered
	// for deletion; the older run's five private refs are.
	if len(result.LogRefs) != 5 {
		t.Errorf("got %d log refs, want 5: %v", len(result.LogRefs), result.LogRefs)
	}
	for _, ref := range result.LogRefs {
		if ref == shared {
			t.Errorf("prune offered still-referenced ref %q for deletion", ref)
		}
	}
}

func TestPruneKeepsEverythingWhenUnderLimit(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	run := testRun("r-20260821-093000-solo", historyTestEpoch)
	if err := db.Record(ctx, run); err != nil {
		t.Fatalf("Record: %v", err)
	}

	result, err := db.Prune(ctx, 10)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if result.Removed != 0 {
		t.Errorf("Removed = %d, want 0", result.Removed)
	}
	if len(result.LogPaths) != 0 || len(result.LogRefs) != 0 {
		t.Error("prune of nothing returned paths or refs")
	}
}

func TestPruneZeroKeepsNothing(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for i := range 2 {
		run := testRun(fmt.Sprintf("r-20260821-093000-%04x", i), historyTestEpoch)
		if err := db.Record(ctx, run); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	result, err := db.Prune(ctx, 0)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if result.Removed != 2 {
		t.Errorf("Removed = %d, want 2", result.Removed)
	}

	runs, err := db.List(ctx, history.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("got %d runs after full prune, want 0", len(runs))
	}
}

func TestPruneNegativeKeep(t *testing.T) {
	db := openTestDB(t)

	_, err := db.Prune(context.Background(), -1)
	if err == nil {
		t.Fatal("Prune(-1) succeeded, want error")
	}
}

func TestNewRunID(t *testing.T) {
	id, err := history.NewRunID(historyTestEpoch)
	if err != nil {
		t.Fatalf("NewRunID: %v", err)
	}

	format := regexp.MustCompile(`^r-\d{8}-\d{6}-[0-9a-f]{4}$`)
	if !format.MatchString(id) {
		t.Errorf("run ID %q does not match expected format", id)
	}

	// IDs embed the UTC timestamp, so later runs sort later.
	later, err := history.NewRunID(historyTestEpoch.Add(time.Second))
	if err != nil {
		t.Fatalf("NewRunID: %v", err)
	}
	if !(id < later) {
		t.Errorf("run IDs not time-ordered: %q then %q", id, later)
	}
}
