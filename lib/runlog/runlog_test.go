// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runlog

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeSuccessfulRun writes a complete two-instance run and returns
// the log path.
func writeSuccessfulRun(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "run.jsonl")
	log, err := New(path, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer log.Close()

	log.WriteRunStart("r-001", "ci", "/srv/git/widget.git", "refs/heads/main", "abc123", 2)
	log.WriteInstanceStart("build/ubuntu-latest", "ubuntu-latest", "Linux")
	log.WriteStep("build/ubuntu-latest", 0, "checkout", StatusOK, 420, "", "")
	log.WriteStep("build/ubuntu-latest", 1, "build", StatusOK, 61000, "1f6e2d", "")
	log.WriteInstanceResult("build/ubuntu-latest", ConclusionSuccess, 61420, "9a4c01", "", "")
	log.WriteInstanceStart("build/macos-latest", "macos-latest", "macOS")
	log.WriteStep("build/macos-latest", 0, "checkout", StatusOK, 510, "", "")
	log.WriteStep("build/macos-latest", 1, "build", StatusOK, 80000, "b83f77", "")
	log.WriteInstanceResult("build/macos-latest", ConclusionSuccess, 80510, "d215e0", "", "")
	log.WriteComplete(80930)
	return path
}

func TestReadFileReconstructsCompletedRun(t *testing.T) {
	t.Parallel()

	record, err := ReadFile(writeSuccessfulRun(t))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if record.RunID != "r-001" || record.Workflow != "ci" {
		t.Errorf("run identity = (%q, %q)", record.RunID, record.Workflow)
	}
	if record.Ref != "refs/heads/main" || record.SHA != "abc123" {
		t.Errorf("event fields = (%q, %q)", record.Ref, record.SHA)
	}
	if record.InstanceCount != 2 || len(record.Instances) != 2 {
		t.Fatalf("instances = %d declared, %d recorded", record.InstanceCount, len(record.Instances))
	}
	if record.Truncated {
		t.Error("clean log marked truncated")
	}
	if !record.Completed() || record.Conclusion != ConclusionSuccess {
		t.Errorf("conclusion = %q, completed = %v", record.Conclusion, record.Completed())
	}
	if record.DurationMS != 80930 {
		t.Errorf("DurationMS = %d", record.DurationMS)
	}
	if _, err := time.Parse(time.RFC3339, record.StartedAt); err != nil {
		t.Errorf("StartedAt %q is not RFC3339: %v", record.StartedAt, err)
	}

	linux := record.Instance("build/ubuntu-latest")
	if linux == nil {
		t.Fatal("linux instance missing")
	}
	if linux.OS != "Linux" || linux.Conclusion != ConclusionSuccess {
		t.Errorf("linux instance = %+v", linux)
	}
	if linux.LogRef != "9a4c01" {
		t.Errorf("linux LogRef = %q", linux.LogRef)
	}
	wantSteps := []StepRecord{
		{Index: 0, Name: "checkout", Status: StatusOK, DurationMS: 420},
		{Index: 1, Name: "build", Status: StatusOK, DurationMS: 61000, LogRef: "1f6e2d"},
	}
	if !reflect.DeepEqual(linux.Steps, wantSteps) {
		t.Errorf("linux steps = %+v, want %+v", linux.Steps, wantSteps)
	}
}

func TestReadFileFailedRun(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "run.jsonl")
	log, err := New(path, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.WriteRunStart("r-002", "ci", "/srv/git/widget.git", "refs/heads/main", "abc123", 1)
	log.WriteInstanceStart("build/windows-latest", "windows-latest", "Windows")
	log.WriteStep("build/windows-latest", 0, "checkout", StatusOK, 400, "", "")
	log.WriteStep("build/windows-latest", 1, "build", StatusFailed, 12000, "4be902", "run: exit code 101")
	log.WriteInstanceResult("build/windows-latest", ConclusionFailure, 12400, "77a3c4", "build", "run: exit code 101")
	log.WriteFailed(12400, []string{"build/windows-latest"})
	log.Close()

	record, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if record.Conclusion != ConclusionFailure {
		t.Errorf("conclusion = %q", record.Conclusion)
	}
	if !reflect.DeepEqual(record.FailedInstances, []string{"build/windows-latest"}) {
		t.Errorf("FailedInstances = %v", record.FailedInstances)
	}
	instance := record.Instance("build/windows-latest")
	if instance.FailedStep != "build" || instance.Error != "run: exit code 101" {
		t.Errorf("instance failure = (%q, %q)", instance.FailedStep, instance.Error)
	}
	if instance.Steps[1].Status != StatusFailed || instance.Steps[1].LogRef != "4be902" {
		t.Errorf("failed step = %+v", instance.Steps[1])
	}
}

func TestReadFileTruncatedTail(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "run.jsonl")
	log, err := New(path, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.WriteRunStart("r-003", "ci", "/srv/git/widget.git", "refs/heads/main", "abc123", 1)
	log.WriteInstanceStart("build/ubuntu-latest", "ubuntu-latest", "Linux")
	log.WriteStep("build/ubuntu-latest", 0, "checkout", StatusOK, 400, "", "")
	log.Close()

	// Simulate a crash mid-write: a partial final line.
	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	if _, err := file.WriteString(`{"type":"step","instance_id":"build/ubu`); err != nil {
		t.Fatalf("append partial line: %v", err)
	}
	file.Close()

	record, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !record.Truncated {
		t.Error("truncated log not flagged")
	}
	if record.Completed() {
		t.Error("truncated log reported a conclusion")
	}
	// Everything before the partial line is intact.
	if record.RunID != "r-003" {
		t.Errorf("RunID = %q", record.RunID)
	}
	instance := record.Instance("build/ubuntu-latest")
	if instance == nil || len(instance.Steps) != 1 {
		t.Fatalf("pre-crash entries lost: %+v", record.Instances)
	}
}

func TestReadFileSkipsUnknownEntryTypes(t *testing.T) {
	t.Parallel()

	path := writeSuccessfulRun(t)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	// Splice a future entry type into the middle of the log.
	lines := bytes.SplitAfter(data, []byte("\n"))
	var spliced []byte
	spliced = append(spliced, lines[0]...)
	spliced = append(spliced, []byte(`{"type":"annotation","note":"from the future"}`+"\n")...)
	for _, line := range lines[1:] {
		spliced = append(spliced, line...)
	}
	if err := os.WriteFile(path, spliced, 0644); err != nil {
		t.Fatalf("write spliced log: %v", err)
	}

	record, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if record.Truncated || record.Conclusion != ConclusionSuccess {
		t.Errorf("unknown entry broke reconstruction: truncated=%v conclusion=%q",
			record.Truncated, record.Conclusion)
	}
}

func TestNilLogIsSafe(t *testing.T) {
	t.Parallel()

	var log *Log
	log.WriteRunStart("r-004", "ci", "repo", "ref", "sha", 1)
	log.WriteInstanceStart("id", "label", "os")
	log.WriteStep("id", 0, "step", StatusOK, 1, "", "")
	log.WriteInstanceResult("id", ConclusionSuccess, 1, "", "", "")
	log.WriteComplete(1)
	log.WriteFailed(1, nil)
	log.WriteAborted("shutdown", 1)
	if err := log.Close(); err != nil {
		t.Errorf("Close on nil log: %v", err)
	}
}

func TestArchiveRoundTripAndDeterminism(t *testing.T) {
	t.Parallel()

	record, err := ReadFile(writeSuccessfulRun(t))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	dir := t.TempDir()
	first := filepath.Join(dir, "a.cbor")
	second := filepath.Join(dir, "b.cbor")
	if err := WriteArchive(first, record); err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}
	if err := WriteArchive(second, record); err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}

	firstData, _ := os.ReadFile(first)
	secondData, _ := os.ReadFile(second)
	if !bytes.Equal(firstData, secondData) {
		t.Error("identical records produced different archive bytes")
	}

	loaded, err := ReadArchive(first)
	if err != nil {
		t.Fatalf("ReadArchive: %v", err)
	}
	if !reflect.DeepEqual(loaded, record) {
		t.Errorf("archive round trip changed the record:\n got %+v\nwant %+v", loaded, record)
	}
}
