// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package runlog records run execution as structured JSONL. Each line
// is an independent JSON object, making the log:
//
//   - Crash-safe: a SIGKILL mid-run preserves every completed step
//     result. A single JSON document would be truncated and
//     unparseable.
//   - Streamable: the watch dashboard tails the file for step-by-step
//     progress instead of waiting for completion.
//
// The reader side reconstructs a RunRecord from a log, tolerating a
// truncated tail, so `conveyor history show` and crash recovery work
// from whatever made it to disk.
package runlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// Status is a step outcome.
type Status string

const (
	StatusOK      Status = "ok"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	StatusAborted Status = "aborted"

	// StatusFailedOptional is recorded when an optional step fails
	// but the instance continues.
	StatusFailedOptional Status = "failed (optional)"
)

// Conclusion is the terminal outcome of an instance or a whole run.
type Conclusion string

const (
	ConclusionSuccess Conclusion = "success"
	ConclusionFailure Conclusion = "failure"
	ConclusionAborted Conclusion = "aborted"
)

// Log writes structured JSONL to a file during run execution. All
// methods are nil-safe no-ops so callers never have to guard the
// disabled case.
type Log struct {
	logger  *slog.Logger
	file    *os.File
	encoder *json.Encoder
}

// New creates a JSONL run log at the given path. The file is created
// (truncating any existing content) immediately.
func New(path string, logger *slog.Logger) (*Log, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating run log %s: %w", path, err)
	}
	return &Log{
		logger:  logger,
		file:    file,
		encoder: json.NewEncoder(file),
	}, nil
}

// Close flushes and closes the run log file.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	return l.file.Close()
}

// WriteRunStart records the start of a run: which workflow, which
// push, and how many instances the plan expanded to.
func (l *Log) WriteRunStart(runID, workflow, repo, ref, sha string, instanceCount int) {
	if l == nil {
		return
	}
	l.write(runStartEntry{
		Type:          "start",
		RunID:         runID,
		Workflow:      workflow,
		Repo:          repo,
		Ref:           ref,
		SHA:           sha,
		InstanceCount: instanceCount,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	})
}

// WriteInstanceStart records an instance beginning execution on a
// runner.
func (l *Log) WriteInstanceStart(instanceID, label, os string) {
	if l == nil {
		return
	}
	l.write(instanceStartEntry{
		Type:       "instance_start",
		InstanceID: instanceID,
		Label:      label,
		OS:         os,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
}

// WriteStep records the outcome of a single step within an instance.
// logRef is the log store ref of the step's captured output, empty when
// the step produced none (skipped, or capture disabled).
func (l *Log) WriteStep(instanceID string, index int, name string, status Status, durationMS int64, logRef, stepError string) {
	if l == nil {
		return
	}
	l.write(stepEntry{
		Type:       "step",
		InstanceID: instanceID,
		Index:      index,
		Name:       name,
		Status:     status,
		DurationMS: durationMS,
		LogRef:     logRef,
		Error:      stepError,
	})
}

// WriteInstanceResult records the terminal outcome of one instance.
// logRef is the log store ref of the instance's full transcript.
func (l *Log) WriteInstanceResult(instanceID string, conclusion Conclusion, durationMS int64, logRef, failedStep, errorMessage string) {
	if l == nil {
		return
	}
	l.write(instanceResultEntry{
		Type:       "instance_result",
		InstanceID: instanceID,
		Conclusion: conclusion,
		DurationMS: durationMS,
		LogRef:     logRef,
		FailedStep: failedStep,
		Error:      errorMessage,
	})
}

// WriteComplete records successful run completion: every instance
// succeeded.
func (l *Log) WriteComplete(durationMS int64) {
	if l == nil {
		return
	}
	l.write(runCompleteEntry{
		Type:       "complete",
		Conclusion: ConclusionSuccess,
		DurationMS: durationMS,
	})
}

// WriteFailed records run failure and which instances caused it.
func (l *Log) WriteFailed(durationMS int64, failedInstances []string) {
	if l == nil {
		return
	}
	l.write(runFailedEntry{
		Type:            "failed",
		Conclusion:      ConclusionFailure,
		DurationMS:      durationMS,
		FailedInstances: failedInstances,
	})
}

// WriteAborted records a run abort: the operator cancelled, or the
// daemon shut down, before the instances could finish. Unlike
// WriteFailed this does not indicate anything broke.
func (l *Log) WriteAborted(reason string, durationMS int64) {
	if l == nil {
		return
	}
	l.write(runAbortedEntry{
		Type:       "aborted",
		Conclusion: ConclusionAborted,
		Reason:     reason,
		DurationMS: durationMS,
	})
}

func (l *Log) write(entry any) {
	if err := l.encoder.Encode(entry); err != nil {
		l.logger.Warn("failed to write run log entry", "error", err)
		return
	}
	// Sync after each line so that partial results survive a crash
	// and are visible to readers (dashboard tailing for progress)
	// immediately.
	if err := l.file.Sync(); err != nil {
		l.logger.Warn("failed to sync run log", "error", err)
	}
}

// JSONL entry types. Each struct documents exactly which fields appear
// in that line type. Separate structs (rather than one with omitempty
// everywhere) make the wire format explicit and self-documenting.

// runStartEntry is the first line, written when the run begins.
type runStartEntry struct {
	Type          string `json:"type"`
	RunID         string `json:"run_id"`
	Workflow      string `json:"workflow"`
	Repo          string `json:"repo"`
	Ref           string `json:"ref"`
	SHA           string `json:"sha"`
	InstanceCount int    `json:"instance_count"`
	Timestamp     string `json:"timestamp"`
}

// instanceStartEntry is written when a worker picks up an instance.
type instanceStartEntry struct {
	Type       string `json:"type"`
	InstanceID string `json:"instance_id"`
	Label      string `json:"label"`
	OS         string `json:"os"`
	Timestamp  string `json:"timestamp"`
}

// stepEntry is written after each step completes (or is skipped).
type stepEntry struct {
	Type       string `json:"type"`
	InstanceID string `json:"instance_id"`
	Index      int    `json:"index"`
	Name       string `json:"name"`
	Status     Status `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	LogRef     string `json:"log_ref,omitempty"`
	Error      string `json:"error,omitempty"`
}

// instanceResultEntry is written when an instance finishes.
type instanceResultEntry struct {
	Type       string     `json:"type"`
	InstanceID string     `json:"instance_id"`
	Conclusion Conclusion `json:"conclusion"`
	DurationMS int64      `json:"duration_ms"`
	LogRef     string     `json:"log_ref,omitempty"`
	FailedStep string     `json:"failed_step,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// runCompleteEntry is the last line when every instance succeeded.
type runCompleteEntry struct {
	Type       string     `json:"type"`
	Conclusion Conclusion `json:"conclusion"`
	DurationMS int64      `json:"duration_ms"`
}

// runFailedEntry is the last line when at least one instance failed.
type runFailedEntry struct {
	Type            string     `json:"type"`
	Conclusion      Conclusion `json:"conclusion"`
	DurationMS      int64      `json:"duration_ms"`
	FailedInstances []string   `json:"failed_instances,omitempty"`
}

// runAbortedEntry is the last line when the run was cancelled.
type runAbortedEntry struct {
	Type       string     `json:"type"`
	Conclusion Conclusion `json:"conclusion"`
	Reason     string     `json:"reason"`
	DurationMS int64      `json:"duration_ms"`
}
