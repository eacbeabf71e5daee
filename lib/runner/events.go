// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"sync"
	"time"

	"github.com/bureau-foundation/conveyor/lib/logstore"
	"github.com/bureau-foundation/conveyor/lib/plan"
	"github.com/bureau-foundation/conveyor/lib/runlog"
)

// InstanceState tracks where an instance is in its lifecycle.
type InstanceState string

const (
	StateQueued   InstanceState = "queued"
	StateRunning  InstanceState = "running"
	StateFinished InstanceState = "finished"
)

// InstanceStatus is one instance's live progress as shown by the
// dashboard.
type InstanceStatus struct {
	ID    string
	Label string
	OS    string
	State InstanceState

	// StartedAt is when the instance began executing. Zero while the
	// instance is still queued.
	StartedAt time.Time

	// StepIndex and StepName describe the currently executing step
	// while State is "running". StepCount is the instance's total.
	StepIndex int
	StepName  string
	StepCount int

	// Conclusion, FailedStep, Error, and DurationMS are set once
	// State is "finished".
	Conclusion runlog.Conclusion
	FailedStep string
	Error      string
	DurationMS int64
}

// Snapshot is a point-in-time copy of run progress. Conclusion is
// empty and DurationMS is zero while the run is still executing.
type Snapshot struct {
	RunID      string
	Workflow   string
	Repo       string
	Branch     string
	SHA        string
	StartedAt  time.Time
	Conclusion runlog.Conclusion
	DurationMS int64
	Instances  []InstanceStatus
}

// Events publishes live run progress for observers in the same
// process (the interactive run display and the watch dashboard).
// Observers poll Snapshot and the per-instance output tails; Updated
// coalesces change notifications so a poll loop can sleep between
// them.
type Events struct {
	mutex    sync.Mutex
	snapshot Snapshot
	index    map[string]int
	tails    map[string]*logstore.Tail
	updated  chan struct{}
}

func newEvents() *Events {
	return &Events{
		index:   make(map[string]int),
		tails:   make(map[string]*logstore.Tail),
		updated: make(chan struct{}, 1),
	}
}

// Snapshot returns a copy of the current run progress, safe to read
// while the run mutates the original.
func (e *Events) Snapshot() Snapshot {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	copied := e.snapshot
	copied.Instances = append([]InstanceStatus(nil), e.snapshot.Instances...)
	return copied
}

// Updated returns a channel that receives (at least) one value after
// any progress change. Notifications coalesce: a slow reader sees one
// wakeup for a burst of changes and polls Snapshot for the rest.
func (e *Events) Updated() <-chan struct{} {
	return e.updated
}

// Tail returns the live output ring buffer for an instance, or nil
// for an unknown ID. Poll with Tail.Since and Tail.CurrentOffset.
func (e *Events) Tail(instanceID string) *logstore.Tail {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.tails[instanceID]
}

func (e *Events) start(p *plan.Plan, runID string, startedAt time.Time) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.snapshot = Snapshot{
		RunID:     runID,
		Workflow:  p.WorkflowName,
		Repo:      p.Event.Repo,
		Branch:    p.Event.Branch(),
		SHA:       p.Event.After,
		StartedAt: startedAt,
	}
	for i := range p.Instances {
		instance := &p.Instances[i]
		e.index[instance.ID] = i
		e.tails[instance.ID] = logstore.NewTail(logstore.DefaultTailSize)
		e.snapshot.Instances = append(e.snapshot.Instances, InstanceStatus{
			ID:        instance.ID,
			Label:     instance.Runner.Label,
			OS:        instance.Runner.OS,
			State:     StateQueued,
			StepCount: len(instance.Steps),
		})
	}
	e.notify()
}

func (e *Events) instanceStarted(instanceID string, startedAt time.Time) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if status := e.status(instanceID); status != nil {
		status.State = StateRunning
		status.StartedAt = startedAt
	}
	e.notify()
}

func (e *Events) stepStarted(instanceID string, index int, name string) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if status := e.status(instanceID); status != nil {
		status.StepIndex = index
		status.StepName = name
	}
	e.notify()
}

func (e *Events) instanceFinished(instanceID string, conclusion runlog.Conclusion, durationMS int64, failedStep, errorMessage string) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if status := e.status(instanceID); status != nil {
		status.State = StateFinished
		status.StepName = ""
		status.Conclusion = conclusion
		status.FailedStep = failedStep
		status.Error = errorMessage
		status.DurationMS = durationMS
	}
	e.notify()
}

func (e *Events) finish(conclusion runlog.Conclusion, durationMS int64) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.snapshot.Conclusion = conclusion
	e.snapshot.DurationMS = durationMS
	e.notify()
}

// status returns a mutable pointer into the snapshot. Callers hold
// the mutex.
func (e *Events) status(instanceID string) *InstanceStatus {
	i, known := e.index[instanceID]
	if !known {
		return nil
	}
	return &e.snapshot.Instances[i]
}

// notify wakes observers without blocking. Callers hold the mutex.
func (e *Events) notify() {
	select {
	case e.updated <- struct{}{}:
	default:
	}
}
