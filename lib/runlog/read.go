// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// RunRecord is a run reconstructed from its JSONL log. It is also the
// shape archived in CBOR at run completion and the shape `history show`
// renders.
type RunRecord struct {
	RunID         string           `json:"run_id"`
	Workflow      string           `json:"workflow"`
	Repo          string           `json:"repo"`
	Ref           string           `json:"ref"`
	SHA           string           `json:"sha"`
	StartedAt     string           `json:"started_at"`
	InstanceCount int              `json:"instance_count"`
	Instances     []InstanceRecord `json:"instances,omitempty"`

	// Conclusion is empty when the log has no terminal entry, which
	// means the process died mid-run.
	Conclusion Conclusion `json:"conclusion,omitempty"`
	DurationMS int64      `json:"duration_ms,omitempty"`

	// Reason carries the abort reason when Conclusion is "aborted".
	Reason string `json:"reason,omitempty"`

	// FailedInstances lists the instance IDs that caused a "failure"
	// conclusion.
	FailedInstances []string `json:"failed_instances,omitempty"`

	// Truncated is set when the log ended in a partial or unparseable
	// line. Everything before that point is still reliable.
	Truncated bool `json:"truncated,omitempty"`
}

// InstanceRecord is one instance's reconstructed execution. LogRef
// locates the instance's full transcript in the log store.
type InstanceRecord struct {
	InstanceID string       `json:"instance_id"`
	Label      string       `json:"label"`
	OS         string       `json:"os"`
	StartedAt  string       `json:"started_at"`
	Steps      []StepRecord `json:"steps,omitempty"`
	Conclusion Conclusion   `json:"conclusion,omitempty"`
	DurationMS int64        `json:"duration_ms,omitempty"`
	LogRef     string       `json:"log_ref,omitempty"`
	FailedStep string       `json:"failed_step,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// StepRecord is one step outcome within an instance. LogRef locates
// the step's captured output in the log store.
type StepRecord struct {
	Index      int    `json:"index"`
	Name       string `json:"name"`
	Status     Status `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	LogRef     string `json:"log_ref,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Completed reports whether the run reached a terminal entry.
func (r *RunRecord) Completed() bool {
	return r.Conclusion != ""
}

// Instance returns the record for the given instance ID, or nil.
func (r *RunRecord) Instance(id string) *InstanceRecord {
	for i := range r.Instances {
		if r.Instances[i].InstanceID == id {
			return &r.Instances[i]
		}
	}
	return nil
}

// ReadFile reconstructs a RunRecord from a JSONL run log. A truncated
// tail (the usual crash shape: a partial final line) stops
// reconstruction without an error; the record's Truncated field is set
// and everything up to that point is returned. Unknown entry types are
// skipped so old conveyor versions can read logs written by newer ones.
func ReadFile(path string) (*RunRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening run log %s: %w", path, err)
	}
	defer file.Close()

	record := &RunRecord{}
	instanceIndex := make(map[string]int)

	scanner := bufio.NewScanner(file)
	// Step errors can carry command output excerpts; allow long lines.
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(line, &envelope); err != nil {
			record.Truncated = true
			break
		}

		if ok := applyEntry(record, instanceIndex, envelope.Type, line); !ok {
			record.Truncated = true
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading run log %s: %w", path, err)
	}
	return record, nil
}

// applyEntry folds one parsed line into the record. Returns false when
// the line's payload does not decode, which the caller treats the same
// as a truncated tail.
func applyEntry(record *RunRecord, instanceIndex map[string]int, entryType string, line []byte) bool {
	switch entryType {
	case "start":
		var entry runStartEntry
		if json.Unmarshal(line, &entry) != nil {
			return false
		}
		record.RunID = entry.RunID
		record.Workflow = entry.Workflow
		record.Repo = entry.Repo
		record.Ref = entry.Ref
		record.SHA = entry.SHA
		record.InstanceCount = entry.InstanceCount
		record.StartedAt = entry.Timestamp

	case "instance_start":
		var entry instanceStartEntry
		if json.Unmarshal(line, &entry) != nil {
			return false
		}
		instanceIndex[entry.InstanceID] = len(record.Instances)
		record.Instances = append(record.Instances, InstanceRecord{
			InstanceID: entry.InstanceID,
			Label:      entry.Label,
			OS:         entry.OS,
			StartedAt:  entry.Timestamp,
		})

	case "step":
		var entry stepEntry
		if json.Unmarshal(line, &entry) != nil {
			return false
		}
		index, known := instanceIndex[entry.InstanceID]
		if !known {
			// A step for an instance that never started is log
			// corruption; stop trusting the rest.
			return false
		}
		record.Instances[index].Steps = append(record.Instances[index].Steps, StepRecord{
			Index:      entry.Index,
			Name:       entry.Name,
			Status:     entry.Status,
			DurationMS: entry.DurationMS,
			LogRef:     entry.LogRef,
			Error:      entry.Error,
		})

	case "instance_result":
		var entry instanceResultEntry
		if json.Unmarshal(line, &entry) != nil {
			return false
		}
		index, known := instanceIndex[entry.InstanceID]
		if !known {
			return false
		}
		instance := &record.Instances[index]
		instance.Conclusion = entry.Conclusion
		instance.DurationMS = entry.DurationMS
		instance.LogRef = entry.LogRef
		instance.FailedStep = entry.FailedStep
		instance.Error = entry.Error

	case "complete":
		var entry runCompleteEntry
		if json.Unmarshal(line, &entry) != nil {
			return false
		}
		record.Conclusion = entry.Conclusion
		record.DurationMS = entry.DurationMS

	case "failed":
		var entry runFailedEntry
		if json.Unmarshal(line, &entry) != nil {
			return false
		}
		record.Conclusion = entry.Conclusion
		record.DurationMS = entry.DurationMS
		record.FailedInstances = entry.FailedInstances

	case "aborted":
		var entry runAbortedEntry
		if json.Unmarshal(line, &entry) != nil {
			return false
		}
		record.Conclusion = entry.Conclusion
		record.DurationMS = entry.DurationMS
		record.Reason = entry.Reason

	default:
		// Entry types this version does not know about are skipped.
	}
	return true
}
