// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package watchui

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/bureau-foundation/conveyor/lib/runlog"
	"github.com/bureau-foundation/conveyor/lib/runner"
)

// Plain follows run progress as plain log lines, one per state
// transition, for use when stdout is not a terminal (pipes, CI logs,
// tmux capture). It blocks until the run it observes concludes,
// returning nil, or until the context is canceled, returning the
// context's error.
//
// If the feed still holds an already-finished run when Plain starts
// (watch mode between pushes), that run is skipped and Plain waits for
// the next one.
func Plain(ctx context.Context, feed Feed, writer io.Writer) error {
	var previous runner.Snapshot

	skipRunID := ""
	if initial := feed.Snapshot(); initial.Conclusion != "" {
		skipRunID = initial.RunID
	}

	for {
		current := feed.Snapshot()
		if current.RunID != "" && current.RunID != skipRunID {
			printTransitions(writer, previous, current)
			if current.Conclusion != "" {
				return nil
			}
			previous = current
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-feed.Updated():
		}
	}
}

// printTransitions diffs two snapshots and writes one line for each
// observable change: run start, instance start, step advance, instance
// conclusion, run conclusion. Transitions that coalesced into a single
// wakeup print their latest state only.
func printTransitions(writer io.Writer, previous, current runner.Snapshot) {
	if previous.RunID != current.RunID {
		previous = runner.Snapshot{}
		ref := current.Branch
		if sha := current.SHA; len(sha) >= 12 {
			ref += "@" + sha[:12]
		} else if sha != "" {
			ref += "@" + sha
		}
		fmt.Fprintf(writer, "run %s started: %s %s (%d builds)\n",
			current.RunID, current.Workflow, ref, len(current.Instances))
	}

	before := make(map[string]runner.InstanceStatus, len(previous.Instances))
	for _, instance := range previous.Instances {
		before[instance.ID] = instance
	}

	for _, instance := range current.Instances {
		former := before[instance.ID]

		if former.State != instance.State && instance.State == runner.StateRunning {
			fmt.Fprintf(writer, "%s started\n", instance.ID)
		}

		if instance.State == runner.StateRunning && instance.StepName != "" &&
			(former.StepName != instance.StepName || former.StepIndex != instance.StepIndex) {
			fmt.Fprintf(writer, "%s step %d/%d %s\n",
				instance.ID, instance.StepIndex+1, instance.StepCount, instance.StepName)
		}

		if former.State != runner.StateFinished && instance.State == runner.StateFinished {
			elapsed := formatDuration(time.Duration(instance.DurationMS) * time.Millisecond)
			switch instance.Conclusion {
			case runlog.ConclusionSuccess:
				fmt.Fprintf(writer, "%s succeeded in %s\n", instance.ID, elapsed)
			case runlog.ConclusionFailure:
				if instance.FailedStep != "" {
					fmt.Fprintf(writer, "%s failed at %s in %s: %s\n",
						instance.ID, instance.FailedStep, elapsed, instance.Error)
				} else {
					fmt.Fprintf(writer, "%s failed in %s: %s\n",
						instance.ID, elapsed, instance.Error)
				}
			default:
				fmt.Fprintf(writer, "%s aborted in %s\n", instance.ID, elapsed)
			}
		}
	}

	if previous.Conclusion == "" && current.Conclusion != "" {
		succeeded := 0
		for _, instance := range current.Instances {
			if instance.Conclusion == runlog.ConclusionSuccess {
				succeeded++
			}
		}
		elapsed := formatDuration(time.Duration(current.DurationMS) * time.Millisecond)
		fmt.Fprintf(writer, "run %s: %s in %s (%d/%d builds succeeded)\n",
			current.RunID, current.Conclusion, elapsed,
			succeeded, len(current.Instances))
	}
}
