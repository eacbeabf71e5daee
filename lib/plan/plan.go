// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package plan expands a workflow and a push event into the concrete
// set of job instances a run executes.
//
// Expansion is pure and deterministic: the same workflow, event, and
// runner table always produce the same plan, with instances in the
// same order and with the same IDs. A job with N runner labels and M
// extra matrix combinations becomes N×M instances; the canonical
// two-job, three-OS workflow expands to exactly six.
package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bureau-foundation/conveyor/lib/event"
	"github.com/bureau-foundation/conveyor/lib/workflow"
)

// Runner maps a runner label from a workflow's runs_on list to a
// local execution profile. The runner table comes from the conveyor
// configuration; labels are the vocabulary workflows use, runners are
// what this machine does when it sees them.
type Runner struct {
	// Label is the name workflows reference ("ubuntu-latest").
	Label string

	// OS is the operating system name surfaced to steps as
	// RUNNER_OS ("Linux", "Windows", "macOS").
	OS string

	// Arch is surfaced to steps as RUNNER_ARCH ("X64", "ARM64").
	Arch string

	// Env is extra environment applied to every step executing under
	// this label (toolchain paths, cross-compilation targets).
	Env map[string]string

	// Setup is a list of shell commands run in the workspace before
	// the instance's first step (toolchain bootstrap). Empty for the
	// default runners.
	Setup []string
}

// Instance is one independently executing cell of the build matrix:
// a job pinned to a single runner label and a single value per extra
// matrix axis.
type Instance struct {
	// ID is the deterministic instance identifier:
	// jobID/label[/axisValue...] with extra axes in sorted axis-name
	// order ("build/ubuntu-latest/debug").
	ID string

	// JobID and JobName identify the job this instance came from.
	JobID   string
	JobName string

	// Runner is the execution profile for this instance's label.
	Runner Runner

	// Axes holds the extra matrix coordinates, axis name → value.
	// Empty when the job has no matrix beyond runs_on.
	Axes map[string]string

	// Env is the merged static environment: workflow env, job env,
	// runner env, then the matrix environment (RUNNER_OS,
	// RUNNER_ARCH, RUNNER_LABEL, MATRIX_<AXIS>), later sources
	// winning.
	Env map[string]string

	// Steps is the job's step list. Variable expansion happens at
	// execution time, once the run-level variable map is known.
	Steps []workflow.Step

	// Timeout and ContinueOnError carry the job's settings.
	Timeout         string
	ContinueOnError bool
}

// Variables returns the instance-scoped variable map merged into the
// run-level variables before step expansion: the matrix coordinates
// under the same names steps see in their environment.
func (in *Instance) Variables() map[string]string {
	variables := make(map[string]string, 3+len(in.Axes))
	variables["RUNNER_LABEL"] = in.Runner.Label
	variables["RUNNER_OS"] = in.Runner.OS
	variables["RUNNER_ARCH"] = in.Runner.Arch
	for axis, value := range in.Axes {
		variables["MATRIX_"+strings.ToUpper(axis)] = value
	}
	return variables
}

// Plan is the expanded run: every instance a push event fans out to.
type Plan struct {
	// WorkflowName names the workflow the plan came from.
	WorkflowName string

	// Event is the push that triggered the plan.
	Event *event.Push

	// Variables is the resolved run-level variable map: declared
	// defaults, then event values, then environment lookups, later
	// sources winning. Step expansion merges the instance variables
	// on top of these.
	Variables map[string]string

	// Instances is the ordered instance list: jobs in workflow
	// order, labels in runs_on order, extra axes in sorted-name
	// order with values in declared order.
	Instances []Instance
}

// Expand computes the plan for a workflow and a push event against a
// runner table. The environ function (os.Getenv in production, nil or
// a stub in tests) is the highest-priority source for declared
// workflow variables.
//
// Returns (nil, nil) when the event produces no run at all: the
// push deleted its ref, or the workflow's branch filters exclude the
// pushed branch. Returns an error when a required workflow variable
// has no value, or when the workflow references a runner label
// missing from the table — a partial matrix is worse than no run, so
// nothing executes.
func Expand(wf *workflow.Workflow, push *event.Push, runners map[string]Runner, environ func(string) string) (*Plan, error) {
	if push.IsDelete() {
		return nil, nil
	}
	if !wf.Triggers(push.Branch()) {
		return nil, nil
	}

	variables, err := workflow.ResolveVariables(wf.Variables, push.Variables(), environ)
	if err != nil {
		return nil, err
	}

	p := &Plan{
		WorkflowName: wf.Name,
		Event:        push,
		Variables:    variables,
	}

	for _, job := range wf.Jobs {
		combinations := axisCombinations(job.Matrix)
		for _, label := range job.RunsOn {
			runner, known := runners[label]
			if !known {
				return nil, fmt.Errorf("job %q: no runner configured for label %q", job.ID, label)
			}
			for _, axes := range combinations {
				p.Instances = append(p.Instances, buildInstance(wf, job, runner, axes))
			}
		}
	}

	return p, nil
}

// buildInstance assembles one instance: ID, merged env, and carried
// job settings.
func buildInstance(wf *workflow.Workflow, job workflow.Job, runner Runner, axes map[string]string) Instance {
	instance := Instance{
		JobID:           job.ID,
		JobName:         job.Name,
		Runner:          runner,
		Axes:            axes,
		Steps:           job.Steps,
		Timeout:         job.Timeout,
		ContinueOnError: job.ContinueOnError,
	}

	idParts := []string{job.ID, runner.Label}
	for _, axis := range sortedKeys(axes) {
		idParts = append(idParts, axes[axis])
	}
	instance.ID = strings.Join(idParts, "/")

	env := make(map[string]string)
	mergeEnv(env, wf.Env)
	mergeEnv(env, job.Env)
	mergeEnv(env, runner.Env)
	mergeEnv(env, instance.Variables())
	instance.Env = env

	return instance
}

// axisCombinations computes the cross product of the extra matrix
// axes. Axes iterate in sorted name order so expansion order is
// deterministic; values keep their declared order. A job without
// extra axes yields a single empty combination.
func axisCombinations(matrix map[string][]string) []map[string]string {
	if len(matrix) == 0 {
		return []map[string]string{nil}
	}

	axes := sortedKeys(matrix)
	combinations := []map[string]string{{}}
	for _, axis := range axes {
		var next []map[string]string
		for _, combination := range combinations {
			for _, value := range matrix[axis] {
				extended := make(map[string]string, len(combination)+1)
				for k, v := range combination {
					extended[k] = v
				}
				extended[axis] = value
				next = append(next, extended)
			}
		}
		combinations = next
	}
	return combinations
}

// mergeEnv copies src entries into dst, overwriting on conflict.
func mergeEnv(dst map[string]string, src map[string]string) {
	for key, value := range src {
		dst[key] = value
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
