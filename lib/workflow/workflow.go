// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package workflow provides parsing, validation, and variable
// expansion for conveyor workflow definitions. A workflow declares
// the jobs that run when a push event arrives: each job fans out over
// a matrix of runner labels (and optional extra axes) and executes an
// ordered list of steps in an isolated workspace.
//
// Workflows are authored on disk as JSONC (JSON extended with
// comments and trailing commas) or YAML, selected by file extension.
//
// The typical flow:
//
//  1. ReadFile or Parse: bytes → Workflow with defaults applied
//  2. Validate: structural checks (Run XOR Uses, required fields, etc.)
//  3. ResolveVariables: merge declarations + event + environment → variable map
//  4. ExpandStep: substitute ${NAME} references in each step before execution
package workflow

import (
	"strings"

	"github.com/bureau-foundation/conveyor/lib/event"
)

// DefaultPath is where conveyor looks for a repository's workflow
// definition when no explicit path is given, relative to the
// repository root.
const DefaultPath = ".conveyor/workflow.jsonc"

// UsesCheckout is the builtin step that materializes the pushed
// commit into the job workspace. It is the only "uses" value conveyor
// knows.
const UsesCheckout = "checkout"

// Workflow is a complete workflow definition: trigger filters,
// declared variables, and the jobs to run.
//
// Variable substitution (${NAME}) is applied to step string fields
// before execution. Variables are resolved from declared defaults,
// the triggering push event, and the process environment.
type Workflow struct {
	// Name identifies the workflow in logs, history, and the
	// dashboard. Defaults to the definition file's base name.
	Name string `json:"name,omitempty"`

	// Description is a human-readable summary of what this workflow
	// does (e.g., "Build the widget firmware on every push").
	Description string `json:"description,omitempty"`

	// On configures trigger filtering. When nil, every push to every
	// branch triggers the workflow.
	On *Trigger `json:"on,omitempty"`

	// Env sets environment variables for every step of every job.
	// Job and step env override on conflict.
	Env map[string]string `json:"env,omitempty"`

	// Variables declares the ${NAME} substitution variables this
	// workflow expects, with optional defaults and required flags.
	// This is the declaration — actual values come from the push
	// event and the environment at run time.
	Variables map[string]Variable `json:"variables,omitempty"`

	// Jobs is the ordered list of jobs. Each job expands into one
	// instance per matrix combination; instances are independent and
	// run in parallel. At least one job is required.
	Jobs []Job `json:"jobs"`
}

// Trigger restricts which push events start the workflow.
type Trigger struct {
	// Push filters push events. A nil Push inside a non-nil Trigger
	// also means all pushes (the zero filter excludes nothing).
	Push *PushFilter `json:"push,omitempty"`
}

// PushFilter narrows push triggering by branch.
type PushFilter struct {
	// Branches is a list of branch glob patterns ("main",
	// "release/*", "feature/**"). Empty means every branch triggers.
	Branches []string `json:"branches,omitempty"`
}

// Variable declares an expected substitution variable. Declarations
// are informational for documentation and validation — actual values
// are resolved from the event and environment at run time.
type Variable struct {
	// Description explains what this variable is for (shown by
	// conveyor workflow show).
	Description string `json:"description,omitempty"`

	// Default is the fallback value when the variable is not
	// provided by any source. An empty default counts as absent: a
	// required variable with an empty default and no other source
	// still fails planning.
	Default string `json:"default,omitempty"`

	// Required means planning must fail if this variable has no
	// value from any source (including Default).
	Required bool `json:"required,omitempty"`
}

// Job is one named unit of the workflow. A job with N runner labels
// and M extra matrix combinations becomes N×M independent instances.
type Job struct {
	// ID identifies the job in instance IDs, logs, and history.
	// Defaults to a slug of Name. Must not contain "/" (instance IDs
	// use it as a separator).
	ID string `json:"id,omitempty"`

	// Name is the human-readable job name ("Build", "Build
	// (release)"). Defaults to ID.
	Name string `json:"name,omitempty"`

	// RunsOn lists the runner labels this job fans out over
	// ("ubuntu-latest", "windows-latest", "macos-latest"). Each
	// label is one cell of the OS axis; every label must exist in
	// the runner table of the conveyor configuration. At least one
	// label is required.
	RunsOn []string `json:"runs_on"`

	// Matrix declares extra axes beyond the OS axis. Each entry maps
	// an axis name to its values; the job fans out over the full
	// cross product. Axis values surface to steps as MATRIX_<AXIS>
	// environment variables.
	Matrix map[string][]string `json:"matrix,omitempty"`

	// Env sets environment variables for every step of this job.
	// Step env overrides on conflict.
	Env map[string]string `json:"env,omitempty"`

	// Steps is the ordered list of steps. Steps run sequentially
	// within an instance; a failed step skips the rest. At least one
	// step is required.
	Steps []Step `json:"steps"`

	// Timeout is the maximum duration for one instance of this job
	// (e.g., "30m"). Parsed by time.ParseDuration. When empty, the
	// configured default applies.
	Timeout string `json:"timeout,omitempty"`

	// ContinueOnError means instance failures are recorded but do
	// not fail the run. Use for advisory jobs (nightly fuzzing,
	// experimental targets).
	ContinueOnError bool `json:"continue_on_error,omitempty"`
}

// Step is a single step in a job. Exactly one of Run or Uses must be
// set:
//   - Run: execute a shell command
//   - Uses: invoke a builtin (only "checkout")
type Step struct {
	// Name is a human-readable identifier for this step, used in log
	// output and status reporting ("checkout", "build",
	// "build-release"). Required.
	Name string `json:"name"`

	// Run is a shell command executed via sh -c. Multi-line strings
	// are supported. Variable substitution (${NAME}) is applied
	// before execution. Mutually exclusive with Uses.
	Run string `json:"run,omitempty"`

	// Uses invokes a builtin step instead of a shell command. The
	// only builtin is "checkout", which clones the pushed commit
	// into the workspace. Mutually exclusive with Run.
	Uses string `json:"uses,omitempty"`

	// Check is a post-step verification command. Runs after Run
	// succeeds; if Check exits non-zero, the step is treated as
	// failed. Catches commands that "succeed" without producing the
	// expected result. Only valid on run steps.
	Check string `json:"check,omitempty"`

	// When is a guard condition command. Runs before Run; if it
	// exits non-zero, the step is skipped (not failed). Only valid
	// on run steps.
	When string `json:"when,omitempty"`

	// WorkingDir is the directory the command runs in, relative to
	// the instance workspace. Defaults to the checkout root. Only
	// valid on run steps.
	WorkingDir string `json:"working_dir,omitempty"`

	// Env sets additional environment variables for this step only.
	// Merged over workflow and job env; step values take precedence
	// on conflict. Values support ${NAME} substitution.
	Env map[string]string `json:"env,omitempty"`

	// Optional means step failure doesn't fail the instance. The
	// failure is recorded and execution continues with the next
	// step.
	Optional bool `json:"optional,omitempty"`

	// Timeout is the maximum duration for this step (e.g., "5m",
	// "30s"). Parsed by time.ParseDuration. When empty, the
	// configured default applies.
	Timeout string `json:"timeout,omitempty"`

	// GracePeriod is the duration between SIGTERM and SIGKILL when
	// the step is cancelled or times out. When empty, the configured
	// default applies. Parsed by time.ParseDuration. Only valid on
	// run steps.
	GracePeriod string `json:"grace_period,omitempty"`
}

// IsCheckout reports whether the step is the builtin checkout.
func (s Step) IsCheckout() bool {
	return s.Uses == UsesCheckout
}

// Triggers reports whether a push to the given branch starts this
// workflow. Absent filters mean every branch triggers.
func (w *Workflow) Triggers(branch string) bool {
	if w.On == nil || w.On.Push == nil || len(w.On.Push.Branches) == 0 {
		return true
	}
	return event.MatchAnyRef(w.On.Push.Branches, branch)
}

// slugify lowercases a name and replaces runs of non-alphanumeric
// characters with single dashes, producing a job ID.
func slugify(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		alphanumeric := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if alphanumeric {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.Trim(b.String(), "-")
}
