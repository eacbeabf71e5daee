// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

// axisNamePattern constrains matrix axis names and variable names:
// they become environment variable fragments (MATRIX_<AXIS>), so they
// must be valid identifier characters.
var axisNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks a Workflow for structural issues. Returns a list of
// human-readable issue descriptions. An empty list means the workflow
// is valid.
//
// Structural checks include:
//   - At least one job is required, each with a unique ID
//   - Each job needs at least one runner label and at least one step
//   - Each step must set exactly one of Run or Uses (not both, not neither)
//   - Uses values must be known builtins
//   - Check, When, WorkingDir, and GracePeriod are only valid on run steps
//   - Matrix axis names must be identifiers, values unique and non-empty
//   - Timeouts must be parseable by time.ParseDuration
//   - Branch filter patterns must be well-formed globs
func Validate(wf *Workflow) []string {
	var issues []string

	if len(wf.Jobs) == 0 {
		issues = append(issues, "workflow has no jobs (at least one job is required)")
	}

	issues = append(issues, validateTrigger(wf.On)...)

	for name := range wf.Variables {
		if !axisNamePattern.MatchString(name) {
			issues = append(issues, fmt.Sprintf("variables[%q]: name must match %s", name, axisNamePattern))
		}
	}

	seenIDs := make(map[string]bool, len(wf.Jobs))
	for index, job := range wf.Jobs {
		prefix := fmt.Sprintf("jobs[%d]", index)
		if job.ID != "" {
			prefix = fmt.Sprintf("jobs[%d] %q", index, job.ID)
		}

		switch {
		case job.ID == "":
			issues = append(issues, fmt.Sprintf("%s: id is required (set id or name)", prefix))
		case strings.ContainsAny(job.ID, "/ \t"):
			issues = append(issues, fmt.Sprintf("%s: id must not contain slashes or whitespace", prefix))
		case seenIDs[job.ID]:
			issues = append(issues, fmt.Sprintf("%s: duplicate job id", prefix))
		default:
			seenIDs[job.ID] = true
		}

		issues = append(issues, validateJob(prefix, job)...)
	}

	return issues
}

// validateTrigger checks trigger filters for malformed glob patterns.
func validateTrigger(trigger *Trigger) []string {
	if trigger == nil || trigger.Push == nil {
		return nil
	}

	var issues []string
	for i, pattern := range trigger.Push.Branches {
		if pattern == "" {
			issues = append(issues, fmt.Sprintf("on.push.branches[%d]: pattern is empty", i))
			continue
		}
		if err := checkGlobPattern(pattern); err != nil {
			issues = append(issues, fmt.Sprintf("on.push.branches[%d]: %v", i, err))
		}
	}
	return issues
}

// validateJob checks one job's matrix and steps.
func validateJob(prefix string, job Job) []string {
	var issues []string

	if len(job.RunsOn) == 0 {
		issues = append(issues, fmt.Sprintf("%s: runs_on must list at least one runner label", prefix))
	}
	seenLabels := make(map[string]bool, len(job.RunsOn))
	for i, label := range job.RunsOn {
		switch {
		case label == "":
			issues = append(issues, fmt.Sprintf("%s: runs_on[%d] is empty", prefix, i))
		case seenLabels[label]:
			issues = append(issues, fmt.Sprintf("%s: runs_on[%d] duplicates label %q", prefix, i, label))
		default:
			seenLabels[label] = true
		}
	}

	for axis, values := range job.Matrix {
		if !axisNamePattern.MatchString(axis) {
			issues = append(issues, fmt.Sprintf("%s: matrix axis %q must match %s", prefix, axis, axisNamePattern))
		}
		if len(values) == 0 {
			issues = append(issues, fmt.Sprintf("%s: matrix axis %q has no values", prefix, axis))
		}
		seenValues := make(map[string]bool, len(values))
		for i, value := range values {
			switch {
			case value == "":
				issues = append(issues, fmt.Sprintf("%s: matrix axis %q value %d is empty", prefix, axis, i))
			case seenValues[value]:
				issues = append(issues, fmt.Sprintf("%s: matrix axis %q duplicates value %q", prefix, axis, value))
			default:
				seenValues[value] = true
			}
		}
	}

	if job.Timeout != "" {
		if _, err := time.ParseDuration(job.Timeout); err != nil {
			issues = append(issues, fmt.Sprintf("%s: invalid timeout %q: %v", prefix, job.Timeout, err))
		}
	}

	if len(job.Steps) == 0 {
		issues = append(issues, fmt.Sprintf("%s: job has no steps (at least one step is required)", prefix))
	}
	for index, step := range job.Steps {
		issues = append(issues, validateStep(prefix, index, step)...)
	}

	return issues
}

// validateStep checks a single step.
func validateStep(jobPrefix string, index int, step Step) []string {
	var issues []string

	prefix := fmt.Sprintf("%s steps[%d]", jobPrefix, index)
	if step.Name == "" {
		issues = append(issues, fmt.Sprintf("%s: name is required", prefix))
	} else {
		prefix = fmt.Sprintf("%s steps[%d] %q", jobPrefix, index, step.Name)
	}

	hasRun := step.Run != ""
	hasUses := step.Uses != ""

	switch {
	case hasRun && hasUses:
		issues = append(issues, fmt.Sprintf("%s: run and uses are mutually exclusive (set exactly one)", prefix))
	case !hasRun && !hasUses:
		issues = append(issues, fmt.Sprintf("%s: must set either run or uses", prefix))
	}

	if hasUses && step.Uses != UsesCheckout {
		issues = append(issues, fmt.Sprintf("%s: unknown uses %q (the only builtin is %q)", prefix, step.Uses, UsesCheckout))
	}

	// Fields that are only meaningful for run steps.
	if !hasRun {
		if step.Check != "" {
			issues = append(issues, fmt.Sprintf("%s: check is only valid on run steps", prefix))
		}
		if step.When != "" {
			issues = append(issues, fmt.Sprintf("%s: when is only valid on run steps", prefix))
		}
		if step.WorkingDir != "" {
			issues = append(issues, fmt.Sprintf("%s: working_dir is only valid on run steps", prefix))
		}
		if step.GracePeriod != "" {
			issues = append(issues, fmt.Sprintf("%s: grace_period is only valid on run steps", prefix))
		}
	}

	if step.WorkingDir != "" {
		cleaned := path.Clean(step.WorkingDir)
		if path.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
			issues = append(issues, fmt.Sprintf("%s: working_dir %q must stay inside the workspace", prefix, step.WorkingDir))
		}
	}

	if step.Timeout != "" {
		if _, err := time.ParseDuration(step.Timeout); err != nil {
			issues = append(issues, fmt.Sprintf("%s: invalid timeout %q: %v", prefix, step.Timeout, err))
		}
	}
	if step.GracePeriod != "" {
		if _, err := time.ParseDuration(step.GracePeriod); err != nil {
			issues = append(issues, fmt.Sprintf("%s: invalid grace_period %q: %v", prefix, step.GracePeriod, err))
		}
	}

	return issues
}

// checkGlobPattern rejects patterns the branch matcher cannot
// evaluate: malformed path.Match syntax and multiple ** separators.
func checkGlobPattern(pattern string) error {
	if strings.Count(pattern, "**") > 1 {
		return fmt.Errorf("pattern %q has multiple ** wildcards (at most one is supported)", pattern)
	}
	// Strip the one supported ** placement and syntax-check the rest
	// with path.Match, which reports ErrBadPattern for malformed
	// bracket expressions.
	probe := strings.ReplaceAll(pattern, "**", "x")
	if _, err := path.Match(probe, "probe"); err != nil {
		return fmt.Errorf("pattern %q is malformed: %w", pattern, err)
	}
	return nil
}
