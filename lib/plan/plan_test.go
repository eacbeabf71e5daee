// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package plan

import (
	"reflect"
	"strings"
	"testing"

	"github.com/bureau-foundation/conveyor/lib/event"
	"github.com/bureau-foundation/conveyor/lib/workflow"
)

const testSHA = "a1b2c3d4e5f6a7b8c9d0a1b2c3d4e5f6a7b8c9d0"

// canonicalRunners is the three-label runner table the default
// configuration ships.
func canonicalRunners() map[string]Runner {
	return map[string]Runner{
		"ubuntu-latest":  {Label: "ubuntu-latest", OS: "Linux", Arch: "X64"},
		"windows-latest": {Label: "windows-latest", OS: "Windows", Arch: "X64"},
		"macos-latest":   {Label: "macos-latest", OS: "macOS", Arch: "ARM64"},
	}
}

func mainPush() *event.Push {
	return &event.Push{
		Repo:   "/srv/git/widget.git",
		Ref:    "refs/heads/main",
		Before: event.ZeroSHA,
		After:  testSHA,
	}
}

// ciWorkflow is the canonical definition: two jobs (debug and release
// build), each fanning out over one Linux, one Windows, and one macOS
// runner label.
func ciWorkflow() *workflow.Workflow {
	osLabels := []string{"ubuntu-latest", "windows-latest", "macos-latest"}
	return &workflow.Workflow{
		Name: "ci",
		Jobs: []workflow.Job{
			{
				ID:     "build",
				Name:   "Build",
				RunsOn: osLabels,
				Steps: []workflow.Step{
					{Name: "checkout", Uses: workflow.UsesCheckout},
					{Name: "build", Run: "cargo build --verbose"},
				},
			},
			{
				ID:     "build-release",
				Name:   "Build (release)",
				RunsOn: osLabels,
				Steps: []workflow.Step{
					{Name: "checkout", Uses: workflow.UsesCheckout},
					{Name: "build", Run: "cargo build --release --verbose"},
				},
			},
		},
	}
}

func TestExpandTwoJobsAcrossThreeOSesYieldsSixInstances(t *testing.T) {
	t.Parallel()

	p, err := Expand(ciWorkflow(), mainPush(), canonicalRunners(), nil)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if p == nil {
		t.Fatal("Expand returned nil plan for a triggering push")
	}
	if len(p.Instances) != 6 {
		t.Fatalf("instance count = %d, want 6 (2 jobs x 3 OS labels)", len(p.Instances))
	}

	// Every (job, OS) coordinate must be distinct and each build
	// invocation independent.
	seen := make(map[string]bool, 6)
	for _, instance := range p.Instances {
		coordinate := instance.JobID + "|" + instance.Runner.OS
		if seen[coordinate] {
			t.Errorf("duplicate (job, OS) coordinate %q", coordinate)
		}
		seen[coordinate] = true
	}
	for _, jobID := range []string{"build", "build-release"} {
		for _, os := range []string{"Linux", "Windows", "macOS"} {
			if !seen[jobID+"|"+os] {
				t.Errorf("missing coordinate (%s, %s)", jobID, os)
			}
		}
	}
}

func TestExpandOrderAndIDsAreDeterministic(t *testing.T) {
	t.Parallel()

	wantIDs := []string{
		"build/ubuntu-latest",
		"build/windows-latest",
		"build/macos-latest",
		"build-release/ubuntu-latest",
		"build-release/windows-latest",
		"build-release/macos-latest",
	}

	for i := 0; i < 5; i++ {
		p, err := Expand(ciWorkflow(), mainPush(), canonicalRunners(), nil)
		if err != nil {
			t.Fatalf("Expand: %v", err)
		}
		var ids []string
		for _, instance := range p.Instances {
			ids = append(ids, instance.ID)
		}
		if !reflect.DeepEqual(ids, wantIDs) {
			t.Fatalf("iteration %d: instance IDs = %v, want %v", i, ids, wantIDs)
		}
	}
}

func TestExpandExtraAxisCrossProduct(t *testing.T) {
	t.Parallel()

	wf := &workflow.Workflow{
		Name: "ci",
		Jobs: []workflow.Job{{
			ID:     "build",
			RunsOn: []string{"ubuntu-latest", "macos-latest"},
			Matrix: map[string][]string{
				"profile": {"debug", "release"},
				"edition": {"2021"},
			},
			Steps: []workflow.Step{{Name: "build", Run: "cargo build"}},
		}},
	}

	p, err := Expand(wf, mainPush(), canonicalRunners(), nil)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(p.Instances) != 4 {
		t.Fatalf("instance count = %d, want 4 (2 labels x 2 profiles x 1 edition)", len(p.Instances))
	}

	// Axes appear in the ID in sorted axis-name order: edition
	// before profile.
	if got := p.Instances[0].ID; got != "build/ubuntu-latest/2021/debug" {
		t.Errorf("Instances[0].ID = %q", got)
	}
	if got := p.Instances[1].ID; got != "build/ubuntu-latest/2021/release" {
		t.Errorf("Instances[1].ID = %q", got)
	}

	first := p.Instances[0]
	if first.Axes["profile"] != "debug" || first.Axes["edition"] != "2021" {
		t.Errorf("Axes = %v", first.Axes)
	}
}

func TestExpandInstanceEnvironment(t *testing.T) {
	t.Parallel()

	runners := canonicalRunners()
	runner := runners["ubuntu-latest"]
	runner.Env = map[string]string{"CARGO_HOME": "/cache/cargo", "SHARED": "runner"}
	runners["ubuntu-latest"] = runner

	wf := &workflow.Workflow{
		Name: "ci",
		Env:  map[string]string{"WORKFLOW_LEVEL": "yes", "SHARED": "workflow"},
		Jobs: []workflow.Job{{
			ID:     "build",
			RunsOn: []string{"ubuntu-latest"},
			Env:    map[string]string{"JOB_LEVEL": "yes"},
			Matrix: map[string][]string{"profile": {"release"}},
			Steps:  []workflow.Step{{Name: "build", Run: "cargo build"}},
		}},
	}

	p, err := Expand(wf, mainPush(), runners, nil)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	env := p.Instances[0].Env

	expectations := map[string]string{
		"WORKFLOW_LEVEL": "yes",
		"JOB_LEVEL":      "yes",
		"CARGO_HOME":     "/cache/cargo",
		"SHARED":         "runner", // runner env overrides workflow env
		"RUNNER_OS":      "Linux",
		"RUNNER_ARCH":    "X64",
		"RUNNER_LABEL":   "ubuntu-latest",
		"MATRIX_PROFILE": "release",
	}
	for key, want := range expectations {
		if got := env[key]; got != want {
			t.Errorf("Env[%q] = %q, want %q", key, got, want)
		}
	}
}

func TestExpandUnknownLabelFailsWholePlan(t *testing.T) {
	t.Parallel()

	wf := ciWorkflow()
	wf.Jobs[1].RunsOn = []string{"ubuntu-latest", "solaris-11"}

	_, err := Expand(wf, mainPush(), canonicalRunners(), nil)
	if err == nil {
		t.Fatal("Expand succeeded with an unknown runner label")
	}
	if !strings.Contains(err.Error(), `label "solaris-11"`) {
		t.Errorf("error %q should name the unknown label", err)
	}
}

func TestExpandSkipsFilteredAndDeletedPushes(t *testing.T) {
	t.Parallel()

	t.Run("branch filter excludes push", func(t *testing.T) {
		t.Parallel()

		wf := ciWorkflow()
		wf.On = &workflow.Trigger{Push: &workflow.PushFilter{Branches: []string{"main"}}}

		push := mainPush()
		push.Ref = "refs/heads/feature/x"

		p, err := Expand(wf, push, canonicalRunners(), nil)
		if err != nil {
			t.Fatalf("Expand: %v", err)
		}
		if p != nil {
			t.Fatalf("plan = %+v, want nil for filtered branch", p)
		}
	})

	t.Run("any branch triggers without filters", func(t *testing.T) {
		t.Parallel()

		push := mainPush()
		push.Ref = "refs/heads/wild/experiment"

		p, err := Expand(ciWorkflow(), push, canonicalRunners(), nil)
		if err != nil {
			t.Fatalf("Expand: %v", err)
		}
		if p == nil || len(p.Instances) != 6 {
			t.Fatal("unfiltered workflow should run for any branch")
		}
	})

	t.Run("ref deletion runs nothing", func(t *testing.T) {
		t.Parallel()

		push := mainPush()
		push.Before = testSHA
		push.After = event.ZeroSHA

		p, err := Expand(ciWorkflow(), push, canonicalRunners(), nil)
		if err != nil {
			t.Fatalf("Expand: %v", err)
		}
		if p != nil {
			t.Fatal("plan should be nil for a ref deletion")
		}
	})
}

func TestExpandResolvesRunVariables(t *testing.T) {
	t.Parallel()

	wf := ciWorkflow()
	wf.Variables = map[string]workflow.Variable{
		"RUST_CHANNEL": {Default: "stable"},
		"CACHE_DIR":    {Default: "/cache"},
	}

	environ := func(name string) string {
		if name == "CACHE_DIR" {
			return "/fast-cache"
		}
		return ""
	}

	p, err := Expand(wf, mainPush(), canonicalRunners(), environ)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}

	// Declared defaults survive, the environment overrides them, and
	// the push contributes its EVENT_* values.
	if got := p.Variables["RUST_CHANNEL"]; got != "stable" {
		t.Errorf("RUST_CHANNEL = %q", got)
	}
	if got := p.Variables["CACHE_DIR"]; got != "/fast-cache" {
		t.Errorf("CACHE_DIR = %q", got)
	}
	if got := p.Variables["EVENT_BRANCH"]; got != "main" {
		t.Errorf("EVENT_BRANCH = %q", got)
	}
	if got := p.Variables["EVENT_AFTER"]; got != testSHA {
		t.Errorf("EVENT_AFTER = %q", got)
	}
}

func TestExpandMissingRequiredVariable(t *testing.T) {
	t.Parallel()

	wf := ciWorkflow()
	wf.Variables = map[string]workflow.Variable{
		"DEPLOY_KEY": {Required: true},
	}

	_, err := Expand(wf, mainPush(), canonicalRunners(), nil)
	if err == nil {
		t.Fatal("Expand succeeded with an unset required variable")
	}
	if !strings.Contains(err.Error(), "DEPLOY_KEY") {
		t.Errorf("error %q should name the missing variable", err)
	}
}

func TestInstanceVariables(t *testing.T) {
	t.Parallel()

	instance := Instance{
		Runner: Runner{Label: "macos-latest", OS: "macOS", Arch: "ARM64"},
		Axes:   map[string]string{"profile": "debug", "rust": "1.80"},
	}

	want := map[string]string{
		"RUNNER_LABEL":   "macos-latest",
		"RUNNER_OS":      "macOS",
		"RUNNER_ARCH":    "ARM64",
		"MATRIX_PROFILE": "debug",
		"MATRIX_RUST":    "1.80",
	}
	if got := instance.Variables(); !reflect.DeepEqual(got, want) {
		t.Errorf("Variables() = %v, want %v", got, want)
	}
}
