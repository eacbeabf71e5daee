// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package workflowcmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/conveyor/cmd/conveyor/cli"
)

func writeWorkflowFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestValidateValidWorkflow(t *testing.T) {
	t.Parallel()

	path := writeWorkflowFile(t, "workflow.jsonc", `{
  "name": "ci",
  "jobs": [
    {
      "id": "build",
      "runs_on": ["ubuntu-latest"],
      "steps": [
        {"name": "checkout", "uses": "checkout"},
        {"name": "build", "run": "cargo build"}
      ]
    }
  ]
}`)

	cmd := validateCommand()
	if err := cmd.Run(context.Background(), []string{path}, nil); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
}

func TestValidateJSONCWithComments(t *testing.T) {
	t.Parallel()

	path := writeWorkflowFile(t, "workflow.jsonc", `{
  // Build on every push.
  "name": "ci",

  /* Fan out over the three platforms. */
  "jobs": [
    {
      "id": "build",
      "runs_on": ["ubuntu-latest", "windows-latest", "macos-latest"],
      "matrix": {"profile": ["debug", "release"]},
      "steps": [
        {"name": "checkout", "uses": "checkout"},
        {"name": "build", "run": "cargo build", "timeout": "10m"},
      ]
    },
  ]
}`)

	cmd := validateCommand()
	if err := cmd.Run(context.Background(), []string{path}, nil); err != nil {
		t.Fatalf("expected no error for JSONC with comments, got: %v", err)
	}
}

func TestValidateReportsIssues(t *testing.T) {
	t.Parallel()

	// No runner labels and a step with both run and uses.
	path := writeWorkflowFile(t, "workflow.jsonc", `{
  "name": "broken",
  "jobs": [
    {
      "id": "build",
      "runs_on": [],
      "steps": [
        {"name": "bad", "run": "make", "uses": "checkout"}
      ]
    }
  ]
}`)

	cmd := validateCommand()
	err := cmd.Run(context.Background(), []string{path}, nil)
	if err == nil {
		t.Fatal("expected error for invalid workflow")
	}

	// The issues are printed directly; the error only carries the
	// exit code.
	var exit *cli.ExitError
	if !errors.As(err, &exit) {
		t.Fatalf("error is %T, want *cli.ExitError", err)
	}
	if exit.Code != 1 {
		t.Errorf("exit code = %d, want 1", exit.Code)
	}
}

func TestValidateNoArgs(t *testing.T) {
	t.Parallel()

	cmd := validateCommand()
	err := cmd.Run(context.Background(), []string{}, nil)
	if err == nil {
		t.Fatal("expected error for no args")
	}
	if !strings.Contains(err.Error(), "usage") {
		t.Errorf("error %q should contain usage hint", err.Error())
	}
}

func TestValidateNonexistentFile(t *testing.T) {
	t.Parallel()

	cmd := validateCommand()
	err := cmd.Run(context.Background(), []string{"/nonexistent/workflow.jsonc"}, nil)
	if err == nil {
		t.Fatal("expected error for nonexistent file")
	}
}
