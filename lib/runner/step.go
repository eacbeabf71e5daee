// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bureau-foundation/conveyor/lib/event"
	"github.com/bureau-foundation/conveyor/lib/runlog"
	"github.com/bureau-foundation/conveyor/lib/workflow"
)

// DefaultStepTimeout applies to steps that do not set their own.
// Builds routinely run for many minutes; the timeout exists to catch
// hangs, not to police slow compiles.
const DefaultStepTimeout = 30 * time.Minute

// stepOutcome captures the outcome of executing a single step.
type stepOutcome struct {
	status   runlog.Status
	duration time.Duration
	err      error
}

// executeStep runs a single expanded step: evaluates the when guard,
// runs the builtin or the command, then the check command. The
// returned status is "ok", "skipped", "failed", or "aborted" (the run
// context was cancelled mid-step).
func (r *Runner) executeStep(ctx context.Context, step workflow.Step, push *event.Push, workspace string, env []string, output io.Writer) stepOutcome {
	start := r.clock.Now()
	elapsed := func() time.Duration { return r.clock.Now().Sub(start) }

	timeout := r.config.StepTimeout
	if step.Timeout != "" {
		parsed, err := time.ParseDuration(step.Timeout)
		if err != nil {
			// Validate should have caught this, but fail loud if not.
			return stepOutcome{
				status:   runlog.StatusFailed,
				duration: elapsed(),
				err:      fmt.Errorf("invalid timeout %q: %w", step.Timeout, err),
			}
		}
		timeout = parsed
	}

	gracePeriod := r.config.GracePeriod
	if step.GracePeriod != "" {
		parsed, err := time.ParseDuration(step.GracePeriod)
		if err != nil {
			// Validate should have caught this, but fail loud if not.
			return stepOutcome{
				status:   runlog.StatusFailed,
				duration: elapsed(),
				err:      fmt.Errorf("invalid grace_period %q: %w", step.GracePeriod, err),
			}
		}
		gracePeriod = parsed
	}

	if len(step.Env) > 0 {
		env = appendEnv(env, step.Env)
	}

	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if step.IsCheckout() {
		if err := checkout(stepCtx, push, workspace, r.config.CloneDepth, output); err != nil {
			return r.failure(ctx, elapsed(), fmt.Errorf("checkout: %w", err))
		}
		return stepOutcome{status: runlog.StatusOK, duration: elapsed()}
	}

	dir := workspace
	if step.WorkingDir != "" {
		dir = filepath.Join(workspace, step.WorkingDir)
	}

	// Evaluate the when guard. Guards are quick verification
	// commands: always immediate SIGKILL on timeout (gracePeriod 0).
	if step.When != "" {
		exitCode, err := runShellCommand(stepCtx, step.When, dir, env, output, 0)
		if err != nil {
			return r.failure(ctx, elapsed(), fmt.Errorf("when guard: %w", err))
		}
		if exitCode != 0 {
			return stepOutcome{status: runlog.StatusSkipped, duration: elapsed()}
		}
	}

	exitCode, err := runShellCommand(stepCtx, step.Run, dir, env, output, gracePeriod)
	if err != nil {
		return r.failure(ctx, elapsed(), fmt.Errorf("run: %w", err))
	}
	if exitCode != 0 {
		return r.failure(ctx, elapsed(), fmt.Errorf("run: exit code %d", exitCode))
	}

	// Run the check command if present. Checks are quick verification
	// commands: always immediate SIGKILL on timeout.
	if step.Check != "" {
		checkExitCode, err := runShellCommand(stepCtx, step.Check, dir, env, output, 0)
		if err != nil {
			return r.failure(ctx, elapsed(), fmt.Errorf("check: %w", err))
		}
		if checkExitCode != 0 {
			return r.failure(ctx, elapsed(), fmt.Errorf("check: exit code %d", checkExitCode))
		}
	}

	return stepOutcome{status: runlog.StatusOK, duration: elapsed()}
}

// failure classifies a step error: when the run context itself was
// cancelled (shutdown, operator cancel) the step is "aborted", not
// "failed" — nothing broke, the run was told to stop. A step's own
// timeout still counts as a failure.
func (r *Runner) failure(ctx context.Context, duration time.Duration, err error) stepOutcome {
	if ctx.Err() != nil {
		return stepOutcome{status: runlog.StatusAborted, duration: duration, err: ctx.Err()}
	}
	return stepOutcome{status: runlog.StatusFailed, duration: duration, err: err}
}

// runShellCommand executes a command via sh -c in dir with stdout and
// stderr merged into output. Returns the exit code and any error
// (signals, context cancellation, etc.).
//
// The shell is resolved via PATH, not hardcoded to /bin/sh, so hosts
// where sh lives elsewhere still work.
//
// The command runs in its own process group so that cancellation
// (timeout, shutdown) kills the shell and all its children. Without
// Setpgid only the shell receives the signal — build tools it spawned
// survive and hold the output pipe open, blocking Wait until they
// finish.
//
// When gracePeriod is zero, SIGKILL is sent immediately on
// cancellation. When positive, SIGTERM is sent first to let the
// process clean up (flush caches, release lock files); if it has not
// exited after gracePeriod, SIGKILL follows.
func runShellCommand(ctx context.Context, command, dir string, env []string, output io.Writer, gracePeriod time.Duration) (int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.Stdout = output
	cmd.Stderr = output
	cmd.Env = env

	// Put the command in its own process group so that signals reach
	// the shell and all its children (negative PID = all processes
	// in the group).
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if gracePeriod > 0 {
		// Graceful: SIGTERM the process group first. A background
		// goroutine escalates to SIGKILL after the grace period if
		// the process has not exited.
		cmd.Cancel = func() error {
			processGroupID := -cmd.Process.Pid
			if err := syscall.Kill(processGroupID, syscall.SIGTERM); err != nil {
				// SIGTERM failed (process group already gone), escalate.
				return syscall.Kill(processGroupID, syscall.SIGKILL)
			}
			go func() {
				time.Sleep(gracePeriod)
				// Best-effort: the process group may have already
				// exited. ESRCH from a dead group is harmless.
				_ = syscall.Kill(processGroupID, syscall.SIGKILL)
			}()
			return nil
		}
	} else {
		// Immediate: SIGKILL the entire process group.
		cmd.Cancel = func() error {
			return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
	}

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	var exitError *exec.ExitError
	if errors.As(err, &exitError) {
		return exitError.ExitCode(), nil
	}

	// Non-exit errors: context cancellation (timeout), signal, etc.
	return -1, err
}
