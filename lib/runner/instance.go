// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bureau-foundation/conveyor/lib/logstore"
	"github.com/bureau-foundation/conveyor/lib/plan"
	"github.com/bureau-foundation/conveyor/lib/runlog"
	"github.com/bureau-foundation/conveyor/lib/workflow"
)

// Capture limits. Steps and transcripts keep the most recent output
// up to these sizes; anything older is dropped with a truncation
// marker. Failures diagnose from the tail of the output, which is
// what survives.
const (
	stepCaptureSize       = 2 << 20
	transcriptCaptureSize = 8 << 20
)

// StepResult is the outcome of one executed step.
type StepResult struct {
	Index    int
	Name     string
	Status   runlog.Status
	Duration time.Duration

	// LogRef locates the step's captured output in the log store.
	// Empty when the step produced none or capture is disabled.
	LogRef string

	// Error describes why the step failed or was skipped over.
	Error string
}

// InstanceResult is the outcome of one matrix instance.
type InstanceResult struct {
	// Instance points into the executed plan.
	Instance *plan.Instance

	StartedAt  time.Time
	Conclusion runlog.Conclusion
	Duration   time.Duration
	Steps      []StepResult

	// FailedStep and Error are set when Conclusion is "failure";
	// Error alone is set on "aborted".
	FailedStep string
	Error      string

	// LogRef locates the instance's full transcript in the log
	// store.
	LogRef string
}

// runInstance executes one instance of the plan: workspace creation,
// runner setup commands, then the steps in order. Every outcome is
// written to the run log as it happens; the return value carries the
// same facts for the run-level conclusion and the archive.
func (r *Runner) runInstance(ctx context.Context, p *plan.Plan, instance *plan.Instance, log *runlog.Log, runID string) InstanceResult {
	start := r.clock.Now()
	result := InstanceResult{
		Instance:   instance,
		StartedAt:  start,
		Conclusion: runlog.ConclusionSuccess,
	}

	logger := r.logger.With("run_id", runID, "instance", instance.ID)
	logger.Info("instance started", "label", instance.Runner.Label, "os", instance.Runner.OS, "steps", len(instance.Steps))
	log.WriteInstanceStart(instance.ID, instance.Runner.Label, instance.Runner.OS)
	r.events.instanceStarted(instance.ID, start)

	// transcript accumulates every step's (masked) output with
	// headers in between; progress additionally feeds the live tail
	// for dashboards.
	transcript := logstore.NewTail(transcriptCaptureSize)
	progress := io.Writer(transcript)
	if live := r.events.Tail(instance.ID); live != nil {
		progress = io.MultiWriter(transcript, live)
	}

	workspace := filepath.Join(r.config.WorkspaceDir, runID, filepath.FromSlash(instance.ID))
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		result.Conclusion = runlog.ConclusionFailure
		result.Error = fmt.Sprintf("creating workspace: %v", err)
	} else {
		env := r.instanceEnv(p, instance, workspace, runID)
		r.runInstanceSteps(ctx, p, instance, workspace, env, log, progress, logger, &result)
	}

	result.Duration = r.clock.Now().Sub(start)
	result.LogRef = r.storeOutput(transcript, logger, "transcript")

	log.WriteInstanceResult(instance.ID, result.Conclusion, result.Duration.Milliseconds(), result.LogRef, result.FailedStep, result.Error)
	r.events.instanceFinished(instance.ID, result.Conclusion, result.Duration.Milliseconds(), result.FailedStep, result.Error)
	logger.Info("instance finished", "conclusion", string(result.Conclusion), "duration", result.Duration)

	return result
}

// runInstanceSteps runs the setup commands and the step list,
// mutating result as outcomes land. ctx is the run-level context;
// a job-level timeout from the workflow nests inside it.
func (r *Runner) runInstanceSteps(ctx context.Context, p *plan.Plan, instance *plan.Instance, workspace string, env []string, log *runlog.Log, progress io.Writer, logger *slog.Logger, result *InstanceResult) {
	runCtx := ctx
	if instance.Timeout != "" {
		parsed, err := time.ParseDuration(instance.Timeout)
		if err != nil {
			// Validate should have caught this, but fail loud if not.
			result.Conclusion = runlog.ConclusionFailure
			result.Error = fmt.Sprintf("invalid job timeout %q: %v", instance.Timeout, err)
			return
		}
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, parsed)
		defer cancel()
	}

	variables := make(map[string]string, len(p.Variables)+3+len(instance.Axes))
	for name, value := range p.Variables {
		variables[name] = value
	}
	for name, value := range instance.Variables() {
		variables[name] = value
	}

	if err := r.runSetup(runCtx, instance, workspace, env, progress); err != nil {
		if ctx.Err() != nil {
			result.Conclusion = runlog.ConclusionAborted
			result.Error = ctx.Err().Error()
			return
		}
		result.Conclusion = runlog.ConclusionFailure
		result.FailedStep = "setup"
		result.Error = err.Error()
		logger.Warn("runner setup failed", "error", err)
		return
	}

	total := len(instance.Steps)
steps:
	for index, step := range instance.Steps {
		if runCtx.Err() != nil {
			if ctx.Err() != nil {
				result.Conclusion = runlog.ConclusionAborted
				result.Error = ctx.Err().Error()
			} else {
				result.Conclusion = runlog.ConclusionFailure
				result.Error = fmt.Sprintf("job timeout %s exceeded", instance.Timeout)
			}
			break
		}

		expanded, err := workflow.ExpandStep(step, variables)
		if err != nil {
			result.Conclusion = runlog.ConclusionFailure
			result.FailedStep = step.Name
			result.Error = err.Error()
			logger.Warn("step expansion failed", "step", step.Name, "error", err)
			break
		}

		r.events.stepStarted(instance.ID, index, step.Name)
		fmt.Fprintf(progress, "=== %s (step %d/%d)\n", step.Name, index+1, total)

		capture := logstore.NewTail(stepCaptureSize)
		masker := NewMasker(io.MultiWriter(capture, progress), r.secretValues)
		outcome := r.executeStep(runCtx, expanded, p.Event, workspace, env, masker)
		masker.Flush()

		stepResult := StepResult{
			Index:    index,
			Name:     step.Name,
			Status:   outcome.status,
			Duration: outcome.duration,
			LogRef:   r.storeOutput(capture, logger, step.Name),
		}
		if outcome.err != nil {
			stepResult.Error = outcome.err.Error()
		}
		if outcome.status == runlog.StatusFailed && expanded.Optional {
			stepResult.Status = runlog.StatusFailedOptional
		}

		log.WriteStep(instance.ID, index, step.Name, stepResult.Status, stepResult.Duration.Milliseconds(), stepResult.LogRef, stepResult.Error)
		result.Steps = append(result.Steps, stepResult)

		switch stepResult.Status {
		case runlog.StatusAborted:
			result.Conclusion = runlog.ConclusionAborted
			result.Error = stepResult.Error
			if ctx.Err() == nil && runCtx.Err() != nil {
				// The job's own timeout fired, not a run-level stop:
				// this instance failed, the run was not aborted.
				result.Conclusion = runlog.ConclusionFailure
				result.FailedStep = step.Name
				result.Error = fmt.Sprintf("job timeout %s exceeded", instance.Timeout)
				logger.Warn("job timeout exceeded", "step", step.Name, "timeout", instance.Timeout)
			}
			break steps
		case runlog.StatusFailed:
			result.Conclusion = runlog.ConclusionFailure
			result.FailedStep = step.Name
			result.Error = stepResult.Error
			logger.Warn("step failed", "step", step.Name, "error", outcome.err)
			fmt.Fprintf(progress, "=== %s failed: %s\n", step.Name, stepResult.Error)
			break steps
		case runlog.StatusFailedOptional:
			logger.Warn("step failed (optional, continuing)", "step", step.Name, "error", outcome.err)
		default:
			logger.Info("step finished", "step", step.Name, "status", string(stepResult.Status), "duration", outcome.duration)
		}
	}
}

// runSetup runs the runner profile's bootstrap commands in the
// workspace before the first step. Output joins the instance
// transcript. Any non-zero exit stops the instance.
func (r *Runner) runSetup(ctx context.Context, instance *plan.Instance, workspace string, env []string, progress io.Writer) error {
	if len(instance.Runner.Setup) == 0 {
		return nil
	}

	masker := NewMasker(progress, r.secretValues)
	defer masker.Flush()

	for _, command := range instance.Runner.Setup {
		setupCtx, cancel := context.WithTimeout(ctx, r.config.StepTimeout)
		exitCode, err := runShellCommand(setupCtx, command, workspace, env, masker, r.config.GracePeriod)
		cancel()
		if err != nil {
			return fmt.Errorf("setup %q: %w", command, err)
		}
		if exitCode != 0 {
			return fmt.Errorf("setup %q: exit code %d", command, exitCode)
		}
	}
	return nil
}

// instanceEnv assembles the environment steps run with. Later entries
// win: the base process environment, conveyor's own variables, the
// run-level variable map (EVENT_* and declared variables), the
// instance's merged static env, and the secret values. Step-level env
// is appended per step after expansion.
func (r *Runner) instanceEnv(p *plan.Plan, instance *plan.Instance, workspace, runID string) []string {
	base := r.config.Environ
	if base == nil {
		base = os.Environ()
	}

	env := append([]string(nil), base...)
	env = append(env,
		"CI=true",
		"CONVEYOR_RUN_ID="+runID,
		"CONVEYOR_INSTANCE="+instance.ID,
		"CONVEYOR_WORKSPACE="+workspace,
	)
	env = appendEnv(env, p.Variables)
	env = appendEnv(env, instance.Env)
	env = appendEnv(env, r.config.Secrets)
	return env
}

// appendEnv appends name=value entries. Duplicate names are fine:
// exec uses the last value for a repeated key.
func appendEnv(env []string, values map[string]string) []string {
	for name, value := range values {
		env = append(env, name+"="+value)
	}
	return env
}

// storeOutput writes captured output to the log store and returns its
// ref, or "" when there is nothing to store or no store configured.
// When the capture overflowed, a truncation marker is prepended so
// readers know the head is missing.
func (r *Runner) storeOutput(capture *logstore.Tail, logger *slog.Logger, name string) string {
	if r.logs == nil {
		return ""
	}
	data := capture.Since(0)
	if len(data) == 0 {
		return ""
	}
	if capture.CurrentOffset() > uint64(len(data)) {
		data = append([]byte("[earlier output truncated]\n"), data...)
	}

	hash, err := r.logs.Put(data)
	if err != nil {
		logger.Warn("storing captured output", "output", name, "error", err)
		return ""
	}
	return logstore.FormatHash(hash)
}
