// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bureau-foundation/conveyor/lib/clock"
	"github.com/bureau-foundation/conveyor/lib/history"
	"github.com/bureau-foundation/conveyor/lib/logstore"
	"github.com/bureau-foundation/conveyor/lib/plan"
	"github.com/bureau-foundation/conveyor/lib/runlog"
)

// DefaultParallelism is the number of instances executed concurrently
// when Config.Parallelism is zero. Builds are resource-hungry; the
// default errs low so two release builds do not thrash a laptop.
const DefaultParallelism = 2

// Config configures a Runner.
type Config struct {
	// WorkspaceDir is where per-run workspaces live: each instance
	// clones and builds under WorkspaceDir/<run-id>/<instance-id>.
	// The run's subtree is removed when the run finishes unless
	// KeepWorkspaces is set.
	WorkspaceDir string

	// LogDir receives the JSONL run log and the CBOR run archive,
	// named <run-id>.jsonl and <run-id>.cbor.
	LogDir string

	// Parallelism is the number of instances executed concurrently.
	// Zero means DefaultParallelism.
	Parallelism int

	// StepTimeout applies to steps that do not set their own. Zero
	// means DefaultStepTimeout.
	StepTimeout time.Duration

	// GracePeriod is the default SIGTERM-to-SIGKILL window when a
	// step is cancelled. Zero kills immediately.
	GracePeriod time.Duration

	// CloneDepth limits checkout history. Zero clones the full
	// repository with shared objects (cheap for local source repos).
	CloneDepth int

	// KeepWorkspaces leaves the run's workspace tree on disk for
	// inspection instead of removing it when the run finishes.
	KeepWorkspaces bool

	// Secrets are injected into every step's environment. Their
	// values are masked in all captured output.
	Secrets map[string]string

	// Environ is the base process environment for steps. Nil means
	// os.Environ().
	Environ []string

	// Logger receives operational logging. Nil means slog.Default().
	Logger *slog.Logger

	// Clock drives timestamps and timeouts. Nil means clock.Real().
	Clock clock.Clock

	// Logs receives captured step output and instance transcripts.
	// Nil disables output capture; the run log still records every
	// outcome.
	Logs *logstore.Store

	// History receives the finished run's row. Nil skips recording.
	History *history.DB
}

// Runner executes expanded plans. A Runner is safe to reuse across
// runs, one run at a time: Events reflects the most recent Run call.
type Runner struct {
	config       Config
	clock        clock.Clock
	logger       *slog.Logger
	logs         *logstore.Store
	history      *history.DB
	events       *Events
	secretValues []string
}

// New validates the configuration and returns a Runner.
func New(cfg Config) (*Runner, error) {
	if cfg.WorkspaceDir == "" {
		return nil, fmt.Errorf("runner: WorkspaceDir is required")
	}
	if cfg.LogDir == "" {
		return nil, fmt.Errorf("runner: LogDir is required")
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = DefaultStepTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}

	secretValues := make([]string, 0, len(cfg.Secrets))
	for _, value := range cfg.Secrets {
		secretValues = append(secretValues, value)
	}

	return &Runner{
		config:       cfg,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		logs:         cfg.Logs,
		history:      cfg.History,
		events:       newEvents(),
		secretValues: secretValues,
	}, nil
}

// Events returns the live progress feed for this runner's runs.
func (r *Runner) Events() *Events { return r.events }

// RunResult is the aggregate outcome of a run.
type RunResult struct {
	RunID      string
	StartedAt  time.Time
	Conclusion runlog.Conclusion
	Duration   time.Duration

	// LogPath and ArchivePath locate the JSONL run log and the CBOR
	// archive. ArchivePath is empty when archiving failed.
	LogPath     string
	ArchivePath string

	// FailedInstances lists the instance IDs that caused a "failure"
	// conclusion. Instances with continue_on_error set are not
	// listed even when they failed.
	FailedInstances []string

	// Instances holds every instance's outcome in plan order.
	Instances []InstanceResult
}

// Run executes every instance of the plan and returns the aggregate
// outcome. Build failures are reported through the result, not the
// error: the error return is for machinery problems (run ID
// generation, log directory not writable). Cancel ctx to abort the
// run; in-flight steps are killed and the partial outcome is still
// logged, archived, and recorded.
func (r *Runner) Run(ctx context.Context, p *plan.Plan) (*RunResult, error) {
	if p == nil || len(p.Instances) == 0 {
		return nil, fmt.Errorf("runner: empty plan")
	}
	if p.Event == nil {
		return nil, fmt.Errorf("runner: plan has no push event")
	}

	started := r.clock.Now()
	runID, err := history.NewRunID(started)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(r.config.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	logPath := filepath.Join(r.config.LogDir, runID+".jsonl")
	log, err := runlog.New(logPath, r.logger)
	if err != nil {
		return nil, err
	}

	log.WriteRunStart(runID, p.WorkflowName, p.Event.Repo, p.Event.Ref, p.Event.After, len(p.Instances))
	r.events.start(p, runID, started)
	r.logger.Info("run started",
		"run_id", runID,
		"workflow", p.WorkflowName,
		"ref", p.Event.Ref,
		"sha", p.Event.ShortAfter(),
		"instances", len(p.Instances))

	// Execute instances through a fixed worker pool. Results land in
	// a slice indexed like the plan, so reporting order matches plan
	// order regardless of completion order.
	results := make([]InstanceResult, len(p.Instances))
	jobs := make(chan int, len(p.Instances))
	for index := range p.Instances {
		jobs <- index
	}
	close(jobs)

	workers := r.config.Parallelism
	if workers > len(p.Instances) {
		workers = len(p.Instances)
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				results[index] = r.runInstance(ctx, p, &p.Instances[index], log, runID)
			}
		}()
	}
	wg.Wait()

	duration := r.clock.Now().Sub(started)

	var failedInstances []string
	aborted := false
	for i := range results {
		switch results[i].Conclusion {
		case runlog.ConclusionAborted:
			aborted = true
		case runlog.ConclusionFailure:
			if !results[i].Instance.ContinueOnError {
				failedInstances = append(failedInstances, results[i].Instance.ID)
			}
		}
	}

	conclusion := runlog.ConclusionSuccess
	reason := ""
	switch {
	case aborted:
		conclusion = runlog.ConclusionAborted
		reason = "cancelled"
		if ctx.Err() != nil {
			reason = ctx.Err().Error()
		}
		log.WriteAborted(reason, duration.Milliseconds())
	case len(failedInstances) > 0:
		conclusion = runlog.ConclusionFailure
		log.WriteFailed(duration.Milliseconds(), failedInstances)
	default:
		log.WriteComplete(duration.Milliseconds())
	}
	if err := log.Close(); err != nil {
		r.logger.Warn("closing run log", "run_id", runID, "error", err)
	}
	r.events.finish(conclusion, duration.Milliseconds())

	result := &RunResult{
		RunID:           runID,
		StartedAt:       started,
		Conclusion:      conclusion,
		Duration:        duration,
		LogPath:         logPath,
		FailedInstances: failedInstances,
		Instances:       results,
	}

	archivePath := filepath.Join(r.config.LogDir, runID+".cbor")
	if err := runlog.WriteArchive(archivePath, buildRecord(p, result, reason)); err != nil {
		r.logger.Warn("writing run archive", "run_id", runID, "error", err)
		archivePath = ""
	}
	result.ArchivePath = archivePath

	if r.history != nil {
		// Record with a fresh context: an aborted run's cancellation
		// must not also lose its history row.
		if err := r.history.Record(context.Background(), historyRun(p, result)); err != nil {
			r.logger.Warn("recording run history", "run_id", runID, "error", err)
		}
	}

	if !r.config.KeepWorkspaces {
		if err := os.RemoveAll(filepath.Join(r.config.WorkspaceDir, runID)); err != nil {
			r.logger.Warn("removing run workspaces", "run_id", runID, "error", err)
		}
	}

	r.logger.Info("run finished",
		"run_id", runID,
		"conclusion", string(conclusion),
		"duration", duration,
		"failed", len(failedInstances))

	return result, nil
}

// buildRecord assembles the archive record from in-memory results,
// the same shape runlog.ReadFile reconstructs from the JSONL log.
func buildRecord(p *plan.Plan, result *RunResult, reason string) *runlog.RunRecord {
	record := &runlog.RunRecord{
		RunID:           result.RunID,
		Workflow:        p.WorkflowName,
		Repo:            p.Event.Repo,
		Ref:             p.Event.Ref,
		SHA:             p.Event.After,
		StartedAt:       result.StartedAt.UTC().Format(time.RFC3339),
		InstanceCount:   len(p.Instances),
		Conclusion:      result.Conclusion,
		DurationMS:      result.Duration.Milliseconds(),
		Reason:          reason,
		FailedInstances: result.FailedInstances,
	}
	for i := range result.Instances {
		instance := &result.Instances[i]
		instanceRecord := runlog.InstanceRecord{
			InstanceID: instance.Instance.ID,
			Label:      instance.Instance.Runner.Label,
			OS:         instance.Instance.Runner.OS,
			StartedAt:  instance.StartedAt.UTC().Format(time.RFC3339),
			Conclusion: instance.Conclusion,
			DurationMS: instance.Duration.Milliseconds(),
			LogRef:     instance.LogRef,
			FailedStep: instance.FailedStep,
			Error:      instance.Error,
		}
		for _, step := range instance.Steps {
			instanceRecord.Steps = append(instanceRecord.Steps, runlog.StepRecord{
				Index:      step.Index,
				Name:       step.Name,
				Status:     step.Status,
				DurationMS: step.Duration.Milliseconds(),
				LogRef:     step.LogRef,
				Error:      step.Error,
			})
		}
		record.Instances = append(record.Instances, instanceRecord)
	}
	return record
}

// historyRun converts a finished run into its history row.
func historyRun(p *plan.Plan, result *RunResult) *history.Run {
	run := &history.Run{
		RunID:         result.RunID,
		Workflow:      p.WorkflowName,
		Repo:          p.Event.Repo,
		Ref:           p.Event.Ref,
		Branch:        p.Event.Branch(),
		SHA:           p.Event.After,
		Conclusion:    result.Conclusion,
		StartedAt:     result.StartedAt,
		DurationMS:    result.Duration.Milliseconds(),
		InstanceCount: len(p.Instances),
		LogPath:       result.LogPath,
		ArchivePath:   result.ArchivePath,
	}
	for i := range result.Instances {
		instance := &result.Instances[i]
		run.Instances = append(run.Instances, history.Instance{
			InstanceID: instance.Instance.ID,
			Job:        instance.Instance.JobID,
			Label:      instance.Instance.Runner.Label,
			OS:         instance.Instance.Runner.OS,
			Axes:       instance.Instance.Axes,
			Conclusion: instance.Conclusion,
			DurationMS: instance.Duration.Milliseconds(),
			FailedStep: instance.FailedStep,
			Error:      instance.Error,
			LogRef:     instance.LogRef,
		})
	}
	return run
}
