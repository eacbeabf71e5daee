// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runcmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/bureau-foundation/conveyor/cmd/conveyor/cli"
	"github.com/bureau-foundation/conveyor/lib/config"
	"github.com/bureau-foundation/conveyor/lib/event"
	"github.com/bureau-foundation/conveyor/lib/gitcmd"
	"github.com/bureau-foundation/conveyor/lib/history"
	"github.com/bureau-foundation/conveyor/lib/plan"
	"github.com/bureau-foundation/conveyor/lib/runlog"
	"github.com/bureau-foundation/conveyor/lib/runner"
	"github.com/bureau-foundation/conveyor/lib/sealed"
	"github.com/bureau-foundation/conveyor/lib/watchui"
	"github.com/bureau-foundation/conveyor/lib/workflow"
)

// executor bundles the opened stores and the runner that "run" and
// "watch" share. One executor serves any number of sequential runs;
// its Events feed reflects the most recent one.
type executor struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *history.DB
	runner *runner.Runner
}

// newExecutor opens the log store and history database and builds the
// runner from the configuration.
func newExecutor(cfg *config.Config, logger *slog.Logger, keepWorkspaces bool) (*executor, error) {
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}

	store, err := cli.OpenLogStore(cfg)
	if err != nil {
		return nil, err
	}
	secrets, err := loadSecrets(cfg, logger)
	if err != nil {
		return nil, err
	}
	db, err := history.Open(history.Config{
		Path:   cfg.Paths.HistoryDB,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	run, err := runner.New(runner.Config{
		WorkspaceDir:   cfg.Paths.Workspaces,
		LogDir:         cfg.Paths.Logs,
		Parallelism:    cfg.Runner.Workers,
		StepTimeout:    cfg.StepTimeout(),
		GracePeriod:    cfg.GracePeriod(),
		CloneDepth:     cfg.Runner.CloneDepth,
		KeepWorkspaces: keepWorkspaces || cfg.Runner.KeepWorkspaces,
		Secrets:        secrets,
		Logger:         logger,
		Logs:           store,
		History:        db,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &executor{cfg: cfg, logger: logger, db: db, runner: run}, nil
}

// Close releases the executor's database handle.
func (e *executor) Close() error {
	return e.db.Close()
}

// loadSecrets unseals the configured secrets file. No secrets file
// means no secrets; a secrets file whose identity is missing or wrong
// is an error — running without secrets a workflow expects fails in
// confusing ways much later.
func loadSecrets(cfg *config.Config, logger *slog.Logger) (map[string]string, error) {
	if _, err := os.Stat(cfg.Secrets.File); err != nil {
		if os.IsNotExist(err) {
			logger.Debug("no sealed secrets file", "path", cfg.Secrets.File)
			return nil, nil
		}
		return nil, fmt.Errorf("checking secrets file: %w", err)
	}

	identity, err := sealed.LoadIdentity(cfg.Secrets.IdentityFile)
	if err != nil {
		return nil, fmt.Errorf("secrets file %s exists but the identity is unavailable: %w",
			cfg.Secrets.File, err)
	}
	defer identity.Close()

	values, err := sealed.Unseal(cfg.Secrets.File, identity)
	if err != nil {
		return nil, err
	}
	logger.Info("sealed secrets loaded", "path", cfg.Secrets.File, "count", len(values))
	return values, nil
}

// dashboardLogger routes a dashboard session's log records to a JSONL
// file in the log directory. The alt-screen owns the terminal while
// the dashboard runs; records written to stderr would garble it. The
// file is truncated each session and kept for post-mortem reading.
func dashboardLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	if err := os.MkdirAll(cfg.Paths.Logs, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}
	path := filepath.Join(cfg.Paths.Logs, "dashboard.log")
	file, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening dashboard log: %w", err)
	}
	handler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler), func() { file.Close() }, nil
}

// planFor expands a push into its run plan. With a nil workflow the
// definition is read from the pushed repository at the pushed commit —
// the same bytes the checkout step will materialize. Returns (nil,
// nil) when the push produces no run (ref deleted, or the branch is
// filtered out).
func (e *executor) planFor(ctx context.Context, push *event.Push, wf *workflow.Workflow) (*plan.Plan, error) {
	if push.IsDelete() {
		// Nothing to read a workflow from: the pushed ref is gone.
		return nil, nil
	}
	if wf == nil {
		loaded, err := workflowAt(ctx, push)
		if err != nil {
			return nil, err
		}
		wf = loaded
	}
	if issues := workflow.Validate(wf); len(issues) > 0 {
		return nil, fmt.Errorf("workflow %q: %s", wf.Name, strings.Join(issues, "; "))
	}
	return plan.Expand(wf, push, runnerTable(e.cfg), os.Getenv)
}

// workflowAt reads the workflow definition from the pushed repository
// at the pushed commit.
func workflowAt(ctx context.Context, push *event.Push) (*workflow.Workflow, error) {
	repo := gitcmd.NewRepository(push.Repo)
	data, err := repo.ShowFile(ctx, push.After, workflow.DefaultPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s at %s: %w", workflow.DefaultPath, push.ShortAfter(), err)
	}
	wf, err := workflow.Parse(data, workflow.FormatForPath(workflow.DefaultPath))
	if err != nil {
		return nil, fmt.Errorf("%s at %s: %w", workflow.DefaultPath, push.ShortAfter(), err)
	}
	if wf.Name == "" {
		wf.Name = workflow.NameFromPath(workflow.DefaultPath)
	}
	return wf, nil
}

// runnerTable converts the configured label table into plan runners.
func runnerTable(cfg *config.Config) map[string]plan.Runner {
	table := make(map[string]plan.Runner, len(cfg.Runners))
	for label, target := range cfg.Runners {
		table[label] = plan.Runner{
			Label: label,
			OS:    target.OS,
			Arch:  target.Arch,
			Env:   target.Env,
			Setup: target.Setup,
		}
	}
	return table
}

// executePlain runs the plan while printing one line per state
// transition to stdout.
func (e *executor) executePlain(ctx context.Context, p *plan.Plan) (*runner.RunResult, error) {
	displayCtx, stopDisplay := context.WithCancel(ctx)
	defer stopDisplay()

	displayDone := make(chan struct{})
	go func() {
		defer close(displayDone)
		// Plain returns on its own once it observes the run conclude;
		// the cancel covers runs that fail before producing events.
		if err := watchui.Plain(displayCtx, e.runner.Events(), os.Stdout); err != nil && displayCtx.Err() == nil {
			e.logger.Warn("progress display stopped", "error", err)
		}
	}()

	result, err := e.runner.Run(ctx, p)
	stopDisplay()
	<-displayDone
	return result, err
}

// executeDashboard runs the plan under the live dashboard. The
// dashboard closes when the run concludes; quitting it early cancels
// the run.
func (e *executor) executeDashboard(ctx context.Context, p *plan.Plan) (*runner.RunResult, error) {
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	program := tea.NewProgram(watchui.NewModel(e.runner.Events()), tea.WithAltScreen())

	var result *runner.RunResult
	var runErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		result, runErr = e.runner.Run(runCtx, p)
		program.Quit()
	}()

	_, programErr := program.Run()
	cancelRun()
	<-done

	if runErr != nil {
		return nil, runErr
	}
	if programErr != nil {
		return nil, programErr
	}
	return result, nil
}

// printSummary writes the run outcome to stdout: one line for the
// run, one per non-successful instance, and the pointer to the full
// report.
func printSummary(result *runner.RunResult) {
	succeeded := 0
	for i := range result.Instances {
		if result.Instances[i].Conclusion == runlog.ConclusionSuccess {
			succeeded++
		}
	}
	fmt.Printf("\nrun %s: %s in %s (%d/%d builds succeeded)\n",
		result.RunID, result.Conclusion, result.Duration.Round(time.Second),
		succeeded, len(result.Instances))

	for i := range result.Instances {
		instance := &result.Instances[i]
		if instance.Conclusion == runlog.ConclusionSuccess {
			continue
		}
		detail := string(instance.Conclusion)
		if instance.FailedStep != "" {
			detail += " at step " + instance.FailedStep
		}
		if instance.Error != "" {
			detail += ": " + instance.Error
		}
		fmt.Printf("  %s  %s\n", instance.Instance.ID, detail)
	}

	fmt.Printf("report: conveyor history show %s\n", result.RunID)
}
