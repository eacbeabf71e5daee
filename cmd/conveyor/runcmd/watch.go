// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runcmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/conveyor/cmd/conveyor/cli"
	"github.com/bureau-foundation/conveyor/lib/clock"
	"github.com/bureau-foundation/conveyor/lib/runlog"
	"github.com/bureau-foundation/conveyor/lib/spool"
	"github.com/bureau-foundation/conveyor/lib/watchui"
)

// WatchCommand returns the top-level "watch" command.
func WatchCommand() *cli.Command {
	var (
		configPath string
		interval   time.Duration
		plain      bool
	)

	return &cli.Command{
		Name:    "watch",
		Summary: "Watch the spool and run workflows for arriving pushes",
		Description: `Watch the spool directory and execute a workflow run for every push
event the git hook delivers there. Runs until interrupted.

On a terminal the live dashboard shows the current run's builds;
quitting it (q) stops the watcher, and an in-flight run is aborted
with its event returned to the spool for the next watcher. With
--plain, or when stdout is not a terminal (systemd, nohup), progress
is printed as plain lines and logs go to stderr.`,
		Usage: "conveyor watch [flags]",
		Examples: []cli.Example{
			{
				Description: "watch with the live dashboard",
				Command:     "conveyor watch",
			},
			{
				Description: "run as a daemon with line output",
				Command:     "conveyor watch --plain",
			},
			{
				Description: "poll the spool every ten seconds",
				Command:     "conveyor watch --interval 10s",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("watch", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file path")
			flagSet.DurationVar(&interval, "interval", 2*time.Second, "spool poll interval")
			flagSet.BoolVar(&plain, "plain", false, "plain line output instead of the dashboard")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			cfg, err := cli.LoadConfig(configPath)
			if err != nil {
				return err
			}

			dashboard := !plain && term.IsTerminal(int(os.Stdout.Fd()))
			if dashboard {
				fileLogger, closeLogger, err := dashboardLogger(cfg)
				if err != nil {
					return err
				}
				defer closeLogger()
				logger = fileLogger
			}

			exec, err := newExecutor(cfg, logger, false)
			if err != nil {
				return err
			}
			defer exec.Close()

			sp, err := spool.New(cfg.Paths.Spool, logger)
			if err != nil {
				return err
			}
			logger.Info("watching spool", "dir", sp.Dir(), "interval", interval)

			if dashboard {
				return watchDashboard(ctx, exec, sp, interval)
			}
			return watchPlain(ctx, exec, sp, interval)
		},
	}
}

// watchPlain claims and runs events in the foreground while a
// companion goroutine prints each run's progress as plain lines.
// Returns nil on shutdown: interruption is how a watcher stops.
func watchPlain(ctx context.Context, exec *executor, sp *spool.Spool, interval time.Duration) error {
	displayDone := make(chan struct{})
	go func() {
		defer close(displayDone)
		for {
			// Plain returns nil when the run it observed concludes;
			// loop to pick up the next one. A context error means
			// shutdown.
			if err := watchui.Plain(ctx, exec.runner.Events(), os.Stdout); err != nil {
				return
			}
		}
	}()

	claims := sp.Watch(ctx, clock.Real(), interval)
	for claim := range claims {
		exec.processClaim(ctx, claim)
	}
	<-displayDone
	return nil
}

// watchDashboard runs the claim loop behind the live dashboard. The
// dashboard stays up across runs; quitting it shuts the watcher down,
// aborting any in-flight run.
func watchDashboard(ctx context.Context, exec *executor, sp *spool.Spool, interval time.Duration) error {
	loopCtx, cancelLoop := context.WithCancel(ctx)
	defer cancelLoop()

	program := tea.NewProgram(watchui.NewModel(exec.runner.Events()), tea.WithAltScreen())

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		claims := sp.Watch(loopCtx, clock.Real(), interval)
		for claim := range claims {
			exec.processClaim(loopCtx, claim)
		}
	}()

	// The alt-screen swallows ctrl+c as a key event, but SIGTERM
	// still cancels the root context; unwind the dashboard for it.
	go func() {
		<-loopCtx.Done()
		program.Quit()
	}()

	_, programErr := program.Run()
	cancelLoop()
	<-loopDone
	return programErr
}

// processClaim runs the workflow for one claimed push and resolves
// the claim. Never returns an error: the watcher must outlive any
// single bad event.
func (e *executor) processClaim(ctx context.Context, claim *spool.Claim) {
	push := claim.Push
	logger := e.logger.With(
		"event", filepath.Base(claim.Path()),
		"ref", push.Ref,
		"after", push.ShortAfter(),
	)

	p, err := e.planFor(ctx, push, nil)
	if err != nil {
		if ctx.Err() != nil {
			resolveClaim(logger, claim.Release)
			return
		}
		// Retrying would fail identically: the workflow at that
		// commit is broken at that commit forever.
		logger.Error("push cannot be planned", "error", err)
		resolveClaim(logger, claim.Fail)
		return
	}
	if p == nil {
		logger.Info("push produces no run")
		resolveClaim(logger, claim.Done)
		return
	}

	result, err := e.runner.Run(ctx, p)
	if err != nil {
		if ctx.Err() != nil {
			resolveClaim(logger, claim.Release)
			return
		}
		logger.Error("run machinery failed", "error", err)
		resolveClaim(logger, claim.Fail)
		return
	}
	if result.Conclusion == runlog.ConclusionAborted && ctx.Err() != nil {
		// Shutdown mid-build: return the event so a restarted
		// watcher runs it from scratch.
		resolveClaim(logger, claim.Release)
		return
	}

	logger.Info("run complete",
		"run_id", result.RunID,
		"conclusion", result.Conclusion,
		"duration", result.Duration.Round(time.Second),
	)
	resolveClaim(logger, claim.Done)
}

// resolveClaim applies a claim resolution, logging rather than
// propagating failures: a rename that fails leaves the event to the
// staleness reclaim, which is recoverable.
func resolveClaim(logger *slog.Logger, action func() error) {
	if err := action(); err != nil {
		logger.Warn("resolving spooled event", "error", err)
	}
}
