// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runcmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/conveyor/cmd/conveyor/cli"
	"github.com/bureau-foundation/conveyor/lib/event"
	"github.com/bureau-foundation/conveyor/lib/gitcmd"
	"github.com/bureau-foundation/conveyor/lib/runlog"
	"github.com/bureau-foundation/conveyor/lib/runner"
	"github.com/bureau-foundation/conveyor/lib/workflow"
)

// RunCommand returns the top-level "run" command.
func RunCommand() *cli.Command {
	var (
		configPath     string
		eventPath      string
		refName        string
		workflowPath   string
		useDashboard   bool
		keepWorkspaces bool
	)

	return &cli.Command{
		Name:    "run",
		Summary: "Execute a workflow run for one push",
		Description: `Execute a workflow run: expand the push across the workflow's runner
labels and matrix axes and run every build to completion.

The push comes from --event (a spooled event file) or is synthesized
from the repository in the working directory: --ref picks the branch,
defaulting to the checked-out one. The workflow definition is read
from the repository at the pushed commit; --workflow substitutes a
local file instead, for trying changes before committing them.

Exits 0 when every build succeeds and 1 otherwise.`,
		Usage: "conveyor run [flags]",
		Examples: []cli.Example{
			{
				Description: "run the current branch's head",
				Command:     "conveyor run",
			},
			{
				Description: "run a specific branch with the live dashboard",
				Command:     "conveyor run --ref feature/parser --watch",
			},
			{
				Description: "replay a spooled push event",
				Command:     "conveyor run --event ~/.local/share/conveyor/spool/e-18c9a2b4f00125c0-9ec41a.json",
			},
			{
				Description: "try an uncommitted workflow definition",
				Command:     "conveyor run --workflow ci-experiment.jsonc",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file path")
			flagSet.StringVar(&eventPath, "event", "", "push event file to run")
			flagSet.StringVar(&refName, "ref", "", "branch or ref to run (default: the checked-out branch)")
			flagSet.StringVar(&workflowPath, "workflow", "", "workflow file overriding the repository's definition")
			flagSet.BoolVar(&useDashboard, "watch", false, "show the live dashboard while the run executes")
			flagSet.BoolVar(&keepWorkspaces, "keep-workspaces", false, "keep build workspaces on disk after the run")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			if eventPath != "" && refName != "" {
				return fmt.Errorf("--event and --ref are mutually exclusive")
			}

			cfg, err := cli.LoadConfig(configPath)
			if err != nil {
				return err
			}

			push, err := resolvePush(ctx, eventPath, refName)
			if err != nil {
				return err
			}

			var wf *workflow.Workflow
			if workflowPath != "" {
				wf, err = workflow.ReadFile(workflowPath)
				if err != nil {
					return err
				}
			}

			dashboard := useDashboard && term.IsTerminal(int(os.Stdout.Fd()))
			if useDashboard && !dashboard {
				logger.Warn("stdout is not a terminal, using plain progress")
			}
			if dashboard {
				fileLogger, closeLogger, err := dashboardLogger(cfg)
				if err != nil {
					return err
				}
				defer closeLogger()
				logger = fileLogger
			}

			exec, err := newExecutor(cfg, logger, keepWorkspaces)
			if err != nil {
				return err
			}
			defer exec.Close()

			p, err := exec.planFor(ctx, push, wf)
			if err != nil {
				return err
			}
			if p == nil {
				fmt.Printf("nothing to run for %s\n", push.Ref)
				return nil
			}

			var result *runner.RunResult
			if dashboard {
				result, err = exec.executeDashboard(ctx, p)
			} else {
				result, err = exec.executePlain(ctx, p)
			}
			if err != nil {
				return err
			}

			printSummary(result)
			if result.Conclusion != runlog.ConclusionSuccess {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}

// resolvePush builds the push event to run: read from a spooled event
// file, or synthesized from a ref of the repository in the working
// directory.
func resolvePush(ctx context.Context, eventPath, refName string) (*event.Push, error) {
	if eventPath != "" {
		return event.ReadPushFile(eventPath)
	}

	workDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	toplevel, err := gitcmd.NewRepository(workDir).Run(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, fmt.Errorf("not inside a git repository (pass --event to run a spooled push): %w", err)
	}
	repo := gitcmd.NewRepository(strings.TrimSpace(toplevel))

	ref, target, err := resolveRef(ctx, repo, refName)
	if err != nil {
		return nil, err
	}
	sha, err := repo.RevParse(ctx, target)
	if err != nil {
		return nil, err
	}

	return &event.Push{
		Repo:       repo.Dir(),
		Ref:        ref,
		Before:     event.ZeroSHA,
		After:      sha,
		Pusher:     os.Getenv("USER"),
		ReceivedAt: time.Now().UTC(),
	}, nil
}

// resolveRef turns the --ref value into a full ref name and the
// revision to resolve it from. An empty value means the checked-out
// branch.
func resolveRef(ctx context.Context, repo *gitcmd.Repository, refName string) (ref, target string, err error) {
	if refName == "" {
		branch, err := repo.Run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
		if err != nil {
			return "", "", err
		}
		branch = strings.TrimSpace(branch)
		if branch == "HEAD" {
			return "", "", fmt.Errorf("detached HEAD: pass --ref <branch>")
		}
		return "refs/heads/" + branch, "HEAD", nil
	}
	if strings.HasPrefix(refName, "refs/") {
		return refName, refName, nil
	}
	return "refs/heads/" + refName, refName, nil
}
