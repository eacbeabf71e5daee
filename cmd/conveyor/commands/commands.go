// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the complete conveyor CLI command tree.
// Each command group lives in its own package; this package only
// assembles them so the tree has a single source of truth.
package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/conveyor/cmd/conveyor/cli"
	"github.com/bureau-foundation/conveyor/cmd/conveyor/eventcmd"
	"github.com/bureau-foundation/conveyor/cmd/conveyor/historycmd"
	"github.com/bureau-foundation/conveyor/cmd/conveyor/hookcmd"
	"github.com/bureau-foundation/conveyor/cmd/conveyor/runcmd"
	"github.com/bureau-foundation/conveyor/cmd/conveyor/secretcmd"
	"github.com/bureau-foundation/conveyor/cmd/conveyor/workflowcmd"
	"github.com/bureau-foundation/conveyor/lib/version"
)

// Root builds and returns the complete conveyor CLI command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "conveyor",
		Description: `Conveyor: local CI workflow runner.

Run per-repository workflows on push events: expand the build matrix,
execute every instance in an isolated workspace, and record logs,
archives, and history for later inspection.`,
		Subcommands: []*cli.Command{
			runcmd.RunCommand(),
			runcmd.WatchCommand(),
			workflowcmd.Command(),
			eventcmd.Command(),
			historycmd.Command(),
			secretcmd.Command(),
			hookcmd.Command(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(_ context.Context, args []string, _ *slog.Logger) error {
					fmt.Printf("conveyor %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Run the workflow for the current branch HEAD",
				Command:     "conveyor run",
			},
			{
				Description: "Run a specific push event with the live dashboard",
				Command:     "conveyor run --event push.json --watch",
			},
			{
				Description: "Watch the spool and run events as they arrive",
				Command:     "conveyor watch",
			},
			{
				Description: "Validate a workflow file",
				Command:     "conveyor workflow validate .conveyor/workflow.jsonc",
			},
			{
				Description: "List recent runs",
				Command:     "conveyor history list",
			},
			{
				Description: "Show a run report in the terminal",
				Command:     "conveyor history show r-20260823-142530-4f2c",
			},
			{
				Description: "Install the post-receive hook into a bare repository",
				Command:     "conveyor hook install /srv/repos/app.git",
			},
		},
	}
}
