// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package historycmd

import (
	"log/slog"

	"github.com/bureau-foundation/conveyor/cmd/conveyor/cli"
	"github.com/bureau-foundation/conveyor/lib/config"
	"github.com/bureau-foundation/conveyor/lib/history"
)

// Command returns the "history" command group.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "history",
		Summary: "Query and maintain the run history",
		Description: `Query the recorded outcome of past workflow runs and maintain the
history database.

Runs are recorded with their matrix instances, conclusions, and
pointers to captured output. "list" answers "what ran and how did it
go", "show" renders one run's full report, "logs" dumps a single
step's output, and "prune" bounds disk usage.`,
		Subcommands: []*cli.Command{
			listCommand(),
			showCommand(),
			logsCommand(),
			pruneCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "recent runs on main that failed",
				Command:     "conveyor history list --branch main --conclusion failure",
			},
			{
				Description: "full report for one run",
				Command:     "conveyor history show r-20260823-142530-4f2c",
			},
			{
				Description: "drop everything but the newest 50 runs",
				Command:     "conveyor history prune --keep 50",
			},
		},
	}
}

// openHistory opens the run history database from the configuration.
func openHistory(cfg *config.Config, logger *slog.Logger) (*history.DB, error) {
	return history.Open(history.Config{
		Path:   cfg.Paths.HistoryDB,
		Logger: logger,
	})
}
