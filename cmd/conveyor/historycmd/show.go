// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package historycmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/conveyor/cmd/conveyor/cli"
	"github.com/bureau-foundation/conveyor/lib/config"
	"github.com/bureau-foundation/conveyor/lib/history"
	"github.com/bureau-foundation/conveyor/lib/logstore"
	"github.com/bureau-foundation/conveyor/lib/report"
	"github.com/bureau-foundation/conveyor/lib/runlog"
	"github.com/bureau-foundation/conveyor/lib/tui"
)

// defaultReportWidth is the render width when stdout is not a
// terminal or its size cannot be determined.
const defaultReportWidth = 100

// showCommand returns the "show" subcommand for rendering one run.
func showCommand() *cli.Command {
	var (
		configPath string
		format     string
	)

	return &cli.Command{
		Name:    "show",
		Summary: "Render the report for one recorded run",
		Description: `Render a recorded run's report: the per-build result table and, for
failed builds, the tail of the failing step's output.

The report renders with terminal colors when stdout is a terminal and
as plain markdown otherwise; --format forces term, markdown, or json
(the raw run record).`,
		Usage: "conveyor history show [flags] <run-id>",
		Examples: []cli.Example{
			{
				Description: "render a run's report",
				Command:     "conveyor history show r-20260823-142530-4f2c",
			},
			{
				Description: "markdown for pasting into an issue",
				Command:     "conveyor history show --format markdown r-20260823-142530-4f2c",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("show", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file path")
			flagSet.StringVar(&format, "format", "", "output format: term, markdown, or json")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: conveyor history show [flags] <run-id>")
			}

			cfg, err := cli.LoadConfig(configPath)
			if err != nil {
				return err
			}
			db, err := openHistory(cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			run, err := db.Get(ctx, args[0])
			if err != nil {
				return err
			}
			record, err := loadRecord(run)
			if err != nil {
				return err
			}

			switch resolveFormat(format) {
			case "json":
				return cli.WriteJSON(record)
			case "markdown":
				fmt.Print(report.Markdown(record, reportOptions(cfg, logger)))
				return nil
			case "term":
				markdown := report.Markdown(record, reportOptions(cfg, logger))
				fmt.Print(report.Terminal(markdown, tui.DefaultTheme, reportWidth()))
				return nil
			default:
				return fmt.Errorf("unknown format %q (want term, markdown, or json)", format)
			}
		},
	}
}

// loadRecord loads the run record, preferring the CBOR archive and
// falling back to the JSONL log for runs that died before archiving.
func loadRecord(run *history.Run) (*runlog.RunRecord, error) {
	var archiveErr error
	if run.ArchivePath != "" {
		record, err := runlog.ReadArchive(run.ArchivePath)
		if err == nil {
			return record, nil
		}
		archiveErr = err
	}
	if run.LogPath != "" {
		record, err := runlog.ReadFile(run.LogPath)
		if err == nil {
			return record, nil
		}
		if archiveErr != nil {
			return nil, fmt.Errorf("%w (archive: %v)", err, archiveErr)
		}
		return nil, err
	}
	if archiveErr != nil {
		return nil, archiveErr
	}
	return nil, fmt.Errorf("run %s has no log or archive on disk", run.RunID)
}

// reportOptions wires output excerpts to the log store. A store that
// cannot be opened degrades to a report without excerpts rather than
// failing the whole command.
func reportOptions(cfg *config.Config, logger *slog.Logger) report.Options {
	store, err := cli.OpenLogStore(cfg)
	if err != nil {
		logger.Warn("log store unavailable, omitting output excerpts", "error", err)
		return report.Options{}
	}
	return report.Options{
		FetchOutput: func(ref string) ([]byte, error) {
			hash, err := logstore.ParseHash(ref)
			if err != nil {
				return nil, err
			}
			return store.Get(hash)
		},
	}
}

// resolveFormat applies the terminal-detection default.
func resolveFormat(format string) string {
	if format != "" {
		return format
	}
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return "term"
	}
	return "markdown"
}

// reportWidth returns the terminal width for rendering, or the
// default when stdout is not a terminal.
func reportWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return defaultReportWidth
	}
	return width
}
