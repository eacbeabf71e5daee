// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package historycmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/conveyor/cmd/conveyor/cli"
	"github.com/bureau-foundation/conveyor/lib/history"
	"github.com/bureau-foundation/conveyor/lib/runlog"
)

// listCommand returns the "list" subcommand for tabulating runs.
func listCommand() *cli.Command {
	var (
		configPath string
		workflow   string
		repo       string
		branch     string
		conclusion string
		limit      int
		asJSON     bool
	)

	return &cli.Command{
		Name:    "list",
		Summary: "List recorded runs, newest first",
		Description: `List recorded workflow runs, newest first. Filters narrow by exact
workflow name, repository path, branch, or conclusion (success,
failure, aborted).`,
		Usage: "conveyor history list [flags]",
		Examples: []cli.Example{
			{
				Description: "the last 50 runs",
				Command:     "conveyor history list",
			},
			{
				Description: "failed runs on main",
				Command:     "conveyor history list --branch main --conclusion failure",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file path")
			flagSet.StringVar(&workflow, "workflow", "", "filter by workflow name")
			flagSet.StringVar(&repo, "repo", "", "filter by repository path")
			flagSet.StringVar(&branch, "branch", "", "filter by branch")
			flagSet.StringVar(&conclusion, "conclusion", "", "filter by conclusion: success, failure, or aborted")
			flagSet.IntVar(&limit, "limit", 0, "maximum runs to return (default 50)")
			flagSet.BoolVar(&asJSON, "json", false, "output runs as JSON")
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
			db, err := openHistory(cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			runs, err := db.List(ctx, history.Filter{
				Workflow:   workflow,
				Repo:       repo,
				Branch:     branch,
				Conclusion: runlog.Conclusion(conclusion),
				Limit:      limit,
			})
			if err != nil {
				return err
			}

			if asJSON {
				return cli.WriteJSON(runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(os.Stderr, "no runs recorded")
				return nil
			}
			return printRuns(runs)
		},
	}
}

// printRuns renders the run table to stdout.
func printRuns(runs []history.Run) error {
	writer := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
	fmt.Fprintf(writer, "RUN ID\tWORKFLOW\tBRANCH\tSHA\tCONCLUSION\tBUILDS\tDURATION\tSTARTED\n")
	for _, run := range runs {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			run.RunID,
			run.Workflow,
			run.Branch,
			shortSHA(run.SHA),
			run.Conclusion,
			run.InstanceCount,
			formatDuration(run.DurationMS),
			run.StartedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return writer.Flush()
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}

func formatDuration(milliseconds int64) string {
	duration := time.Duration(milliseconds) * time.Millisecond
	duration = duration.Round(time.Second)
	if duration >= time.Hour {
		return fmt.Sprintf("%dh%02dm", int(duration.Hours()), int(duration.Minutes())%60)
	}
	if duration >= time.Minute {
		return fmt.Sprintf("%dm%02ds", int(duration.Minutes()), int(duration.Seconds())%60)
	}
	return fmt.Sprintf("%ds", int(duration.Seconds()))
}
