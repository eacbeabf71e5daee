// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventcmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/conveyor/cmd/conveyor/cli"
	"github.com/bureau-foundation/conveyor/lib/event"
	"github.com/bureau-foundation/conveyor/lib/spool"
)

// spoolEntry is one spool file with its parsed event, as listed by
// "event list --json".
type spoolEntry struct {
	File    string `json:"file"`
	State   string `json:"state"` // "pending" or "failed"
	Repo    string `json:"repo,omitempty"`
	Branch  string `json:"branch,omitempty"`
	After   string `json:"after,omitempty"`
	Age     string `json:"age,omitempty"`
	Problem string `json:"problem,omitempty"` // set when the file does not parse
}

// listCommand returns the "list" subcommand for inspecting the spool.
func listCommand() *cli.Command {
	var configPath string
	var asJSON bool

	return &cli.Command{
		Name:    "list",
		Summary: "List queued and failed push events",
		Description: `List the spool: events waiting for a runner, and events set aside
after a claim failed. Failed events keep their content; re-queue one
by renaming it back to its .json name, or delete it.`,
		Usage: "conveyor event list [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file")
			flagSet.BoolVar(&asJSON, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(_ context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return fmt.Errorf("usage: conveyor event list [flags]")
			}

			cfg, err := cli.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if err := cfg.EnsurePaths(); err != nil {
				return err
			}

			sp, err := spool.New(cfg.Paths.Spool, logger)
			if err != nil {
				return err
			}

			pending, err := sp.Pending()
			if err != nil {
				return err
			}
			failed, err := sp.Failed()
			if err != nil {
				return err
			}

			entries := make([]spoolEntry, 0, len(pending)+len(failed))
			for _, path := range pending {
				entries = append(entries, describeEntry(path, "pending"))
			}
			for _, path := range failed {
				entries = append(entries, describeEntry(path, "failed"))
			}

			if asJSON {
				return cli.WriteJSON(entries)
			}

			if len(entries) == 0 {
				fmt.Fprintln(os.Stderr, "spool is empty")
				return nil
			}

			writer := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintf(writer, "FILE\tSTATE\tBRANCH\tAFTER\tAGE\n")
			for _, entry := range entries {
				branch := entry.Branch
				if entry.Problem != "" {
					branch = "(" + entry.Problem + ")"
				}
				fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
					entry.File, entry.State, branch, entry.After, entry.Age)
			}
			return writer.Flush()
		},
	}
}

// describeEntry reads one spool file into a listing row. A file that
// does not parse still gets a row: the operator needs to see it to
// clean it up.
func describeEntry(path, state string) spoolEntry {
	entry := spoolEntry{
		File:  filepath.Base(path),
		State: state,
	}

	push, err := event.ReadPushFile(path)
	if err != nil {
		entry.Problem = "unreadable"
		return entry
	}

	entry.Repo = push.Repo
	entry.Branch = push.Branch()
	entry.After = push.ShortAfter()
	if !push.ReceivedAt.IsZero() {
		entry.Age = formatAge(time.Since(push.ReceivedAt))
	}
	return entry
}

// formatAge renders a duration as a compact single unit ("3m", "2h",
// "5d"), the way queue listings are usually read.
func formatAge(age time.Duration) string {
	switch {
	case age < time.Minute:
		return fmt.Sprintf("%ds", int(age.Seconds()))
	case age < time.Hour:
		return fmt.Sprintf("%dm", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd", int(age.Hours()/24))
	}
}
