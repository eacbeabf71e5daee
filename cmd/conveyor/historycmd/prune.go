// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package historycmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/conveyor/cmd/conveyor/cli"
	"github.com/bureau-foundation/conveyor/lib/config"
	"github.com/bureau-foundation/conveyor/lib/logstore"
)

// pruneCommand returns the "prune" subcommand for bounding history
// disk usage.
func pruneCommand() *cli.Command {
	var (
		configPath string
		keep       int
	)

	return &cli.Command{
		Name:    "prune",
		Summary: "Delete old runs and their artifacts",
		Description: `Delete all but the newest runs from the history database, along with
their run logs, archives, and captured output blobs. Output blobs a
kept run still references survive.

--keep overrides the configured retention (history.keep). An explicit
--keep 0 deletes every recorded run.`,
		Usage: "conveyor history prune [flags]",
		Examples: []cli.Example{
			{
				Description: "prune to the configured retention",
				Command:     "conveyor history prune",
			},
			{
				Description: "keep only the newest 50 runs",
				Command:     "conveyor history prune --keep 50",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("prune", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file path")
			flagSet.IntVar(&keep, "keep", -1, "runs to keep (default from configuration)")
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

			retain := keep
			if retain < 0 {
				retain = cfg.History.Keep
				if retain <= 0 {
					fmt.Println("history pruning is disabled (history.keep = 0)")
					return nil
				}
			}

			db, err := openHistory(cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			result, err := db.Prune(ctx, retain)
			if err != nil {
				return err
			}
			if result.Removed == 0 {
				fmt.Printf("nothing to prune (%d or fewer runs recorded)\n", retain)
				return nil
			}

			files := removeFiles(append(result.LogPaths, result.ArchivePaths...), logger)
			blobs := removeBlobs(cfg, result.LogRefs, logger)

			fmt.Printf("pruned %d run(s): removed %d file(s) and %d output blob(s)\n",
				result.Removed, files, blobs)
			return nil
		},
	}
}

// removeFiles deletes run logs and archives, returning how many were
// actually removed. Already-missing files are fine; anything else is
// logged and skipped.
func removeFiles(paths []string, logger *slog.Logger) int {
	removed := 0
	for _, path := range paths {
		err := os.Remove(path)
		switch {
		case err == nil:
			removed++
		case os.IsNotExist(err):
		default:
			logger.Warn("could not remove run artifact", "path", path, "error", err)
		}
	}
	return removed
}

// removeBlobs deletes pruned output blobs from the log store,
// returning how many were removed.
func removeBlobs(cfg *config.Config, refs []string, logger *slog.Logger) int {
	if len(refs) == 0 {
		return 0
	}
	store, err := cli.OpenLogStore(cfg)
	if err != nil {
		logger.Warn("log store unavailable, leaving output blobs", "error", err)
		return 0
	}

	removed := 0
	for _, ref := range refs {
		hash, err := logstore.ParseHash(ref)
		if err != nil {
			logger.Warn("skipping unparseable log ref", "ref", ref, "error", err)
			continue
		}
		if !store.Has(hash) {
			continue
		}
		if err := store.Delete(hash); err != nil {
			logger.Warn("could not remove output blob", "ref", ref, "error", err)
			continue
		}
		removed++
	}
	return removed
}
