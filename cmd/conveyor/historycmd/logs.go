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
	"github.com/bureau-foundation/conveyor/lib/logstore"
)

// logsCommand returns the "logs" subcommand for dumping one stored
// output blob.
func logsCommand() *cli.Command {
	var configPath string

	return &cli.Command{
		Name:    "logs",
		Summary: "Dump a stored step output blob",
		Description: `Write a captured output blob to stdout, byte for byte. The hash is
the log ref recorded in run archives and shown by "history show
--format json"; step output and full instance transcripts are both
stored this way.`,
		Usage: "conveyor history logs [flags] <hash>",
		Examples: []cli.Example{
			{
				Description: "dump one step's captured output",
				Command:     "conveyor history logs 9a0fd1... | less",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("logs", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file path")
			return flagSet
		},
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: conveyor history logs [flags] <hash>")
			}

			hash, err := logstore.ParseHash(args[0])
			if err != nil {
				return err
			}

			cfg, err := cli.LoadConfig(configPath)
			if err != nil {
				return err
			}
			store, err := cli.OpenLogStore(cfg)
			if err != nil {
				return err
			}

			data, err := store.Get(hash)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		},
	}
}
