// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secretcmd

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/conveyor/cmd/conveyor/cli"
	"github.com/bureau-foundation/conveyor/lib/sealed"
)

// showCommand returns the "show" subcommand for inspecting a secrets
// file.
func showCommand() *cli.Command {
	var (
		configPath   string
		filePath     string
		identityPath string
		showValues   bool
	)

	return &cli.Command{
		Name:    "show",
		Summary: "List the names in a sealed secrets file",
		Description: `Decrypt the secrets file with the runner's identity and list the
secret names it contains. Values stay hidden unless --values is
given; prefer checking names only when a listing is all you need.`,
		Usage: "conveyor secret show [flags]",
		Examples: []cli.Example{
			{
				Description: "List sealed secret names",
				Command:     "conveyor secret show",
			},
			{
				Description: "Print NAME=value lines for re-sealing",
				Command:     "conveyor secret show --values",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("show", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file path")
			flagSet.StringVar(&filePath, "file", "", "sealed secrets file (default from configuration)")
			flagSet.StringVar(&identityPath, "identity", "", "identity file path (default from configuration)")
			flagSet.BoolVar(&showValues, "values", false, "print secret values, not just names")
			return flagSet
		},
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			if len(args) != 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}

			cfg, err := cli.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if filePath == "" {
				filePath = cfg.Secrets.File
			}
			if identityPath == "" {
				identityPath = cfg.Secrets.IdentityFile
			}

			identity, err := sealed.LoadIdentity(identityPath)
			if err != nil {
				return err
			}
			defer identity.Close()

			values, err := sealed.Unseal(filePath, identity)
			if err != nil {
				return err
			}

			names := make([]string, 0, len(values))
			for name := range values {
				names = append(names, name)
			}
			sort.Strings(names)

			for _, name := range names {
				if showValues {
					fmt.Printf("%s=%s\n", name, values[name])
				} else {
					fmt.Println(name)
				}
			}
			return nil
		},
	}
}
