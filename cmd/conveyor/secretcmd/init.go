// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secretcmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/conveyor/cmd/conveyor/cli"
	"github.com/bureau-foundation/conveyor/lib/sealed"
)

// initCommand returns the "init" subcommand for generating the runner
// identity.
func initCommand() *cli.Command {
	var (
		configPath   string
		identityPath string
	)

	return &cli.Command{
		Name:    "init",
		Summary: "Generate the runner's age identity",
		Description: `Generate a fresh age identity and write it to the configured identity
file. The printed recipient key is what "secret seal" encrypts to by
default; share it with anyone who needs to seal secrets for this
runner. The identity file itself must stay private to the machine
running workflows.

Refuses to overwrite an existing identity: a sealed file can only be
opened by the identity it was sealed for, so replacing the identity
would orphan every existing secrets file.`,
		Usage: "conveyor secret init [flags]",
		Examples: []cli.Example{
			{
				Description: "Generate the identity at the configured path",
				Command:     "conveyor secret init",
			},
			{
				Description: "Generate an identity at an explicit path",
				Command:     "conveyor secret init --identity /etc/conveyor/identity.txt",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("init", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file path")
			flagSet.StringVar(&identityPath, "identity", "", "identity file path (default from configuration)")
			return flagSet
		},
		Run: func(_ context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}

			cfg, err := cli.LoadConfig(configPath)
			if err != nil {
				return err
			}
			path := identityPath
			if path == "" {
				path = cfg.Secrets.IdentityFile
			}

			if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
				return fmt.Errorf("create identity directory: %w", err)
			}

			keypair, err := sealed.Generate()
			if err != nil {
				return err
			}
			defer keypair.Close()

			if err := sealed.SaveIdentity(path, keypair); err != nil {
				return err
			}
			logger.Info("identity generated", "path", path)

			fmt.Printf("identity written to %s\n", path)
			fmt.Printf("recipient: %s\n", keypair.Recipient)
			fmt.Printf("\nSeal secrets for this runner with:\n")
			fmt.Printf("  printf 'NAME=value\\n' | conveyor secret seal\n")
			return nil
		},
	}
}
