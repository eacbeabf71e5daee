// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hookcmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/conveyor/cmd/conveyor/cli"
	"github.com/bureau-foundation/conveyor/lib/gitcmd"
)

// installCommand returns the "install" subcommand.
func installCommand() *cli.Command {
	var binaryPath string
	var configPath string

	return &cli.Command{
		Name:    "install",
		Summary: "Install the post-receive hook into a repository",
		Description: `Install conveyor's post-receive hook into a repository, replacing
any existing post-receive hook. The script embeds the absolute path
of this conveyor binary so the hook works regardless of the git
user's PATH; pass --binary to embed a different path, and --config
to pin a non-default configuration file for the emitting process.

Works on bare and non-bare repositories; the hooks directory is
resolved through git, so core.hooksPath overrides are honored.`,
		Usage: "conveyor hook install [flags] <repository>",
		Examples: []cli.Example{
			{
				Description: "Install into a bare repository",
				Command:     "conveyor hook install /srv/repos/app.git",
			},
			{
				Description: "Pin a configuration file for the hook",
				Command:     "conveyor hook install --config /etc/conveyor.yaml /srv/repos/app.git",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("install", pflag.ContinueOnError)
			flagSet.StringVar(&binaryPath, "binary", "", "conveyor binary path to embed (default: this binary)")
			flagSet.StringVar(&configPath, "config", "", "configuration file path to embed")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: conveyor hook install [flags] <repository>")
			}

			repoDir, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolving repository path: %w", err)
			}
			if binaryPath == "" {
				binaryPath, err = os.Executable()
				if err != nil {
					return fmt.Errorf("resolving conveyor binary path: %w", err)
				}
			}
			if configPath != "" {
				configPath, err = filepath.Abs(configPath)
				if err != nil {
					return fmt.Errorf("resolving configuration path: %w", err)
				}
			}

			repo := gitcmd.NewRepository(repoDir)
			// Fail early with git's diagnostic if this is not a
			// repository at all.
			if _, err := repo.Run(ctx, "rev-parse", "--git-dir"); err != nil {
				return err
			}

			hookPath, err := repo.InstallHook(ctx, "post-receive", postReceiveScript(binaryPath, configPath))
			if err != nil {
				return err
			}

			fmt.Printf("installed %s\n", hookPath)
			return nil
		},
	}
}

// postReceiveScript renders the hook script. Git feeds the updated
// ref lines on stdin; exec hands that stream straight to the emit
// command.
func postReceiveScript(binaryPath, configPath string) []byte {
	configFlag := ""
	if configPath != "" {
		configFlag = fmt.Sprintf(" --config %q", configPath)
	}
	script := fmt.Sprintf(`#!/bin/sh
# Installed by conveyor hook install. Queues a run per pushed branch.
exec %q event emit%s --repo "$PWD"
`, binaryPath, configFlag)
	return []byte(script)
}
