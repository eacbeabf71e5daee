// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secretcmd

import (
	"github.com/bureau-foundation/conveyor/cmd/conveyor/cli"
)

// Command returns the "secret" command group.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "secret",
		Summary: "Manage sealed secrets for workflow runs",
		Description: `Manage the age-encrypted secrets that conveyor injects into step
environments.

Secrets live in a sealed file (by default .conveyor/secrets.age in the
repository) that only the runner's identity can open. Values are
provided to steps as environment variables and masked in captured
output.`,
		Subcommands: []*cli.Command{
			initCommand(),
			sealCommand(),
			showCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "generate the runner identity",
				Command:     "conveyor secret init",
			},
			{
				Description: "seal secrets read from stdin",
				Command:     "printf 'DEPLOY_TOKEN=abc123\\n' | conveyor secret seal",
			},
			{
				Description: "list sealed secret names",
				Command:     "conveyor secret show",
			},
		},
	}
}
