// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hookcmd

import (
	"github.com/bureau-foundation/conveyor/cmd/conveyor/cli"
)

// Command returns the "hook" command group.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "hook",
		Summary: "Manage repository git hooks",
		Description: `Manage the git hooks that connect repositories to conveyor.

The post-receive hook runs after a push has updated refs; the
installed script forwards git's ref lines to "conveyor event emit",
which spools one event per pushed branch. A running "conveyor
watch" picks the events up and executes the repository's workflow.`,
		Subcommands: []*cli.Command{
			installCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Install the post-receive hook into a bare repository",
				Command:     "conveyor hook install /srv/repos/app.git",
			},
		},
	}
}
