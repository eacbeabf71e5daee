// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventcmd

import (
	"github.com/bureau-foundation/conveyor/cmd/conveyor/cli"
)

// Command returns the "event" command group.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "event",
		Summary: "Spool and inspect push events",
		Description: `Spool push events for the runner and inspect the queue.

A push event records what a git push did: which ref moved, from
which commit to which, and who pushed. Events enter the spool
directory as JSON files — normally via the post-receive hook that
"conveyor hook install" sets up — and a running "conveyor watch"
claims and executes them in arrival order.`,
		Subcommands: []*cli.Command{
			emitCommand(),
			listCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Spool an event for a branch tip (manual trigger)",
				Command:     "conveyor event emit --repo /srv/repos/app.git --ref refs/heads/main",
			},
			{
				Description: "List queued and failed events",
				Command:     "conveyor event list",
			},
		},
	}
}
