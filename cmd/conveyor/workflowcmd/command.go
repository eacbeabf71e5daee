// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package workflowcmd

import (
	"github.com/bureau-foundation/conveyor/cmd/conveyor/cli"
)

// Command returns the "workflow" command group.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "workflow",
		Summary: "Inspect workflow definition files",
		Description: `Inspect workflow definition files without running them.

A workflow file declares what happens on a push: trigger filters,
substitution variables, and a list of jobs that each fan out over
runner labels and matrix axes into independent build instances.

Workflow files use JSONC (JSON with // and /* */ comments and
trailing commas) or YAML, selected by file extension. The default
location is .conveyor/workflow.jsonc in the repository root.`,
		Subcommands: []*cli.Command{
			validateCommand(),
			showCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Validate the repository's workflow file",
				Command:     "conveyor workflow validate .conveyor/workflow.jsonc",
			},
			{
				Description: "Show a workflow's jobs and matrix fan-out",
				Command:     "conveyor workflow show .conveyor/workflow.jsonc",
			},
		},
	}
}
