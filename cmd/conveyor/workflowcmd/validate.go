// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package workflowcmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/bureau-foundation/conveyor/cmd/conveyor/cli"
	"github.com/bureau-foundation/conveyor/lib/workflow"
)

// validateCommand returns the "validate" subcommand for checking
// workflow files.
func validateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Summary: "Validate a workflow definition file",
		Description: `Validate a workflow definition file. Checks that the file parses and
conforms to the workflow shape: at least one job, each job has
runner labels and steps, Run and Uses are mutually exclusive per
step, timeouts parse, matrix axes are non-empty, and so on.

Does not access the configuration or the repository — this is a
purely local check. Runner labels are resolved against the
configured runner table at execution time, not here.

Prints "<file>: valid" and exits 0 for a clean definition; lists the
issues on stderr and exits 1 otherwise.`,
		Usage: "conveyor workflow validate <file>",
		Examples: []cli.Example{
			{
				Description: "Validate a workflow definition",
				Command:     "conveyor workflow validate .conveyor/workflow.jsonc",
			},
		},
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: conveyor workflow validate <file>")
			}
			path := args[0]

			wf, err := workflow.ReadFile(path)
			if err != nil {
				return err
			}

			issues := workflow.Validate(wf)
			if len(issues) == 0 {
				fmt.Printf("%s: valid\n", path)
				return nil
			}

			fmt.Fprintf(os.Stderr, "%s: %d validation issue(s):\n", path, len(issues))
			for _, issue := range issues {
				fmt.Fprintf(os.Stderr, "  - %s\n", issue)
			}
			// The issue list is the output; no extra error line needed.
			return &cli.ExitError{Code: 1}
		},
	}
}
