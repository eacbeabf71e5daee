// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package workflowcmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/conveyor/cmd/conveyor/cli"
	"github.com/bureau-foundation/conveyor/lib/workflow"
)

// showCommand returns the "show" subcommand for displaying a workflow.
func showCommand() *cli.Command {
	var asJSON bool

	return &cli.Command{
		Name:    "show",
		Summary: "Show a workflow's jobs and matrix fan-out",
		Description: `Display a workflow definition: trigger filters, declared variables,
and each job with the runner labels and matrix axes it fans out
over. The instance count per job is labels × the cross product of
the extra axes — the number of independent builds one push starts.`,
		Usage: "conveyor workflow show [flags] <file>",
		Examples: []cli.Example{
			{
				Description: "Show the repository's workflow",
				Command:     "conveyor workflow show .conveyor/workflow.jsonc",
			},
			{
				Description: "Dump the parsed definition as JSON",
				Command:     "conveyor workflow show --json .conveyor/workflow.jsonc",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("show", pflag.ContinueOnError)
			flagSet.BoolVar(&asJSON, "json", false, "output the parsed definition as JSON")
			return flagSet
		},
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: conveyor workflow show [flags] <file>")
			}

			wf, err := workflow.ReadFile(args[0])
			if err != nil {
				return err
			}

			if asJSON {
				return cli.WriteJSON(wf)
			}
			return printWorkflow(wf)
		},
	}
}

// printWorkflow renders the human-readable workflow summary to stdout.
func printWorkflow(wf *workflow.Workflow) error {
	if wf.Description != "" {
		fmt.Printf("%s — %s\n", wf.Name, wf.Description)
	} else {
		fmt.Printf("%s\n", wf.Name)
	}
	fmt.Printf("triggers: %s\n", triggerSummary(wf))

	if len(wf.Variables) > 0 {
		names := make([]string, 0, len(wf.Variables))
		for name := range wf.Variables {
			names = append(names, name)
		}
		sort.Strings(names)

		fmt.Printf("variables:\n")
		for _, name := range names {
			variable := wf.Variables[name]
			detail := ""
			switch {
			case variable.Required:
				detail = " (required)"
			case variable.Default != "":
				detail = fmt.Sprintf(" (default %q)", variable.Default)
			}
			if variable.Description != "" {
				fmt.Printf("  %s%s — %s\n", name, detail, variable.Description)
			} else {
				fmt.Printf("  %s%s\n", name, detail)
			}
		}
	}

	fmt.Println()
	writer := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
	fmt.Fprintf(writer, "JOB\tLABELS\tAXES\tINSTANCES\tSTEPS\n")

	total := 0
	for _, job := range wf.Jobs {
		count := instanceCount(&job)
		total += count
		fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%s\n",
			job.ID,
			strings.Join(job.RunsOn, ", "),
			axesSummary(job.Matrix),
			count,
			stepNames(job.Steps))
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	fmt.Printf("\n%d instance(s) per push\n", total)
	return nil
}

// triggerSummary renders the branch filter in one line.
func triggerSummary(wf *workflow.Workflow) string {
	if wf.On == nil || wf.On.Push == nil || len(wf.On.Push.Branches) == 0 {
		return "push to any branch"
	}
	return "push to " + strings.Join(wf.On.Push.Branches, ", ")
}

// axesSummary renders the extra matrix axes as "name(count)" pairs in
// sorted axis order, or "-" when the job has none.
func axesSummary(matrix map[string][]string) string {
	if len(matrix) == 0 {
		return "-"
	}
	axes := make([]string, 0, len(matrix))
	for axis := range matrix {
		axes = append(axes, axis)
	}
	sort.Strings(axes)
	parts := make([]string, len(axes))
	for i, axis := range axes {
		parts[i] = fmt.Sprintf("%s(%d)", axis, len(matrix[axis]))
	}
	return strings.Join(parts, ", ")
}

// instanceCount is labels × the cross product of the extra axes.
func instanceCount(job *workflow.Job) int {
	count := len(job.RunsOn)
	for _, values := range job.Matrix {
		count *= len(values)
	}
	return count
}

// stepNames joins the job's step names in execution order.
func stepNames(steps []workflow.Step) string {
	names := make([]string, len(steps))
	for i, step := range steps {
		names[i] = step.Name
	}
	return strings.Join(names, ", ")
}
