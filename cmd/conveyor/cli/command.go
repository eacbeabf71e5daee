// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"
)

// Command is one node of the CLI tree: either a group that dispatches
// to Subcommands or a leaf with a Run function.
type Command struct {
	// Name is the command name as typed by the user (e.g., "run", "history").
	Name string

	// Summary is a one-line description shown in the parent's help listing.
	Summary string

	// Description is a detailed multi-line description shown in the command's
	// own help output.
	Description string

	// Usage is the usage string (e.g., "conveyor history show <run-id>").
	// If empty, it is synthesized from the command path and subcommands.
	Usage string

	// Examples are shown in the help output after the description.
	Examples []Example

	// Flags returns a freshly configured *pflag.FlagSet. It is called
	// per parse rather than stored, so a Command value stays reusable
	// and the closure-captured flag variables are testable. Nil means
	// the command accepts no flags.
	Flags func() *pflag.FlagSet

	// Subcommands are nested commands dispatched by the first positional arg.
	Subcommands []*Command

	// Run executes the command with the positional args left after
	// flag parsing. The context is cancelled on SIGINT/SIGTERM; the
	// logger is pre-configured for the terminal. Leaves set Run,
	// groups set Subcommands.
	Run func(ctx context.Context, args []string, logger *slog.Logger) error

	// parent is set during dispatch to build the full command path for help.
	parent *Command
}

// Example is a usage example shown in help output.
type Example struct {
	// Description explains what the example does.
	Description string
	// Command is the literal command line.
	Command string
}

// Execute resolves args against the command tree: help requests print
// help, a leading positional routes to a subcommand, anything else is
// parsed as flags and handed to Run.
func (c *Command) Execute(ctx context.Context, args []string, logger *slog.Logger) error {
	if len(args) > 0 && isHelpArg(args[0]) {
		c.PrintHelp(os.Stderr)
		return nil
	}

	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		if sub := c.subcommand(args[0]); sub != nil {
			sub.parent = c
			return sub.Execute(ctx, args[1:], logger)
		}
		if len(c.Subcommands) > 0 {
			return c.unknownCommand(args[0])
		}
	}

	if c.Run == nil {
		c.PrintHelp(os.Stderr)
		switch {
		case len(c.Subcommands) == 0:
			return fmt.Errorf("no action defined for %q", c.fullName())
		case len(args) > 0:
			return fmt.Errorf("subcommand required (got flag %q)", args[0])
		default:
			return fmt.Errorf("subcommand required")
		}
	}

	positional, err := c.parseFlags(args)
	if err != nil {
		return err
	}
	return c.Run(ctx, positional, logger)
}

// subcommand returns the subcommand with the given name, or nil.
func (c *Command) subcommand(name string) *Command {
	for _, sub := range c.Subcommands {
		if sub.Name == name {
			return sub
		}
	}
	return nil
}

// unknownCommand builds the error for a positional that matched no
// subcommand, with a near-miss suggestion when one is close.
func (c *Command) unknownCommand(name string) error {
	if suggestion := suggestCommand(name, c.Subcommands); suggestion != "" {
		return fmt.Errorf("unknown command %q (did you mean %q?)\n\nRun '%s --help' for usage.",
			name, suggestion, c.fullName())
	}
	return fmt.Errorf("unknown command %q\n\nRun '%s --help' for usage.", name, c.fullName())
}

// parseFlags runs args through the command's flag set and returns the
// positional remainder. pflag's own error output is suppressed; errors
// come back with a --help pointer and, for an unknown flag, the
// closest defined name.
func (c *Command) parseFlags(args []string) ([]string, error) {
	if c.Flags == nil {
		return args, nil
	}

	flagSet := c.Flags()
	flagSet.SetOutput(io.Discard)
	if err := flagSet.Parse(args); err != nil {
		if strings.Contains(err.Error(), "unknown flag") {
			// Fresh flag set for the lookup: Parse half-consumed the
			// one that failed.
			if suggestion := suggestFlag(args, c.Flags()); suggestion != "" {
				return nil, fmt.Errorf("%s (did you mean %s?)\n\nRun '%s --help' for usage.",
					err, suggestion, c.fullName())
			}
		}
		return nil, fmt.Errorf("%s\n\nRun '%s --help' for usage.", err, c.fullName())
	}
	return flagSet.Args(), nil
}

// PrintHelp writes the command's help text: description, usage, the
// subcommand listing, flag defaults, and examples.
func (c *Command) PrintHelp(w io.Writer) {
	if text := cmp.Or(c.Description, c.Summary); text != "" {
		fmt.Fprintf(w, "%s\n\n", text)
	}

	fmt.Fprintf(w, "Usage:\n  %s\n", c.usageLine())

	if len(c.Subcommands) > 0 {
		fmt.Fprintf(w, "\nCommands:\n")
		listing := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
		for _, sub := range c.Subcommands {
			fmt.Fprintf(listing, "  %s\t%s\n", sub.Name, sub.Summary)
		}
		listing.Flush()
	}

	if c.Flags != nil {
		var defaults strings.Builder
		flagSet := c.Flags()
		flagSet.SetOutput(&defaults)
		flagSet.PrintDefaults()
		if defaults.Len() > 0 {
			fmt.Fprintf(w, "\nFlags:\n%s", defaults.String())
		}
	}

	if len(c.Examples) > 0 {
		fmt.Fprintf(w, "\nExamples:\n")
		for _, example := range c.Examples {
			if example.Description != "" {
				fmt.Fprintf(w, "  # %s\n", example.Description)
			}
			fmt.Fprintf(w, "  %s\n", example.Command)
			if example.Description != "" {
				fmt.Fprintln(w)
			}
		}
	}

	if len(c.Subcommands) > 0 {
		fmt.Fprintf(w, "\nRun '%s <command> --help' for more information on a command.\n", c.fullName())
	}
}

// usageLine is the explicit Usage string, or one synthesized from the
// command path.
func (c *Command) usageLine() string {
	switch {
	case c.Usage != "":
		return c.Usage
	case len(c.Subcommands) > 0:
		return c.fullName() + " <command> [flags]"
	default:
		return c.fullName() + " [flags]"
	}
}

// fullName returns the complete command path (e.g., "conveyor history show").
func (c *Command) fullName() string {
	if c.parent == nil {
		return c.Name
	}
	return c.parent.fullName() + " " + c.Name
}

// isHelpArg reports whether arg asks for help in any spelling.
func isHelpArg(arg string) bool {
	return arg == "-h" || arg == "--help" || arg == "help"
}
