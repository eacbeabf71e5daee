// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bureau-foundation/conveyor/cmd/conveyor/cli"
	"github.com/bureau-foundation/conveyor/cmd/conveyor/commands"
)

func main() {
	os.Exit(run(context.Background()))
}

// run executes the root command and maps the outcome to a process
// exit code. Commands whose output is the result ("run" after a
// failed job, "workflow validate" after listing issues) return a
// *cli.ExitError; those have already said everything there is to
// say, so the carried code is used without an extra error line.
func run(ctx context.Context) int {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := commands.Root().Execute(ctx, os.Args[1:], cli.NewCommandLogger())
	if err == nil {
		return 0
	}

	var exit *cli.ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	return 1
}
