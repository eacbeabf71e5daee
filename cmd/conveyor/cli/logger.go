// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// logLevel is shared by every handler NewCommandLogger creates, so
// SetLogLevel can raise or lower verbosity after the configuration
// file has been loaded (the logger necessarily exists first).
var logLevel slog.LevelVar

// NewCommandLogger creates a structured logger for CLI command
// operations. When stderr is a terminal, uses slog.TextHandler for
// human-readable output. When stderr is piped or redirected (git
// hooks, cron, CI), uses slog.JSONHandler for machine-parseable
// output.
//
// Callers scope the logger with command-specific context via With():
//
//	logger := cli.NewCommandLogger().With("command", "run")
func NewCommandLogger() *slog.Logger {
	var handler slog.Handler
	options := &slog.HandlerOptions{Level: &logLevel}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}

// SetLogLevel applies a configured level name to all command loggers.
// Recognized names are "debug", "info", "warn", and "error"; the empty
// string leaves the level unchanged.
func SetLogLevel(name string) error {
	switch name {
	case "":
		return nil
	case "debug":
		logLevel.Set(slog.LevelDebug)
	case "info":
		logLevel.Set(slog.LevelInfo)
	case "warn":
		logLevel.Set(slog.LevelWarn)
	case "error":
		logLevel.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level %q", name)
	}
	return nil
}
