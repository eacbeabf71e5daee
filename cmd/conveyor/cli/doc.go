// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-line framework for the conveyor CLI.
//
// The central type is [Command], which represents a named subcommand with
// optional nested [Command.Subcommands], a [pflag.FlagSet] factory, and a
// Run function. Commands are assembled into a tree in
// cmd/conveyor/commands and dispatched via [Command.Execute], which
// handles flag parsing, subcommand routing, and structured help output
// with examples. Execute threads a signal-cancelled context and a
// terminal-aware logger down to every Run function.
//
// When a user types an unknown subcommand or flag, the framework computes
// the edit distance against all known names and suggests the closest
// match within a small bound (suggest.go).
//
// Commands that have already written their own diagnostics return
// [ExitError] to set the process exit code without a redundant
// "error:" line from main.
package cli
