// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package eventcmd implements the "conveyor event" subcommands for
// feeding push events into the spool and inspecting what is queued.
//
// Subcommands:
//
//   - emit: turn a push into a spooled event file. Reads git's
//     post-receive lines from stdin (the hook path) or takes an
//     explicit --ref for manual emission.
//   - list: show pending and failed spool entries.
//
// emit is what "conveyor hook install" wires into a repository's
// post-receive hook; a running "conveyor watch" picks the events up.
package eventcmd
