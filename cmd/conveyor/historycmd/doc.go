// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package historycmd implements the "conveyor history" subcommands for
// querying recorded runs.
//
// Subcommands:
//
//   - list: tabulate recorded runs, filterable by workflow, repo,
//     branch, and conclusion.
//   - show: render one run's report from its archive.
//   - logs: dump a stored step output blob.
//   - prune: delete old runs and their on-disk artifacts.
//
// Every run conveyor executes is recorded in the history database;
// these commands are the query side of that record.
package historycmd
