// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package workflowcmd implements the "conveyor workflow" subcommands
// for inspecting workflow definition files.
//
// Subcommands:
//
//   - validate: check a workflow file for structural correctness
//     without running anything.
//   - show: display a workflow's trigger, variables, jobs, and the
//     matrix fan-out each job expands to.
//
// Both commands are purely local: they read the file, never the
// configuration or the repository.
package workflowcmd
