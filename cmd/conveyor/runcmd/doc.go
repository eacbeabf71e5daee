// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package runcmd implements "conveyor run" and "conveyor watch", the
// two ways a plan gets executed.
//
// "run" is the one-shot path: build a push event (from a file or from
// the repository in the working directory), expand it against the
// workflow definition, execute every matrix instance, and exit with
// the run's conclusion.
//
// "watch" is the daemon path: claim push events from the spool as the
// git hook delivers them and execute each one the same way, forever.
//
// Both share one pipeline: the workflow is read from the pushed
// repository at the pushed commit, expanded over the configured
// runner-label table, and handed to the runner. Progress renders as a
// live dashboard on a terminal and as plain transition lines
// otherwise.
package runcmd
