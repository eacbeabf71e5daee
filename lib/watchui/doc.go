// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package watchui is the live run dashboard: a full-screen bubbletea
// view of an executing build matrix. The top pane is the instance
// table (status, matrix cell, current step, duration) with fuzzy
// filtering; the bottom pane tails the selected instance's output as
// it streams.
//
// The dashboard consumes a [Feed] — in production the runner's Events
// — by polling snapshots on change notifications, so rendering never
// blocks execution. When stdout is not a terminal, [Plain] follows the
// same feed and prints one line per state transition instead.
package watchui
