// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package hookcmd implements "conveyor hook install", which wires a
// repository's post-receive hook to "conveyor event emit" so every
// push queues a run for the watch daemon.
package hookcmd
