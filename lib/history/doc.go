// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package history is conveyor's run history database.
//
// Every completed run is recorded as one row in the runs table plus one
// row per matrix instance in the instances table. The database answers
// `conveyor history list` queries (filter by workflow, repo, branch, or
// conclusion) and locates the JSONL log, CBOR archive, and captured
// step output for `conveyor history show`. It stores outcomes and
// pointers only — the run logs and the log store hold the full detail,
// and the database can be dropped and rebuilt from them.
//
// Storage is SQLite via [sqlitepool]: WAL mode, a small connection
// pool, schema created on connect. Run IDs embed a UTC timestamp
// ([NewRunID]) so lexicographic order is creation order; every query
// that needs "newest first" sorts on the ID alone.
package history
