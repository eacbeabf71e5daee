// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package runner executes an expanded build plan: every instance of
// the matrix, each in its own disposable workspace, with bounded
// parallelism across instances and strict step ordering within one.
//
// The runner owns the full evidence trail of a run:
//
//   - a crash-safe JSONL run log (lib/runlog) written line by line as
//     steps finish,
//   - captured step output and per-instance transcripts in the
//     content-addressed log store (lib/logstore), with secret values
//     masked before they touch disk,
//   - a CBOR archive of the completed run record,
//   - a row in the run history database (lib/history).
//
// Instances never share state: each gets a fresh clone of the pushed
// commit, its own environment, and its own output buffers. A failing
// instance takes down nothing but itself; the run's conclusion is
// computed after every instance has finished.
//
// Build failures are results, not errors. Runner.Run returns an error
// only when the machinery itself breaks (cannot create the log file,
// cannot make a workspace); a red build comes back as a RunResult
// with Conclusion "failure".
package runner
