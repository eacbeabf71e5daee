// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package report turns an archived run record into a human-readable
// report. Markdown builds the report text: a run summary, a build
// results table, and a section per instance with its step outcomes
// and, for failed steps, a tail excerpt of the captured output.
// Terminal renders that markdown (or any markdown) as ANSI-styled
// text for `conveyor history show`.
//
// Excerpts are read back from the log store, which holds output
// exactly as the runner captured it — after secret masking — so a
// report can never surface a secret value the live run already
// redacted.
package report
