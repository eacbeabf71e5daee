// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/conveyor/lib/runlog"
	"github.com/bureau-foundation/conveyor/lib/sqlitepool"
)

// ErrNotFound is returned by Get when no run has the requested ID.
var ErrNotFound = errors.New("history: run not found")

// Run is one recorded workflow run. List returns runs without their
// Instances; Get fills them in.
type Run struct {
	// RunID is the primary key, in NewRunID format.
	RunID string

	// Workflow is the workflow name the run executed.
	Workflow string

	// Repo, Ref, Branch, and SHA describe the push that triggered the
	// run. SHA is the commit every instance checked out.
	Repo   string
	Ref    string
	Branch string
	SHA    string

	// Conclusion is the run's terminal state: success, failure, or
	// aborted.
	Conclusion runlog.Conclusion

	StartedAt  time.Time
	DurationMS int64

	// InstanceCount is the number of matrix instances the run planned.
	// It equals len(Instances) when the run completed normally.
	InstanceCount int

	// LogPath and ArchivePath locate the JSONL run log and the CBOR
	// run archive on disk. Either may be empty when the corresponding
	// file was not written.
	LogPath     string
	ArchivePath string

	Instances []Instance
}

// Instance is one matrix instance's outcome within a run.
type Instance struct {
	// InstanceID is the plan's instance identifier, e.g.
	// "build-ubuntu-latest-release".
	InstanceID string

	// Job is the workflow job ID this instance expanded from.
	Job string

	// Label and OS identify the runner the instance executed on.
	Label string
	OS    string

	// Axes holds the instance's matrix coordinates beyond the runner
	// label, axis name → value. Nil when the job had no extra axes.
	Axes map[string]string

	Conclusion runlog.Conclusion
	DurationMS int64

	// FailedStep and Error carry the failure detail when Conclusion is
	// not success.
	FailedStep string
	Error      string

	// LogRef is the log store ref of the instance's captured output,
	// empty when output capture was disabled.
	LogRef string
}

// Config holds the parameters for opening the history database.
type Config struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory must exist. Required.
	Path string

	// PoolSize is the connection pool size. Defaults per sqlitepool
	// when zero.
	PoolSize int

	// Logger receives operational messages. If nil, a no-op logger is
	// used.
	Logger *slog.Logger
}

// DB is the run history database handle. Safe for concurrent use.
type DB struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

// schema is created on every connection; all statements are idempotent.
// Run IDs sort chronologically, so the indexes pair each filter column
// with run_id to serve filtered newest-first listings directly.
const schema = `
	CREATE TABLE IF NOT EXISTS runs (
		run_id         TEXT PRIMARY KEY,
		workflow       TEXT NOT NULL,
		repo           TEXT NOT NULL,
		ref            TEXT NOT NULL,
		branch         TEXT NOT NULL,
		sha            TEXT NOT NULL,
		conclusion     TEXT NOT NULL,
		started_at     INTEGER NOT NULL,
		duration_ms    INTEGER NOT NULL,
		instance_count INTEGER NOT NULL,
		log_path       TEXT NOT NULL DEFAULT '',
		archive_path   TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_runs_workflow ON runs(workflow, run_id);
	CREATE INDEX IF NOT EXISTS idx_runs_repo ON runs(repo, run_id);
	CREATE INDEX IF NOT EXISTS idx_runs_branch ON runs(branch, run_id);
	CREATE INDEX IF NOT EXISTS idx_runs_conclusion ON runs(conclusion, run_id);

	CREATE TABLE IF NOT EXISTS instances (
		run_id      TEXT NOT NULL,
		ordinal     INTEGER NOT NULL,
		instance_id TEXT NOT NULL,
		job         TEXT NOT NULL,
		label       TEXT NOT NULL,
		os          TEXT NOT NULL,
		axes        TEXT,
		conclusion  TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		failed_step TEXT NOT NULL DEFAULT '',
		error       TEXT NOT NULL DEFAULT '',
		log_ref     TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, instance_id)
	);
`

// Open opens (creating if necessary) the history database at
// cfg.Path.
func Open(cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("history: Path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}

	return &DB{pool: pool, logger: logger}, nil
}

// Close closes the underlying connection pool. Blocks until all
// borrowed connections are returned.
func (d *DB) Close() error {
	return d.pool.Close()
}

// NewRunID returns a fresh run identifier: "r-" plus a UTC timestamp
// and a short random tail. The timestamp makes lexicographic order
// match creation order to the second; the tail keeps IDs minted in the
// same second distinct.
func NewRunID(now time.Time) (string, error) {
	var tail [2]byte
	if _, err := rand.Read(tail[:]); err != nil {
		return "", fmt.Errorf("history: generating run ID: %w", err)
	}
	return "r-" + now.UTC().Format("20060102-150405") + "-" + hex.EncodeToString(tail[:]), nil
}

// Record inserts a completed run and all its instances in a single
// transaction. The run ID must be unique; recording the same run twice
// is an error.
func (d *DB) Record(ctx context.Context, run *Run) (err error) {
	if run.RunID == "" {
		return fmt.Errorf("history: record: run ID is empty")
	}

	conn, err := d.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("history: record: %w", err)
	}
	defer d.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("history: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn, `INSERT INTO runs
		(run_id, workflow, repo, ref, branch, sha, conclusion,
		 started_at, duration_ms, instance_count, log_path, archive_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				run.RunID,
				run.Workflow,
				run.Repo,
				run.Ref,
				run.Branch,
				run.SHA,
				string(run.Conclusion),
				run.StartedAt.UTC().UnixNano(),
				run.DurationMS,
				run.InstanceCount,
				run.LogPath,
				run.ArchivePath,
			},
		})
	if err != nil {
		return fmt.Errorf("history: insert run %s: %w", run.RunID, err)
	}

	for i := range run.Instances {
		if err := insertInstance(conn, run.RunID, i, &run.Instances[i]); err != nil {
			return err
		}
	}

	return nil
}

// insertInstance inserts one instance row. The ordinal preserves plan
// order so Get returns instances in the order the run displayed them.
func insertInstance(conn *sqlite.Conn, runID string, ordinal int, instance *Instance) error {
	var axesJSON any
	if len(instance.Axes) > 0 {
		data, err := json.Marshal(instance.Axes)
		if err != nil {
			return fmt.Errorf("history: marshal axes for %s: %w", instance.InstanceID, err)
		}
		axesJSON = string(data)
	}

	err := sqlitex.Execute(conn, `INSERT INTO instances
		(run_id, ordinal, instance_id, job, label, os, axes,
		 conclusion, duration_ms, failed_step, error, log_ref)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				runID,
				ordinal,
				instance.InstanceID,
				instance.Job,
				instance.Label,
				instance.OS,
				axesJSON,
				string(instance.Conclusion),
				instance.DurationMS,
				instance.FailedStep,
				instance.Error,
				instance.LogRef,
			},
		})
	if err != nil {
		return fmt.Errorf("history: insert instance %s: %w", instance.InstanceID, err)
	}
	return nil
}
