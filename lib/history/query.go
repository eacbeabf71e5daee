// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/conveyor/lib/runlog"
)

// Filter specifies the criteria for listing runs. All fields are
// optional; zero-valued fields are not applied as filters.
type Filter struct {
	Workflow   string            // Exact match on workflow name.
	Repo       string            // Exact match on repository path.
	Branch     string            // Exact match on branch name.
	Conclusion runlog.Conclusion // Exact match on run conclusion.
	Limit      int               // Maximum runs to return (default 50).
}

// List returns runs matching the filter, newest first, without their
// instances.
func (d *DB) List(ctx context.Context, filter Filter) ([]Run, error) {
	conn, err := d.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	defer d.pool.Put(conn)

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var conditions []string
	var args []any

	if filter.Workflow != "" {
		conditions = append(conditions, "workflow = ?")
		args = append(args, filter.Workflow)
	}
	if filter.Repo != "" {
		conditions = append(conditions, "repo = ?")
		args = append(args, filter.Repo)
	}
	if filter.Branch != "" {
		conditions = append(conditions, "branch = ?")
		args = append(args, filter.Branch)
	}
	if filter.Conclusion != "" {
		conditions = append(conditions, "conclusion = ?")
		args = append(args, string(filter.Conclusion))
	}

	query := "SELECT run_id, workflow, repo, ref, branch, sha, conclusion, " +
		"started_at, duration_ms, instance_count, log_path, archive_path FROM runs"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY run_id DESC LIMIT ?"
	args = append(args, limit)

	var runs []Run
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			runs = append(runs, scanRun(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("history: list runs: %w", err)
	}
	return runs, nil
}

// Get returns one run with its instances in plan order. Returns an
// error wrapping ErrNotFound when no run has the given ID.
func (d *DB) Get(ctx context.Context, runID string) (*Run, error) {
	conn, err := d.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("history: get: %w", err)
	}
	defer d.pool.Put(conn)

	var run *Run
	err = sqlitex.Execute(conn, `SELECT run_id, workflow, repo, ref, branch,
		sha, conclusion, started_at, duration_ms, instance_count, log_path,
		archive_path FROM runs WHERE run_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{runID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				scanned := scanRun(stmt)
				run = &scanned
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("history: get run %s: %w", runID, err)
	}
	if run == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}

	err = sqlitex.Execute(conn, `SELECT instance_id, job, label, os, axes,
		conclusion, duration_ms, failed_step, error, log_ref
		FROM instances WHERE run_id = ? ORDER BY ordinal`,
		&sqlitex.ExecOptions{
			Args: []any{runID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				instance, err := scanInstance(stmt)
				if err != nil {
					return err
				}
				run.Instances = append(run.Instances, instance)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("history: get instances for %s: %w", runID, err)
	}

	return run, nil
}

func scanRun(stmt *sqlite.Stmt) Run {
	// Columns: run_id(0), workflow(1), repo(2), ref(3), branch(4),
	// sha(5), conclusion(6), started_at(7), duration_ms(8),
	// instance_count(9), log_path(10), archive_path(11)
	return Run{
		RunID:         stmt.ColumnText(0),
		Workflow:      stmt.ColumnText(1),
		Repo:          stmt.ColumnText(2),
		Ref:           stmt.ColumnText(3),
		Branch:        stmt.ColumnText(4),
		SHA:           stmt.ColumnText(5),
		Conclusion:    runlog.Conclusion(stmt.ColumnText(6)),
		StartedAt:     time.Unix(0, stmt.ColumnInt64(7)).UTC(),
		DurationMS:    stmt.ColumnInt64(8),
		InstanceCount: stmt.ColumnInt(9),
		LogPath:       stmt.ColumnText(10),
		ArchivePath:   stmt.ColumnText(11),
	}
}

func scanInstance(stmt *sqlite.Stmt) (Instance, error) {
	// Columns: instance_id(0), job(1), label(2), os(3), axes(4),
	// conclusion(5), duration_ms(6), failed_step(7), error(8),
	// log_ref(9)
	instance := Instance{
		InstanceID: stmt.ColumnText(0),
		Job:        stmt.ColumnText(1),
		Label:      stmt.ColumnText(2),
		OS:         stmt.ColumnText(3),
		Conclusion: runlog.Conclusion(stmt.ColumnText(5)),
		DurationMS: stmt.ColumnInt64(6),
		FailedStep: stmt.ColumnText(7),
		Error:      stmt.ColumnText(8),
		LogRef:     stmt.ColumnText(9),
	}

	if !stmt.ColumnIsNull(4) {
		axesJSON := stmt.ColumnText(4)
		if err := json.Unmarshal([]byte(axesJSON), &instance.Axes); err != nil {
			return instance, fmt.Errorf("history: unmarshal axes for %s: %w", instance.InstanceID, err)
		}
	}

	return instance, nil
}
