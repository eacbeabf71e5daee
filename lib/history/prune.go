// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// PruneResult reports what Prune removed. The path and ref lists let
// the caller delete the on-disk artifacts the database no longer points
// to: run logs, archives, and log store blobs.
type PruneResult struct {
	// Removed is the number of runs deleted.
	Removed int

	// LogPaths and ArchivePaths are the non-empty file paths of the
	// deleted runs.
	LogPaths     []string
	ArchivePaths []string

	// LogRefs are the log store refs of the deleted runs' instances,
	// deduplicated and excluding refs a kept run still references
	// (identical output deduplicates across runs, so a pruned run's
	// blob may still back a surviving one). Deleting these blobs is
	// always safe.
	LogRefs []string
}

// Prune deletes all but the newest keep runs, along with their
// instances. It touches only the database — the caller uses the
// returned paths and refs to clean up files and blobs.
func (d *DB) Prune(ctx context.Context, keep int) (result *PruneResult, err error) {
	if keep < 0 {
		return nil, fmt.Errorf("history: prune: keep must be >= 0, got %d", keep)
	}

	conn, err := d.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("history: prune: %w", err)
	}
	defer d.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, fmt.Errorf("history: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	// Everything past the newest keep rows (run IDs sort
	// chronologically). LIMIT -1 means "no limit" in SQLite; OFFSET
	// still applies.
	var expired []string
	result = &PruneResult{}
	err = sqlitex.Execute(conn,
		"SELECT run_id, log_path, archive_path FROM runs ORDER BY run_id DESC LIMIT -1 OFFSET ?",
		&sqlitex.ExecOptions{
			Args: []any{keep},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				expired = append(expired, stmt.ColumnText(0))
				if logPath := stmt.ColumnText(1); logPath != "" {
					result.LogPaths = append(result.LogPaths, logPath)
				}
				if archivePath := stmt.ColumnText(2); archivePath != "" {
					result.ArchivePaths = append(result.ArchivePaths, archivePath)
				}
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("history: prune: selecting expired runs: %w", err)
	}

	if len(expired) == 0 {
		return result, nil
	}

	for _, runID := range expired {
		err = sqlitex.Execute(conn,
			"SELECT log_ref FROM instances WHERE run_id = ? AND log_ref != ''",
			&sqlitex.ExecOptions{
				Args: []any{runID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					result.LogRefs = append(result.LogRefs, stmt.ColumnText(0))
					return nil
				},
			})
		if err != nil {
			return nil, fmt.Errorf("history: prune: collecting log refs for %s: %w", runID, err)
		}

		err = sqlitex.Execute(conn, "DELETE FROM instances WHERE run_id = ?",
			&sqlitex.ExecOptions{Args: []any{runID}})
		if err != nil {
			return nil, fmt.Errorf("history: prune: deleting instances for %s: %w", runID, err)
		}

		err = sqlitex.Execute(conn, "DELETE FROM runs WHERE run_id = ?",
			&sqlitex.ExecOptions{Args: []any{runID}})
		if err != nil {
			return nil, fmt.Errorf("history: prune: deleting run %s: %w", runID, err)
		}
	}

	// Only the pruned rows are gone at this point, so any ref still in
	// the instances table belongs to a kept run and must survive.
	result.LogRefs, err = unreferencedRefs(conn, result.LogRefs)
	if err != nil {
		return nil, err
	}

	result.Removed = len(expired)
	d.logger.Info("history pruned",
		"removed", result.Removed,
		"kept", keep,
	)
	return result, nil
}

// unreferencedRefs filters refs down to those no remaining instance
// row references, deduplicated, in first-seen order.
func unreferencedRefs(conn *sqlite.Conn, refs []string) ([]string, error) {
	seen := make(map[string]bool, len(refs))
	unreferenced := make([]string, 0, len(refs))
	for _, ref := range refs {
		if seen[ref] {
			continue
		}
		seen[ref] = true

		referenced := false
		err := sqlitex.Execute(conn,
			"SELECT 1 FROM instances WHERE log_ref = ? LIMIT 1",
			&sqlitex.ExecOptions{
				Args: []any{ref},
				ResultFunc: func(*sqlite.Stmt) error {
					referenced = true
					return nil
				},
			})
		if err != nil {
			return nil, fmt.Errorf("history: prune: checking ref %s: %w", ref, err)
		}
		if !referenced {
			unreferenced = append(unreferenced, ref)
		}
	}
	return unreferenced, nil
}
