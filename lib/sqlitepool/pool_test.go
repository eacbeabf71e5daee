// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/conveyor/lib/sqlitepool"
)

// newPool opens a pool over a fresh database file and closes it when
// the test ends.
func newPool(t *testing.T, onConnect func(*sqlite.Conn) error) *sqlitepool.Pool {
	t.Helper()
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:      filepath.Join(t.TempDir(), "pool.db"),
		PoolSize:  4,
		OnConnect: onConnect,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := pool.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return pool
}

// queryText runs a single-row query and returns the first column as
// text.
func queryText(t *testing.T, conn *sqlite.Conn, query string) string {
	t.Helper()
	var value string
	err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			value = stmt.ColumnText(0)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("%s: %v", query, err)
	}
	return value
}

func TestSessionPragmas(t *testing.T) {
	pool := newPool(t, nil)
	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	checks := []struct {
		pragma string
		want   string
	}{
		{"PRAGMA journal_mode", "wal"},
		{"PRAGMA synchronous", "1"}, // NORMAL
		{"PRAGMA busy_timeout", "5000"},
	}
	for _, check := range checks {
		if got := queryText(t, conn, check.pragma); got != check.want {
			t.Errorf("%s = %q, want %q", check.pragma, got, check.want)
		}
	}
}

func TestOnConnectCreatesSchema(t *testing.T) {
	pool := newPool(t, func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteScript(conn, `
			CREATE TABLE IF NOT EXISTS runs (
				run_id   TEXT PRIMARY KEY,
				workflow TEXT NOT NULL
			);
		`, nil)
	})

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	err = sqlitex.Execute(conn, "INSERT INTO runs (run_id, workflow) VALUES (?, ?)",
		&sqlitex.ExecOptions{Args: []any{"r-20260823-101500-ab12", "ci"}})
	if err != nil {
		t.Fatalf("insert into OnConnect-created table: %v", err)
	}
	if got := queryText(t, conn, "SELECT workflow FROM runs"); got != "ci" {
		t.Errorf("workflow = %q, want %q", got, "ci")
	}
}

func TestOnConnectErrorSurfacesFromTake(t *testing.T) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path: filepath.Join(t.TempDir(), "broken.db"),
		OnConnect: func(conn *sqlite.Conn) error {
			return fmt.Errorf("schema version mismatch")
		},
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pool.Close()

	if _, err := pool.Take(context.Background()); err == nil {
		t.Fatal("Take succeeded despite failing OnConnect")
	}
}

func TestConcurrentReaders(t *testing.T) {
	pool := newPool(t, func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteScript(conn,
			"CREATE TABLE IF NOT EXISTS durations (ms INTEGER NOT NULL);", nil)
	})

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	err = sqlitex.ExecuteScript(conn,
		"INSERT INTO durations (ms) VALUES (100), (200), (300), (400);", nil)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	pool.Put(conn)

	const readers = 8
	var group sync.WaitGroup
	failures := make(chan error, readers)
	for range readers {
		group.Add(1)
		go func() {
			defer group.Done()
			conn, err := pool.Take(context.Background())
			if err != nil {
				failures <- err
				return
			}
			defer pool.Put(conn)

			var total int64
			err = sqlitex.Execute(conn, "SELECT ms FROM durations", &sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					total += stmt.ColumnInt64(0)
					return nil
				},
			})
			switch {
			case err != nil:
				failures <- err
			case total != 1000:
				failures <- fmt.Errorf("total = %d, want 1000", total)
			}
		}()
	}
	group.Wait()
	close(failures)
	for err := range failures {
		t.Error(err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := sqlitepool.Open(sqlitepool.Config{}); err == nil {
		t.Fatal("Open accepted an empty Path")
	}
}

func TestTakeHonorsContext(t *testing.T) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     filepath.Join(t.TempDir(), "single.db"),
		PoolSize: 1,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pool.Close()

	held, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}

	// The only connection is out; a cancelled context must fail fast
	// rather than block forever.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.Take(ctx); err == nil {
		t.Fatal("Take succeeded with a cancelled context on an exhausted pool")
	}

	pool.Put(held)
}
