// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// DefaultPoolSize is used when Config.PoolSize is zero. The history
// database sees one writer (the runner recording a finished run) and
// short bursts of readers (list/show); a handful of connections covers
// that without holding dozens of file handles open.
const DefaultPoolSize = 4

// Config describes the pool to open. Path is required.
type Config struct {
	// Path is the database file, created on first open. The parent
	// directory must already exist. ":memory:" works for tests but
	// only with PoolSize 1: each in-memory connection is its own
	// database.
	Path string

	// PoolSize caps concurrent connections. Zero or negative means
	// DefaultPoolSize. SQLite serializes writes no matter how many
	// connections exist, so raising this only helps readers.
	PoolSize int

	// Logger receives open/close records. Nil discards them.
	Logger *slog.Logger

	// OnConnect runs once per connection after the session pragmas,
	// before the connection serves its first caller. Schema creation
	// goes here; the statements must be idempotent since every
	// connection runs them. A failing OnConnect discards the
	// connection and surfaces the error from Take.
	OnConnect func(conn *sqlite.Conn) error
}

// Pool hands out SQLite connections configured with the session
// pragmas this package standardizes on. The pool itself is safe for
// concurrent use; a borrowed connection belongs to one goroutine until
// it is Put back.
type Pool struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// sessionPragmas run on every connection before OnConnect.
//
// WAL keeps `history list` readable while the watch daemon records a
// finished run. synchronous=NORMAL trades power-failure durability for
// not fsyncing every commit; the JSONL run log is the recovery source,
// so a torn last row is re-derivable. busy_timeout absorbs the writer
// lock instead of bubbling SQLITE_BUSY to callers.
var sessionPragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
}

// Open opens the database at cfg.Path, creating the file if needed.
// Connections are established lazily; pragma or OnConnect failures
// therefore surface from the first Take, not from Open. The caller
// owns the pool and must Close it.
func Open(cfg Config) (*Pool, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlitepool: Path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	size := cfg.PoolSize
	if size <= 0 {
		size = DefaultPoolSize
	}

	inner, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize: size,
		PrepareConn: func(conn *sqlite.Conn) error {
			for _, pragma := range sessionPragmas {
				if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
					return fmt.Errorf("sqlitepool: %s: %w", pragma, err)
				}
			}
			if cfg.OnConnect == nil {
				return nil
			}
			if err := cfg.OnConnect(conn); err != nil {
				return fmt.Errorf("sqlitepool: OnConnect: %w", err)
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: opening %s: %w", cfg.Path, err)
	}

	logger.Debug("sqlite pool open", "path", cfg.Path, "size", size)
	return &Pool{pool: inner, logger: logger, path: cfg.Path}, nil
}

// Take borrows a connection, blocking until one is free or ctx ends.
// Pair every successful Take with a Put, usually deferred.
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: take: %w", err)
	}
	return conn, nil
}

// Put returns a borrowed connection. The connection must not be used
// afterwards. Put(nil) is a no-op.
func (p *Pool) Put(conn *sqlite.Conn) {
	p.pool.Put(conn)
}

// Close waits for borrowed connections to come back, then closes
// everything. Take fails after Close.
func (p *Pool) Close() error {
	if err := p.pool.Close(); err != nil {
		return fmt.Errorf("sqlitepool: closing %s: %w", p.path, err)
	}
	p.logger.Debug("sqlite pool closed", "path", p.path)
	return nil
}
