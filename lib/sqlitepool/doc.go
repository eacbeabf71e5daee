// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens SQLite databases the way conveyor wants
// them opened: a fixed-size connection pool over zombiezen.com/go/sqlite
// with one shared set of session pragmas (WAL, synchronous=NORMAL, a
// busy timeout) applied to every connection. The run history database
// is the main customer.
//
// The package stays deliberately thin. It exposes zombiezen's own
// connection type and leaves SQL to the caller: statements through
// sqlitex.Execute, transactions through sqlitex.ImmediateTransaction.
// What it centralizes is the part that must not drift between callers,
// the pragma set and the Take/Put discipline:
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path: dbPath,
//	    OnConnect: func(conn *sqlite.Conn) error {
//	        return sqlitex.ExecuteScript(conn, schema, nil)
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	conn, err := pool.Take(ctx)
//	if err != nil {
//	    return err
//	}
//	defer pool.Put(conn)
//
// A connection is single-goroutine property between Take and Put. The
// OnConnect hook runs once per connection, so schema scripts placed
// there must be idempotent.
package sqlitepool
