// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/samber/oops"
	// Register the pure-Go sqlite driver with database/sql.
	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS kv (
	tbl   TEXT NOT NULL,
	key   TEXT NOT NULL,
	value BLOB NOT NULL,
	PRIMARY KEY (tbl, key)
)`

// SQLite is a single-file Backend for deployments without a database server.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and prepares its schema.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, oops.Code(CodeStoreFailed).With("driver", DriverSQLite).With("path", path).Wrap(err)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases from splitting per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close() //nolint:errcheck // schema error takes precedence
		return nil, oops.Code(CodeStoreFailed).
			With("driver", DriverSQLite).
			With("path", path).
			With("operation", "create schema").
			Wrap(err)
	}
	return &SQLite{db: db}, nil
}

// Table returns the named table.
func (s *SQLite) Table(name string) KV {
	return &sqliteTable{db: s.db, name: name}
}

// Close closes the database.
func (s *SQLite) Close() error {
	if err := s.db.Close(); err != nil {
		return oops.Code(CodeStoreFailed).With("driver", DriverSQLite).Wrap(err)
	}
	return nil
}

type sqliteTable struct {
	db   *sql.DB
	name string
}

func (t *sqliteTable) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := t.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE tbl = ? AND key = ?`, t.name, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, t.fail("get", key, err)
	}
	return value, true, nil
}

func (t *sqliteTable) Set(ctx context.Context, key string, value []byte) error {
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO kv (tbl, key, value) VALUES (?, ?, ?)
		 ON CONFLICT (tbl, key) DO UPDATE SET value = excluded.value`,
		t.name, key, value)
	if err != nil {
		return t.fail("set", key, err)
	}
	return nil
}

func (t *sqliteTable) Ensure(ctx context.Context, key string, def []byte) ([]byte, error) {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, t.fail("ensure", key, err)
	}
	defer func() { _ = tx.Rollback() }() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO kv (tbl, key, value) VALUES (?, ?, ?)`,
		t.name, key, def); err != nil {
		return nil, t.fail("ensure", key, err)
	}
	var value []byte
	if err := tx.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE tbl = ? AND key = ?`, t.name, key).Scan(&value); err != nil {
		return nil, t.fail("ensure", key, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, t.fail("ensure", key, err)
	}
	return value, nil
}

func (t *sqliteTable) fail(op, key string, err error) error {
	return oops.Code(CodeStoreFailed).
		With("driver", DriverSQLite).
		With("operation", op).
		With("table", t.name).
		With("key", key).
		Wrap(err)
}
