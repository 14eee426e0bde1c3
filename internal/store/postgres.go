// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Connection retry policy for OpenPostgres.
const (
	connectRetries = 5
	connectBackoff = 200 * time.Millisecond
)

// poolIface is the subset of pgxpool.Pool used by Postgres, so tests can
// substitute pgxmock.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Postgres is a Backend on the kv_entries table. The schema is managed by
// Migrator.
type Postgres struct {
	pool poolIface
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool poolIface) *Postgres {
	return &Postgres{pool: pool}
}

// OpenPostgres connects to dsn, retrying the initial ping with exponential
// backoff.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, oops.Code(CodeStoreFailed).
			With("driver", DriverPostgres).
			Hint("set BOTCMD_DATABASE_URL or store.dsn").
			Errorf("postgres store requires a DSN")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code(CodeStoreFailed).With("driver", DriverPostgres).With("operation", "connect").Wrap(err)
	}

	backoff := retry.WithMaxRetries(connectRetries, retry.NewExponential(connectBackoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code(CodeStoreFailed).
			With("driver", DriverPostgres).
			With("operation", "ping").
			With("attempts", connectRetries+1).
			Wrap(err)
	}
	return &Postgres{pool: pool}, nil
}

// Table returns the named table.
func (p *Postgres) Table(name string) KV {
	return &postgresTable{pool: p.pool, name: name}
}

// Close closes the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

type postgresTable struct {
	pool poolIface
	name string
}

func (t *postgresTable) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := t.pool.QueryRow(ctx,
		`SELECT value FROM kv_entries WHERE table_name = $1 AND key = $2`,
		t.name, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, t.fail("get", key, err)
	}
	return value, true, nil
}

func (t *postgresTable) Set(ctx context.Context, key string, value []byte) error {
	_, err := t.pool.Exec(ctx,
		`INSERT INTO kv_entries (table_name, key, value, updated_at) VALUES ($1, $2, $3, now())
		 ON CONFLICT (table_name, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		t.name, key, value)
	if err != nil {
		return t.fail("set", key, err)
	}
	return nil
}

// Ensure relies on the no-op update so RETURNING yields the existing row on
// conflict.
func (t *postgresTable) Ensure(ctx context.Context, key string, def []byte) ([]byte, error) {
	var value []byte
	err := t.pool.QueryRow(ctx,
		`INSERT INTO kv_entries (table_name, key, value) VALUES ($1, $2, $3)
		 ON CONFLICT (table_name, key) DO UPDATE SET value = kv_entries.value
		 RETURNING value`,
		t.name, key, def).Scan(&value)
	if err != nil {
		return nil, t.fail("ensure", key, err)
	}
	return value, nil
}

func (t *postgresTable) fail(op, key string, err error) error {
	builder := oops.Code(CodeStoreFailed).
		With("driver", DriverPostgres).
		With("operation", op).
		With("table", t.name).
		With("key", key)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable {
		builder = builder.Hint("kv_entries is missing; run `botcmd migrate up`")
	}
	return builder.Wrap(err)
}
