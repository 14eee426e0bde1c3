// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package store provides the key-value persistence used for command cooldown
// and usage state. Backends are grouped into named tables; each table is an
// independent key space.
package store

import (
	"context"
	"strings"

	"github.com/samber/oops"
)

// Error codes for store failures.
const (
	CodeStoreFailed   = "STORE_FAILED"
	CodeDecodeFailed  = "DECODE_FAILED"
	CodeEncodeFailed  = "ENCODE_FAILED"
	CodeUnknownDriver = "UNKNOWN_DRIVER"
)

// Driver names accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// KV is a single table of opaque values keyed by string.
type KV interface {
	// Get returns the stored value and true, or nil and false when the key is absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error
	// Ensure returns the stored value, writing def first if the key is absent.
	Ensure(ctx context.Context, key string, def []byte) ([]byte, error)
}

// Backend hands out tables that share one underlying connection.
type Backend interface {
	Table(name string) KV
	Close() error
}

// Options selects and configures a backend for Open.
type Options struct {
	Driver string
	// DSN is the PostgreSQL connection string.
	DSN string
	// Path is the SQLite database file. ":memory:" keeps the data in process.
	Path string
}

// Open constructs the backend named by opts.Driver. An empty driver selects
// the in-memory backend.
func Open(ctx context.Context, opts Options) (Backend, error) {
	switch strings.ToLower(opts.Driver) {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverSQLite:
		return OpenSQLite(ctx, opts.Path)
	case DriverPostgres, "postgresql":
		return OpenPostgres(ctx, opts.DSN)
	default:
		return nil, oops.Code(CodeUnknownDriver).
			With("driver", opts.Driver).
			Hint("supported drivers: memory, sqlite, postgres").
			Errorf("unknown store driver %q", opts.Driver)
	}
}
