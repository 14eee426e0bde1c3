// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"context"
	"encoding/json"

	"github.com/samber/oops"
)

// Table is a typed view over a KV table. Values are stored as JSON.
type Table[V any] struct {
	name string
	kv   KV
}

// NewTable returns a typed view of the named table in b.
func NewTable[V any](b Backend, name string) *Table[V] {
	return &Table[V]{name: name, kv: b.Table(name)}
}

// Name returns the table name.
func (t *Table[V]) Name() string {
	return t.name
}

// Get returns the decoded value for key. The second result is false when the
// key has never been written.
func (t *Table[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	raw, ok, err := t.kv.Get(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}
	v, err := t.decode(key, raw)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Set encodes and stores v under key.
func (t *Table[V]) Set(ctx context.Context, key string, v V) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return oops.Code(CodeEncodeFailed).With("table", t.name).With("key", key).Wrap(err)
	}
	return t.kv.Set(ctx, key, raw)
}

// Ensure returns the value for key, storing def first if the key is absent.
func (t *Table[V]) Ensure(ctx context.Context, key string, def V) (V, error) {
	var zero V
	raw, err := json.Marshal(def)
	if err != nil {
		return zero, oops.Code(CodeEncodeFailed).With("table", t.name).With("key", key).Wrap(err)
	}
	got, err := t.kv.Ensure(ctx, key, raw)
	if err != nil {
		return zero, err
	}
	return t.decode(key, got)
}

func (t *Table[V]) decode(key string, raw []byte) (V, error) {
	var v V
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, oops.Code(CodeDecodeFailed).With("table", t.name).With("key", key).Wrap(err)
	}
	return v, nil
}
