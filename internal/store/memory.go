// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"context"
	"slices"
	"sync"
)

// Memory is a process-local Backend. State is lost on restart.
type Memory struct {
	mu     sync.RWMutex
	tables map[string]map[string][]byte
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{tables: make(map[string]map[string][]byte)}
}

// Table returns the named table, creating it on first use.
func (m *Memory) Table(name string) KV {
	return &memoryTable{m: m, name: name}
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}

type memoryTable struct {
	m    *Memory
	name string
}

func (t *memoryTable) Get(_ context.Context, key string) ([]byte, bool, error) {
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()

	v, ok := t.m.tables[t.name][key]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(v), true, nil
}

func (t *memoryTable) Set(_ context.Context, key string, value []byte) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	t.bucket()[key] = slices.Clone(value)
	return nil
}

func (t *memoryTable) Ensure(_ context.Context, key string, def []byte) ([]byte, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	b := t.bucket()
	if v, ok := b[key]; ok {
		return slices.Clone(v), nil
	}
	b[key] = slices.Clone(def)
	return slices.Clone(def), nil
}

// bucket must be called with the write lock held.
func (t *memoryTable) bucket() map[string][]byte {
	b, ok := t.m.tables[t.name]
	if !ok {
		b = make(map[string][]byte)
		t.m.tables[t.name] = b
	}
	return b
}
