// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package command

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/semaphore"
)

// DefaultReleaseTimeout is how long a gate lock may be held before it is
// released without the holder's cooperation.
const DefaultReleaseTimeout = 10 * time.Second

// GateConfig configures a Gate.
type GateConfig struct {
	// ReleaseTimeout bounds how long one invocation holds its lock.
	// Defaults to DefaultReleaseTimeout if zero or negative.
	ReleaseTimeout time.Duration

	// OnForcedRelease, if set, is called after a lock is released by timeout.
	OnForcedRelease func(command, user string)

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// gateEntry is the lock for one (command, user) pair.
type gateEntry struct {
	sem    *semaphore.Weighted
	holder *LockHandle
}

// Gate allows one running invocation per (command, user) pair.
// Acquisition never waits: a held lock is reported as busy.
//
// Each acquisition arms a one-shot timer that force-releases the lock after
// the release timeout. Forced release frees the lock only; the handler that
// held it keeps running.
type Gate struct {
	mu      sync.Mutex
	entries map[string]*gateEntry
	timeout time.Duration
	onForce func(command, user string)
	logger  *slog.Logger
}

// NewGate creates a gate.
func NewGate(cfg GateConfig) *Gate {
	timeout := cfg.ReleaseTimeout
	if timeout <= 0 {
		timeout = DefaultReleaseTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		entries: make(map[string]*gateEntry),
		timeout: timeout,
		onForce: cfg.OnForcedRelease,
		logger:  logger,
	}
}

// ReleaseTimeout returns the effective forced-release timeout.
func (g *Gate) ReleaseTimeout() time.Duration {
	return g.timeout
}

// LockHandle is held by the invocation that acquired a gate lock.
type LockHandle struct {
	ID      ulid.ULID
	Command string
	User    string

	gate  *Gate
	key   string
	timer *time.Timer
}

// TryAcquire takes the lock for (command, user). It returns false without
// blocking if another invocation holds it.
func (g *Gate) TryAcquire(command, user string) (*LockHandle, bool) {
	key := cooldownKey(command, user)

	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[key]
	if !ok {
		e = &gateEntry{sem: semaphore.NewWeighted(1)}
		g.entries[key] = e
	}
	if !e.sem.TryAcquire(1) {
		return nil, false
	}

	h := &LockHandle{
		ID:      ulid.Make(),
		Command: command,
		User:    user,
		gate:    g,
		key:     key,
	}
	e.holder = h
	// Armed under g.mu so a release racing the timer sees h.timer set.
	h.timer = time.AfterFunc(g.timeout, func() { g.forceRelease(h) })
	return h, true
}

// Held reports whether (command, user) is currently locked.
func (g *Gate) Held(command, user string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[cooldownKey(command, user)]
	return ok && e.holder != nil
}

// Release frees the lock if h still holds it. Releasing twice, or after a
// forced release, is a no-op.
func (h *LockHandle) Release() {
	if h == nil {
		return
	}
	if h.gate.release(h) {
		h.timer.Stop()
	}
}

func (g *Gate) forceRelease(h *LockHandle) {
	if !g.release(h) {
		return
	}
	g.logger.Warn("command lock force-released after timeout",
		"command", h.Command,
		"user", h.User,
		"lock_id", h.ID.String(),
		"timeout", g.timeout,
	)
	if g.onForce != nil {
		g.onForce(h.Command, h.User)
	}
}

// release frees the entry only if h is its current holder, so a stale timer
// or a second Release can never free a later holder's lock.
func (g *Gate) release(h *LockHandle) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[h.key]
	if !ok || e.holder != h {
		return false
	}
	e.holder = nil
	e.sem.Release(1)
	return true
}
