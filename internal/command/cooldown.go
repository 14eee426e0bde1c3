// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package command

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/botcmd/internal/store"
)

// Store tables holding cooldown state, keyed "{command}-{user}".
const (
	CooldownTable = "cooldowns"
	UsageTable    = "command_usages"
)

// expiredCooldown is written on rollback; any past instant reads as "not on
// cooldown".
var expiredCooldown = time.UnixMilli(2000).UTC()

func cooldownKey(command, user string) string {
	return command + "-" + user
}

// Usage describes the state transition applied by one recorded invocation.
// It is what Rollback needs to undo that invocation.
type Usage struct {
	Command string
	User    string
	// Count is the stored usage after the invocation: 0 when it started a
	// cooldown.
	Count int
	// Previous is the stored usage before the invocation.
	Previous int
	// Triggered is set when the invocation reached the threshold and started
	// a cooldown.
	Triggered bool
	// Expiry is the cooldown expiry written when Triggered.
	Expiry time.Time
}

// TimeLeft is the remaining cooldown, decomposed for display.
type TimeLeft struct {
	Remaining time.Duration
	Hours     int
	Minutes   int
	Seconds   int
}

func newTimeLeft(d time.Duration) TimeLeft {
	if d <= 0 {
		return TimeLeft{}
	}
	return TimeLeft{
		Remaining: d,
		Hours:     int(d / time.Hour),
		Minutes:   int(d % time.Hour / time.Minute),
		Seconds:   int(d % time.Minute / time.Second),
	}
}

// Ready reports whether the cooldown has passed.
func (t TimeLeft) Ready() bool {
	return t.Remaining <= 0
}

// String renders "ready" or "H hours, M mins, S secs".
func (t TimeLeft) String() string {
	if t.Ready() {
		return "ready"
	}
	return fmt.Sprintf("%d hours, %d mins, %d secs", t.Hours, t.Minutes, t.Seconds)
}

// CooldownResult is the outcome of Check.
type CooldownResult struct {
	// OnCooldown is set when the invocation was rejected; Left holds the
	// remaining time and Usage is zero.
	OnCooldown bool
	Left       TimeLeft
	// Usage is the recorded invocation when OnCooldown is false.
	Usage Usage
}

// CooldownTracker keeps per-(command, user) usage counters and cooldown
// expiries in a store backend.
//
// Operations on one key are serialised by an in-process lock, so concurrent
// invocations by the same user cannot interleave their read-modify-write.
// Nothing coordinates separate processes sharing a persistent backend.
type CooldownTracker struct {
	expiries *store.Table[time.Time]
	usages   *store.Table[int]
	now      func() time.Time
	locks    keyedMutex
}

// CooldownOption configures a CooldownTracker.
type CooldownOption func(*CooldownTracker)

// WithCooldownClock replaces time.Now.
func WithCooldownClock(now func() time.Time) CooldownOption {
	return func(t *CooldownTracker) {
		t.now = now
	}
}

// NewCooldownTracker creates a tracker on the cooldowns and command_usages
// tables of b.
func NewCooldownTracker(b store.Backend, opts ...CooldownOption) *CooldownTracker {
	t := &CooldownTracker{
		expiries: store.NewTable[time.Time](b, CooldownTable),
		usages:   store.NewTable[int](b, UsageTable),
		now:      time.Now,
		locks:    keyedMutex{locks: make(map[string]*keyLock)},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// IsOnCooldown reports whether (command, user) has an unexpired cooldown.
func (t *CooldownTracker) IsOnCooldown(ctx context.Context, command, user string) (bool, error) {
	defer t.locks.lock(cooldownKey(command, user))()

	left, err := t.timeLeft(ctx, command, user)
	if err != nil {
		return false, err
	}
	return !left.Ready(), nil
}

// TimeLeft returns the remaining cooldown for (command, user).
func (t *CooldownTracker) TimeLeft(ctx context.Context, command, user string) (TimeLeft, error) {
	defer t.locks.lock(cooldownKey(command, user))()
	return t.timeLeft(ctx, command, user)
}

// UsageCount returns the stored usage counter for (command, user).
func (t *CooldownTracker) UsageCount(ctx context.Context, command, user string) (int, error) {
	defer t.locks.lock(cooldownKey(command, user))()

	n, err := t.usages.Ensure(ctx, cooldownKey(command, user), 0)
	if err != nil {
		return 0, t.fail(err, "usage", command, user)
	}
	return n, nil
}

// RecordInvocation counts one invocation. When the new count reaches
// threshold the cooldown starts (expiry = now + duration) and the count
// resets to zero. A threshold below 1 is treated as 1.
func (t *CooldownTracker) RecordInvocation(ctx context.Context, command, user string, duration time.Duration, threshold int) (Usage, error) {
	defer t.locks.lock(cooldownKey(command, user))()
	return t.record(ctx, command, user, duration, threshold)
}

// Check rejects the invocation if (command, user) is on cooldown and records
// it otherwise, as one step under the key's lock.
func (t *CooldownTracker) Check(ctx context.Context, command, user string, duration time.Duration, threshold int) (CooldownResult, error) {
	defer t.locks.lock(cooldownKey(command, user))()

	left, err := t.timeLeft(ctx, command, user)
	if err != nil {
		return CooldownResult{}, err
	}
	if !left.Ready() {
		return CooldownResult{OnCooldown: true, Left: left}, nil
	}

	u, err := t.record(ctx, command, user, duration, threshold)
	if err != nil {
		return CooldownResult{}, err
	}
	return CooldownResult{Usage: u}, nil
}

// Rollback undoes a recorded invocation after its handler failed: the
// cooldown is cleared and the counter goes back one step (floor 0). For an
// invocation that started the cooldown, one step back is the count it found,
// threshold-1.
func (t *CooldownTracker) Rollback(ctx context.Context, u Usage) error {
	key := cooldownKey(u.Command, u.User)
	defer t.locks.lock(key)()

	if err := t.expiries.Set(ctx, key, expiredCooldown); err != nil {
		return t.fail(err, "rollback", u.Command, u.User)
	}

	var restored int
	if u.Triggered {
		restored = u.Previous
	} else {
		current, err := t.usages.Ensure(ctx, key, 0)
		if err != nil {
			return t.fail(err, "rollback", u.Command, u.User)
		}
		restored = max(current-1, 0)
	}
	if err := t.usages.Set(ctx, key, restored); err != nil {
		return t.fail(err, "rollback", u.Command, u.User)
	}
	return nil
}

func (t *CooldownTracker) timeLeft(ctx context.Context, command, user string) (TimeLeft, error) {
	expiry, ok, err := t.expiries.Get(ctx, cooldownKey(command, user))
	if err != nil {
		return TimeLeft{}, t.fail(err, "time_left", command, user)
	}
	if !ok {
		return TimeLeft{}, nil
	}
	return newTimeLeft(expiry.Sub(t.now())), nil
}

func (t *CooldownTracker) record(ctx context.Context, command, user string, duration time.Duration, threshold int) (Usage, error) {
	key := cooldownKey(command, user)
	threshold = max(threshold, 1)

	prev, err := t.usages.Ensure(ctx, key, 0)
	if err != nil {
		return Usage{}, t.fail(err, "record", command, user)
	}
	u := Usage{Command: command, User: user, Previous: prev, Count: prev + 1}

	if u.Count >= threshold {
		u.Triggered = true
		u.Count = 0
		u.Expiry = t.now().Add(duration)
		if err := t.expiries.Set(ctx, key, u.Expiry); err != nil {
			return Usage{}, t.fail(err, "record", command, user)
		}
	}
	if err := t.usages.Set(ctx, key, u.Count); err != nil {
		return Usage{}, t.fail(err, "record", command, user)
	}
	return u, nil
}

func (t *CooldownTracker) fail(err error, op, command, user string) error {
	return oops.Code(CodeStoreFailed).
		With("operation", op).
		With("command", command).
		With("user", user).
		Wrap(err)
}

// keyedMutex hands out one mutex per key and drops it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

// lock acquires key's mutex and returns its unlock function.
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
