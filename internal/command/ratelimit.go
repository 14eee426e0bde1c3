// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package command

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// Default flood limiting values.
const (
	// DefaultBurstCapacity is the number of commands a user can send in a
	// burst before flood limiting kicks in.
	DefaultBurstCapacity = 5

	// DefaultSustainedRate is the refill rate in commands per second.
	DefaultSustainedRate = 1.0

	// MinSustainedRate keeps the limiter from starving a user forever.
	MinSustainedRate = 0.1

	// DefaultCleanupInterval is how often idle users are dropped.
	DefaultCleanupInterval = 5 * time.Minute

	// DefaultUserMaxAge is how long a user may stay idle before cleanup.
	DefaultUserMaxAge = time.Hour
)

// RateLimiterConfig configures the rate limiter.
type RateLimiterConfig struct {
	// BurstCapacity defaults to DefaultBurstCapacity if zero or negative.
	BurstCapacity int

	// SustainedRate defaults to DefaultSustainedRate if zero or negative.
	SustainedRate float64

	CleanupInterval time.Duration
	UserMaxAge      time.Duration

	// Registerer, if set, receives the tracked-users gauge.
	Registerer prometheus.Registerer
}

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-user flood limiter applied to every prefixed message
// before command lookup, independent of per-command cooldowns.
//
// A background goroutine drops idle users. Call Close to stop it.
type RateLimiter struct {
	mu         sync.Mutex
	users      map[string]*userLimiter
	burst      int
	limit      rate.Limit
	userMaxAge time.Duration
	now        func() time.Time

	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	userGauge prometheus.Gauge
}

// NewRateLimiter creates a rate limiter and starts its cleanup goroutine.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	burst := cfg.BurstCapacity
	if burst <= 0 {
		burst = DefaultBurstCapacity
	}
	sustained := cfg.SustainedRate
	if sustained <= 0 {
		sustained = DefaultSustainedRate
	}
	sustained = max(sustained, MinSustainedRate)

	cleanupInterval := cfg.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	maxAge := cfg.UserMaxAge
	if maxAge <= 0 {
		maxAge = DefaultUserMaxAge
	}

	rl := &RateLimiter{
		users:      make(map[string]*userLimiter),
		burst:      burst,
		limit:      rate.Limit(sustained),
		userMaxAge: maxAge,
		now:        time.Now,
		stopChan:   make(chan struct{}),
	}

	if cfg.Registerer != nil {
		rl.userGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "botcmd_ratelimiter_users",
			Help: "Current number of users tracked by the flood limiter",
		})
		cfg.Registerer.MustRegister(rl.userGauge)
	}

	rl.wg.Add(1)
	go rl.cleanupLoop(cleanupInterval)

	return rl
}

// Allow consumes one token for userID. When no token is available it
// returns false and the wait until the next one.
func (rl *RateLimiter) Allow(userID string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	u, ok := rl.users[userID]
	if !ok {
		u = &userLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.users[userID] = u
		rl.updateGauge()
	}
	u.lastSeen = now

	r := u.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, 0
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// UserCount returns the number of tracked users.
func (rl *RateLimiter) UserCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.users)
}

// Cleanup drops users not seen within maxAge.
func (rl *RateLimiter) Cleanup(maxAge time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	threshold := rl.now().Add(-maxAge)
	for id, u := range rl.users {
		if u.lastSeen.Before(threshold) {
			delete(rl.users, id)
		}
	}
	rl.updateGauge()
}

// updateGauge must be called with rl.mu held.
func (rl *RateLimiter) updateGauge() {
	if rl.userGauge != nil {
		rl.userGauge.Set(float64(len(rl.users)))
	}
}

func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	defer rl.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopChan:
			return
		case <-ticker.C:
			rl.Cleanup(rl.userMaxAge)
		}
	}
}

// Close stops the cleanup goroutine and waits for it to exit. It is safe to
// call more than once.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stopChan) })
	rl.wg.Wait()
}
