// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package command

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Status is the terminal state of one dispatched message.
type Status string

// Dispatch outcomes, also used as the status metric label.
const (
	StatusIgnored          Status = "ignored"
	StatusNotFound         Status = "not_found"
	StatusRateLimited      Status = "rate_limited"
	StatusOnCooldown       Status = "on_cooldown"
	StatusPermissionDenied Status = "permission_denied"
	StatusAlreadyRunning   Status = "already_running"
	StatusError            Status = "error"
	StatusSuccess          Status = "success"
)

// CommandExecutions counts dispatched commands by outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var CommandExecutions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "botcmd_command_executions_total",
		Help: "Total number of dispatched commands by outcome",
	},
	[]string{"command", "status"},
)

// CommandDuration observes how long the hook chain and handler ran.
var CommandDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "botcmd_command_duration_seconds",
		Help:    "Command handler duration in seconds, hooks included",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"command"},
)

// GateForcedReleases counts locks released by timeout.
var GateForcedReleases = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "botcmd_gate_forced_releases_total",
		Help: "Total number of exclusive-run locks released by timeout",
	},
	[]string{"command"},
)

// CooldownRollbacks counts cooldown rollbacks after failed invocations.
var CooldownRollbacks = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "botcmd_cooldown_rollbacks_total",
		Help: "Total number of cooldown rollbacks after handler failures",
	},
	[]string{"command"},
)

// RegisterMetrics registers command package metrics with reg.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(CommandExecutions, CommandDuration, GateForcedReleases, CooldownRollbacks)
}

// RecordCommandExecution increments the execution counter.
func RecordCommandExecution(command string, status Status) {
	CommandExecutions.WithLabelValues(command, string(status)).Inc()
}

// RecordCommandDuration observes a handler stage duration.
func RecordCommandDuration(command string, d time.Duration) {
	CommandDuration.WithLabelValues(command).Observe(d.Seconds())
}

// RecordGateForcedRelease increments the forced-release counter.
func RecordGateForcedRelease(command string) {
	GateForcedReleases.WithLabelValues(command).Inc()
}

// RecordCooldownRollback increments the rollback counter.
func RecordCooldownRollback(command string) {
	CooldownRollbacks.WithLabelValues(command).Inc()
}
