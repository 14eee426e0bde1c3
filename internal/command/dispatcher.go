// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package command

import (
	"context"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/botcmd/internal/logging"
	"github.com/holomush/botcmd/internal/store"
	"github.com/holomush/botcmd/pkg/errutil"
)

var tracer = otel.Tracer("botcmd/command")

// DefaultPrefix is the command prefix used when none is configured.
const DefaultPrefix = "!"

// Callbacks for rejected invocations. Each replaces the default silent
// behavior for its condition.
type (
	NotFoundHandler          func(ctx context.Context, msg Message, name string)
	CooldownHandler          func(ctx context.Context, msg Message, cmd Command, left TimeLeft)
	MissingPermissionHandler func(ctx context.Context, msg Message, cmd Command, missing []Permission)
	AlreadyRunningHandler    func(ctx context.Context, msg Message, cmd Command)
	// ErrorHandler receives every failed invocation and replaces the default
	// diagnostic report.
	ErrorHandler func(ctx context.Context, err error, msg Message, command string, args []string)
)

// Dispatcher turns inbound messages into command invocations.
type Dispatcher struct {
	registry       *Registry
	prefix         string
	verbose        bool
	releaseTimeout time.Duration
	gate           *Gate
	cooldowns      *CooldownTracker
	rateLimiter    *RateLimiter // optional, can be nil
	logger         *slog.Logger
	now            func() time.Time

	userErrorReplies bool
	onNotFound       NotFoundHandler
	onCooldown       CooldownHandler
	onMissingPerm    MissingPermissionHandler
	onAlreadyRunning AlreadyRunningHandler
	onError          ErrorHandler
}

// DispatcherOption configures a Dispatcher during construction.
type DispatcherOption func(*Dispatcher)

// WithPrefix sets the command prefix. Defaults to DefaultPrefix.
func WithPrefix(prefix string) DispatcherOption {
	return func(d *Dispatcher) {
		d.prefix = prefix
	}
}

// WithReleaseTimeout sets how long an exclusive command may hold its lock.
// Defaults to DefaultReleaseTimeout.
func WithReleaseTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.releaseTimeout = timeout
	}
}

// WithVerbose enables registration and timing logs.
func WithVerbose(verbose bool) DispatcherOption {
	return func(d *Dispatcher) {
		d.verbose = verbose
	}
}

// WithCooldownTracker sets the cooldown state tracker. Defaults to a tracker
// on an in-memory store.
func WithCooldownTracker(t *CooldownTracker) DispatcherOption {
	return func(d *Dispatcher) {
		d.cooldowns = t
	}
}

// WithRateLimiter enables per-user flood limiting ahead of command lookup.
func WithRateLimiter(rl *RateLimiter) DispatcherOption {
	return func(d *Dispatcher) {
		d.rateLimiter = rl
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithClock replaces time.Now for report timestamps and the default
// cooldown tracker.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// WithUserErrorReplies makes the dispatcher reply to the invoking user with
// the message of a failed invocation's UserError.
func WithUserErrorReplies(enabled bool) DispatcherOption {
	return func(d *Dispatcher) {
		d.userErrorReplies = enabled
	}
}

// WithNotFoundHandler is called for prefixed messages naming no command.
func WithNotFoundHandler(h NotFoundHandler) DispatcherOption {
	return func(d *Dispatcher) {
		d.onNotFound = h
	}
}

// WithCooldownHandler is called when an invocation is rejected by cooldown.
func WithCooldownHandler(h CooldownHandler) DispatcherOption {
	return func(d *Dispatcher) {
		d.onCooldown = h
	}
}

// WithMissingPermissionHandler is called with the permissions a caller lacks.
func WithMissingPermissionHandler(h MissingPermissionHandler) DispatcherOption {
	return func(d *Dispatcher) {
		d.onMissingPerm = h
	}
}

// WithAlreadyRunningHandler replaces the default "already running" reply.
func WithAlreadyRunningHandler(h AlreadyRunningHandler) DispatcherOption {
	return func(d *Dispatcher) {
		d.onAlreadyRunning = h
	}
}

// WithErrorHandler replaces the default diagnostic report for failed
// invocations.
func WithErrorHandler(h ErrorHandler) DispatcherOption {
	return func(d *Dispatcher) {
		d.onError = h
	}
}

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher(registry *Registry, opts ...DispatcherOption) (*Dispatcher, error) {
	if registry == nil {
		return nil, ErrNilRegistry
	}
	d := &Dispatcher{
		registry: registry,
		prefix:   DefaultPrefix,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.cooldowns == nil {
		d.cooldowns = NewCooldownTracker(store.NewMemory(), WithCooldownClock(d.now))
	}
	d.gate = NewGate(GateConfig{
		ReleaseTimeout:  d.releaseTimeout,
		OnForcedRelease: func(command, _ string) { RecordGateForcedRelease(command) },
		Logger:          d.logger,
	})
	d.releaseTimeout = d.gate.ReleaseTimeout()
	return d, nil
}

// Prefix returns the configured command prefix.
func (d *Dispatcher) Prefix() string {
	return d.prefix
}

// Registry returns the command registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Register adds commands with their aliases, stopping at the first failure.
// With verbose logging each command and a summary are logged.
func (d *Dispatcher) Register(cmds ...Command) error {
	start := time.Now()
	for _, cmd := range cmds {
		began := time.Now()
		if err := d.registry.RegisterWithAliases(cmd); err != nil {
			return err
		}
		if d.verbose && !cmd.Disabled() {
			d.logger.Info("registered command",
				"command", cmd.Name(),
				"aliases", cmd.Aliases(),
				"took", time.Since(began),
			)
		}
	}
	if d.verbose {
		d.logger.Info("command registration complete",
			"commands", len(d.registry.All()),
			"prefix", d.prefix,
			"release_timeout", d.releaseTimeout,
			"took", time.Since(start),
		)
	}
	return nil
}

// Dispatch runs the command named by msg, if any, and reports how the
// message was handled. Handler failures never escape: they are rolled back,
// reported, and returned as StatusError.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) (status Status) {
	author := msg.Author()
	if author.Bot {
		return StatusIgnored
	}
	parsed, ok := Parse(d.prefix, msg.Content())
	if !ok {
		return StatusIgnored
	}

	dispatchID := ulid.Make()
	ctx = logging.ContextWithDispatchID(ctx, dispatchID)
	ctx, span := tracer.Start(ctx, "command.dispatch",
		trace.WithAttributes(
			attribute.String("command.name", parsed.Name),
			attribute.String("user.id", author.ID),
			attribute.String("dispatch.id", dispatchID.String()),
		),
	)
	metrics := NewMetricsRecorder()
	defer func() {
		span.SetAttributes(attribute.String("command.status", string(status)))
		if status == StatusError {
			span.SetStatus(codes.Error, "command failed")
		}
		span.End()
		metrics.SetStatus(status)
		metrics.Record()
	}()

	if d.rateLimiter != nil {
		if allowed, wait := d.rateLimiter.Allow(author.ID); !allowed {
			d.reject(ctx, span, ErrRateLimited(wait.Milliseconds()), author)
			return StatusRateLimited
		}
	}

	cmd, ok := d.registry.Get(parsed.Name)
	if !ok {
		d.reject(ctx, span, ErrCommandNotFound(parsed.Name), author)
		if d.onNotFound != nil {
			d.callback(ctx, "not_found", func() { d.onNotFound(ctx, msg, parsed.Name) })
		}
		return StatusNotFound
	}
	metrics.SetCommandName(cmd.Name())
	span.SetAttributes(attribute.String("command.resolved", cmd.Name()))

	var usage *Usage
	if cmd.Cooldown() > 0 {
		res, err := d.cooldowns.Check(ctx, cmd.Name(), author.ID, cmd.Cooldown(), cmd.UsageThreshold())
		if err != nil {
			span.RecordError(err)
			errutil.LogError(ctx, d.logger, "cooldown check failed", err, "command", cmd.Name())
			return StatusError
		}
		if res.OnCooldown {
			d.reject(ctx, span, ErrOnCooldown(cmd.Name(), res.Left), author)
			if d.onCooldown != nil {
				d.callback(ctx, "cooldown", func() { d.onCooldown(ctx, msg, cmd, res.Left) })
			}
			return StatusOnCooldown
		}
		usage = &res.Usage
	}

	if required := cmd.Permissions(); len(required) > 0 {
		if granted, resolved := msg.Permissions(); resolved {
			if missing := MissingPermissions(required, granted); len(missing) > 0 {
				d.reject(ctx, span, ErrMissingPermission(cmd.Name(), missing), author)
				if d.onMissingPerm != nil {
					d.callback(ctx, "missing_permission", func() { d.onMissingPerm(ctx, msg, cmd, missing) })
				}
				return StatusPermissionDenied
			}
		}
	}

	if cmd.Exclusive() {
		lock, acquired := d.gate.TryAcquire(cmd.Name(), author.ID)
		if !acquired {
			busy := ErrAlreadyRunning(cmd.Name())
			d.reject(ctx, span, busy, author)
			if d.onAlreadyRunning != nil {
				d.callback(ctx, "already_running", func() { d.onAlreadyRunning(ctx, msg, cmd) })
			} else {
				d.reply(ctx, msg, busy.Error())
			}
			return StatusAlreadyRunning
		}
		defer lock.Release()
	}

	if err := d.run(ctx, cmd, msg, parsed.Args); err != nil {
		span.RecordError(err)
		d.fail(ctx, err, cmd, usage, msg, parsed.Args)
		return StatusError
	}
	return StatusSuccess
}

// run executes the hook chain under a measured child span.
func (d *Dispatcher) run(ctx context.Context, cmd Command, msg Message, args []string) error {
	ctx, span := tracer.Start(ctx, "command.run",
		trace.WithAttributes(attribute.Int("command.args", len(args))))
	defer span.End()

	start := time.Now()
	err := RunChain(ctx, cmd, msg, args)
	took := time.Since(start)

	RecordCommandDuration(cmd.Name(), took)
	if d.verbose {
		d.logger.DebugContext(ctx, "command finished",
			"command", cmd.Name(),
			"took", took,
			"failed", err != nil,
		)
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// fail runs the error path: cooldown rollback, optional user reply, then the
// error handler or the default report.
func (d *Dispatcher) fail(ctx context.Context, err error, cmd Command, usage *Usage, msg Message, args []string) {
	if usage != nil {
		if rbErr := d.cooldowns.Rollback(ctx, *usage); rbErr != nil {
			errutil.LogError(ctx, d.logger, "cooldown rollback failed", rbErr, "command", cmd.Name())
		} else {
			RecordCooldownRollback(cmd.Name())
		}
	}

	userMsg, isUserErr := UserMessage(err)
	if d.userErrorReplies && isUserErr {
		d.reply(ctx, msg, userMsg)
	}

	if d.onError != nil {
		d.callback(ctx, "error", func() { d.onError(ctx, err, msg, cmd.Name(), args) })
		return
	}
	if d.userErrorReplies && isUserErr {
		d.logger.InfoContext(ctx, "command rejected input",
			"command", cmd.Name(),
			"user_id", msg.Author().ID,
			"reason", userMsg,
		)
		return
	}
	d.report(ctx, err, cmd.Name(), args, msg.Author())
}

// reject records why an invocation was turned away, as a span event and a
// debug log.
func (d *Dispatcher) reject(ctx context.Context, span trace.Span, err error, author Author) {
	span.AddEvent("command.rejected", trace.WithAttributes(attribute.String("reason", err.Error())))
	d.logger.DebugContext(ctx, "command rejected", append(errutil.ErrorAttrs(err), "user_id", author.ID)...)
}

func (d *Dispatcher) reply(ctx context.Context, msg Message, text string) {
	if err := msg.Reply(ctx, text); err != nil {
		d.logger.WarnContext(ctx, "reply failed", "user_id", msg.Author().ID, "error", err)
	}
}

// callback runs integrator code, containing panics.
func (d *Dispatcher) callback(ctx context.Context, name string, fn func()) {
	if err := oops.Code(CodeHandlerFailed).With("callback", name).Recover(fn); err != nil {
		errutil.LogError(ctx, d.logger, "dispatch callback panicked", err)
	}
}
