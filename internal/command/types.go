// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package command provides the command registry, parser, and dispatch
// pipeline for chat bots: cooldowns, exclusive runs, permission checks, and
// hooks around each handler.
package command

import (
	"context"
	"strings"
	"time"
)

// Permission names a capability a chat platform grants to a member, such as
// "MANAGE_MESSAGES".
type Permission string

// Author identifies who sent a message.
type Author struct {
	ID       string
	Username string
	// Bot is set for bot and system accounts; their messages are never
	// dispatched.
	Bot bool
}

// Message is an inbound chat message as seen by the dispatcher.
type Message interface {
	Content() string
	Author() Author
	// Permissions returns the author's granted permissions. ok is false when
	// the platform has no permission context for the message (direct
	// messages, bare authors); permission checks are skipped in that case.
	Permissions() (granted []Permission, ok bool)
	Reply(ctx context.Context, text string) error
}

// Hook runs before or after a command's handler.
type Hook func(ctx context.Context, msg Message, args []string) error

// Command is an invocable unit of bot behavior.
type Command interface {
	Name() string
	Aliases() []string
	Description() string
	// Disabled commands are skipped at registration.
	Disabled() bool
	// Exclusive commands allow one running invocation per user.
	Exclusive() bool
	// Cooldown is the window applied once UsageThreshold is reached. Zero
	// disables rate limiting for the command.
	Cooldown() time.Duration
	UsageThreshold() int
	Permissions() []Permission
	PreHooks() []Hook
	PostHooks() []Hook
	Run(ctx context.Context, msg Message, args []string) error
}

// RunFunc is the handler signature used by New.
type RunFunc func(ctx context.Context, msg Message, args []string) error

// Spec declares a command's metadata for New.
type Spec struct {
	Name           string
	Aliases        []string
	Description    string
	Disabled       bool
	Exclusive      bool
	Cooldown       time.Duration
	UsageThreshold int
	Permissions    []Permission
	PreHooks       []Hook
	PostHooks      []Hook
}

// SpecCommand is a Command built from a Spec and a RunFunc.
type SpecCommand struct {
	spec Spec
	run  RunFunc
}

// New builds a Command. A UsageThreshold below 1 is treated as 1, so the
// first invocation starts the cooldown.
func New(spec Spec, run RunFunc) *SpecCommand {
	if spec.UsageThreshold < 1 {
		spec.UsageThreshold = 1
	}
	return &SpecCommand{spec: spec, run: run}
}

// NewReply builds a command that replies with a fixed template. "{args}" is
// replaced by the space-joined arguments and "{user}" by the author's name.
func NewReply(spec Spec, template string) *SpecCommand {
	return New(spec, func(ctx context.Context, msg Message, args []string) error {
		text := strings.NewReplacer(
			"{args}", strings.Join(args, " "),
			"{user}", msg.Author().Username,
		).Replace(template)
		return msg.Reply(ctx, text)
	})
}

func (c *SpecCommand) Name() string              { return c.spec.Name }
func (c *SpecCommand) Aliases() []string         { return c.spec.Aliases }
func (c *SpecCommand) Description() string       { return c.spec.Description }
func (c *SpecCommand) Disabled() bool            { return c.spec.Disabled }
func (c *SpecCommand) Exclusive() bool           { return c.spec.Exclusive }
func (c *SpecCommand) Cooldown() time.Duration   { return c.spec.Cooldown }
func (c *SpecCommand) UsageThreshold() int       { return c.spec.UsageThreshold }
func (c *SpecCommand) Permissions() []Permission { return c.spec.Permissions }
func (c *SpecCommand) PreHooks() []Hook          { return c.spec.PreHooks }
func (c *SpecCommand) PostHooks() []Hook         { return c.spec.PostHooks }

// Run invokes the handler. A nil handler is a no-op.
func (c *SpecCommand) Run(ctx context.Context, msg Message, args []string) error {
	if c.run == nil {
		return nil
	}
	return c.run(ctx, msg, args)
}
