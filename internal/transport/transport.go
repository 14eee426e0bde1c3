// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package transport connects chat platforms to the command dispatcher.
// Each subpackage adapts one platform's messages to command.Message.
package transport

import (
	"context"

	"github.com/holomush/botcmd/internal/command"
)

// Names of the supported transports.
const (
	Discord  = "discord"
	Telegram = "telegram"
	Console  = "console"
)

// Dispatcher handles one inbound message. *command.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg command.Message) command.Status
}

// Runner receives messages until ctx is cancelled.
type Runner interface {
	Run(ctx context.Context) error
	// Ready reports whether the transport is connected.
	Ready() bool
}
