// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package console runs the dispatcher on line-oriented input, one message per
// line. It is meant for trying commands locally without a chat platform.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/samber/oops"

	"github.com/holomush/botcmd/internal/command"
	"github.com/holomush/botcmd/internal/observability"
	"github.com/holomush/botcmd/internal/transport"
)

// DefaultUser is the author of console messages when none is configured.
var DefaultUser = command.Author{ID: "console", Username: "console"}

// Options configures a console bot.
type Options struct {
	// User is the author attached to every line.
	User command.Author
	// Permissions are granted to User. Nil means the console has no
	// permission context and permission checks are skipped.
	Permissions []command.Permission
	// ReplyPrefix is written before each reply line.
	ReplyPrefix string
}

// Bot reads lines from an input and writes replies to an output.
type Bot struct {
	in         io.Reader
	out        io.Writer
	outMu      sync.Mutex
	opts       Options
	dispatcher transport.Dispatcher
	logger     *slog.Logger
	ready      atomic.Bool
}

var _ transport.Runner = (*Bot)(nil)

// New creates a console bot. Lines are dispatched sequentially in the order
// they are read.
func New(in io.Reader, out io.Writer, dispatcher transport.Dispatcher, logger *slog.Logger, opts Options) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.User.ID == "" {
		opts.User = DefaultUser
	}
	if opts.ReplyPrefix == "" {
		opts.ReplyPrefix = "> "
	}
	return &Bot{
		in:         in,
		out:        out,
		opts:       opts,
		dispatcher: dispatcher,
		logger:     logger.With("transport", transport.Console),
	}
}

// Run dispatches each input line until the input ends or ctx is cancelled.
// A blocked read is abandoned on cancellation.
func (b *Bot) Run(ctx context.Context) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(b.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	b.ready.Store(true)
	defer b.ready.Store(false)

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				if err := <-scanErr; err != nil {
					return oops.In("console").Wrapf(err, "read input")
				}
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			observability.RecordMessage(transport.Console)
			b.dispatcher.Dispatch(ctx, &message{bot: b, content: line})
		}
	}
}

// Ready reports whether input is being read.
func (b *Bot) Ready() bool {
	return b.ready.Load()
}

func (b *Bot) write(text string) error {
	b.outMu.Lock()
	defer b.outMu.Unlock()
	for _, line := range strings.Split(text, "\n") {
		if _, err := fmt.Fprintf(b.out, "%s%s\n", b.opts.ReplyPrefix, line); err != nil {
			observability.RecordReplyFailure(transport.Console)
			return oops.In("console").Wrapf(err, "write reply")
		}
	}
	return nil
}

type message struct {
	bot     *Bot
	content string
}

func (m *message) Content() string        { return m.content }
func (m *message) Author() command.Author { return m.bot.opts.User }

func (m *message) Permissions() ([]command.Permission, bool) {
	if m.bot.opts.Permissions == nil {
		return nil, false
	}
	return m.bot.opts.Permissions, true
}

func (m *message) Reply(_ context.Context, text string) error {
	return m.bot.write(text)
}
