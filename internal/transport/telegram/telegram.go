// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package telegram runs the dispatcher on Telegram Bot API long polling.
package telegram

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/samber/oops"

	"github.com/holomush/botcmd/internal/command"
	"github.com/holomush/botcmd/internal/observability"
	"github.com/holomush/botcmd/internal/transport"
)

// PollTimeout is the long polling timeout in seconds.
const PollTimeout = 30

// api is the subset of *telego.Bot the bot uses.
type api interface {
	Username() string
	UpdatesViaLongPolling(ctx context.Context, params *telego.GetUpdatesParams, options ...telego.LongPollingOption) (<-chan telego.Update, error)
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// Bot feeds Telegram messages to a dispatcher. Each message is dispatched on
// its own goroutine.
type Bot struct {
	api        api
	dispatcher transport.Dispatcher
	logger     *slog.Logger
	ready      atomic.Bool
	inflight   sync.WaitGroup
}

var _ transport.Runner = (*Bot)(nil)

// New creates a bot for token.
func New(token string, dispatcher transport.Dispatcher, logger *slog.Logger) (*Bot, error) {
	if token == "" {
		return nil, oops.Code("MISSING_TOKEN").
			Hint("set BOTCMD_TELEGRAM_TOKEN").
			Errorf("telegram token is required")
	}
	b, err := telego.NewBot(token)
	if err != nil {
		return nil, oops.In("telegram").Hint("telegram tokens look like 123456:ABC-DEF...").Wrapf(err, "create bot")
	}
	return newBot(b, dispatcher, logger), nil
}

func newBot(a api, dispatcher transport.Dispatcher, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		api:        a,
		dispatcher: dispatcher,
		logger:     logger.With("transport", transport.Telegram),
	}
}

// Run polls for updates until ctx is cancelled, then waits for in-flight
// dispatches to finish.
func (b *Bot) Run(ctx context.Context) error {
	updates, err := b.api.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout:        PollTimeout,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		return oops.In("telegram").Wrapf(err, "start long polling")
	}
	b.ready.Store(true)
	b.logger.InfoContext(ctx, "telegram polling started", "username", b.api.Username())

	defer func() {
		b.ready.Store(false)
		b.inflight.Wait()
		b.logger.InfoContext(ctx, "telegram polling stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil || update.Message.From == nil || update.Message.Text == "" {
				continue
			}
			observability.RecordMessage(transport.Telegram)
			msg := &message{bot: b, msg: update.Message}
			b.inflight.Add(1)
			go func() {
				defer b.inflight.Done()
				b.dispatcher.Dispatch(ctx, msg)
			}()
		}
	}
}

// Ready reports whether polling is running.
func (b *Bot) Ready() bool {
	return b.ready.Load()
}

// message adapts a Telegram message to command.Message.
type message struct {
	bot *Bot
	msg *telego.Message
}

// Content returns the text with a "@botname" suffix removed from the first
// word, so "/roll@mybot 6" dispatches like "/roll 6".
func (m *message) Content() string {
	text := m.msg.Text
	username := m.bot.api.Username()
	if username == "" {
		return text
	}
	first, rest, _ := strings.Cut(text, " ")
	if trimmed, ok := strings.CutSuffix(first, "@"+username); ok {
		if rest == "" {
			return trimmed
		}
		return trimmed + " " + rest
	}
	return text
}

func (m *message) Author() command.Author {
	from := m.msg.From
	name := from.Username
	if name == "" {
		name = from.FirstName
	}
	return command.Author{
		ID:       strconv.FormatInt(from.ID, 10),
		Username: name,
		Bot:      from.IsBot,
	}
}

// Permissions is never resolvable: Telegram has no per-member permission
// names matching the ones commands declare.
func (m *message) Permissions() ([]command.Permission, bool) {
	return nil, false
}

func (m *message) Reply(ctx context.Context, text string) error {
	params := tu.Message(tu.ID(m.msg.Chat.ID), text).
		WithReplyParameters(&telego.ReplyParameters{MessageID: m.msg.MessageID})
	if _, err := m.bot.api.SendMessage(ctx, params); err != nil {
		observability.RecordReplyFailure(transport.Telegram)
		return oops.In("telegram").With("chat_id", m.msg.Chat.ID).Wrapf(err, "send reply")
	}
	return nil
}
