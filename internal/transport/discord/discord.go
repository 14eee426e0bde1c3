// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package discord runs the dispatcher on a Discord gateway session.
package discord

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/samber/oops"

	"github.com/holomush/botcmd/internal/command"
	"github.com/holomush/botcmd/internal/observability"
	"github.com/holomush/botcmd/internal/transport"
)

// Intents are the gateway intents the bot needs to read commands.
const Intents = discordgo.IntentsGuildMessages |
	discordgo.IntentsDirectMessages |
	discordgo.IntentMessageContent

// session is the subset of *discordgo.Session the bot uses.
type session interface {
	AddHandler(handler any) func()
	Open() error
	Close() error
	ChannelMessageSendReply(channelID, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UserChannelPermissions(userID, channelID string, fetchOptions ...discordgo.RequestOption) (int64, error)
}

// Bot feeds Discord messages to a dispatcher.
type Bot struct {
	session    session
	dispatcher transport.Dispatcher
	logger     *slog.Logger
	ready      atomic.Bool
}

var _ transport.Runner = (*Bot)(nil)

// New creates a bot for token.
func New(token string, dispatcher transport.Dispatcher, logger *slog.Logger) (*Bot, error) {
	if token == "" {
		return nil, oops.Code("MISSING_TOKEN").
			Hint("set BOTCMD_DISCORD_TOKEN").
			Errorf("discord token is required")
	}
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, oops.In("discord").Wrapf(err, "create session")
	}
	dg.Identify.Intents = Intents
	return newBot(dg, dispatcher, logger), nil
}

func newBot(s session, dispatcher transport.Dispatcher, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		session:    s,
		dispatcher: dispatcher,
		logger:     logger.With("transport", transport.Discord),
	}
}

// Run opens the gateway connection and dispatches messages until ctx is
// cancelled.
func (b *Bot) Run(ctx context.Context) error {
	remove := b.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		b.handle(ctx, m.Message)
	})
	defer remove()

	if err := b.session.Open(); err != nil {
		return oops.In("discord").Hint("check the bot token and gateway intents").Wrapf(err, "open session")
	}
	b.ready.Store(true)
	b.logger.InfoContext(ctx, "discord session open")

	<-ctx.Done()

	b.ready.Store(false)
	if err := b.session.Close(); err != nil {
		return oops.In("discord").Wrapf(err, "close session")
	}
	b.logger.InfoContext(ctx, "discord session closed")
	return nil
}

// Ready reports whether the gateway session is open.
func (b *Bot) Ready() bool {
	return b.ready.Load()
}

func (b *Bot) handle(ctx context.Context, m *discordgo.Message) {
	if m == nil || m.Author == nil {
		return
	}
	observability.RecordMessage(transport.Discord)
	b.dispatcher.Dispatch(ctx, &message{bot: b, msg: m})
}

// message adapts a Discord message to command.Message.
type message struct {
	bot *Bot
	msg *discordgo.Message
}

func (m *message) Content() string { return m.msg.Content }

func (m *message) Author() command.Author {
	return command.Author{
		ID:       m.msg.Author.ID,
		Username: m.msg.Author.Username,
		Bot:      m.msg.Author.Bot || m.msg.Author.System,
	}
}

// Permissions resolves the author's permissions in the message channel.
// Direct messages have no permission context. A failed lookup in a guild
// grants nothing, so gated commands are denied.
func (m *message) Permissions() ([]command.Permission, bool) {
	if m.msg.GuildID == "" {
		return nil, false
	}
	bits, err := m.bot.session.UserChannelPermissions(m.msg.Author.ID, m.msg.ChannelID)
	if err != nil {
		m.bot.logger.Warn("permission lookup failed",
			"user_id", m.msg.Author.ID,
			"channel_id", m.msg.ChannelID,
			"error", err,
		)
		return nil, true
	}
	return PermissionNames(bits), true
}

func (m *message) Reply(_ context.Context, text string) error {
	if _, err := m.bot.session.ChannelMessageSendReply(m.msg.ChannelID, text, m.msg.Reference()); err != nil {
		observability.RecordReplyFailure(transport.Discord)
		return oops.In("discord").With("channel_id", m.msg.ChannelID).Wrapf(err, "send reply")
	}
	return nil
}
