// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package discord

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/botcmd/internal/command"
	"github.com/holomush/botcmd/internal/observability"
	"github.com/holomush/botcmd/internal/transport"
)

type sentReply struct {
	channelID string
	content   string
	reference *discordgo.MessageReference
}

type fakeSession struct {
	mu       sync.Mutex
	handler  func(*discordgo.Session, *discordgo.MessageCreate)
	opened   bool
	closed   bool
	openErr  error
	sendErr  error
	perms    int64
	permsErr error
	replies  []sentReply
}

func (s *fakeSession) AddHandler(handler any) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler.(func(*discordgo.Session, *discordgo.MessageCreate))
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.handler = nil
	}
}

func (s *fakeSession) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = s.openErr == nil
	return s.openErr
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) ChannelMessageSendReply(channelID, content string, reference *discordgo.MessageReference, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	s.replies = append(s.replies, sentReply{channelID, content, reference})
	return &discordgo.Message{}, nil
}

func (s *fakeSession) UserChannelPermissions(_, _ string, _ ...discordgo.RequestOption) (int64, error) {
	return s.perms, s.permsErr
}

func (s *fakeSession) deliver(m *discordgo.Message) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	h(nil, &discordgo.MessageCreate{Message: m})
}

// recordingDispatcher captures dispatched messages.
type recordingDispatcher struct {
	mu   sync.Mutex
	msgs []command.Message
	fn   func(ctx context.Context, msg command.Message)
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, msg command.Message) command.Status {
	d.mu.Lock()
	d.msgs = append(d.msgs, msg)
	fn := d.fn
	d.mu.Unlock()
	if fn != nil {
		fn(ctx, msg)
	}
	return command.StatusSuccess
}

func (d *recordingDispatcher) messages() []command.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]command.Message(nil), d.msgs...)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func guildMessage(content string) *discordgo.Message {
	return &discordgo.Message{
		ID:        "m1",
		ChannelID: "c1",
		GuildID:   "g1",
		Content:   content,
		Author:    &discordgo.User{ID: "u1", Username: "alice"},
	}
}

func TestNew_RequiresToken(t *testing.T) {
	_, err := New("", &recordingDispatcher{}, nil)
	require.Error(t, err)
}

func TestBot_Run(t *testing.T) {
	s := &fakeSession{}
	d := &recordingDispatcher{}
	b := newBot(s, d, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- b.Run(ctx) }()

	require.Eventually(t, b.Ready, time.Second, 5*time.Millisecond)
	before := testutil.ToFloat64(observability.MessagesReceived.WithLabelValues(transport.Discord))
	s.deliver(guildMessage("!ping"))
	s.deliver(&discordgo.Message{Content: "no author"})

	cancel()
	require.NoError(t, <-done)
	assert.False(t, b.Ready())
	assert.True(t, s.closed)

	msgs := d.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "!ping", msgs[0].Content())
	assert.Equal(t, command.Author{ID: "u1", Username: "alice"}, msgs[0].Author())
	assert.Equal(t, before+1, testutil.ToFloat64(observability.MessagesReceived.WithLabelValues(transport.Discord)))
}

func TestBot_RunOpenFailure(t *testing.T) {
	s := &fakeSession{openErr: errors.New("4014 disallowed intents")}
	b := newBot(s, &recordingDispatcher{}, discard())

	err := b.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disallowed intents")
	assert.False(t, b.Ready())
}

func TestMessage_Author(t *testing.T) {
	b := newBot(&fakeSession{}, &recordingDispatcher{}, discard())

	bot := guildMessage("!ping")
	bot.Author.Bot = true
	assert.True(t, (&message{bot: b, msg: bot}).Author().Bot)

	system := guildMessage("!ping")
	system.Author.System = true
	assert.True(t, (&message{bot: b, msg: system}).Author().Bot)
}

func TestMessage_Permissions(t *testing.T) {
	t.Run("guild channel", func(t *testing.T) {
		s := &fakeSession{perms: discordgo.PermissionSendMessages | discordgo.PermissionManageMessages}
		m := &message{bot: newBot(s, nil, discard()), msg: guildMessage("!purge")}

		granted, ok := m.Permissions()
		assert.True(t, ok)
		assert.ElementsMatch(t, []command.Permission{"SEND_MESSAGES", "MANAGE_MESSAGES"}, granted)
	})

	t.Run("direct message", func(t *testing.T) {
		msg := guildMessage("!purge")
		msg.GuildID = ""
		m := &message{bot: newBot(&fakeSession{}, nil, discard()), msg: msg}

		_, ok := m.Permissions()
		assert.False(t, ok)
	})

	t.Run("lookup failure", func(t *testing.T) {
		s := &fakeSession{permsErr: errors.New("unknown member")}
		m := &message{bot: newBot(s, nil, discard()), msg: guildMessage("!purge")}

		granted, ok := m.Permissions()
		assert.True(t, ok, "a guild message keeps its permission context")
		assert.Empty(t, granted)
	})
}

func TestMessage_Reply(t *testing.T) {
	s := &fakeSession{}
	m := &message{bot: newBot(s, nil, discard()), msg: guildMessage("!ping")}

	require.NoError(t, m.Reply(context.Background(), "pong"))
	require.Len(t, s.replies, 1)
	assert.Equal(t, "c1", s.replies[0].channelID)
	assert.Equal(t, "pong", s.replies[0].content)
	assert.Equal(t, "m1", s.replies[0].reference.MessageID)
	assert.Equal(t, "g1", s.replies[0].reference.GuildID)
}

func TestMessage_ReplyFailure(t *testing.T) {
	s := &fakeSession{sendErr: errors.New("missing access")}
	m := &message{bot: newBot(s, nil, discard()), msg: guildMessage("!ping")}

	before := testutil.ToFloat64(observability.ReplyFailures.WithLabelValues(transport.Discord))
	err := m.Reply(context.Background(), "pong")
	require.Error(t, err)
	assert.ErrorContains(t, err, "missing access")
	assert.Equal(t, before+1, testutil.ToFloat64(observability.ReplyFailures.WithLabelValues(transport.Discord)))
}

func TestPermissionNames(t *testing.T) {
	assert.Empty(t, PermissionNames(0))
	assert.Equal(t, []command.Permission{"KICK_MEMBERS"}, PermissionNames(discordgo.PermissionKickMembers))

	all := PermissionNames(discordgo.PermissionAdministrator)
	assert.Len(t, all, len(permissionBits))
	assert.Contains(t, all, command.Permission("BAN_MEMBERS"))
}

func TestBot_DispatchesThroughCommands(t *testing.T) {
	reg := command.NewRegistry()
	d, err := command.NewDispatcher(reg, command.WithLogger(discard()))
	require.NoError(t, err)
	require.NoError(t, d.Register(command.New(command.Spec{
		Name:        "purge",
		Permissions: []command.Permission{"MANAGE_MESSAGES"},
	}, func(ctx context.Context, msg command.Message, _ []string) error {
		return msg.Reply(ctx, "purged")
	})))

	s := &fakeSession{perms: discordgo.PermissionSendMessages}
	b := newBot(s, d, discard())

	b.handle(context.Background(), guildMessage("!purge"))
	assert.Empty(t, s.replies)

	s.perms = discordgo.PermissionAdministrator
	b.handle(context.Background(), guildMessage("!purge"))
	require.Len(t, s.replies, 1)
	assert.Equal(t, "purged", s.replies[0].content)
}

func TestHandle_PermissionLookupFailureDenies(t *testing.T) {
	d, err := command.NewDispatcher(command.NewRegistry(), command.WithLogger(discard()))
	require.NoError(t, err)
	require.NoError(t, d.Register(command.New(command.Spec{
		Name:        "purge",
		Permissions: []command.Permission{"MANAGE_MESSAGES"},
	}, func(ctx context.Context, msg command.Message, _ []string) error {
		return msg.Reply(ctx, "purged")
	})))

	s := &fakeSession{permsErr: errors.New("503 Service Unavailable")}
	b := newBot(s, d, discard())

	b.handle(context.Background(), guildMessage("!purge"))
	assert.Empty(t, s.replies, "a failed lookup must not bypass the permission check")
}
