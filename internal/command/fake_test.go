// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package command

import (
	"context"
	"sync"
)

// fakeMessage is an in-memory Message that records replies.
type fakeMessage struct {
	content  string
	author   Author
	perms    []Permission
	hasPerms bool
	replyErr error

	mu      sync.Mutex
	replies []string
}

func newFakeMessage(content string) *fakeMessage {
	return &fakeMessage{
		content: content,
		author:  Author{ID: "u1", Username: "alice"},
	}
}

func (m *fakeMessage) from(id, username string) *fakeMessage {
	m.author = Author{ID: id, Username: username}
	return m
}

func (m *fakeMessage) fromBot() *fakeMessage {
	m.author.Bot = true
	return m
}

func (m *fakeMessage) withPermissions(perms ...Permission) *fakeMessage {
	m.perms = perms
	m.hasPerms = true
	return m
}

func (m *fakeMessage) Content() string { return m.content }
func (m *fakeMessage) Author() Author  { return m.author }

func (m *fakeMessage) Permissions() ([]Permission, bool) {
	return m.perms, m.hasPerms
}

func (m *fakeMessage) Reply(_ context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, text)
	return m.replyErr
}

func (m *fakeMessage) Replies() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.replies...)
}
