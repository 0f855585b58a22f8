// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"
	"sync"

	"github.com/morganforge/geminichat/internal/api"
	"github.com/morganforge/geminichat/internal/model"
	"github.com/morganforge/geminichat/internal/session"
	"github.com/morganforge/geminichat/internal/store"
	"github.com/morganforge/geminichat/internal/upload"
)

// Persisted conversation state keys.
const (
	keyConversations = "conversations"
	keyCurrent       = "currentConversation"
)

// ErrBusy is returned when a send is attempted while another send is
// still in flight.
var ErrBusy = errors.New("a message is already being sent")

// ErrNoConversation is returned by operations that require an active
// conversation when none is selected.
var ErrNoConversation = errors.New("no conversation selected")

// =============================================================================
// MANAGER
// =============================================================================

// Manager owns the conversation list and the active conversation's
// message buffer. All exported methods are safe for concurrent use;
// network calls run outside the lock and results are committed only when
// still relevant.
type Manager struct {
	client *api.Client
	store  *store.Store
	sess   *session.Manager
	coord  *upload.Coordinator

	mu            sync.Mutex
	conversations []model.Conversation
	currentID     string
	buffer        []model.Message

	// sending gates message operations to one in-flight exchange.
	sending bool

	// selectGen stamps each selection; a resolved selection is applied
	// only if no newer selection has started since.
	selectGen uint64
}

// NewManager creates a chat manager.
func NewManager(client *api.Client, kv *store.Store, sess *session.Manager, coord *upload.Coordinator) *Manager {
	return &Manager{client: client, store: kv, sess: sess, coord: coord}
}

// =============================================================================
// STATE ACCESSORS
// =============================================================================

// Conversations returns a copy of the conversation list.
func (m *Manager) Conversations() []model.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Conversation, len(m.conversations))
	copy(out, m.conversations)
	return out
}

// CurrentID returns the ID of the active conversation, or "".
func (m *Manager) CurrentID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentID
}

// Current returns the active conversation with its message buffer, or
// nil when none is selected.
func (m *Manager) Current() *model.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.currentID == "" {
		return nil
	}
	conv := model.Conversation{ID: m.currentID}
	for _, c := range m.conversations {
		if c.ID == m.currentID {
			conv = c
			break
		}
	}
	conv.Messages = make([]model.Message, len(m.buffer))
	copy(conv.Messages, m.buffer)
	return &conv
}

// Messages returns a copy of the active conversation's message buffer.
func (m *Manager) Messages() []model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Message, len(m.buffer))
	copy(out, m.buffer)
	return out
}

// Sending reports whether a message exchange is in flight.
func (m *Manager) Sending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sending
}

// CanSendMessage reports whether a send would be accepted right now.
func (m *Manager) CanSendMessage() bool {
	return m.sess.IsAuthenticated() && !m.Sending()
}

// =============================================================================
// RESTORE AND RESET
// =============================================================================

// Restore loads the mirrored conversation list and selection from the
// store. The mirror may be stale; the next LoadConversations refreshes
// it from the backend.
func (m *Manager) Restore() {
	var convs []model.Conversation
	var current string
	gotConvs := m.store.Get(keyConversations, &convs)
	gotCurrent := m.store.Get(keyCurrent, &current)

	m.mu.Lock()
	defer m.mu.Unlock()
	if gotConvs {
		m.conversations = convs
	}
	if gotCurrent {
		m.currentID = current
	}
}

// Reset drops all conversation state, in memory and mirrored. Wired to
// session expiry so no conversation data survives a sign-out.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.conversations = nil
	m.currentID = ""
	m.buffer = nil
	m.sending = false
	m.selectGen++
	m.mu.Unlock()

	m.store.Remove(keyConversations)
	m.store.Remove(keyCurrent)
}

// mirror persists the conversation list and selection. Caller must not
// hold m.mu.
func (m *Manager) mirror() {
	m.mu.Lock()
	convs := make([]model.Conversation, len(m.conversations))
	copy(convs, m.conversations)
	current := m.currentID
	m.mu.Unlock()

	m.store.Set(keyConversations, convs)
	if current != "" {
		m.store.Set(keyCurrent, current)
	} else {
		m.store.Remove(keyCurrent)
	}
}

// findLocked returns the index of a conversation in the list, or -1.
// Caller must hold m.mu.
func (m *Manager) findLocked(id string) int {
	for i := range m.conversations {
		if m.conversations[i].ID == id {
			return i
		}
	}
	return -1
}
