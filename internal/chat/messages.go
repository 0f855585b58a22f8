// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/morganforge/geminichat/internal/api"
	"github.com/morganforge/geminichat/internal/export"
	"github.com/morganforge/geminichat/internal/model"
	"github.com/morganforge/geminichat/internal/upload"
)

type sendEnvelope struct {
	UserMessage    *model.Message `json:"userMessage"`
	AIMessage      *model.Message `json:"aiMessage"`
	ConversationID string         `json:"conversationId"`
}

type regenerateEnvelope struct {
	AIMessage *model.Message `json:"aiMessage"`
}

type messagesEnvelope struct {
	Messages []model.Message `json:"messages"`
}

// =============================================================================
// SENDING
// =============================================================================

// sendState is the snapshot taken when a send is admitted through the
// gate. Commits compare it against current state so a result that
// outlived its conversation or session is discarded.
type sendState struct {
	conversationID string
	epoch          uint64
	gen            uint64
}

// acquireSend admits one send at a time. The returned release function
// must be called when the exchange finishes.
func (m *Manager) acquireSend() (sendState, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sending {
		return sendState{}, nil, ErrBusy
	}
	m.sending = true
	st := sendState{
		conversationID: m.currentID,
		epoch:          m.sess.Epoch(),
		gen:            m.selectGen,
	}
	release := func() {
		m.mu.Lock()
		m.sending = false
		m.mu.Unlock()
	}
	return st, release, nil
}

// commitExchange appends a confirmed [user, assistant] pair to the
// buffer, adopting a transparently created conversation when the send
// started without one.
func (m *Manager) commitExchange(st sendState, userMsg, aiMsg *model.Message, newConvID string) bool {
	m.mu.Lock()
	stale := m.sess.Epoch() != st.epoch || m.selectGen != st.gen
	if !stale {
		if st.conversationID == "" && newConvID != "" {
			m.currentID = newConvID
			if m.findLocked(newConvID) < 0 {
				m.conversations = append([]model.Conversation{{ID: newConvID}}, m.conversations...)
			}
		}
		m.buffer = append(m.buffer, *userMsg, *aiMsg)
	}
	m.mu.Unlock()

	if !stale {
		m.mirror()
	}
	return !stale
}

// ensureConversation creates a conversation for a send that started
// without one and binds the send to it, so every message of the thread
// lands in a single server-side conversation. Backends that create on
// first message and echo the id are still handled by the commit.
func (m *Manager) ensureConversation(ctx context.Context, st *sendState) error {
	var resp conversationEnvelope
	if err := m.client.Post(ctx, "/conversations", map[string]string{}, &resp); err != nil {
		return err
	}
	if resp.Conversation == nil {
		return &api.Error{Kind: api.KindServer, Message: "malformed response from server"}
	}

	m.mu.Lock()
	stale := m.sess.Epoch() != st.epoch || m.selectGen != st.gen
	if !stale {
		m.conversations = append([]model.Conversation{*resp.Conversation}, m.conversations...)
		m.currentID = resp.Conversation.ID
		st.conversationID = resp.Conversation.ID
	}
	m.mu.Unlock()

	if stale {
		return &api.Error{Kind: api.KindCancelled, Message: "conversation changed during send"}
	}
	m.mirror()
	return nil
}

// SendMessage sends a text prompt and returns the confirmed exchange.
// When no conversation is current one is created first, transparently.
// Nothing is added to the buffer until the backend replies; a failed
// send leaves the conversation exactly as it was.
func (m *Manager) SendMessage(ctx context.Context, content string) ([]model.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, &api.Error{Kind: api.KindValidation, Message: "message cannot be empty"}
	}

	st, release, err := m.acquireSend()
	if err != nil {
		return nil, err
	}
	defer release()

	if st.conversationID == "" {
		if err := m.ensureConversation(ctx, &st); err != nil {
			return nil, err
		}
	}

	body := map[string]string{"prompt": content}
	if st.conversationID != "" {
		body["conversationId"] = st.conversationID
	}

	var resp sendEnvelope
	if err := m.client.Post(ctx, "/gemini/text", body, &resp); err != nil {
		return nil, err
	}
	if resp.UserMessage == nil || resp.AIMessage == nil {
		return nil, &api.Error{Kind: api.KindServer, Message: "malformed response from server"}
	}

	m.commitExchange(st, resp.UserMessage, resp.AIMessage, resp.ConversationID)
	return []model.Message{*resp.UserMessage, *resp.AIMessage}, nil
}

// SendImage sends an image attachment with an optional prompt through
// the upload coordinator. Validation runs before the gate is taken so an
// invalid file never blocks a concurrent send.
func (m *Manager) SendImage(ctx context.Context, path, prompt string, progress api.ProgressFunc) ([]model.Message, error) {
	return m.sendAttachment(ctx, upload.CategoryImage, path, prompt, progress)
}

// SendVoice sends an audio attachment for transcription and response.
func (m *Manager) SendVoice(ctx context.Context, path string, progress api.ProgressFunc) ([]model.Message, error) {
	return m.sendAttachment(ctx, upload.CategoryAudio, path, "", progress)
}

// SendPDF sends a PDF attachment with an optional prompt.
func (m *Manager) SendPDF(ctx context.Context, path, prompt string, progress api.ProgressFunc) ([]model.Message, error) {
	return m.sendAttachment(ctx, upload.CategoryPDF, path, prompt, progress)
}

func (m *Manager) sendAttachment(ctx context.Context, cat upload.Category, path, prompt string, progress api.ProgressFunc) ([]model.Message, error) {
	detected, _, err := upload.DetectFile(path)
	if err != nil {
		return nil, err
	}
	if detected != cat {
		return nil, &api.Error{Kind: api.KindValidation, Message: "file does not match the requested attachment type"}
	}

	st, release, err := m.acquireSend()
	if err != nil {
		return nil, err
	}
	defer release()

	if st.conversationID == "" {
		if err := m.ensureConversation(ctx, &st); err != nil {
			return nil, err
		}
	}

	var result *upload.Result
	switch cat {
	case upload.CategoryImage:
		result, err = m.coord.UploadImage(ctx, path, prompt, st.conversationID, progress)
	case upload.CategoryAudio:
		result, err = m.coord.UploadAudio(ctx, path, st.conversationID, progress)
	default:
		result, err = m.coord.UploadPDF(ctx, path, prompt, st.conversationID, progress)
	}
	if err != nil {
		return nil, err
	}

	m.commitExchange(st, result.UserMessage, result.AIMessage, "")
	return []model.Message{*result.UserMessage, *result.AIMessage}, nil
}

// RegenerateResponse asks the backend for a fresh response to the last
// user message. When the buffer ends with an assistant message the new
// response replaces it; otherwise the response is appended.
func (m *Manager) RegenerateResponse(ctx context.Context) (*model.Message, error) {
	st, release, err := m.acquireSend()
	if err != nil {
		return nil, err
	}
	defer release()

	if st.conversationID == "" {
		return nil, ErrNoConversation
	}

	m.mu.Lock()
	var lastUser *model.Message
	for i := len(m.buffer) - 1; i >= 0; i-- {
		if m.buffer[i].Role == model.RoleUser {
			lastUser = &m.buffer[i]
			break
		}
	}
	var messageID string
	if lastUser != nil {
		messageID = lastUser.ID
	}
	m.mu.Unlock()

	if messageID == "" {
		return nil, &api.Error{Kind: api.KindValidation, Message: "nothing to regenerate"}
	}

	var resp regenerateEnvelope
	err = m.client.Post(ctx, "/gemini/regenerate", map[string]string{
		"messageId":      messageID,
		"conversationId": st.conversationID,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.AIMessage == nil {
		return nil, &api.Error{Kind: api.KindServer, Message: "malformed response from server"}
	}

	m.mu.Lock()
	stale := m.sess.Epoch() != st.epoch || m.selectGen != st.gen
	if !stale {
		if n := len(m.buffer); n > 0 && m.buffer[n-1].Role == model.RoleAssistant {
			m.buffer[n-1] = *resp.AIMessage
		} else {
			m.buffer = append(m.buffer, *resp.AIMessage)
		}
	}
	m.mu.Unlock()

	if !stale {
		m.mirror()
	}
	return resp.AIMessage, nil
}

// =============================================================================
// MESSAGE MAINTENANCE
// =============================================================================

// LoadMessages fetches a page of a conversation's messages. Loading the
// current conversation refreshes the buffer. page is 1-based; zero
// values use the backend defaults.
func (m *Manager) LoadMessages(ctx context.Context, conversationID string, page, limit int) ([]model.Message, error) {
	epoch := m.sess.Epoch()

	m.mu.Lock()
	gen := m.selectGen
	m.mu.Unlock()

	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	q := url.Values{}
	if page > 0 {
		q.Set("page", fmt.Sprint(page))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp messagesEnvelope
	if err := m.client.Get(ctx, path, &resp); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.currentID == conversationID && m.sess.Epoch() == epoch && m.selectGen == gen {
		m.buffer = resp.Messages
	}
	m.mu.Unlock()

	return resp.Messages, nil
}

// DeleteMessage removes a single message from a conversation.
func (m *Manager) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	epoch := m.sess.Epoch()

	path := "/conversations/" + url.PathEscape(conversationID) + "/messages/" + url.PathEscape(messageID)
	if err := m.client.Delete(ctx, path, nil); err != nil {
		return err
	}

	m.mu.Lock()
	if m.currentID == conversationID && m.sess.Epoch() == epoch {
		for i := range m.buffer {
			if m.buffer[i].ID == messageID {
				m.buffer = append(m.buffer[:i], m.buffer[i+1:]...)
				break
			}
		}
	}
	m.mu.Unlock()
	return nil
}

// ClearMessages removes every message from a conversation.
func (m *Manager) ClearMessages(ctx context.Context, conversationID string) error {
	epoch := m.sess.Epoch()

	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := m.client.Delete(ctx, path, nil); err != nil {
		return err
	}

	m.mu.Lock()
	if m.currentID == conversationID && m.sess.Epoch() == epoch {
		m.buffer = nil
	}
	m.mu.Unlock()
	return nil
}

// =============================================================================
// LOCAL EXPORT
// =============================================================================

// ExportText renders the current conversation as plain text locally.
func (m *Manager) ExportText() (string, error) {
	conv := m.Current()
	if conv == nil {
		return "", ErrNoConversation
	}
	return export.Text(conv)
}

// ExportJSON renders the current conversation as pretty-printed JSON
// locally.
func (m *Manager) ExportJSON() (string, error) {
	conv := m.Current()
	if conv == nil {
		return "", ErrNoConversation
	}
	return export.JSON(conv)
}
