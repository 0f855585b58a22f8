// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/morganforge/geminichat/internal/api"
	"github.com/morganforge/geminichat/internal/model"
)

type conversationsEnvelope struct {
	Conversations []model.Conversation `json:"conversations"`
}

type conversationEnvelope struct {
	Conversation *model.Conversation `json:"conversation"`
}

// =============================================================================
// CONVERSATION LIST
// =============================================================================

// LoadConversations fetches a page of the conversation list and mirrors
// it locally. page is 1-based; limit <= 0 uses the backend default.
func (m *Manager) LoadConversations(ctx context.Context, page, limit int) ([]model.Conversation, error) {
	epoch := m.sess.Epoch()

	path := "/conversations"
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

	var resp conversationsEnvelope
	if err := m.client.Get(ctx, path, &resp); err != nil {
		return nil, err
	}

	m.mu.Lock()
	stale := m.sess.Epoch() != epoch
	if !stale {
		m.conversations = resp.Conversations
	}
	m.mu.Unlock()

	if !stale {
		m.mirror()
	}
	return resp.Conversations, nil
}

// CreateConversation creates a conversation, makes it current and clears
// the message buffer.
func (m *Manager) CreateConversation(ctx context.Context, title string) (*model.Conversation, error) {
	epoch := m.sess.Epoch()

	body := map[string]string{}
	if title != "" {
		body["title"] = title
	}
	var resp conversationEnvelope
	if err := m.client.Post(ctx, "/conversations", body, &resp); err != nil {
		return nil, err
	}
	if resp.Conversation == nil {
		return nil, &api.Error{Kind: api.KindServer, Message: "malformed response from server"}
	}

	m.mu.Lock()
	stale := m.sess.Epoch() != epoch
	if !stale {
		m.conversations = append([]model.Conversation{*resp.Conversation}, m.conversations...)
		m.currentID = resp.Conversation.ID
		m.buffer = nil
		m.selectGen++
	}
	m.mu.Unlock()

	if !stale {
		m.mirror()
	}
	return resp.Conversation, nil
}

// SelectConversation makes a conversation current and loads its
// messages. When selections race, only the most recently started one is
// applied; earlier results are discarded on arrival.
func (m *Manager) SelectConversation(ctx context.Context, id string) (*model.Conversation, error) {
	epoch := m.sess.Epoch()

	m.mu.Lock()
	m.selectGen++
	gen := m.selectGen
	m.mu.Unlock()

	var resp conversationEnvelope
	if err := m.client.Get(ctx, "/conversations/"+url.PathEscape(id), &resp); err != nil {
		return nil, err
	}
	if resp.Conversation == nil {
		return nil, &api.Error{Kind: api.KindServer, Message: "malformed response from server"}
	}

	m.mu.Lock()
	stale := m.selectGen != gen || m.sess.Epoch() != epoch
	if !stale {
		m.currentID = resp.Conversation.ID
		m.buffer = resp.Conversation.Messages
		if i := m.findLocked(resp.Conversation.ID); i >= 0 {
			m.conversations[i] = *resp.Conversation
		}
	}
	m.mu.Unlock()

	if !stale {
		m.mirror()
	}
	return resp.Conversation, nil
}

// DeleteConversation deletes a conversation. Deleting the current one
// clears the selection and the message buffer.
func (m *Manager) DeleteConversation(ctx context.Context, id string) error {
	epoch := m.sess.Epoch()

	if err := m.client.Delete(ctx, "/conversations/"+url.PathEscape(id), nil); err != nil {
		return err
	}

	m.mu.Lock()
	stale := m.sess.Epoch() != epoch
	if !stale {
		if i := m.findLocked(id); i >= 0 {
			m.conversations = append(m.conversations[:i], m.conversations[i+1:]...)
		}
		if m.currentID == id {
			m.currentID = ""
			m.buffer = nil
			m.selectGen++
		}
	}
	m.mu.Unlock()

	if !stale {
		m.mirror()
	}
	return nil
}

// UpdateConversationTitle renames a conversation.
func (m *Manager) UpdateConversationTitle(ctx context.Context, id, title string) (*model.Conversation, error) {
	return m.updateConversation(ctx, http.MethodPut, "/conversations/"+url.PathEscape(id), map[string]string{"title": title})
}

// ArchiveConversation moves a conversation to the archive.
func (m *Manager) ArchiveConversation(ctx context.Context, id string) (*model.Conversation, error) {
	return m.updateConversation(ctx, http.MethodPost, "/conversations/"+url.PathEscape(id)+"/archive", nil)
}

// UnarchiveConversation restores an archived conversation.
func (m *Manager) UnarchiveConversation(ctx context.Context, id string) (*model.Conversation, error) {
	return m.updateConversation(ctx, http.MethodDelete, "/conversations/"+url.PathEscape(id)+"/archive", nil)
}

// FavoriteConversation marks a conversation as a favorite.
func (m *Manager) FavoriteConversation(ctx context.Context, id string) (*model.Conversation, error) {
	return m.updateConversation(ctx, http.MethodPost, "/conversations/"+url.PathEscape(id)+"/favorite", nil)
}

// UnfavoriteConversation removes the favorite mark.
func (m *Manager) UnfavoriteConversation(ctx context.Context, id string) (*model.Conversation, error) {
	return m.updateConversation(ctx, http.MethodDelete, "/conversations/"+url.PathEscape(id)+"/favorite", nil)
}

// updateConversation performs a conversation mutation and folds the
// updated record back into the list. The toggle endpoints take POST to
// set and DELETE to unset; renames are a PUT.
func (m *Manager) updateConversation(ctx context.Context, method, path string, body any) (*model.Conversation, error) {
	epoch := m.sess.Epoch()

	var resp conversationEnvelope
	var err error
	switch method {
	case http.MethodPost:
		err = m.client.Post(ctx, path, body, &resp)
	case http.MethodDelete:
		err = m.client.Delete(ctx, path, &resp)
	default:
		err = m.client.Put(ctx, path, body, &resp)
	}
	if err != nil {
		return nil, err
	}
	if resp.Conversation == nil {
		return nil, &api.Error{Kind: api.KindServer, Message: "malformed response from server"}
	}

	m.mu.Lock()
	stale := m.sess.Epoch() != epoch
	if !stale {
		if i := m.findLocked(resp.Conversation.ID); i >= 0 {
			// Keep any loaded messages; list records carry none.
			msgs := m.conversations[i].Messages
			m.conversations[i] = *resp.Conversation
			m.conversations[i].Messages = msgs
		}
	}
	m.mu.Unlock()

	if !stale {
		m.mirror()
	}
	return resp.Conversation, nil
}

// SearchConversations queries the backend for conversations matching the
// query. Results are not folded into the local list. page and limit are
// optional; zero values use the backend defaults.
func (m *Manager) SearchConversations(ctx context.Context, query string, page, limit int) ([]model.Conversation, error) {
	q := url.Values{}
	q.Set("query", query)
	if page > 0 {
		q.Set("page", fmt.Sprint(page))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}

	var resp conversationsEnvelope
	if err := m.client.Get(ctx, "/conversations/search?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// DownloadExport fetches a server-rendered export of a conversation.
// format is "pdf" or "txt"; the raw document bytes are returned.
func (m *Manager) DownloadExport(ctx context.Context, id, format string) ([]byte, error) {
	if format != "pdf" && format != "txt" {
		return nil, &api.Error{Kind: api.KindValidation, Message: fmt.Sprintf("unsupported export format %q", format)}
	}
	path := "/conversations/" + url.PathEscape(id) + "/export/" + format
	return m.client.GetBlob(ctx, path)
}
