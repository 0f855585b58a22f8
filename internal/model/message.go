// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/morganforge/geminichat/internal/util"
)

// Message roles. The backend only ever produces user and assistant turns.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Attachment kinds.
const (
	AttachmentImage = "image"
	AttachmentAudio = "audio"
	AttachmentPDF   = "pdf"
)

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is a single turn in a conversation. Content may be empty for
// attachment-only messages.
type Message struct {
	ID         string      `json:"id"`
	Role       string      `json:"role"`
	Content    string      `json:"content"`
	Attachment *Attachment `json:"attachment,omitempty"`
	CreatedAt  time.Time   `json:"createdAt,omitempty"`
}

// Attachment describes a file carried by a message.
type Attachment struct {
	Kind     string `json:"kind"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}

// IsUser reports whether the message was authored by the user.
func (m *Message) IsUser() bool {
	return m.Role == RoleUser
}

// IsAssistant reports whether the message was produced by the model.
func (m *Message) IsAssistant() bool {
	return m.Role == RoleAssistant
}

// RoleLabel returns the capitalized role name for display and export.
func (m *Message) RoleLabel() string {
	switch m.Role {
	case RoleUser:
		return "User"
	case RoleAssistant:
		return "Assistant"
	default:
		return m.Role
	}
}

// Preview returns a single-line preview of the message content.
func (m *Message) Preview(maxRunes int) string {
	return util.TruncateRunes(util.CollapseNewlines(m.Content), maxRunes)
}
