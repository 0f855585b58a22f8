// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"testing"
)

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestMessage_RoleLabel(t *testing.T) {
	tests := []struct {
		role string
		want string
	}{
		{RoleUser, "User"},
		{RoleAssistant, "Assistant"},
		{"system", "system"},
	}

	for _, tt := range tests {
		msg := Message{Role: tt.role}
		if got := msg.RoleLabel(); got != tt.want {
			t.Errorf("RoleLabel(%q) = %q, want %q", tt.role, got, tt.want)
		}
	}
}

func TestMessage_Preview(t *testing.T) {
	msg := Message{Role: RoleUser, Content: "line one\nline two that keeps going for a while"}

	got := msg.Preview(20)
	if len([]rune(got)) > 20 {
		t.Errorf("Preview too long: %q", got)
	}
	for _, r := range got {
		if r == '\n' {
			t.Errorf("Preview contains newline: %q", got)
		}
	}
}

// =============================================================================
// CONVERSATION TESTS
// =============================================================================

func TestConversation_GetTitle(t *testing.T) {
	conv := &Conversation{}
	if got := conv.GetTitle(); got != DefaultTitle {
		t.Errorf("GetTitle = %q, want %q", got, DefaultTitle)
	}

	conv.Title = "Homework help"
	if got := conv.GetTitle(); got != "Homework help" {
		t.Errorf("GetTitle = %q", got)
	}
}

func TestConversation_LastUserMessage(t *testing.T) {
	conv := &Conversation{
		Messages: []Message{
			{ID: "m1", Role: RoleUser, Content: "first"},
			{ID: "m2", Role: RoleAssistant, Content: "reply"},
			{ID: "m3", Role: RoleUser, Content: "second"},
			{ID: "m4", Role: RoleAssistant, Content: "reply two"},
		},
	}

	last := conv.LastUserMessage()
	if last == nil {
		t.Fatal("expected a user message")
	}
	if last.ID != "m3" {
		t.Errorf("LastUserMessage ID = %q, want m3", last.ID)
	}
}

func TestConversation_LastUserMessage_Empty(t *testing.T) {
	conv := &Conversation{
		Messages: []Message{{Role: RoleAssistant, Content: "hello"}},
	}
	if conv.LastUserMessage() != nil {
		t.Error("expected nil for conversation without user messages")
	}

	empty := &Conversation{}
	if empty.LastMessage() != nil {
		t.Error("expected nil LastMessage for empty conversation")
	}
}

func TestConversation_Clone(t *testing.T) {
	conv := &Conversation{
		ID:       "c1",
		Title:    "original",
		Messages: []Message{{ID: "m1", Role: RoleUser, Content: "hi"}},
	}

	clone := conv.Clone()
	clone.Title = "changed"
	clone.Messages[0].Content = "mutated"

	if conv.Title != "original" {
		t.Error("Clone shares title with original")
	}
	if conv.Messages[0].Content != "hi" {
		t.Error("Clone shares message backing array with original")
	}
}
