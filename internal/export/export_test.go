// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/morganforge/geminichat/internal/model"
)

func sampleConversation() *model.Conversation {
	return &model.Conversation{
		ID:    "c1",
		Title: "Trip planning",
		Messages: []model.Message{
			{ID: "m1", Role: model.RoleUser, Content: "Where should I go?"},
			{ID: "m2", Role: model.RoleAssistant, Content: "Consider Kyoto in autumn."},
		},
	}
}

func TestText(t *testing.T) {
	out, err := Text(sampleConversation())
	if err != nil {
		t.Fatalf("Text: %v", err)
	}

	// Role lines only, in order; no header or trailer.
	want := "User: Where should I go?\nAssistant: Consider Kyoto in autumn.\n"
	if out != want {
		t.Errorf("Text = %q, want %q", out, want)
	}
}

func TestText_EmptyConversation(t *testing.T) {
	out, err := Text(&model.Conversation{ID: "c1"})
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if out != "" {
		t.Errorf("empty conversation rendered %q", out)
	}
}

func TestJSON(t *testing.T) {
	out, err := JSON(sampleConversation())
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}

	var decoded model.Conversation
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.ID != "c1" || len(decoded.Messages) != 2 {
		t.Errorf("decoded = %+v", decoded)
	}
	if !strings.Contains(out, "\n  ") {
		t.Error("expected indented output")
	}
}

func TestForFormat(t *testing.T) {
	tests := []struct {
		format string
		ext    string
	}{
		{"txt", ".txt"},
		{"text", ".txt"},
		{"json", ".json"},
	}
	for _, tt := range tests {
		exp := ForFormat(tt.format)
		if exp == nil {
			t.Fatalf("ForFormat(%q) = nil", tt.format)
		}
		if exp.Extension() != tt.ext {
			t.Errorf("ForFormat(%q).Extension() = %q, want %q", tt.format, exp.Extension(), tt.ext)
		}
		out, err := exp.Export(sampleConversation())
		if err != nil {
			t.Fatalf("Export(%q): %v", tt.format, err)
		}
		if out == "" {
			t.Errorf("Export(%q) is empty", tt.format)
		}
	}

	if ForFormat("pdf") != nil {
		t.Error("pdf is not a local format")
	}
	if ForFormat("docx") != nil {
		t.Error("unknown formats must return nil")
	}
}

func TestNilConversation(t *testing.T) {
	if _, err := Text(nil); err == nil {
		t.Error("Text(nil) must error")
	}
	if _, err := JSON(nil); err == nil {
		t.Error("JSON(nil) must error")
	}
}
