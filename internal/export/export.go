// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/morganforge/geminichat/internal/model"
)

// Exporter renders a conversation in one local output format.
type Exporter interface {
	// Format is the name users select the exporter by.
	Format() string
	// Extension is the default file extension, with the leading dot.
	Extension() string
	// Export renders the conversation.
	Export(conv *model.Conversation) (string, error)
}

// ForFormat returns the exporter for a format name, or nil when the
// format is not rendered locally.
func ForFormat(format string) Exporter {
	switch format {
	case "txt", "text":
		return textExporter{}
	case "json":
		return jsonExporter{}
	}
	return nil
}

type textExporter struct{}

func (textExporter) Format() string    { return "txt" }
func (textExporter) Extension() string { return ".txt" }
func (textExporter) Export(conv *model.Conversation) (string, error) {
	return Text(conv)
}

type jsonExporter struct{}

func (jsonExporter) Format() string    { return "json" }
func (jsonExporter) Extension() string { return ".json" }
func (jsonExporter) Export(conv *model.Conversation) (string, error) {
	return JSON(conv)
}

// Text renders a conversation as plain text, one line per message in
// the form "Role: content". Multi-line content is kept as-is under its
// role line.
func Text(conv *model.Conversation) (string, error) {
	if conv == nil {
		return "", fmt.Errorf("nil conversation")
	}

	var sb strings.Builder
	for _, msg := range conv.Messages {
		sb.WriteString(msg.RoleLabel())
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// JSON renders a conversation as an indented JSON snapshot.
func JSON(conv *model.Conversation) (string, error) {
	if conv == nil {
		return "", fmt.Errorf("nil conversation")
	}
	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode conversation: %w", err)
	}
	return string(data), nil
}
