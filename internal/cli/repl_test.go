// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"testing"

	"github.com/morganforge/geminichat/internal/api"
)

func TestExportName(t *testing.T) {
	if got := exportName([]string{"txt"}, ".txt"); got != "conversation.txt" {
		t.Errorf("default name = %q", got)
	}
	if got := exportName([]string{"pdf", "notes.pdf"}, ".pdf"); got != "notes.pdf" {
		t.Errorf("explicit name = %q", got)
	}
}

func TestFriendly(t *testing.T) {
	apiErr := &api.Error{Kind: api.KindValidation, Status: 422, Message: "email is invalid"}
	if got := friendly(apiErr); got != "email is invalid" {
		t.Errorf("friendly = %q", got)
	}
	if got := friendly(errors.New("plain")); got != "plain" {
		t.Errorf("friendly = %q", got)
	}
}
