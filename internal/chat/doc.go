// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat manages conversation state: the conversation list, the
// active conversation and its message buffer, and every message-sending
// operation against the backend.
//
// The message buffer is append-only during normal sending: a successful
// exchange appends the echoed user message and the model's response, in
// that order, and nothing is inserted optimistically before the backend
// confirms. Regeneration is the one exception: when the buffer ends with
// an assistant message, the regenerated response replaces it in place.
//
// Concurrent sends are rejected rather than queued, and conversation
// selection is last-resolve-wins: when selections race, only the most
// recent one's result is applied.
//
// # Key Types
//
//   - Manager: conversation list, selection and messaging
//
// # Usage
//
//	mgr := chat.NewManager(client, kv, sess, coord)
//	mgr.Restore()
//
//	msgs, err := mgr.SendMessage(ctx, "hello")
package chat
