// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for users, conversations and
// messages exchanged with the chat backend.
//
// # Key Types
//
//   - User: the authenticated account profile
//   - Conversation: a server-side thread of messages with flags and timestamps
//   - Message: a single user or assistant turn, optionally with an attachment
//
// All types mirror the wire shapes of the backend API; the managers in
// internal/session and internal/chat own their lifecycles.
package model
