// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders conversations to portable formats without
// touching the network. Server-side exports (PDF) go through the chat
// manager instead; this package covers the formats the client can
// produce from its own state.
package export
