// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides the interactive terminal front end: sign-in
// prompts, a line-edited chat REPL with history, and slash commands over
// the conversation and upload managers.
//
// The package is a thin driver. All state and semantics live in the
// session, chat and upload packages; the REPL only reads input and
// prints results.
package cli
