// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session manages authentication state for the chat client.
//
// The Manager owns the current user and bearer token. It exposes the
// token to the API client, restores persisted credentials at startup,
// verifies them against the backend, and tears the session down when the
// backend rejects the token.
//
// Teardown is complete and idempotent: in-memory state and every
// persisted credential key are cleared together, and the session-expired
// callback fires at most once per authenticated session no matter how
// many requests observe the same 401.
//
// # Key Types
//
//   - Manager: authentication state and account operations
//
// # Usage
//
//	sess := session.NewManager(client, kv)
//	client.WithTokenSource(sess.Token).WithOnUnauthorized(sess.HandleUnauthorized)
//
//	user, err := sess.Login(ctx, "a@example.com", "secret", true)
package session
