// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api provides the HTTP client for communicating with the chat
// backend.
//
// A single configured Client carries the bearer token into every request
// and normalizes every failure into the closed error taxonomy consumed by
// the session, chat and upload managers:
//
//   - ErrValidation: 400/422, with optional field-level messages
//   - ErrAuth:       401/403 (401 additionally fires the OnUnauthorized hook)
//   - ErrNotFound:   404
//   - ErrServer:     5xx and malformed success payloads
//   - ErrNetwork:    no response received (offline, refused, timeout)
//   - ErrCancelled:  request aborted via context cancellation
//
// Raw transport errors never leak past this package; callers branch with
// errors.Is against the sentinels above.
//
// # Usage
//
//	client := api.NewClient("http://localhost:5000/api").
//		WithTokenSource(session.Token).
//		WithOnUnauthorized(session.HandleUnauthorized)
//
//	var out loginResponse
//	err := client.Post(ctx, "/auth/login", credentials, &out)
package api
