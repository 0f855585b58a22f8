// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store provides durable key/value persistence for session and
// conversation state, backed by SQLite.
//
// Keys are namespaced with an application prefix so several installs can
// share a database file. Values are stored as JSON, so any serializable
// type round-trips through Set and Get.
//
// The store degrades rather than fails: if the database cannot be opened
// or a statement errors, writes become silent no-ops and reads report a
// miss. Callers never branch on storage availability.
//
// # Key Types
//
//   - Store: the namespaced KV store
//
// # Usage
//
//	kv := store.Open(filepath.Join(dir, "state.db"), "geminichat")
//	defer kv.Close()
//
//	kv.Set("token", token)
//
//	var token string
//	if kv.Get("token", &token) {
//		// restored
//	}
package store
