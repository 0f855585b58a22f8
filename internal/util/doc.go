// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides utility functions shared across the chat client.
//
// # Key Functions
//
// String Utilities:
//   - TruncateRunes: UTF-8 safe string truncation with ellipsis
//   - FormatBytes: human-readable byte counts for size limits and errors
//
// File Operations:
//   - AtomicWriteFile: crash-safe file writing with fsync
package util
