// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package upload validates and transfers file attachments to the chat
// backend.
//
// Validation is a hard gate: a file that fails its category's MIME
// allow-list or size ceiling is rejected locally and no request reaches
// the network. Uploads report whole-percent progress and can be
// cancelled by job ID.
//
// # Key Types
//
//   - Policy: per-category MIME allow-lists and size ceilings
//   - Coordinator: validated, cancellable multipart uploads
//
// # Usage
//
//	coord := upload.NewCoordinator(client, upload.DefaultPolicy())
//	result, err := coord.UploadImage(ctx, "photo.png", "describe this", convID, progressFn)
package upload
