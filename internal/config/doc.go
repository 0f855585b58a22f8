// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config manages application configuration for the chat client.
//
// Configuration is loaded from ~/.geminichat/config.toml, with a
// config.json fallback and built-in defaults when neither file exists.
// Environment variables with
// the GEMINICHAT_ prefix override file values, and a watcher can reload
// the file on change.
//
// # Key Types
//
//   - Config: the complete application configuration
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//	client := api.NewClient(cfg.API.BaseURL)
package config
