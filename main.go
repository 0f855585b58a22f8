// geminichat - terminal client for the Gemini chat backend.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/morganforge/geminichat/internal/api"
	"github.com/morganforge/geminichat/internal/chat"
	"github.com/morganforge/geminichat/internal/cli"
	"github.com/morganforge/geminichat/internal/config"
	"github.com/morganforge/geminichat/internal/session"
	"github.com/morganforge/geminichat/internal/store"
	"github.com/morganforge/geminichat/internal/upload"
)

// Version information (set at build time)
var (
	Version   = "1.0.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-v") {
		fmt.Printf("geminichat %s (%s, %s)\n", Version, GitCommit, BuildDate)
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "geminichat: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := config.EnsureConfigDir(); err != nil {
		return err
	}

	// Request logging goes to a file; the terminal belongs to the REPL.
	if dir, err := config.ConfigDir(); err == nil {
		if f, err := os.OpenFile(filepath.Join(dir, "geminichat.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600); err == nil {
			log.SetOutput(f)
			defer f.Close()
		} else {
			log.SetOutput(io.Discard)
		}
	} else {
		log.SetOutput(io.Discard)
	}

	kv := store.Open(filepath.Join(cfg.Storage.Dir, "state.db"), cfg.Storage.Namespace)
	defer kv.Close()

	// Mirror the active theme so other clients sharing the store see it.
	kv.Set("theme", cfg.UI.Theme)

	client := api.NewClient(cfg.API.BaseURL).
		WithTimeout(time.Duration(cfg.API.TimeoutSecs) * time.Second).
		WithMaxRetries(cfg.API.MaxRetries).
		WithRateLimit(cfg.API.RateLimitRPS, cfg.API.RateLimitBurst)

	sess := session.NewManager(client, kv)
	client.WithTokenSource(sess.Token).WithOnUnauthorized(sess.HandleUnauthorized)

	coord := upload.NewCoordinator(client, upload.PolicyFromConfig(cfg.Uploads))
	chatMgr := chat.NewManager(client, kv, sess, coord)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	// Reload the client's tuning when the config file changes.
	if path, err := config.ConfigPath(); err == nil {
		if stopWatch, err := config.Watch(path, func(updated *config.Config) {
			client.WithTimeout(time.Duration(updated.API.TimeoutSecs) * time.Second).
				WithMaxRetries(updated.API.MaxRetries).
				WithRateLimit(updated.API.RateLimitRPS, updated.API.RateLimitBurst)
		}); err == nil {
			defer stopWatch()
		}
	}

	// Restore any persisted session and verify it in the background.
	sess.Boot(ctx)
	if sess.IsAuthenticated() {
		chatMgr.Restore()
	}

	app := cli.NewApp(sess, chatMgr, coord, cfg.UI.HistoryFile)
	defer app.Close()

	return app.Run(ctx)
}
