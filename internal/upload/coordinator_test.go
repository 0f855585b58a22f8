// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package upload

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/morganforge/geminichat/internal/api"
	"github.com/morganforge/geminichat/internal/config"
)

const resultBody = `{
	"userMessage":{"id":"m1","role":"user","content":"describe"},
	"aiMessage":{"id":"m2","role":"assistant","content":"an image"}
}`

func writeTempFile(t *testing.T, name string, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, bytes.Repeat([]byte("x"), size), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestCoordinator(t *testing.T, handler http.Handler) (*Coordinator, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)
	return NewCoordinator(api.NewClient(server.URL), DefaultPolicy()), &hits
}

// =============================================================================
// VALIDATION GATE
// =============================================================================

func TestCoordinator_RejectsOversizeWithoutRequest(t *testing.T) {
	coord, hits := newTestCoordinator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(resultBody))
	}))

	path := writeTempFile(t, "big.png", 5*1024*1024+1)
	_, err := coord.UploadImage(context.Background(), path, "p", "", nil)

	if !errors.Is(err, api.ErrValidation) {
		t.Fatalf("got %v, want validation error", err)
	}
	if hits.Load() != 0 {
		t.Errorf("server hit %d times, want 0", hits.Load())
	}
}

func TestCoordinator_RejectsUnsupportedTypeWithoutRequest(t *testing.T) {
	coord, hits := newTestCoordinator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(resultBody))
	}))

	path := writeTempFile(t, "notes.txt", 100)
	_, err := coord.UploadFile(context.Background(), path, "p", "", nil)

	if !errors.Is(err, api.ErrValidation) {
		t.Fatalf("got %v, want validation error", err)
	}
	if hits.Load() != 0 {
		t.Errorf("server hit %d times, want 0", hits.Load())
	}
}

func TestCoordinator_RejectsCategoryMismatch(t *testing.T) {
	coord, hits := newTestCoordinator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	path := writeTempFile(t, "sound.mp3", 100)
	_, err := coord.UploadImage(context.Background(), path, "p", "", nil)

	if !errors.Is(err, api.ErrValidation) {
		t.Fatalf("got %v, want validation error", err)
	}
	if hits.Load() != 0 {
		t.Errorf("server hit %d times, want 0", hits.Load())
	}
}

func TestPolicy_BoundaryAccepted(t *testing.T) {
	p := DefaultPolicy()

	// Exactly at the ceiling passes; one byte over fails.
	if err := p.Validate(CategoryImage, "image/png", 5*1024*1024); err != nil {
		t.Errorf("at-limit file rejected: %v", err)
	}
	if err := p.Validate(CategoryImage, "image/png", 5*1024*1024+1); err == nil {
		t.Error("over-limit file accepted")
	}
}

func TestPolicy_ValidateFile(t *testing.T) {
	p := DefaultPolicy()

	good := p.ValidateFile(writeTempFile(t, "photo.jpg", 100))
	if !good.OK {
		t.Fatalf("valid file rejected: %s", good.Reason)
	}
	if good.Category != CategoryImage || good.MimeType != "image/jpeg" || good.Size != 100 {
		t.Errorf("detection = %+v", good)
	}

	big := p.ValidateFile(writeTempFile(t, "big.gif", 5*1024*1024+1))
	if big.OK || big.Reason == "" {
		t.Errorf("oversize file accepted: %+v", big)
	}

	unknown := p.ValidateFile(writeTempFile(t, "notes.txt", 10))
	if unknown.OK || unknown.Reason == "" {
		t.Errorf("unsupported type accepted: %+v", unknown)
	}

	missing := p.ValidateFile(filepath.Join(t.TempDir(), "absent.png"))
	if missing.OK || missing.Reason == "" {
		t.Errorf("missing file accepted: %+v", missing)
	}
}

func TestPolicyFromConfig_OverridesCeilings(t *testing.T) {
	p := PolicyFromConfig(config.UploadsConfig{ImageMaxBytes: 1024})

	if err := p.Validate(CategoryImage, "image/png", 2048); err == nil {
		t.Error("configured ceiling not applied")
	}
	if err := p.Validate(CategoryAudio, "audio/mpeg", 9*1024*1024); err != nil {
		t.Errorf("unconfigured category changed: %v", err)
	}
}

// =============================================================================
// TRANSFER
// =============================================================================

func TestCoordinator_UploadImageSuccess(t *testing.T) {
	var gotPath, gotPrompt, gotConv string
	coord, _ := newTestCoordinator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		r.ParseMultipartForm(1 << 20)
		gotPrompt = r.FormValue("prompt")
		gotConv = r.FormValue("conversationId")
		w.Write([]byte(resultBody))
	}))

	path := writeTempFile(t, "photo.png", 2048)
	var lastProgress int
	result, err := coord.UploadImage(context.Background(), path, "describe", "c1", func(p int) { lastProgress = p })
	if err != nil {
		t.Fatalf("UploadImage: %v", err)
	}

	if gotPath != "/gemini/image" {
		t.Errorf("path = %q", gotPath)
	}
	if gotPrompt != "describe" || gotConv != "c1" {
		t.Errorf("fields = %q %q", gotPrompt, gotConv)
	}
	if result.AIMessage.Content != "an image" {
		t.Errorf("AIMessage = %+v", result.AIMessage)
	}
	if lastProgress != 100 {
		t.Errorf("final progress = %d", lastProgress)
	}
}

func TestCoordinator_UploadFileDetectsCategory(t *testing.T) {
	var gotPath string
	coord, _ := newTestCoordinator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(resultBody))
	}))

	path := writeTempFile(t, "paper.pdf", 4096)
	if _, err := coord.UploadFile(context.Background(), path, "summarize", "", nil); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if gotPath != "/gemini/pdf" {
		t.Errorf("path = %q, want /gemini/pdf", gotPath)
	}
}

func TestCoordinator_CancelAbortsUpload(t *testing.T) {
	release := make(chan struct{})
	coord, _ := newTestCoordinator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer close(release)

	path := writeTempFile(t, "clip.ogg", 2048)

	errCh := make(chan error, 1)
	go func() {
		_, err := coord.UploadAudio(context.Background(), path, "", nil)
		errCh <- err
	}()

	// Wait for the job to register, then cancel it.
	var jobs []string
	for len(jobs) == 0 {
		jobs = coord.ActiveJobs()
	}
	coord.Cancel(jobs[0])

	if err := <-errCh; !errors.Is(err, api.ErrCancelled) {
		t.Errorf("got %v, want cancelled error", err)
	}
	if len(coord.ActiveJobs()) != 0 {
		t.Error("finished job must be unregistered")
	}

	// Cancelling again is a no-op.
	coord.Cancel(jobs[0])
}

// =============================================================================
// PREVIEW
// =============================================================================

func TestCoordinator_GeneratePreview(t *testing.T) {
	coord := NewCoordinator(api.NewClient("http://unused"), DefaultPolicy())

	imgPath := writeTempFile(t, "photo.jpg", 64)
	p, err := coord.GeneratePreview(imgPath)
	if err != nil {
		t.Fatalf("GeneratePreview: %v", err)
	}
	if p.Category != CategoryImage || p.Size != 64 {
		t.Errorf("preview = %+v", p)
	}
	if !strings.HasPrefix(p.DataURL, "data:image/jpeg;base64,") {
		t.Errorf("DataURL = %q", p.DataURL)
	}

	pdfPath := writeTempFile(t, "paper.pdf", 128)
	p, err = coord.GeneratePreview(pdfPath)
	if err != nil {
		t.Fatalf("GeneratePreview: %v", err)
	}
	if p.DataURL != "" {
		t.Error("pdf preview must carry metadata only")
	}
	if p.Filename != "paper.pdf" || p.MimeType != "application/pdf" {
		t.Errorf("preview = %+v", p)
	}
}

func TestCoordinator_PreviewValidatesFirst(t *testing.T) {
	coord := NewCoordinator(api.NewClient("http://unused"), DefaultPolicy())

	path := writeTempFile(t, "big.gif", 6*1024*1024)
	if _, err := coord.GeneratePreview(path); !errors.Is(err, api.ErrValidation) {
		t.Errorf("got %v, want validation error", err)
	}
}
