// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package upload

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/morganforge/geminichat/internal/api"
	"github.com/morganforge/geminichat/internal/model"
)

// Category to endpoint and form field wiring.
var categoryRoutes = map[Category]struct {
	path  string
	field string
}{
	CategoryImage: {"/gemini/image", "image"},
	CategoryAudio: {"/gemini/voice", "audio"},
	CategoryPDF:   {"/gemini/pdf", "pdf"},
}

// Result is the backend's reply to an attachment message: the echoed
// user message and the model's response.
type Result struct {
	UserMessage *model.Message `json:"userMessage"`
	AIMessage   *model.Message `json:"aiMessage"`
}

// =============================================================================
// COORDINATOR
// =============================================================================

// Coordinator runs validated, cancellable attachment uploads. Each
// in-flight upload is a job addressable by ID for cancellation.
type Coordinator struct {
	client *api.Client
	policy Policy

	mu   sync.Mutex
	jobs map[string]context.CancelFunc
}

// NewCoordinator creates a coordinator over the given client and policy.
func NewCoordinator(client *api.Client, policy Policy) *Coordinator {
	return &Coordinator{
		client: client,
		policy: policy,
		jobs:   make(map[string]context.CancelFunc),
	}
}

// Policy returns the active attachment policy.
func (c *Coordinator) Policy() Policy {
	return c.policy
}

// UploadImage sends an image attachment with an optional prompt.
func (c *Coordinator) UploadImage(ctx context.Context, path, prompt, conversationID string, progress api.ProgressFunc) (*Result, error) {
	return c.upload(ctx, CategoryImage, path, prompt, conversationID, progress)
}

// UploadAudio sends an audio attachment for transcription and response.
func (c *Coordinator) UploadAudio(ctx context.Context, path, conversationID string, progress api.ProgressFunc) (*Result, error) {
	return c.upload(ctx, CategoryAudio, path, "", conversationID, progress)
}

// UploadPDF sends a PDF attachment with an optional prompt.
func (c *Coordinator) UploadPDF(ctx context.Context, path, prompt, conversationID string, progress api.ProgressFunc) (*Result, error) {
	return c.upload(ctx, CategoryPDF, path, prompt, conversationID, progress)
}

// UploadFile detects the category from the file extension and sends the
// attachment accordingly.
func (c *Coordinator) UploadFile(ctx context.Context, path, prompt, conversationID string, progress api.ProgressFunc) (*Result, error) {
	cat, _, err := DetectFile(path)
	if err != nil {
		return nil, err
	}
	return c.upload(ctx, cat, path, prompt, conversationID, progress)
}

// Cancel aborts the upload with the given job ID. Cancelling a finished
// or unknown job is a no-op.
func (c *Coordinator) Cancel(jobID string) {
	c.mu.Lock()
	cancel, ok := c.jobs[jobID]
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

// ActiveJobs returns the IDs of uploads currently in flight.
func (c *Coordinator) ActiveJobs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.jobs))
	for id := range c.jobs {
		ids = append(ids, id)
	}
	return ids
}

// upload validates the file, registers a cancellable job and performs
// the transfer. Validation failures return before any request is built.
func (c *Coordinator) upload(ctx context.Context, cat Category, path, prompt, conversationID string, progress api.ProgressFunc) (*Result, error) {
	v := c.policy.ValidateFile(path)
	if !v.OK {
		return nil, &api.Error{Kind: api.KindValidation, Message: v.Reason}
	}
	if v.Category != cat {
		return nil, &api.Error{
			Kind:    api.KindValidation,
			Message: fmt.Sprintf("file %q is not a %s", filepath.Base(path), cat),
		}
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, &api.Error{Kind: api.KindValidation, Message: fmt.Sprintf("cannot read file: %v", err)}
	}
	defer file.Close()

	jobCtx, cancel := context.WithCancel(ctx)
	jobID := uuid.NewString()
	c.mu.Lock()
	c.jobs[jobID] = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.jobs, jobID)
		c.mu.Unlock()
		cancel()
	}()

	route := categoryRoutes[cat]
	fields := map[string]string{}
	if prompt != "" {
		fields["prompt"] = prompt
	}
	if conversationID != "" {
		fields["conversationId"] = conversationID
	}

	log.Printf("Upload: %s %s (%s)", cat, filepath.Base(path), jobID)

	var result Result
	part := &api.FilePart{
		FieldName: route.field,
		FileName:  filepath.Base(path),
		MimeType:  v.MimeType,
		Reader:    file,
	}
	if err := c.client.PostMultipart(jobCtx, route.path, fields, part, progress, &result); err != nil {
		return nil, err
	}
	if result.UserMessage == nil || result.AIMessage == nil {
		return nil, &api.Error{Kind: api.KindServer, Message: "malformed response from server"}
	}
	return &result, nil
}
