// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"
)

// =============================================================================
// MULTIPART UPLOADS
// =============================================================================

// FilePart describes the file portion of a multipart request.
type FilePart struct {
	// FieldName is the form field the backend expects ("image", "audio", "pdf").
	FieldName string
	// FileName is the original file name sent in the part header.
	FileName string
	// MimeType is the declared content type of the file.
	MimeType string
	// Reader supplies the file bytes.
	Reader io.Reader
}

// ProgressFunc receives upload progress in whole percent, 0 through 100.
type ProgressFunc func(percent int)

// PostMultipart issues a multipart POST carrying the given form fields and
// one file part, reporting byte-accurate progress as the body is consumed
// by the transport. Cancellation via ctx aborts the transfer and surfaces
// ErrCancelled.
func (c *Client) PostMultipart(ctx context.Context, path string, fields map[string]string, part *FilePart, progress ProgressFunc, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return normalizeTransport(err)
		}
	}

	// The body is assembled up front so the total size is known and
	// progress can be exact rather than estimated.
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return &Error{Kind: KindValidation, Message: fmt.Sprintf("failed to encode form field: %v", err)}
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, part.FieldName, part.FileName))
	header.Set("Content-Type", part.MimeType)
	fw, err := writer.CreatePart(header)
	if err != nil {
		return &Error{Kind: KindValidation, Message: fmt.Sprintf("failed to create file part: %v", err)}
	}
	if _, err := io.Copy(fw, part.Reader); err != nil {
		return &Error{Kind: KindValidation, Message: fmt.Sprintf("failed to read file: %v", err)}
	}
	if err := writer.Close(); err != nil {
		return &Error{Kind: KindValidation, Message: fmt.Sprintf("failed to finalize form: %v", err)}
	}

	total := int64(buf.Len())
	body := &progressReader{reader: &buf, total: total, report: progress}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return &Error{Kind: KindValidation, Message: fmt.Sprintf("failed to build request: %v", err)}
	}
	req.ContentLength = total
	c.setHeaders(req, writer.FormDataContentType())

	log.Printf("API Upload: POST %s (%d bytes)", req.URL.Path, total)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Distinguish a caller abort from a dead network; http wraps the
		// context error in a *url.Error.
		if ctx.Err() != nil {
			return normalizeTransport(ctx.Err())
		}
		return normalizeTransport(err)
	}
	defer resp.Body.Close()
	c.logResponse(resp, time.Since(start))

	respBody, err := readLimited(resp)
	if err != nil {
		return &Error{Kind: KindServer, Status: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := normalizeStatus(resp.StatusCode, respBody)
		if apiErr.Unauthorized() && c.onUnauthorized != nil {
			c.onUnauthorized()
		}
		return apiErr
	}

	if progress != nil {
		progress(100)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &Error{Kind: KindServer, Message: "malformed response from server"}
	}
	return nil
}

// =============================================================================
// PROGRESS TRACKING
// =============================================================================

// progressReader reports consumption of the request body in whole percent.
type progressReader struct {
	reader io.Reader
	total  int64
	read   int64
	last   int
	report ProgressFunc
}

// Read implements io.Reader.
func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.reader.Read(b)
	if n > 0 && p.total > 0 && p.report != nil {
		p.read += int64(n)
		percent := int(p.read * 100 / p.total)
		if percent > 100 {
			percent = 100
		}
		if percent != p.last {
			p.last = percent
			p.report(percent)
		}
	}
	return n, err
}
