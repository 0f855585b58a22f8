// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package upload

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/morganforge/geminichat/internal/api"
)

// Preview describes a file ahead of upload. Images and audio embed the
// content as a data URL; PDFs carry metadata only.
type Preview struct {
	Category Category
	Filename string
	MimeType string
	Size     int64

	// DataURL is the base64-encoded content for image and audio files.
	// Empty for PDFs.
	DataURL string
}

// GeneratePreview validates the file and builds its preview. Validation
// failures surface the same way they do on upload.
func (c *Coordinator) GeneratePreview(path string) (*Preview, error) {
	v := c.policy.ValidateFile(path)
	if !v.OK {
		return nil, &api.Error{Kind: api.KindValidation, Message: v.Reason}
	}

	p := &Preview{
		Category: v.Category,
		Filename: filepath.Base(path),
		MimeType: v.MimeType,
		Size:     v.Size,
	}

	if v.Category == CategoryPDF {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &api.Error{Kind: api.KindValidation, Message: fmt.Sprintf("cannot read file: %v", err)}
	}
	p.DataURL = fmt.Sprintf("data:%s;base64,%s", v.MimeType, base64.StdEncoding.EncodeToString(data))
	return p, nil
}
