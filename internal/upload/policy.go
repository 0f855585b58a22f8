// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package upload

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/morganforge/geminichat/internal/api"
	"github.com/morganforge/geminichat/internal/config"
	"github.com/morganforge/geminichat/internal/util"
)

// Category names an attachment class with its own policy rule.
type Category string

const (
	CategoryImage Category = "image"
	CategoryAudio Category = "audio"
	CategoryPDF   Category = "pdf"
)

// Rule is the constraint set for one category.
type Rule struct {
	// MaxBytes is the inclusive size ceiling.
	MaxBytes int64
	// MimeTypes is the allow-list of acceptable content types.
	MimeTypes []string
}

// Policy maps each category to its rule.
type Policy map[Category]Rule

// Built-in size ceilings.
const (
	defaultImageMax = 5 * 1024 * 1024
	defaultAudioMax = 10 * 1024 * 1024
	defaultPDFMax   = 10 * 1024 * 1024
)

// DefaultPolicy returns the built-in attachment rules.
func DefaultPolicy() Policy {
	return Policy{
		CategoryImage: {
			MaxBytes:  defaultImageMax,
			MimeTypes: []string{"image/jpeg", "image/jpg", "image/png", "image/gif", "image/webp"},
		},
		CategoryAudio: {
			MaxBytes:  defaultAudioMax,
			MimeTypes: []string{"audio/wav", "audio/mp3", "audio/mpeg", "audio/ogg", "audio/webm"},
		},
		CategoryPDF: {
			MaxBytes:  defaultPDFMax,
			MimeTypes: []string{"application/pdf"},
		},
	}
}

// PolicyFromConfig returns the default policy with any configured size
// ceilings applied. The MIME allow-lists are fixed; only ceilings are
// tunable.
func PolicyFromConfig(cfg config.UploadsConfig) Policy {
	p := DefaultPolicy()
	if cfg.ImageMaxBytes > 0 {
		r := p[CategoryImage]
		r.MaxBytes = cfg.ImageMaxBytes
		p[CategoryImage] = r
	}
	if cfg.AudioMaxBytes > 0 {
		r := p[CategoryAudio]
		r.MaxBytes = cfg.AudioMaxBytes
		p[CategoryAudio] = r
	}
	if cfg.PDFMaxBytes > 0 {
		r := p[CategoryPDF]
		r.MaxBytes = cfg.PDFMaxBytes
		p[CategoryPDF] = r
	}
	return p
}

// Validate checks a file's declared type and size against the category's
// rule. It returns a validation error naming the failed constraint, or
// nil. No other error kind ever comes out of validation.
func (p Policy) Validate(cat Category, mimeType string, size int64) error {
	rule, ok := p[cat]
	if !ok {
		return &api.Error{Kind: api.KindValidation, Message: fmt.Sprintf("unsupported attachment category %q", cat)}
	}

	allowed := false
	for _, mt := range rule.MimeTypes {
		if strings.EqualFold(mimeType, mt) {
			allowed = true
			break
		}
	}
	if !allowed {
		return &api.Error{
			Kind:    api.KindValidation,
			Message: fmt.Sprintf("unsupported %s type %q", cat, mimeType),
		}
	}

	if size > rule.MaxBytes {
		return &api.Error{
			Kind:    api.KindValidation,
			Message: fmt.Sprintf("%s exceeds the %s limit (%s)", cat, util.FormatBytes(rule.MaxBytes), util.FormatBytes(size)),
		}
	}
	return nil
}

// Validation is the outcome of checking a file against the policy. A
// failed check carries the reason; nothing is thrown or returned
// out-of-band.
type Validation struct {
	OK       bool
	Reason   string
	Category Category
	MimeType string
	Size     int64
}

// ValidateFile checks a file on disk against the policy: extension to
// category and MIME type, then the category's allow-list and ceiling.
// It never touches the network.
func (p Policy) ValidateFile(path string) Validation {
	cat, mimeType, err := DetectFile(path)
	if err != nil {
		return Validation{Reason: errReason(err)}
	}

	info, err := os.Stat(path)
	if err != nil {
		return Validation{Category: cat, MimeType: mimeType, Reason: fmt.Sprintf("cannot read file: %v", err)}
	}

	v := Validation{Category: cat, MimeType: mimeType, Size: info.Size()}
	if err := p.Validate(cat, mimeType, info.Size()); err != nil {
		v.Reason = errReason(err)
		return v
	}
	v.OK = true
	return v
}

// errReason extracts the display message from a normalized error.
func errReason(err error) string {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}

// extensionTypes maps file extensions to declared MIME types for the
// supported categories.
var extensionTypes = map[string]struct {
	mime string
	cat  Category
}{
	".jpg":  {"image/jpeg", CategoryImage},
	".jpeg": {"image/jpeg", CategoryImage},
	".png":  {"image/png", CategoryImage},
	".gif":  {"image/gif", CategoryImage},
	".webp": {"image/webp", CategoryImage},
	".wav":  {"audio/wav", CategoryAudio},
	".mp3":  {"audio/mpeg", CategoryAudio},
	".ogg":  {"audio/ogg", CategoryAudio},
	".webm": {"audio/webm", CategoryAudio},
	".pdf":  {"application/pdf", CategoryPDF},
}

// DetectFile infers the category and MIME type from the file extension.
// Unknown extensions are a validation failure.
func DetectFile(path string) (Category, string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if entry, ok := extensionTypes[ext]; ok {
		return entry.cat, entry.mime, nil
	}
	return "", "", &api.Error{
		Kind:    api.KindValidation,
		Message: fmt.Sprintf("unsupported file type %q", ext),
	}
}
