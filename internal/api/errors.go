// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a normalized API error.
type Kind int

const (
	// KindValidation covers 400 and 422 responses.
	KindValidation Kind = iota
	// KindAuth covers 401 and 403 responses.
	KindAuth
	// KindNotFound covers 404 responses.
	KindNotFound
	// KindServer covers 5xx responses and malformed success payloads.
	KindServer
	// KindNetwork covers requests that received no response at all.
	KindNetwork
	// KindCancelled covers requests aborted through context cancellation.
	KindCancelled
)

// String returns the kind name for logging.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindServer:
		return "server"
	case KindNetwork:
		return "network"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is the normalized error shape produced by the client. It is the
// only error type the managers above this package inspect.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	// Fields carries field-level validation messages for KindValidation.
	Fields map[string][]string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("api: %s (HTTP %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("api: %s: %s", e.Kind, e.Message)
}

// Is implements errors.Is support: two *Error values match when their kinds
// match, so callers compare against the sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Unauthorized reports whether the error is a 401 specifically. Only 401
// triggers session teardown; 403 does not.
func (e *Error) Unauthorized() bool {
	return e.Kind == KindAuth && e.Status == http.StatusUnauthorized
}

// Sentinel values for errors.Is comparisons.
var (
	ErrValidation = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrAuth       = &Error{Kind: KindAuth, Message: "not authorized"}
	ErrNotFound   = &Error{Kind: KindNotFound, Message: "resource not found"}
	ErrServer     = &Error{Kind: KindServer, Message: "server error"}
	ErrNetwork    = &Error{Kind: KindNetwork, Message: "no connection to server"}
	ErrCancelled  = &Error{Kind: KindCancelled, Message: "request cancelled"}
)

// errorEnvelope is the JSON error body shape used by every endpoint.
type errorEnvelope struct {
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors"`
}

// normalizeStatus maps an HTTP error response to a normalized *Error.
func normalizeStatus(status int, body []byte) *Error {
	var env errorEnvelope
	message := ""
	if err := json.Unmarshal(body, &env); err == nil {
		message = env.Message
	}

	e := &Error{Status: status, Message: message, Fields: env.Errors}

	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		e.Kind = KindValidation
		if e.Message == "" {
			e.Message = "validation failed"
		}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = KindAuth
		if e.Message == "" {
			e.Message = "not authorized"
		}
	case status == http.StatusNotFound:
		e.Kind = KindNotFound
		if e.Message == "" {
			e.Message = "resource not found"
		}
	case status >= 500:
		e.Kind = KindServer
		if e.Message == "" {
			e.Message = "server error"
		}
	default:
		// Anything else out of the 2xx range is treated as a server fault.
		e.Kind = KindServer
		if e.Message == "" {
			e.Message = fmt.Sprintf("unexpected status %d", status)
		}
	}

	return e
}

// normalizeTransport maps a transport-level failure (no response) to a
// normalized *Error.
func normalizeTransport(err error) *Error {
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindCancelled, Message: "request cancelled"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindNetwork, Message: "request timed out"}
	}
	return &Error{Kind: KindNetwork, Message: "no connection to server"}
}
