// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Configuration constants for the backend API client.
const (
	// DefaultTimeout is the default timeout for API requests.
	DefaultTimeout = 30 * time.Second

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay is the maximum delay for exponential backoff.
	retryMaxDelay = 10 * time.Second

	// MaxResponseSize caps response bodies to prevent memory exhaustion.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB
)

// sharedTransport pools connections for all client instances.
var sharedTransport = &http.Transport{
	MaxIdleConns:        100,
	MaxIdleConnsPerHost: 10,
	IdleConnTimeout:     90 * time.Second,
	TLSHandshakeTimeout: 10 * time.Second,
	TLSClientConfig: &tls.Config{
		MinVersion: tls.VersionTLS12,
	},
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is the configured transport to the chat backend. All requests go
// through it so the bearer token, rate limiting, retry policy and error
// normalization apply uniformly.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string

	// tokenSource supplies the current bearer token; requests go out
	// unauthenticated when it is nil or returns "".
	tokenSource func() string

	// onUnauthorized fires for every normalized 401 so the session layer
	// can tear down exactly once.
	onUnauthorized func()

	// limiter shapes outgoing request rate; nil disables shaping.
	limiter *rate.Limiter

	// maxRetries is the number of additional attempts for 5xx/network
	// failures. Zero (the default) means a single attempt.
	maxRetries int
}

// NewClient creates a client for the given base URL (e.g.
// "http://localhost:5000/api").
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: sharedTransport,
		},
		userAgent: "geminichat/1.0",
	}
}

// WithTimeout sets the per-request timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.httpClient.Timeout = timeout
	return c
}

// WithTokenSource sets the accessor that supplies the bearer token.
func (c *Client) WithTokenSource(fn func() string) *Client {
	c.tokenSource = fn
	return c
}

// WithOnUnauthorized sets the hook invoked on every 401 response.
func (c *Client) WithOnUnauthorized(fn func()) *Client {
	c.onUnauthorized = fn
	return c
}

// WithMaxRetries sets the number of retry attempts for transient errors.
func (c *Client) WithMaxRetries(n int) *Client {
	if n < 0 {
		n = 0
	}
	c.maxRetries = n
	return c
}

// WithRateLimit caps outgoing requests to rps per second with the given
// burst. rps <= 0 disables shaping.
func (c *Client) WithRateLimit(rps float64, burst int) *Client {
	if rps <= 0 {
		c.limiter = nil
		return c
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	return c
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// JSON VERBS
// =============================================================================

// Get issues a GET request and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

// Post issues a POST request with a JSON body and decodes the response.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.doJSON(ctx, http.MethodPost, path, body, out)
}

// Put issues a PUT request with a JSON body and decodes the response.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.doJSON(ctx, http.MethodPut, path, body, out)
}

// Delete issues a DELETE request and decodes the response if out is non-nil.
func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodDelete, path, nil, out)
}

// GetBlob issues a GET request and returns the raw response body, for
// binary downloads such as server-side conversation exports.
func (c *Client) GetBlob(ctx context.Context, path string) ([]byte, error) {
	body, _, err := c.doRaw(ctx, http.MethodGet, path, "", nil)
	return body, err
}

// doJSON marshals body (when non-nil), performs the request and decodes
// the response into out (when non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindValidation, Message: fmt.Sprintf("failed to encode request: %v", err)}
		}
	}

	respBody, _, err := c.doRaw(ctx, method, path, "application/json", payload)
	if err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		// A success status with an undecodable body is a backend fault;
		// never let callers see partial zero-valued state.
		return &Error{Kind: KindServer, Message: "malformed response from server"}
	}
	return nil
}

// doRaw performs the request with retry and normalization. It returns the
// response body for 2xx responses and a normalized *Error otherwise.
func (c *Client) doRaw(ctx context.Context, method, path, contentType string, payload []byte) ([]byte, int, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, normalizeTransport(err)
		}
	}

	var lastErr *Error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, 0, normalizeTransport(ctx.Err())
			case <-time.After(backoffDelay(attempt)):
			}
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return nil, 0, &Error{Kind: KindValidation, Message: fmt.Sprintf("failed to build request: %v", err)}
		}
		c.setHeaders(req, contentType)

		body, status, reqErr := c.send(req)
		if reqErr == nil {
			return body, status, nil
		}

		lastErr = reqErr
		if !retryable(reqErr) {
			return nil, status, reqErr
		}
	}

	return nil, lastErr.Status, lastErr
}

// send performs a single exchange and normalizes the outcome.
func (c *Client) send(req *http.Request) ([]byte, int, *Error) {
	c.logRequest(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, normalizeTransport(err)
	}
	defer resp.Body.Close()
	c.logResponse(resp, time.Since(start))

	body, err := readLimited(resp)
	if err != nil {
		return nil, resp.StatusCode, &Error{Kind: KindServer, Status: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, resp.StatusCode, nil
	}

	apiErr := normalizeStatus(resp.StatusCode, body)
	if apiErr.Unauthorized() && c.onUnauthorized != nil {
		c.onUnauthorized()
	}
	return nil, resp.StatusCode, apiErr
}

// setHeaders attaches the standard headers to an outgoing request.
func (c *Client) setHeaders(req *http.Request, contentType string) {
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())

	if c.tokenSource != nil {
		if token := c.tokenSource(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
}

// logRequest logs an outgoing request. Headers and bodies are never
// logged; they may carry credentials or user content.
func (c *Client) logRequest(req *http.Request) {
	log.Printf("API Request: %s %s", req.Method, req.URL.Path)
}

// logResponse logs status and duration only.
func (c *Client) logResponse(resp *http.Response, duration time.Duration) {
	log.Printf("API Response: %d (%v)", resp.StatusCode, duration)
}

// readLimited reads a response body with the size cap applied.
func readLimited(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) == MaxResponseSize {
		return nil, errors.New("response exceeded maximum size")
	}
	return body, nil
}

// retryable reports whether a normalized error may be retried. Auth,
// validation, not-found and cancellation outcomes never are.
func retryable(e *Error) bool {
	return e.Kind == KindServer && e.Status >= 500 || e.Kind == KindNetwork
}

// backoffDelay returns the exponential backoff delay for the given attempt.
func backoffDelay(attempt int) time.Duration {
	delay := retryBaseDelay * time.Duration(1<<uint(attempt-1))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}
