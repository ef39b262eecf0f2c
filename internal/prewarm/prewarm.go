// Package prewarm issues the best-effort retrieval-cache warm-up call at
// session start so the first turn's lookup does not pay a cold cache.
//
// Failure is never fatal: the caller logs the error and starts the session
// anyway.
package prewarm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client calls the pre-warm endpoint.
type Client struct {
	url     string
	httpc   *http.Client
	timeout time.Duration
}

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient overrides the HTTP client, used by tests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Client) { p.httpc = c }
}

// WithTimeout bounds each pre-warm request. Default 3s.
func WithTimeout(d time.Duration) Option {
	return func(p *Client) { p.timeout = d }
}

// New creates a pre-warm client for the given endpoint URL.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:     url,
		httpc:   http.DefaultClient,
		timeout: 3 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type warmRequest struct {
	CorrelationID string `json:"correlation_id"`
}

// Warm asks the retrieval cache to pre-load context for the given
// correlation id. Returns an error for the caller to log; the session must
// proceed regardless.
func (c *Client) Warm(ctx context.Context, correlationID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(warmRequest{CorrelationID: correlationID})
	if err != nil {
		return fmt.Errorf("prewarm: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("prewarm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("prewarm: call endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("prewarm: endpoint returned %s", resp.Status)
	}
	return nil
}
