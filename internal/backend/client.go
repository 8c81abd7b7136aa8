// Package backend talks to the transcription/summarization service. Every
// call goes through a bounded exponential-backoff retry loop.
package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBaseURL     = "http://localhost:5000"
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultTimeout     = 60 * time.Second

	maxResponseBytes = 4 << 20
)

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d", e.StatusCode)
}

// RequestBuilder creates a fresh request, body included, for every attempt.
type RequestBuilder func(ctx context.Context) (*http.Request, error)

// Options configures a Client. Zero values select the defaults.
type Options struct {
	BaseURL     string
	MaxAttempts int
	BaseDelay   time.Duration
	HTTPClient  *http.Client
	// Sleep waits between attempts. Tests replace it to observe delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client performs backend requests with retry.
type Client struct {
	baseURL     string
	http        *http.Client
	maxAttempts int
	baseDelay   time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// New creates a Client from opts.
func New(opts Options) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		http:        opts.HTTPClient,
		maxAttempts: opts.MaxAttempts,
		baseDelay:   opts.BaseDelay,
		sleep:       opts.Sleep,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: DefaultTimeout}
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = DefaultMaxAttempts
	}
	if c.baseDelay <= 0 {
		c.baseDelay = DefaultBaseDelay
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	return c
}

// BaseURL returns the backend root the client posts to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Backoff returns the delay before the attempt following the given 1-based
// failed attempt: base * 2^(attempt-1).
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base * time.Duration(1<<(attempt-1))
}

// Do runs the request up to the attempt budget. Non-2xx responses and
// transport failures both count as failures; once the budget is spent the
// last failure is returned unchanged. On success the (possibly empty)
// response body is returned.
func (c *Client) Do(ctx context.Context, build RequestBuilder) ([]byte, error) {
	var lastErr error
	for attempt := 1; ; attempt++ {
		body, err := c.attempt(ctx, build)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if attempt >= c.maxAttempts {
			return nil, lastErr
		}
		if err := c.sleep(ctx, Backoff(c.baseDelay, attempt)); err != nil {
			return nil, err
		}
	}
}

func (c *Client) attempt(ctx context.Context, build RequestBuilder) ([]byte, error) {
	req, err := build(ctx)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	// A body that cannot be read is treated like a malformed one: the call
	// itself succeeded.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	return body, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
