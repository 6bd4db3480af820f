// Package invidious talks to an Invidious-compatible instance, the primary
// backend for YouTube resources.
package invidious

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yattee/server/internal/logging"
	"github.com/yattee/server/internal/settings"
)

const (
	maxErrorBody = 200
	// defaultMaxBody caps JSON and thumbnail bodies read from an instance.
	defaultMaxBody = 8 << 20
)

// Client fetches JSON from one instance. Build a new Client per settings
// snapshot; the zero value is unusable.
type Client struct {
	BaseURL    string
	HTTP       *http.Client
	MaxRetries int
	RetryDelay time.Duration
	// MaxBodyBytes caps a response body; zero means 8 MiB.
	MaxBodyBytes int64

	// Sleep waits between attempts; nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// New builds a client from a settings snapshot. transport may be nil.
func New(s settings.Settings, transport http.RoundTripper) *Client {
	base := ""
	if s.InvidiousConfigured() {
		base = strings.TrimRight(s.InvidiousInstance, "/")
	}
	return &Client{
		BaseURL:    base,
		HTTP:       &http.Client{Timeout: s.InvidiousTimeoutDuration(), Transport: transport},
		MaxRetries: s.InvidiousMaxRetries,
		RetryDelay: s.InvidiousRetryBase(),
	}
}

// Enabled reports whether the client has an instance to talk to.
func (c *Client) Enabled() bool {
	return c != nil && c.BaseURL != ""
}

// FetchJSON GETs endpoint and decodes the body into out. Transient failures are
// retried up to MaxRetries times with exponential backoff; every failure is
// returned wrapped in a *RetryError carrying the attempt count.
func (c *Client) FetchJSON(ctx context.Context, endpoint string, out any) error {
	body, _, err := c.fetch(ctx, endpoint)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &RetryError{Attempts: 1, Err: &DecodeError{Endpoint: endpoint, Err: err}}
	}
	return nil
}

// FetchRaw GETs endpoint with the same retry policy and returns the body and content type.
func (c *Client) FetchRaw(ctx context.Context, endpoint string) ([]byte, string, error) {
	return c.fetch(ctx, endpoint)
}

func (c *Client) fetch(ctx context.Context, endpoint string) ([]byte, string, error) {
	if !c.Enabled() {
		return nil, "", ErrNotConfigured
	}
	logger := logging.FromContext(ctx)
	sleep := c.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= max(c.MaxRetries, 0); attempt++ {
		if attempt > 0 {
			delay := c.RetryDelay * time.Duration(1<<(attempt-1))
			logger.Info("retrying invidious request", "endpoint", endpoint, "attempt", attempt, "delay", delay)
			if err := sleep(ctx, delay); err != nil {
				return nil, "", err
			}
		}
		attempts++

		body, contentType, err := c.do(ctx, endpoint)
		if err == nil {
			return body, contentType, nil
		}
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		logger.Warn("invidious request failed", "endpoint", endpoint, "attempt", attempts, "error", err)
		lastErr = err
		if !IsRetryable(err) {
			break
		}
	}
	return nil, "", &RetryError{Attempts: attempts, Err: lastErr}
}

func (c *Client) do(ctx context.Context, endpoint string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+endpoint, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build invidious request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, "", &ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	limit := c.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBody
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, "", &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(truncateUTF8(body))}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", &ConnectionError{Err: err}
	}
	if int64(len(body)) > limit {
		return nil, "", fmt.Errorf("%w: %s exceeds %d bytes", ErrResponseTooLarge, endpoint, limit)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// truncateUTF8 drops the rune a byte limit may have split, along with any
// other invalid bytes.
func truncateUTF8(b []byte) string {
	return strings.ToValidUTF8(string(b), "")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ResolveURL turns protocol-relative and root-relative URLs returned by an
// instance into absolute ones.
func ResolveURL(raw, base string) string {
	switch {
	case raw == "":
		return raw
	case strings.HasPrefix(raw, "//"):
		return "https:" + raw
	case strings.HasPrefix(raw, "/"):
		return strings.TrimRight(base, "/") + raw
	}
	return raw
}
