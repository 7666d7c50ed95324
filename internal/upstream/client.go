// Package upstream speaks each vendor's native HTTP API: unary calls,
// SSE streams, and model listing, with exponential-backoff retries on
// transient failures.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/modelgate/modelgate/internal/protocol"
)

const anthropicVersion = "2023-06-01"

// Target identifies one upstream endpoint plus its auth material.
type Target struct {
	Protocol protocol.ID
	BaseURL  string
	APIKey   string
}

// Client issues calls against upstream providers. Retries cover unary
// calls and stream establishment; an established stream is never
// silently reconnected.
type Client struct {
	http       *http.Client
	logger     *slog.Logger
	maxRetries int
	baseDelay  time.Duration
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithRetry(maxRetries int, baseDelay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.baseDelay = baseDelay
	}
}

func NewClient(logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		http:       &http.Client{Timeout: 5 * time.Minute},
		logger:     logger,
		maxRetries: 3,
		baseDelay:  time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete performs a unary content generation call and returns the raw
// native response body.
func (c *Client) Complete(ctx context.Context, target Target, model string, body []byte) ([]byte, error) {
	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		return c.newGenerateRequest(ctx, target, model, body, false)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	reader, err := decompressReader(resp)
	if err != nil {
		return nil, fmt.Errorf("decompress response: %w", err)
	}
	out, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return out, nil
}

// Stream establishes an SSE stream. The caller owns the returned Stream
// and must Close it.
func (c *Client) Stream(ctx context.Context, target Target, model string, body []byte) (*Stream, error) {
	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		return c.newGenerateRequest(ctx, target, model, body, true)
	})
	if err != nil {
		return nil, err
	}
	return newStream(resp)
}

// ListModels fetches the provider's model catalogue in its native shape.
func (c *Client) ListModels(ctx context.Context, target Target) ([]byte, error) {
	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, joinURL(target.BaseURL, "models"), nil)
		if err != nil {
			return nil, err
		}
		c.setAuthHeaders(req, target)
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	reader, err := decompressReader(resp)
	if err != nil {
		return nil, fmt.Errorf("decompress response: %w", err)
	}
	return io.ReadAll(reader)
}

// doWithRetry runs build+do up to maxRetries+1 times, backing off
// baseDelay*2^attempt on 429 and 5xx. Auth failures propagate
// immediately.
func (c *Client) doWithRetry(ctx context.Context, build func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.baseDelay * (1 << (attempt - 1))
			c.logger.Debug("retrying upstream call", "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := build()
		if err != nil {
			return nil, err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			body := readErrorBody(resp)
			return nil, &AuthError{StatusCode: resp.StatusCode, Body: body}
		case retryable(resp.StatusCode):
			lastErr = &StatusError{StatusCode: resp.StatusCode, Body: readErrorBody(resp)}
			c.logger.Warn("upstream call failed, will retry",
				"status", resp.StatusCode, "attempt", attempt)
			continue
		case resp.StatusCode >= 400:
			return nil, &StatusError{StatusCode: resp.StatusCode, Body: readErrorBody(resp)}
		}
		return resp, nil
	}
	return nil, fmt.Errorf("upstream call failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// newGenerateRequest builds the vendor-specific content generation
// request: URL layout, auth headers, and stream selection all differ per
// protocol.
func (c *Client) newGenerateRequest(ctx context.Context, target Target, model string, body []byte, stream bool) (*http.Request, error) {
	var endpoint string
	switch target.Protocol {
	case protocol.OpenAI:
		endpoint = joinURL(target.BaseURL, "chat/completions")
	case protocol.Claude:
		endpoint = joinURL(target.BaseURL, "messages")
	case protocol.Gemini:
		method := "generateContent"
		if stream {
			method = "streamGenerateContent?alt=sse"
		}
		endpoint = joinURL(target.BaseURL, "models/"+url.PathEscape(model)+":"+method)
	default:
		return nil, fmt.Errorf("no upstream client for protocol %q", target.Protocol)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	c.setAuthHeaders(req, target)
	return req, nil
}

func (c *Client) setAuthHeaders(req *http.Request, target Target) {
	if target.APIKey == "" {
		return
	}
	switch target.Protocol {
	case protocol.Claude:
		req.Header.Set("x-api-key", target.APIKey)
		req.Header.Set("anthropic-version", anthropicVersion)
	case protocol.Gemini:
		req.Header.Set("x-goog-api-key", target.APIKey)
	default:
		req.Header.Set("Authorization", "Bearer "+target.APIKey)
	}
}

func readErrorBody(resp *http.Response) string {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8192))
	if err != nil {
		return ""
	}
	return string(body)
}

func joinURL(base, path string) string {
	return strings.TrimSuffix(base, "/") + "/" + path
}
