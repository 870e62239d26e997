// Package httpclient provides the retrying HTTP client shared by every
// hosted-backend adapter. Retries use exponential backoff with jitter,
// clamped between 1s and 300s, and honor Retry-After when a provider
// rate-limits us.
package httpclient

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"
)

const (
	// MinDelay is the floor of the backoff schedule.
	MinDelay = 1 * time.Second
	// MaxDelay is the ceiling of the backoff schedule.
	MaxDelay = 300 * time.Second
)

// RateLimitInfo carries retry hints parsed from provider response headers.
type RateLimitInfo struct {
	RetryAfter time.Duration
	ResetTime  int64
}

// HeaderParser extracts rate-limit hints from a provider's response headers.
type HeaderParser func(http.Header) RateLimitInfo

// Client wraps http.Client with a bounded retry schedule.
type Client struct {
	client       *http.Client
	maxRetries   int
	baseDelay    time.Duration
	headerParser HeaderParser
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// WithMaxRetries bounds the number of retry attempts after the first request.
func WithMaxRetries(max int) Option {
	return func(c *Client) {
		if max >= 0 {
			c.maxRetries = max
		}
	}
}

// WithBaseDelay sets the first backoff interval. It is clamped to MinDelay.
func WithBaseDelay(delay time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = delay
	}
}

// WithHeaderParser installs a provider-specific rate-limit header parser.
func WithHeaderParser(parser HeaderParser) Option {
	return func(c *Client) {
		c.headerParser = parser
	}
}

// New builds a Client. Defaults: 10 retries, 1s base delay, 60s per-request
// timeout.
func New(opts ...Option) *Client {
	c := &Client{
		client:     &http.Client{Timeout: 60 * time.Second},
		maxRetries: 10,
		baseDelay:  MinDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.baseDelay < MinDelay {
		c.baseDelay = MinDelay
	}
	return c
}

// Do executes the request, retrying transient failures (connection errors,
// 408/429/5xx) until the retry budget is exhausted. The request context
// cancels both in-flight requests and backoff sleeps.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastErr error
	var lastResp *http.Response

	for attempt := 0; ; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("failed to recreate request body for retry: %w", err)
			}
			req.Body = body
		}

		resp, err := c.client.Do(req)
		if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		var info RateLimitInfo
		if err == nil {
			if !retryableStatus(resp.StatusCode) {
				return resp, nil
			}
			if c.headerParser != nil {
				info = c.headerParser(resp.Header)
			}
			lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
			lastResp = resp
			drain(resp)
		} else {
			lastErr = err
			lastResp = nil
		}

		if attempt >= c.maxRetries {
			return lastResp, &RetryableError{
				Message:    fmt.Sprintf("max retries (%d) exceeded", c.maxRetries),
				RetryAfter: c.delay(attempt, info),
				Err:        lastErr,
			}
		}

		if err := sleepCtx(req.Context(), c.delay(attempt, info)); err != nil {
			return nil, err
		}
	}
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// delay computes the wait before the next attempt: a provider hint when one
// is available, otherwise exponential backoff with 10% jitter, clamped to
// [MinDelay, MaxDelay].
func (c *Client) delay(attempt int, info RateLimitInfo) time.Duration {
	if info.RetryAfter > 0 {
		return clamp(info.RetryAfter)
	}
	if info.ResetTime > 0 {
		if until := time.Until(time.Unix(info.ResetTime, 0)); until > 0 {
			return clamp(until)
		}
	}

	backoff := time.Duration(math.Pow(2, float64(attempt))) * c.baseDelay
	if backoff <= 0 || backoff > MaxDelay {
		backoff = MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(backoff)/10 + 1))
	return clamp(backoff + jitter)
}

func clamp(d time.Duration) time.Duration {
	if d < MinDelay {
		return MinDelay
	}
	if d > MaxDelay {
		return MaxDelay
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func drain(resp *http.Response) {
	if resp.Body != nil {
		resp.Body.Close()
	}
}
