package httpclient

import (
	"net/http"
	"strconv"
	"time"
)

// ParseOpenAIRateLimitHeaders reads OpenAI-style rate-limit headers.
// Retry-After is seconds; x-ratelimit-reset-requests is a duration string.
func ParseOpenAIRateLimitHeaders(h http.Header) RateLimitInfo {
	info := RateLimitInfo{}

	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			info.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	if info.RetryAfter == 0 {
		if v := h.Get("x-ratelimit-reset-requests"); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				info.RetryAfter = d
			}
		}
	}
	return info
}

// ParseAnthropicRateLimitHeaders reads Anthropic-style rate-limit headers.
// anthropic-ratelimit-requests-reset is an RFC3339 timestamp.
func ParseAnthropicRateLimitHeaders(h http.Header) RateLimitInfo {
	info := RateLimitInfo{}

	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			info.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	if v := h.Get("anthropic-ratelimit-requests-reset"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			info.ResetTime = t.Unix()
		}
	}
	return info
}
