package providers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
)

func TestFailoverReasonPolicies(t *testing.T) {
	tests := []struct {
		reason    FailoverReason
		retryable bool
		failover  bool
	}{
		{FailoverRateLimit, true, true},
		{FailoverTimeout, true, true},
		{FailoverNetwork, true, true},
		{FailoverServerError, true, true},
		{FailoverBilling, false, true},
		{FailoverAuth, false, true},
		{FailoverModelUnavailable, false, true},
		{FailoverInvalidRequest, false, false},
		{FailoverContentFilter, false, false},
		{FailoverCancelled, false, false},
		{FailoverUnknown, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			if got := tt.reason.IsRetryable(); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
			if got := tt.reason.ShouldFailover(); got != tt.failover {
				t.Errorf("ShouldFailover() = %v, want %v", got, tt.failover)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected FailoverReason
	}{
		{"nil error", nil, FailoverUnknown},
		{"timeout", errors.New("request timeout"), FailoverTimeout},
		{"context deadline", fmt.Errorf("stream: %w", context.DeadlineExceeded), FailoverTimeout},
		{"context cancelled", fmt.Errorf("stream: %w", context.Canceled), FailoverCancelled},
		{"rate limit", errors.New("rate limit exceeded"), FailoverRateLimit},
		{"429 status", errors.New("HTTP 429"), FailoverRateLimit},
		{"gemini exhausted", errors.New("Error 429, Status: RESOURCE_EXHAUSTED"), FailoverRateLimit},
		{"unauthorized", errors.New("unauthorized"), FailoverAuth},
		{"invalid api key", errors.New("invalid api key"), FailoverAuth},
		{"quota exceeded", errors.New("quota exceeded"), FailoverBilling},
		{"content filter", errors.New("content_filter triggered"), FailoverContentFilter},
		{"model not found", errors.New("model not found"), FailoverModelUnavailable},
		{"connection refused", errors.New("dial tcp 127.0.0.1:1: connect: connection refused"), FailoverNetwork},
		{"server error", errors.New("internal server error"), FailoverServerError},
		{"overloaded", errors.New("Overloaded"), FailoverServerError},
		{"bad request", errors.New("400 bad request"), FailoverInvalidRequest},
		{"unknown", errors.New("something went wrong"), FailoverUnknown},
		{"wrapped provider error", fmt.Errorf("outer: %w", NewProviderError("openai", "gpt-4o", nil).WithStatus(401)), FailoverAuth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.expected {
				t.Errorf("ClassifyError(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestProviderError(t *testing.T) {
	cause := errors.New("underlying error")
	err := NewProviderError("anthropic", "claude-sonnet-4-20250514", cause).
		WithStatus(429).
		WithCode("rate_limit_error").
		WithRequestID("req-123")

	if err.Reason != FailoverRateLimit {
		t.Errorf("Reason = %v, want %v", err.Reason, FailoverRateLimit)
	}
	want := "[rate_limit] anthropic model=claude-sonnet-4-20250514 status=429 code=rate_limit_error underlying error"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the cause")
	}
	if err.RequestID != "req-123" {
		t.Errorf("RequestID = %q", err.RequestID)
	}

	overloaded := NewProviderError("anthropic", "", errors.New("x")).WithCode("overloaded_error")
	if overloaded.Reason != FailoverServerError {
		t.Errorf("overloaded Reason = %v", overloaded.Reason)
	}
}

func TestGetProviderError(t *testing.T) {
	providerErr := NewProviderError("openai", "gpt-4o", errors.New("test"))

	got, ok := GetProviderError(fmt.Errorf("wrapped: %w", providerErr))
	if !ok || got != providerErr {
		t.Error("GetProviderError should extract a wrapped ProviderError")
	}
	if IsProviderError(errors.New("regular")) {
		t.Error("IsProviderError should be false for a plain error")
	}
}

func TestIsRetryableAndShouldFailover(t *testing.T) {
	rateLimitErr := NewProviderError("anthropic", "claude", nil).WithStatus(429)
	authErr := NewProviderError("openai", "gpt-4o", nil).WithStatus(401)
	badRequest := NewProviderError("google", "gemini", nil).WithStatus(400)

	if !IsRetryable(rateLimitErr) || !ShouldFailover(rateLimitErr) {
		t.Error("rate limit should retry and then fail over")
	}
	if IsRetryable(authErr) || !ShouldFailover(authErr) {
		t.Error("auth error should fail over without retrying")
	}
	if IsRetryable(badRequest) || ShouldFailover(badRequest) {
		t.Error("bad request should neither retry nor fail over")
	}
	if IsRetryable(context.Canceled) {
		t.Error("cancellation must not retry")
	}
}

func TestClassifyStatusCode(t *testing.T) {
	tests := []struct {
		status   int
		expected FailoverReason
	}{
		{401, FailoverAuth},
		{403, FailoverAuth},
		{402, FailoverBilling},
		{429, FailoverRateLimit},
		{400, FailoverInvalidRequest},
		{404, FailoverModelUnavailable},
		{408, FailoverTimeout},
		{500, FailoverServerError},
		{529, FailoverServerError},
		{200, FailoverUnknown},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.status), func(t *testing.T) {
			if got := classifyStatusCode(tt.status); got != tt.expected {
				t.Errorf("classifyStatusCode(%d) = %v, want %v", tt.status, got, tt.expected)
			}
		})
	}
}
