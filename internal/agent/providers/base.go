package providers

import (
	"context"
	"time"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
	defaultMaxTokens  = 4096
)

// BaseProvider holds shared identity and retry configuration for providers.
type BaseProvider struct {
	name         string
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// NewBaseProvider creates a base provider. A negative maxRetries disables
// retries; zero selects the default.
func NewBaseProvider(name, defaultModel string, maxRetries int, retryDelay time.Duration) BaseProvider {
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	return BaseProvider{
		name:         name,
		defaultModel: defaultModel,
		maxRetries:   maxRetries,
		retryDelay:   retryDelay,
	}
}

// Name returns the provider identifier.
func (b *BaseProvider) Name() string {
	return b.name
}

func (b *BaseProvider) model(requested string) string {
	if requested == "" {
		return b.defaultModel
	}
	return requested
}

func maxTokens(requested int) int {
	if requested <= 0 {
		return defaultMaxTokens
	}
	return requested
}

// Retry runs op until it succeeds, fails with an error IsRetryable rejects,
// or the retries are spent. The delay doubles after each attempt.
func (b *BaseProvider) Retry(ctx context.Context, op func() error) error {
	var lastErr error
	delay := b.retryDelay
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) || attempt == b.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return lastErr
}
