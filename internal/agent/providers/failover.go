package providers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/trialchat/internal/agent"
)

// FailoverConfig configures a FailoverProvider.
type FailoverConfig struct {
	// CircuitBreakerThreshold is the number of consecutive failures before
	// a provider is skipped.
	// Default: 3
	CircuitBreakerThreshold int

	// CircuitBreakerTimeout is how long a tripped provider is skipped.
	// Default: 30s
	CircuitBreakerTimeout time.Duration
}

// DefaultFailoverConfig returns the default failover configuration.
func DefaultFailoverConfig() *FailoverConfig {
	return &FailoverConfig{
		CircuitBreakerThreshold: 3,
		CircuitBreakerTimeout:   30 * time.Second,
	}
}

// ProviderState tracks the health of one provider in the chain.
type ProviderState struct {
	Name          string
	Failures      int
	LastFailure   time.Time
	LastReason    FailoverReason
	CircuitOpen   bool
	CircuitOpenAt time.Time
}

func (s *ProviderState) available(cfg *FailoverConfig, now time.Time) bool {
	return !s.CircuitOpen || now.Sub(s.CircuitOpenAt) > cfg.CircuitBreakerTimeout
}

// FailoverStats counts chain activity.
type FailoverStats struct {
	TotalRequests  int64
	TotalFailovers int64
	CircuitBreaks  int64
}

// FailoverProvider tries providers in order. Each provider retries
// retryable failures itself; the chain moves on when the error's reason
// calls for failover and stops on anything else, such as a bad request.
type FailoverProvider struct {
	providers []agent.LLMProvider
	config    *FailoverConfig
	logger    *slog.Logger

	mu     sync.Mutex
	states map[string]*ProviderState
	stats  FailoverStats
	now    func() time.Time
}

// NewFailoverProvider creates a chain over providers, primary first.
func NewFailoverProvider(providers []agent.LLMProvider, config *FailoverConfig, logger *slog.Logger) *FailoverProvider {
	if config == nil {
		config = DefaultFailoverConfig()
	}
	if config.CircuitBreakerThreshold <= 0 {
		config.CircuitBreakerThreshold = DefaultFailoverConfig().CircuitBreakerThreshold
	}
	if config.CircuitBreakerTimeout <= 0 {
		config.CircuitBreakerTimeout = DefaultFailoverConfig().CircuitBreakerTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverProvider{
		providers: providers,
		config:    config,
		logger:    logger.With("component", "failover"),
		states:    make(map[string]*ProviderState),
		now:       time.Now,
	}
}

// Complete implements agent.LLMProvider.
//
// The request's Model is only honored by the primary provider; fallbacks
// use their own default model.
func (f *FailoverProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	f.mu.Lock()
	f.stats.TotalRequests++
	f.mu.Unlock()

	var lastErr error
	for i, provider := range f.providers {
		if !f.isAvailable(provider.Name()) {
			f.logger.Debug("skipping provider with open circuit", "provider", provider.Name())
			continue
		}

		attempt := req
		if i > 0 && req.Model != "" {
			clone := *req
			clone.Model = ""
			attempt = &clone
		}

		ch, err := provider.Complete(ctx, attempt)
		if err == nil {
			f.recordSuccess(provider.Name())
			return ch, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		reason := ClassifyError(err)
		f.recordFailure(provider.Name(), reason)
		if !reason.ShouldFailover() {
			return nil, err
		}
		if i < len(f.providers)-1 {
			f.mu.Lock()
			f.stats.TotalFailovers++
			f.mu.Unlock()
			f.logger.Warn("provider failed, failing over",
				"provider", provider.Name(),
				"next", f.providers[i+1].Name(),
				"reason", reason,
				"error", err)
		}
	}

	if lastErr == nil {
		lastErr = ErrNoProviders
	}
	return nil, lastErr
}

func (f *FailoverProvider) state(name string) *ProviderState {
	state, ok := f.states[name]
	if !ok {
		state = &ProviderState{Name: name}
		f.states[name] = state
	}
	return state
}

func (f *FailoverProvider) isAvailable(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state(name).available(f.config, f.now())
}

func (f *FailoverProvider) recordSuccess(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := f.state(name)
	state.Failures = 0
	state.CircuitOpen = false
}

func (f *FailoverProvider) recordFailure(name string, reason FailoverReason) {
	f.mu.Lock()
	defer f.mu.Unlock()

	state := f.state(name)
	state.Failures++
	state.LastFailure = f.now()
	state.LastReason = reason

	if state.Failures >= f.config.CircuitBreakerThreshold {
		// A half-open provider that fails again re-arms the timeout.
		if !state.CircuitOpen {
			f.stats.CircuitBreaks++
		}
		state.CircuitOpen = true
		state.CircuitOpenAt = f.now()
	}
}

// Name implements agent.LLMProvider.
func (f *FailoverProvider) Name() string {
	if len(f.providers) == 0 {
		return "failover"
	}
	return "failover:" + f.providers[0].Name()
}

// Models implements agent.LLMProvider, deduplicated across the chain.
func (f *FailoverProvider) Models() []agent.Model {
	var all []agent.Model
	seen := make(map[string]bool)
	for _, p := range f.providers {
		for _, m := range p.Models() {
			if !seen[m.ID] {
				seen[m.ID] = true
				all = append(all, m)
			}
		}
	}
	return all
}

// SupportsTools implements agent.LLMProvider. It is true only when every
// provider in the chain supports tools, so a failover never silently drops them.
func (f *FailoverProvider) SupportsTools() bool {
	if len(f.providers) == 0 {
		return false
	}
	for _, p := range f.providers {
		if !p.SupportsTools() {
			return false
		}
	}
	return true
}

// Stats returns a snapshot of chain counters.
func (f *FailoverProvider) Stats() FailoverStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

// ProviderStates returns the state of every provider that has been tried.
func (f *FailoverProvider) ProviderStates() []ProviderState {
	f.mu.Lock()
	defer f.mu.Unlock()
	states := make([]ProviderState, 0, len(f.states))
	for _, p := range f.providers {
		if s, ok := f.states[p.Name()]; ok {
			states = append(states, *s)
		}
	}
	return states
}

// ResetCircuitBreakers closes every circuit.
func (f *FailoverProvider) ResetCircuitBreakers() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, state := range f.states {
		state.Failures = 0
		state.CircuitOpen = false
	}
}
