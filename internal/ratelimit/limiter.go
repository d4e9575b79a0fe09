// Package ratelimit limits how often each client may start agent runs.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Config configures rate limiting behavior.
type Config struct {
	// Enabled controls whether rate limiting is active.
	Enabled bool `yaml:"enabled"`
	// RequestsPerSecond is the sustained rate allowed per client.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	// Burst is the number of requests a client may make back to back.
	Burst int `yaml:"burst"`
}

// DefaultConfig returns the default, disabled configuration.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 1,
		Burst:             5,
	}
}

const maxKeys = 10000

// bucket is a token bucket. Callers hold the limiter's lock.
type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// Limiter keeps one token bucket per client key.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64
	burst   float64
	enabled bool
	now     func() time.Time
}

// NewLimiter creates a limiter. Non-positive rates and bursts fall back to
// the defaults.
func NewLimiter(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = max(1, int(math.Ceil(cfg.RequestsPerSecond)))
	}
	return &Limiter{
		buckets: make(map[string]*bucket),
		rate:    cfg.RequestsPerSecond,
		burst:   float64(cfg.Burst),
		enabled: cfg.Enabled,
		now:     time.Now,
	}
}

// Enabled reports whether the limiter rejects anything.
func (l *Limiter) Enabled() bool {
	return l != nil && l.enabled
}

// Allow consumes a token for key. When none is left it reports how long the
// client should wait before retrying.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	if !l.Enabled() {
		return true, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= maxKeys {
			l.prune(now)
		}
		b = &bucket{tokens: l.burst, lastRefill: now}
		l.buckets[key] = b
	}
	l.refill(b, now)

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration((1 - b.tokens) / l.rate * float64(time.Second))
	return false, wait
}

func (l *Limiter) refill(b *bucket, now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now
	b.tokens = min(l.burst, b.tokens+elapsed*l.rate)
}

// prune drops buckets that have refilled, since those clients are idle.
func (l *Limiter) prune(now time.Time) {
	for key, b := range l.buckets {
		l.refill(b, now)
		if b.tokens >= l.burst {
			delete(l.buckets, key)
		}
	}
}

// Reset forgets key.
func (l *Limiter) Reset(key string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}
