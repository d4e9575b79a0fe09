// Package cache provides a small time-limited cache for upstream responses.
package cache

import (
	"sync"
	"time"
)

// Options configures a TTL cache.
type Options struct {
	// TTL is how long an entry stays valid. Zero or negative disables the cache.
	TTL time.Duration
	// MaxSize caps the number of entries; the oldest are evicted first.
	MaxSize int
}

type entry[V any] struct {
	value  V
	stored int64 // unix millis
}

// TTL is a concurrency-safe cache whose entries expire after a fixed
// duration. A nil *TTL is a disabled cache.
type TTL[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// New creates a cache. It returns nil when opts.TTL disables caching.
func New[V any](opts Options) *TTL[V] {
	if opts.TTL <= 0 {
		return nil
	}
	maxSize := opts.MaxSize
	if maxSize <= 0 {
		maxSize = 256
	}
	return &TTL[V]{
		entries: make(map[string]entry[V]),
		ttl:     opts.TTL,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Get returns the live value stored under key.
func (c *TTL[V]) Get(key string) (V, bool) {
	var zero V
	if c == nil || key == "" {
		return zero, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if c.now().UnixMilli()-e.stored >= c.ttl.Milliseconds() {
		delete(c.entries, key)
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, pruning expired and excess entries.
func (c *TTL[V]) Set(key string, value V) {
	if c == nil || key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now().UnixMilli()
	c.entries[key] = entry[V]{value: value, stored: now}
	c.prune(now)
}

func (c *TTL[V]) prune(nowUnix int64) {
	cutoff := nowUnix - c.ttl.Milliseconds()
	for key, e := range c.entries {
		if e.stored <= cutoff {
			delete(c.entries, key)
		}
	}

	for len(c.entries) > c.maxSize {
		var oldestKey string
		oldest := int64(^uint64(0) >> 1)
		for k, e := range c.entries {
			if e.stored < oldest {
				oldest = e.stored
				oldestKey = k
			}
		}
		delete(c.entries, oldestKey)
	}
}

// Len returns the number of stored entries, expired ones included until
// the next Set.
func (c *TTL[V]) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear removes all entries.
func (c *TTL[V]) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry[V])
}
