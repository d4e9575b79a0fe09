package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestCache(ttl time.Duration, maxSize int) (*TTL[string], *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := New[string](Options{TTL: ttl, MaxSize: maxSize})
	c.now = clock.now
	return c, clock
}

func TestNewDisabled(t *testing.T) {
	for _, ttl := range []time.Duration{0, -time.Second} {
		c := New[int](Options{TTL: ttl})
		if c != nil {
			t.Fatalf("New(TTL=%v) = %v, want nil", ttl, c)
		}
		c.Set("k", 1)
		if _, ok := c.Get("k"); ok {
			t.Error("disabled cache should never hit")
		}
		if c.Len() != 0 {
			t.Error("disabled cache should be empty")
		}
		c.Clear()
	}
}

func TestGetSetExpiry(t *testing.T) {
	c, clock := newTestCache(time.Minute, 10)

	c.Set("q=asthma", "body")
	if got, ok := c.Get("q=asthma"); !ok || got != "body" {
		t.Fatalf("Get() = %q, %v", got, ok)
	}
	if _, ok := c.Get("q=other"); ok {
		t.Error("unexpected hit for unknown key")
	}

	clock.t = clock.t.Add(59 * time.Second)
	if _, ok := c.Get("q=asthma"); !ok {
		t.Error("entry should still be live before the TTL")
	}
	clock.t = clock.t.Add(time.Second)
	if _, ok := c.Get("q=asthma"); ok {
		t.Error("entry should expire at the TTL")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d after expiry", c.Len())
	}
}

func TestEmptyKeyIsNotCached(t *testing.T) {
	c, _ := newTestCache(time.Minute, 10)
	c.Set("", "x")
	if _, ok := c.Get(""); ok || c.Len() != 0 {
		t.Error("empty keys should be ignored")
	}
}

func TestMaxSizeEvictsOldest(t *testing.T) {
	c, clock := newTestCache(time.Hour, 3)
	for i := range 5 {
		c.Set(fmt.Sprintf("k%d", i), fmt.Sprint(i))
		clock.t = clock.t.Add(time.Second)
	}
	if c.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", c.Len())
	}
	for _, key := range []string{"k0", "k1"} {
		if _, ok := c.Get(key); ok {
			t.Errorf("%s should have been evicted", key)
		}
	}
	for _, key := range []string{"k2", "k3", "k4"} {
		if _, ok := c.Get(key); !ok {
			t.Errorf("%s should be cached", key)
		}
	}
}

func TestSetPrunesExpired(t *testing.T) {
	c, clock := newTestCache(time.Minute, 10)
	c.Set("old", "1")
	clock.t = clock.t.Add(2 * time.Minute)
	c.Set("new", "2")
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len() = %d after Clear", c.Len())
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New[int](Options{TTL: time.Minute, MaxSize: 50})
	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				key := fmt.Sprintf("k%d", (g*200+i)%80)
				c.Set(key, i)
				c.Get(key)
			}
		}()
	}
	wg.Wait()
	if c.Len() > 50 {
		t.Errorf("Len() = %d exceeds MaxSize", c.Len())
	}
}
