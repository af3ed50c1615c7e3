// Package expiry provides a small time-indexed cache with per-entry TTL.
// It backs the message dedup window, the outbound-echo suppression window and
// the idle-session reaper, so all three share one eviction mechanism.
package expiry

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache is a concurrency-safe map whose entries vanish after their TTL.
// Eviction is lazy on access plus a periodic background sweep; an optional
// OnEvict hook fires for swept (not lazily observed) expirations.
type Cache struct {
	mu    sync.Mutex
	items map[string]entry

	sweepEvery time.Duration

	// OnEvict is called outside the lock for every entry removed by the
	// background sweep. Set before Start.
	OnEvict func(key string, value any)

	now func() time.Time
}

// New creates a cache swept at the given interval. Start must be called for
// the background sweep; lazy expiry works without it.
func New(sweepEvery time.Duration) *Cache {
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}
	return &Cache{
		items:      make(map[string]entry),
		sweepEvery: sweepEvery,
		now:        time.Now,
	}
}

// Start launches the sweep loop until ctx is cancelled.
func (c *Cache) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.sweep()
			}
		}
	}()
}

// Set stores key with the given TTL, replacing any previous entry.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
}

// Get returns the live value for key, expiring it lazily if stale.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.items, key)
		return nil, false
	}
	return e.value, true
}

// Has reports whether key is present and not expired.
func (c *Cache) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Delete removes key regardless of expiry.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Len counts live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	now := c.now()
	for _, e := range c.items {
		if !now.After(e.expiresAt) {
			n++
		}
	}
	return n
}

func (c *Cache) sweep() {
	type evicted struct {
		key   string
		value any
	}
	var dead []evicted

	c.mu.Lock()
	now := c.now()
	for k, e := range c.items {
		if now.After(e.expiresAt) {
			delete(c.items, k)
			if c.OnEvict != nil {
				dead = append(dead, evicted{key: k, value: e.value})
			}
		}
	}
	c.mu.Unlock()

	for _, d := range dead {
		c.OnEvict(d.key, d.value)
	}
}

// SweepNow forces an immediate sweep, mainly for tests and shutdown paths.
func (c *Cache) SweepNow() {
	c.sweep()
}
