package cache

import (
	"sync"
	"time"
)

// TTL is a cache whose entries expire after a fixed duration regardless of
// access pattern. Get lazily evicts expired entries; a periodic sweep also
// removes them so idle keys do not accumulate. Construct with NewTTL and call
// Stop on shutdown to release the sweeper goroutine.
type TTL[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]ttlEntry[V]
	done    chan struct{}
	stop    sync.Once

	// now is swappable for tests
	now func() time.Time
}

type ttlEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// NewTTL creates a TTL cache sweeping expired entries every sweepInterval.
// A sweepInterval of zero disables the background sweep; expiry then happens
// lazily on Get only.
func NewTTL[K comparable, V any](sweepInterval time.Duration) *TTL[K, V] {
	c := &TTL[K, V]{
		entries: make(map[K]ttlEntry[V]),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	if sweepInterval > 0 {
		go c.sweepLoop(sweepInterval)
	}
	return c
}

// Get returns the live value for key. An expired entry is removed as a side
// effect and reported as not found.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return entry.value, true
}

// Set stores key→value for the given lifetime
func (c *TTL[K, V]) Set(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = ttlEntry[V]{value: value, expiresAt: c.now().Add(ttl)}
}

// Delete removes a key if present
func (c *TTL[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of stored entries, expired or not
func (c *TTL[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stop terminates the background sweeper. Safe to call more than once.
func (c *TTL[K, V]) Stop() {
	c.stop.Do(func() { close(c.done) })
}

func (c *TTL[K, V]) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

func (c *TTL[K, V]) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}
