// ABOUTME: Thread-safe TTL cache for suppressing duplicate reply deliveries.
// ABOUTME: Both reply channels may carry the same logical reply; the second within the window is dropped.

package dedupe

import (
	"sync"
	"time"
)

// Cache tracks recently seen keys for a bounded window. Entries expire after
// the TTL; a background goroutine sweeps expired entries so the map stays
// bounded by the reply rate times the window.
type Cache struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	ttl    time.Duration
	done   chan struct{}
	closed bool
}

// New creates a cache with the given TTL and starts the sweep goroutine.
func New(ttl time.Duration) *Cache {
	c := &Cache{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		done: make(chan struct{}),
	}
	go c.sweep()
	return c
}

// CheckAndMark atomically checks whether key was seen within the TTL and
// marks it if not. Returns true if the key is a duplicate.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if at, ok := c.seen[key]; ok && time.Since(at) < c.ttl {
		return true
	}
	c.seen[key] = time.Now()
	return false
}

// sweep periodically removes expired entries.
func (c *Cache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for key, at := range c.seen {
				if now.Sub(at) > c.ttl {
					delete(c.seen, key)
				}
			}
			c.mu.Unlock()
		case <-c.done:
			return
		}
	}
}

// Close stops the sweep goroutine. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
