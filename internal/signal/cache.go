package signal

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// cacheEntry is one classified signal with its insertion time.
type cacheEntry struct {
	signal   Signal
	storedAt time.Time
}

// Cache stores successful LLM classifications keyed by
// SHA256(channel || ":" || text), expiring after a TTL.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewCache creates a classification cache. ttl <= 0 defaults to 600 s.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 600 * time.Second
	}
	return &Cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// CacheKey derives the cache key for (channel, text).
func CacheKey(channel, text string) string {
	h := sha256.Sum256([]byte(channel + ":" + text))
	return hex.EncodeToString(h[:])
}

// Get returns the cached signal with its timestamp refreshed to now.
func (c *Cache) Get(channel, text string) (Signal, bool) {
	key := CacheKey(channel, text)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return Signal{}, false
	}
	if c.now().Sub(entry.storedAt) > c.ttl {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return Signal{}, false
	}

	sig := entry.signal
	sig.Timestamp = c.now()
	return sig, true
}

// Put stores a signal. Only successful LLM classifications belong here;
// failures are never negatively cached.
func (c *Cache) Put(channel, text string, sig Signal) {
	key := CacheKey(channel, text)
	c.mu.Lock()
	c.entries[key] = cacheEntry{signal: sig, storedAt: c.now()}
	c.mu.Unlock()
}

// Len reports live entries (testing/diagnostics).
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
