// ABOUTME: In-memory render cache keyed by the sha256 of the markdown working copy.
// ABOUTME: Supports TTL-based expiry, a size bound, concurrent access, and manual clearing.
package markdown

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"
)

// defaultMaxEntries bounds the cache when no explicit limit is given.
const defaultMaxEntries = 512

// cacheEntry holds a single cached render result with its creation timestamp.
type cacheEntry struct {
	output    string
	createdAt time.Time
}

// Cache memoizes formatter output. Streaming re-renders the whole accumulated
// text on every chunk, and a dropped dangling row often leaves the working
// copy unchanged between chunks, so repeated inputs are common.
type Cache struct {
	ttl        time.Duration
	maxEntries int
	entries    map[string]*cacheEntry
	mu         sync.RWMutex
	now        func() time.Time
}

// NewCache creates a Cache whose entries expire after ttl. A maxEntries of
// zero or less uses the default bound.
func NewCache(ttl time.Duration, maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &Cache{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]*cacheEntry),
		now:        time.Now,
	}
}

// Render returns the cached output for src under the given kind, calling fn
// on a miss or expiry. Errors are never cached.
func (c *Cache) Render(kind, src string, fn func(string) (string, error)) (string, error) {
	key := cacheKey(kind, src)

	c.mu.RLock()
	if entry, ok := c.entries[key]; ok && c.now().Sub(entry.createdAt) < c.ttl {
		out := entry.output
		c.mu.RUnlock()
		return out, nil
	}
	c.mu.RUnlock()

	out, err := fn(src)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	if len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}
	c.entries[key] = &cacheEntry{output: out, createdAt: c.now()}
	c.mu.Unlock()

	return out, nil
}

// evictLocked drops expired entries, and everything if that is not enough.
func (c *Cache) evictLocked() {
	now := c.now()
	for k, e := range c.entries {
		if now.Sub(e.createdAt) >= c.ttl {
			delete(c.entries, k)
		}
	}
	if len(c.entries) >= c.maxEntries {
		c.entries = make(map[string]*cacheEntry)
	}
}

// Len returns the number of entries currently in the cache (including expired ones).
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear removes all entries from the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
}

func cacheKey(kind, src string) string {
	return fmt.Sprintf("%x:%s", sha256.Sum256([]byte(src)), kind)
}
