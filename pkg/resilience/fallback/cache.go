package fallback

import (
	"fmt"
	"time"

	"github.com/searchkit/resilience/pkg/resilience/classify"
)

// cacheEntry is one cached query result bucket.
type cacheEntry struct {
	docs        []Document
	timestamp   time.Time
	reliability float64
}

// age returns how long ago the entry was written.
func (e *cacheEntry) age(now time.Time) time.Duration {
	return now.Sub(e.timestamp)
}

// decayedReliability computes the entry's reliability decayed by age:
// the stored reliability is multiplied by 1 - min(0.3, age/maxAge) and
// floored at 0.5.
func (e *cacheEntry) decayedReliability(now time.Time, maxAge time.Duration) float64 {
	decay := float64(e.age(now)) / float64(maxAge)
	if decay > 0.3 {
		decay = 0.3
	}
	r := e.reliability * (1 - decay)
	if r < 0.5 {
		r = 0.5
	}
	return r
}

// cacheKey builds the bucket key for a query in context.
func cacheKey(ectx *classify.Context, query string) string {
	adapter, user := "", ""
	if ectx != nil {
		adapter = ectx.Adapter
		user = ectx.UserID
	}
	return fmt.Sprintf("%s:%s:%s", adapter, user, query)
}

// CacheResults stores a successful primary result for later fallback
// use. Reliability defaults to 1.0 and is clamped to [0, 1]. Stale
// entries are cleaned up opportunistically on every write.
func (c *Chain) CacheResults(ectx *classify.Context, query string, docs []Document, reliability float64) {
	if reliability == 0 {
		reliability = 1.0
	}
	if reliability < 0 {
		reliability = 0
	}
	if reliability > 1 {
		reliability = 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.cache[cacheKey(ectx, query)] = &cacheEntry{
		docs:        append([]Document(nil), docs...),
		timestamp:   now,
		reliability: reliability,
	}
	c.cleanupLocked(now)
}

// cleanupLocked removes entries older than the cache max age.
// Callers must hold c.mu.
func (c *Chain) cleanupLocked(now time.Time) {
	for key, entry := range c.cache {
		if entry.age(now) > c.opts.CacheMaxAge {
			delete(c.cache, key)
		}
	}
}

// lookup returns a fresh cache entry for the key, lazily evicting it
// when expired.
func (c *Chain) lookup(key string) (*cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.cache[key]
	if !ok {
		return nil, false
	}
	if entry.age(time.Now()) > c.opts.CacheMaxAge {
		delete(c.cache, key)
		return nil, false
	}
	return entry, true
}

// snapshotCache returns all fresh entries for cross-bucket scans.
func (c *Chain) snapshotCache() []*cacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	entries := make([]*cacheEntry, 0, len(c.cache))
	for key, entry := range c.cache {
		if entry.age(now) > c.opts.CacheMaxAge {
			delete(c.cache, key)
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}

// CacheSize returns the number of live cache buckets.
func (c *Chain) CacheSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

// ClearCache drops every cached bucket.
func (c *Chain) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]*cacheEntry)
}
