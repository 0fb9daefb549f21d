package recurrence

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/caldavgo/caldav/icalendar"
)

// CacheConfig controls an expansionCache's size and lifetime.
type CacheConfig struct {
	TTL             time.Duration
	MaxEntries      int
	CleanupInterval time.Duration
}

// DefaultCacheConfig is used by WithCache when called with a zero-value
// CacheConfig.
var DefaultCacheConfig = CacheConfig{
	TTL:             15 * time.Minute,
	MaxEntries:      1000,
	CleanupInterval: 5 * time.Minute,
}

type cacheEntry struct {
	times      []time.Time
	expiresAt  time.Time
	accessedAt time.Time
}

// expansionCache memoizes the expensive part of Expand, the raw RRULE
// instant generation, keyed by the master's UID, its RRULE/EXDATE text
// and the query range. Override substitution and duration math stay
// outside the cache since they're cheap and vary per call.
type expansionCache struct {
	mu          sync.RWMutex
	entries     map[string]cacheEntry
	ttl         time.Duration
	maxEntries  int
	stopCleanup chan struct{}
}

func newExpansionCache(cfg CacheConfig) *expansionCache {
	if cfg.TTL <= 0 {
		cfg = DefaultCacheConfig
	}
	c := &expansionCache{
		entries:     make(map[string]cacheEntry),
		ttl:         cfg.TTL,
		maxEntries:  cfg.MaxEntries,
		stopCleanup: make(chan struct{}),
	}
	go c.cleanupLoop(cfg.CleanupInterval)
	return c
}

func cacheKey(master icalendar.Event, searchStart, rangeEnd time.Time) string {
	h := sha256.New()
	h.Write([]byte(master.UID))
	if rule, ok := master.RRule.Get(); ok {
		h.Write([]byte(rule.String()))
	}
	for _, exd := range master.ExDate {
		h.Write([]byte(exd.Time().UTC().Format(time.RFC3339Nano)))
	}
	h.Write([]byte(master.DTStart.Time().Format(time.RFC3339Nano)))
	h.Write([]byte(searchStart.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte(rangeEnd.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *expansionCache) get(key string) ([]time.Time, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	c.mu.Lock()
	entry.accessedAt = time.Now()
	c.entries[key] = entry
	c.mu.Unlock()
	return entry.times, true
}

func (c *expansionCache) set(key string, times []time.Time) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{times: times, expiresAt: now.Add(c.ttl), accessedAt: now}
	if len(c.entries) > c.maxEntries {
		c.evictLocked()
	}
}

// evictLocked drops expired entries, then the least-recently-accessed
// survivors until the cache is back under its limit. Caller holds mu.
func (c *expansionCache) evictLocked() {
	now := time.Now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
	if len(c.entries) <= c.maxEntries {
		return
	}
	type keyed struct {
		key        string
		accessedAt time.Time
	}
	ordered := make([]keyed, 0, len(c.entries))
	for key, entry := range c.entries {
		ordered = append(ordered, keyed{key, entry.accessedAt})
	}
	for i := range ordered {
		for j := i + 1; j < len(ordered); j++ {
			if ordered[j].accessedAt.Before(ordered[i].accessedAt) {
				ordered[i], ordered[j] = ordered[j], ordered[i]
			}
		}
	}
	for i := 0; i < len(ordered)-c.maxEntries; i++ {
		delete(c.entries, ordered[i].key)
	}
}

func (c *expansionCache) cleanupLoop(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCacheConfig.CleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.evictLocked()
			c.mu.Unlock()
		case <-c.stopCleanup:
			return
		}
	}
}

// close stops the cache's background cleanup goroutine; Expander.Close
// calls it for an Expander built with WithCache.
func (c *expansionCache) close() {
	close(c.stopCleanup)
}
