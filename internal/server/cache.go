package server

import (
	"sync"
	"time"
)

type cacheEntry struct {
	body    []byte
	expires time.Time
}

// responseCache is a tiny TTL cache for hot read endpoints; any
// catalog or settings mutation flushes it wholesale.
type responseCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

func newResponseCache() *responseCache {
	return &responseCache{entries: make(map[string]cacheEntry)}
}

func (rc *responseCache) get(key string) ([]byte, bool) {
	rc.mu.RLock()
	entry, ok := rc.entries[key]
	rc.mu.RUnlock()
	if !ok || time.Now().After(entry.expires) {
		return nil, false
	}
	return entry.body, true
}

func (rc *responseCache) set(key string, body []byte, ttl time.Duration) {
	rc.mu.Lock()
	rc.entries[key] = cacheEntry{body: body, expires: time.Now().Add(ttl)}
	rc.mu.Unlock()
}

func (rc *responseCache) flush() {
	rc.mu.Lock()
	rc.entries = make(map[string]cacheEntry)
	rc.mu.Unlock()
}
