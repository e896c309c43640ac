package trust

import (
	"sync"
	"time"

	"github.com/itsshri/NightSafe/internal/models"
)

// registryCache is a tiny TTL cache over registry lookups. The
// registry is externally curated and changes rarely, so a short TTL
// keeps repeat verifications off the store without holding stale rows
// for long.
type registryCache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	e  models.RegistryEntry
	ts time.Time
}

func newRegistryCache(ttl time.Duration) *registryCache {
	return &registryCache{store: make(map[string]cacheEntry), ttl: ttl}
}

func (c *registryCache) Get(id string) (models.RegistryEntry, bool) {
	c.mu.RLock()
	e, ok := c.store[id]
	c.mu.RUnlock()
	if !ok {
		return models.RegistryEntry{}, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, id)
		c.mu.Unlock()
		return models.RegistryEntry{}, false
	}
	return e.e, true
}

func (c *registryCache) Set(id string, e models.RegistryEntry) {
	c.mu.Lock()
	c.store[id] = cacheEntry{e: e, ts: time.Now()}
	c.mu.Unlock()
}
