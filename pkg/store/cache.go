package store

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedEntity is the cache value for a resolved entity: enough to answer a
// canonical-id lookup without touching the database.
type CachedEntity struct {
	ID          int64
	DisplayName string
	Metadata    EntityMetadata
}

// EntityCache is a bounded LRU over resolved entities keyed by canonical id.
// It is shared across workers; writes happen only after a successful commit,
// so the cache is advisory and correctness never depends on it.
type EntityCache struct {
	mu   sync.Mutex
	lru  *lru.Cache[string, CachedEntity]
	hits int64
	gets int64
}

// NewEntityCache creates a cache with the given capacity. A capacity of zero
// or less disables caching: every Get misses and Put is a no-op.
func NewEntityCache(size int) *EntityCache {
	c := &EntityCache{}
	if size > 0 {
		// lru.New only fails on non-positive size, which is guarded above.
		c.lru, _ = lru.New[string, CachedEntity](size)
	}
	return c
}

// Get looks up a canonical id.
func (c *EntityCache) Get(canonicalID string) (CachedEntity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lru == nil {
		return CachedEntity{}, false
	}
	c.gets++
	e, ok := c.lru.Get(canonicalID)
	if ok {
		c.hits++
	}
	return e, ok
}

// Put stores a resolved entity, evicting the least recently used entry when
// the cache is full. Overwrites are allowed; a worker that lost a resolution
// race replaces its tentative entry with the winner.
func (c *EntityCache) Put(canonicalID string, e CachedEntity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lru == nil {
		return
	}
	c.lru.Add(canonicalID, e)
}

// Len returns the number of cached entries.
func (c *EntityCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lru == nil {
		return 0
	}
	return c.lru.Len()
}

// HitRate returns the fraction of lookups served from cache since creation.
func (c *EntityCache) HitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gets == 0 {
		return 0
	}
	return float64(c.hits) / float64(c.gets)
}
