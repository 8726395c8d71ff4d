package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const defaultLRUSize = 10000

// LRUCache is an in-process least-recently-used cache with per-entry expiry.
// It is the community tier cache and the L1 of TwoPhaseCache.
type LRUCache struct {
	profiles

	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	recency  *list.List // front is most recently used

	hits, misses, evictions atomic.Uint64
}

type lruEntry struct {
	key     string
	value   []byte
	expires time.Time // zero never expires
}

func (e *lruEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// NewLRUCache creates a cache holding at most capacity entries.
func NewLRUCache(capacity int) *LRUCache {
	if capacity <= 0 {
		capacity = defaultLRUSize
	}
	c := &LRUCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		recency:  list.New(),
	}
	c.profiles = profiles{store: c}
	return c
}

// Get returns the value for key, or nil when absent or expired.
func (c *LRUCache) Get(_ context.Context, tenantID, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, errTenantRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[tenantID+":"+key]
	if !ok {
		c.misses.Add(1)
		return nil, nil
	}
	e := elem.Value.(*lruEntry)
	if e.expired(time.Now()) {
		c.drop(elem)
		c.misses.Add(1)
		return nil, nil
	}

	c.recency.MoveToFront(elem)
	c.hits.Add(1)
	return e.value, nil
}

// Set stores value for ttl; a non-positive ttl never expires.
func (c *LRUCache) Set(_ context.Context, tenantID, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return errTenantRequired
	}

	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	full := tenantID + ":" + key

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[full]; ok {
		e := elem.Value.(*lruEntry)
		e.value, e.expires = value, expires
		c.recency.MoveToFront(elem)
		return nil
	}

	c.entries[full] = c.recency.PushFront(&lruEntry{key: full, value: value, expires: expires})
	for c.recency.Len() > c.capacity {
		c.drop(c.recency.Back())
		c.evictions.Add(1)
	}
	return nil
}

// Delete removes key.
func (c *LRUCache) Delete(_ context.Context, tenantID, key string) error {
	if tenantID == "" {
		return errTenantRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[tenantID+":"+key]; ok {
		c.drop(elem)
	}
	return nil
}

// Ping always succeeds.
func (c *LRUCache) Ping(context.Context) error {
	return nil
}

// Close empties the cache.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
	c.recency.Init()
	return nil
}

// Stats returns occupancy and hit counters.
func (c *LRUCache) Stats() Stats {
	c.mu.Lock()
	size := c.recency.Len()
	c.mu.Unlock()
	return Stats{
		Size:      size,
		Capacity:  c.capacity,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

func (c *LRUCache) drop(elem *list.Element) {
	c.recency.Remove(elem)
	delete(c.entries, elem.Value.(*lruEntry).key)
}
