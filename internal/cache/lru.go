// Package cache provides outcome and counter caches for ClaimScan.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/opensource-finance/claimscan/internal/domain"
)

// LRUCache is a thread-safe LRU cache with TTL support.
// Used as the Community cache and as L1 in two-phase caching.
type LRUCache struct {
	mu       sync.RWMutex
	maxSize  int
	items    map[string]*list.Element
	order    *list.List
	counters map[string]*counterEntry
	now      func() time.Time

	hits   int64
	misses int64
}

// Stats describes the local cache for health reporting.
type Stats struct {
	Size     int   `json:"size"`
	Capacity int   `json:"capacity"`
	Counters int   `json:"counters"`
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
}

type cacheEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

type counterEntry struct {
	count     int64
	expiresAt time.Time
}

// NewLRUCache creates a new LRU cache with the specified max size.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUCache{
		maxSize:  maxSize,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		counters: make(map[string]*counterEntry),
		now:      time.Now,
	}
}

// Get retrieves a value from cache.
func (c *LRUCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	fullKey := c.makeKey(tenantID, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[fullKey]
	if !ok {
		c.misses++
		return nil, nil
	}

	entry := elem.Value.(*cacheEntry)
	if c.now().After(entry.expiresAt) {
		c.removeElement(elem)
		c.misses++
		return nil, nil
	}

	// Move to front (most recently used)
	c.order.MoveToFront(elem)
	c.hits++
	return entry.value, nil
}

// Set stores a value in cache with TTL.
func (c *LRUCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return ErrTenantRequired
	}

	fullKey := c.makeKey(tenantID, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	// Update existing entry
	if elem, ok := c.items[fullKey]; ok {
		c.order.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.expiresAt = c.now().Add(ttl)
		return nil
	}

	// Add new entry
	entry := &cacheEntry{
		key:       fullKey,
		value:     value,
		expiresAt: c.now().Add(ttl),
	}
	elem := c.order.PushFront(entry)
	c.items[fullKey] = elem

	// Evict if over capacity
	for c.order.Len() > c.maxSize {
		c.removeOldest()
	}

	return nil
}

// Delete removes a value from cache.
func (c *LRUCache) Delete(ctx context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return ErrTenantRequired
	}

	fullKey := c.makeKey(tenantID, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[fullKey]; ok {
		c.removeElement(elem)
	}
	return nil
}

// GetOutcome retrieves a cached outcome by claim fingerprint.
func (c *LRUCache) GetOutcome(ctx context.Context, tenantID string, fingerprint string) (*domain.Outcome, error) {
	return getOutcome(ctx, c, tenantID, fingerprint)
}

// SetOutcome caches an outcome under its claim fingerprint.
func (c *LRUCache) SetOutcome(ctx context.Context, tenantID string, fingerprint string, outcome *domain.Outcome, ttl time.Duration) error {
	return setOutcome(ctx, c, tenantID, fingerprint, outcome, ttl)
}

// IncrementCounter atomically increments a counter.
func (c *LRUCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	if tenantID == "" {
		return 0, ErrTenantRequired
	}

	fullKey := c.makeKey(tenantID, "counter:"+key)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry, ok := c.counters[fullKey]

	if !ok || now.After(entry.expiresAt) {
		// One counter per provider; drop closed windows before growing past
		// the item capacity.
		if !ok && len(c.counters) >= c.maxSize {
			c.pruneCounters(now)
		}
		c.counters[fullKey] = &counterEntry{
			count:     1,
			expiresAt: now.Add(window),
		}
		return 1, nil
	}

	entry.count++
	return entry.count, nil
}

// Ping checks cache health.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close cleans up the cache.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order = list.New()
	c.counters = make(map[string]*counterEntry)
	return nil
}

// Stats returns cache statistics.
func (c *LRUCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Size:     c.order.Len(),
		Capacity: c.maxSize,
		Counters: len(c.counters),
		Hits:     c.hits,
		Misses:   c.misses,
	}
}

func (c *LRUCache) pruneCounters(now time.Time) {
	for key, entry := range c.counters {
		if now.After(entry.expiresAt) {
			delete(c.counters, key)
		}
	}
}

func (c *LRUCache) makeKey(tenantID, key string) string {
	return tenantID + ":" + key
}

func (c *LRUCache) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	entry := elem.Value.(*cacheEntry)
	delete(c.items, entry.key)
}

func (c *LRUCache) removeOldest() {
	elem := c.order.Back()
	if elem != nil {
		c.removeElement(elem)
	}
}
