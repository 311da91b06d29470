// Package cache provides the cache tiers behind domain.Cache.
package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ruleCatalogKey is the per-tenant cache key for the active rule set.
const ruleCatalogKey = "rules:active"

// LRUCache is the Community tier cache and the L1 of the two-phase
// setup: in-memory, LRU-evicted, TTL-checked on read. Keys are
// prefixed with the tenant so tenants can never observe each other's
// catalogs or scores.
type LRUCache struct {
	mu       sync.RWMutex
	capacity int
	index    map[string]*list.Element
	recency  *list.List
	counters map[string]*window
}

type lruEntry struct {
	key  string
	data []byte
	exp  time.Time
}

// window is a counter with a fixed expiry, used to rate-limit
// repeated evaluations of one entity.
type window struct {
	count int64
	exp   time.Time
}

// NewLRUCache creates an in-memory cache holding at most capacity
// entries across all tenants.
func NewLRUCache(capacity int) *LRUCache {
	if capacity <= 0 {
		capacity = 10000
	}
	return &LRUCache{
		capacity: capacity,
		index:    make(map[string]*list.Element),
		recency:  list.New(),
		counters: make(map[string]*window),
	}
}

func tenantKey(tenantID, key string) string {
	return tenantID + ":" + key
}

// Get returns the cached value, or nil on a miss or expired entry.
func (c *LRUCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.index[tenantKey(tenantID, key)]
	if !ok {
		return nil, nil
	}
	entry := elem.Value.(*lruEntry)
	if time.Now().After(entry.exp) {
		c.drop(elem)
		return nil, nil
	}

	c.recency.MoveToFront(elem)
	return entry.data, nil
}

// Set stores a value with a TTL, evicting the least recently used
// entries when over capacity.
func (c *LRUCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	full := tenantKey(tenantID, key)
	if elem, ok := c.index[full]; ok {
		entry := elem.Value.(*lruEntry)
		entry.data = value
		entry.exp = time.Now().Add(ttl)
		c.recency.MoveToFront(elem)
		return nil
	}

	c.index[full] = c.recency.PushFront(&lruEntry{
		key:  full,
		data: value,
		exp:  time.Now().Add(ttl),
	})
	for c.recency.Len() > c.capacity {
		if oldest := c.recency.Back(); oldest != nil {
			c.drop(oldest)
		}
	}
	return nil
}

// Delete removes a value. Deleting an absent key is not an error.
func (c *LRUCache) Delete(ctx context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[tenantKey(tenantID, key)]; ok {
		c.drop(elem)
	}
	return nil
}

// GetRuleCatalog returns the tenant's cached active rule set, or nil
// on a miss.
func (c *LRUCache) GetRuleCatalog(ctx context.Context, tenantID string) ([]*domain.RiskRule, error) {
	data, err := c.Get(ctx, tenantID, ruleCatalogKey)
	if err != nil || data == nil {
		return nil, err
	}

	var rules []*domain.RiskRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// SetRuleCatalog caches the tenant's active rule set.
func (c *LRUCache) SetRuleCatalog(ctx context.Context, tenantID string, rules []*domain.RiskRule, ttl time.Duration) error {
	data, err := json.Marshal(rules)
	if err != nil {
		return err
	}
	return c.Set(ctx, tenantID, ruleCatalogKey, data, ttl)
}

// InvalidateRuleCatalog drops the cached rule set after a rule write.
func (c *LRUCache) InvalidateRuleCatalog(ctx context.Context, tenantID string) error {
	return c.Delete(ctx, tenantID, ruleCatalogKey)
}

// IncrementCounter bumps a windowed counter, restarting it when the
// window has elapsed, and returns the new value.
func (c *LRUCache) IncrementCounter(ctx context.Context, tenantID string, key string, windowTTL time.Duration) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("tenantID is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	full := tenantKey(tenantID, "counter:"+key)
	now := time.Now()

	w, ok := c.counters[full]
	if !ok || now.After(w.exp) {
		c.counters[full] = &window{count: 1, exp: now.Add(windowTTL)}
		return 1, nil
	}

	w.count++
	return w.count, nil
}

// Ping checks cache health.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close drops all entries.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = make(map[string]*list.Element)
	c.recency = list.New()
	c.counters = make(map[string]*window)
	return nil
}

// Stats returns current size and capacity.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.recency.Len(), c.capacity
}

// drop removes an element from both the recency list and the index.
// Callers hold the lock.
func (c *LRUCache) drop(elem *list.Element) {
	c.recency.Remove(elem)
	delete(c.index, elem.Value.(*lruEntry).key)
}
