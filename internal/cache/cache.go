// Package cache provides the tiered caching layer. The community tier
// runs on an in-process LRU; the pro tier layers that LRU over Redis so
// every node answers hot reads locally while Redis keeps replicas
// consistent.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New selects the cache implementation for the configured tier.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// TwoPhaseCache fronts Redis (L2) with a local LRU (L1). Reads are
// served from L1 when possible; writes go to both tiers. Entries live
// in L1 for at most l1TTL so nodes converge after a change even when
// no invalidation reaches them.
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache builds the layered cache from a single config.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}

	l1TTL := cfg.LocalTTL
	if l1TTL == 0 {
		l1TTL = 5 * time.Minute
	}

	return &TwoPhaseCache{
		local:  NewLRUCache(cfg.LocalMaxSize),
		remote: remote,
		l1TTL:  l1TTL,
	}, nil
}

// l1TTLFor caps the local TTL so L1 never outlives the L2 entry.
func (c *TwoPhaseCache) l1TTLFor(ttl time.Duration) time.Duration {
	if ttl < c.l1TTL {
		return ttl
	}
	return c.l1TTL
}

// Get answers from L1 when it can; on an L2 hit the value is copied
// back into L1 for subsequent reads.
func (c *TwoPhaseCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if val, err := c.local.Get(ctx, tenantID, key); err != nil || val != nil {
		return val, err
	}

	val, err := c.remote.Get(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		_ = c.local.Set(ctx, tenantID, key, val, c.l1TTL)
	}
	return val, nil
}

// Set writes to both tiers, L2 with the full TTL.
func (c *TwoPhaseCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if err := c.local.Set(ctx, tenantID, key, value, c.l1TTLFor(ttl)); err != nil {
		return err
	}
	return c.remote.Set(ctx, tenantID, key, value, ttl)
}

// Delete removes from both tiers, L2 first so a racing read cannot
// re-populate L1 from stale data.
func (c *TwoPhaseCache) Delete(ctx context.Context, tenantID string, key string) error {
	if err := c.remote.Delete(ctx, tenantID, key); err != nil {
		return err
	}
	return c.local.Delete(ctx, tenantID, key)
}

// GetRuleCatalog follows the same L1-then-L2 path as Get.
func (c *TwoPhaseCache) GetRuleCatalog(ctx context.Context, tenantID string) ([]*domain.RiskRule, error) {
	if rules, err := c.local.GetRuleCatalog(ctx, tenantID); err != nil || rules != nil {
		return rules, err
	}

	rules, err := c.remote.GetRuleCatalog(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if rules != nil {
		_ = c.local.SetRuleCatalog(ctx, tenantID, rules, c.l1TTL)
	}
	return rules, nil
}

// SetRuleCatalog caches the tenant's active rules in both tiers.
func (c *TwoPhaseCache) SetRuleCatalog(ctx context.Context, tenantID string, rules []*domain.RiskRule, ttl time.Duration) error {
	if err := c.local.SetRuleCatalog(ctx, tenantID, rules, c.l1TTLFor(ttl)); err != nil {
		return err
	}
	return c.remote.SetRuleCatalog(ctx, tenantID, rules, ttl)
}

// InvalidateRuleCatalog drops the cached rules from both tiers, L2
// first for the same reason Delete goes L2-first.
func (c *TwoPhaseCache) InvalidateRuleCatalog(ctx context.Context, tenantID string) error {
	if err := c.remote.InvalidateRuleCatalog(ctx, tenantID); err != nil {
		return err
	}
	return c.local.InvalidateRuleCatalog(ctx, tenantID)
}

// IncrementCounter delegates to Redis only; a per-node counter would
// undercount across replicas.
func (c *TwoPhaseCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	return c.remote.IncrementCounter(ctx, tenantID, key, window)
}

// Ping reports which tier is unhealthy.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close releases both tiers.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats reports the local tier's occupancy.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}
