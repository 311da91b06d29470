package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// counterScript increments a windowed counter atomically, attaching
// the TTL only when the key is created.
var counterScript = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return current
`)

// RedisCache is the Pro tier cache and the shared L2 of the two-phase
// setup, so rule-catalog invalidations reach every instance.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to redis and verifies the connection.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// redisKey namespaces a tenant key under the application prefix.
func redisKey(tenantID, key string) string {
	return "kestrel:" + tenantID + ":" + key
}

// Get returns the value, or nil on a miss.
func (c *RedisCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	val, err := c.client.Get(ctx, redisKey(tenantID, key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set stores a value with a TTL.
func (c *RedisCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	return c.client.Set(ctx, redisKey(tenantID, key), value, ttl).Err()
}

// Delete removes a value.
func (c *RedisCache) Delete(ctx context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	return c.client.Del(ctx, redisKey(tenantID, key)).Err()
}

// GetRuleCatalog returns the tenant's cached active rule set, or nil
// on a miss.
func (c *RedisCache) GetRuleCatalog(ctx context.Context, tenantID string) ([]*domain.RiskRule, error) {
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
func (c *RedisCache) SetRuleCatalog(ctx context.Context, tenantID string, rules []*domain.RiskRule, ttl time.Duration) error {
	data, err := json.Marshal(rules)
	if err != nil {
		return err
	}
	return c.Set(ctx, tenantID, ruleCatalogKey, data, ttl)
}

// InvalidateRuleCatalog drops the cached rule set after a rule write.
func (c *RedisCache) InvalidateRuleCatalog(ctx context.Context, tenantID string) error {
	return c.Delete(ctx, tenantID, ruleCatalogKey)
}

// IncrementCounter bumps a windowed counter via INCR + PEXPIRE.
func (c *RedisCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("tenantID is required")
	}

	full := redisKey(tenantID, "counter:"+key)
	return counterScript.Run(ctx, c.client, []string{full}, window.Milliseconds()).Int64()
}

// Ping checks redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
