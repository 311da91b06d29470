package cache

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestLRUCacheBasics(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, "tenant-a", "k1", []byte("v1"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := c.Get(ctx, "tenant-a", "k1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "v1" {
			t.Errorf("expected v1, got %s", val)
		}
	})

	t.Run("MissReturnsNil", func(t *testing.T) {
		val, err := c.Get(ctx, "tenant-a", "missing")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil on miss, got %s", val)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_ = c.Set(ctx, "tenant-a", "shared", []byte("a-value"), time.Minute)

		val, err := c.Get(ctx, "tenant-b", "shared")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Error("tenant-b must not see tenant-a's entry")
		}
	})

	t.Run("EmptyTenantRejected", func(t *testing.T) {
		if _, err := c.Get(ctx, "", "k1"); err == nil {
			t.Error("expected error for empty tenant")
		}
		if err := c.Set(ctx, "", "k1", []byte("x"), time.Minute); err == nil {
			t.Error("expected error for empty tenant")
		}
	})

	t.Run("Expiry", func(t *testing.T) {
		_ = c.Set(ctx, "tenant-a", "short", []byte("x"), 10*time.Millisecond)
		time.Sleep(20 * time.Millisecond)

		val, _ := c.Get(ctx, "tenant-a", "short")
		if val != nil {
			t.Error("expired entry must read as a miss")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = c.Set(ctx, "tenant-a", "gone", []byte("x"), time.Minute)
		_ = c.Delete(ctx, "tenant-a", "gone")

		val, _ := c.Get(ctx, "tenant-a", "gone")
		if val != nil {
			t.Error("deleted entry must read as a miss")
		}
	})
}

func TestLRUCacheEviction(t *testing.T) {
	c := NewLRUCache(3)
	defer c.Close()
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c", "d"} {
		_ = c.Set(ctx, "t", k, []byte(k), time.Minute)
	}

	size, capacity := c.Stats()
	if size != 3 || capacity != 3 {
		t.Errorf("expected size 3/3, got %d/%d", size, capacity)
	}

	// "a" was the oldest and must be evicted.
	val, _ := c.Get(ctx, "t", "a")
	if val != nil {
		t.Error("oldest entry must be evicted at capacity")
	}
	val, _ = c.Get(ctx, "t", "d")
	if string(val) != "d" {
		t.Error("newest entry must survive eviction")
	}
}

func TestLRUCacheRuleCatalog(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()
	ctx := context.Background()

	rules := []*domain.RiskRule{
		{Code: "INV_DUE_BEFORE_ISSUE", Scope: domain.ScopeDocument, Weight: 40, Active: true},
		{Code: "HIGH_RISK_DOCS", Scope: domain.ScopeCompany, Weight: 30, Active: true},
	}

	if err := c.SetRuleCatalog(ctx, "tenant-a", rules, time.Minute); err != nil {
		t.Fatalf("SetRuleCatalog failed: %v", err)
	}

	got, err := c.GetRuleCatalog(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("GetRuleCatalog failed: %v", err)
	}
	if len(got) != 2 || got[0].Code != "INV_DUE_BEFORE_ISSUE" || got[1].Weight != 30 {
		t.Errorf("catalog did not round-trip: %+v", got)
	}

	// Other tenants miss.
	other, err := c.GetRuleCatalog(ctx, "tenant-b")
	if err != nil {
		t.Fatalf("GetRuleCatalog failed: %v", err)
	}
	if other != nil {
		t.Error("tenant-b must not see tenant-a's catalog")
	}

	// Invalidation leads to a miss.
	if err := c.InvalidateRuleCatalog(ctx, "tenant-a"); err != nil {
		t.Fatalf("InvalidateRuleCatalog failed: %v", err)
	}
	got, _ = c.GetRuleCatalog(ctx, "tenant-a")
	if got != nil {
		t.Error("invalidated catalog must read as a miss")
	}
}

func TestLRUCacheIncrementCounter(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := c.IncrementCounter(ctx, "t", "evals:doc-1", time.Minute)
		if err != nil {
			t.Fatalf("IncrementCounter failed: %v", err)
		}
		if got != want {
			t.Errorf("expected %d, got %d", want, got)
		}
	}

	// A fresh window restarts the count.
	got, err := c.IncrementCounter(ctx, "t", "evals:doc-2", 10*time.Millisecond)
	if err != nil || got != 1 {
		t.Fatalf("expected fresh counter 1, got %d (%v)", got, err)
	}
	time.Sleep(20 * time.Millisecond)
	got, _ = c.IncrementCounter(ctx, "t", "evals:doc-2", 10*time.Millisecond)
	if got != 1 {
		t.Errorf("expired window must restart at 1, got %d", got)
	}
}

func TestNewCacheConfig(t *testing.T) {
	c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	if _, err := New(domain.CacheConfig{Type: "bogus"}); err == nil {
		t.Error("expected error for unsupported cache type")
	}
}
