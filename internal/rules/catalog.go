package rules

import (
	"context"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// defaultCatalogTTL bounds how stale a cached rule catalog may be.
const defaultCatalogTTL = 5 * time.Minute

// Catalog loads the active, tenant-scoped rule set. Reads go through
// the two-phase cache; a cache failure falls back to the repository,
// never to an error. A tenant with no configured rules gets an empty
// set, not an error.
type Catalog struct {
	repo  domain.Repository
	cache domain.Cache
	ttl   time.Duration
}

// NewCatalog creates a rule catalog loader. cache may be nil.
func NewCatalog(repo domain.Repository, cache domain.Cache, ttl time.Duration) *Catalog {
	if ttl <= 0 {
		ttl = defaultCatalogTTL
	}
	return &Catalog{repo: repo, cache: cache, ttl: ttl}
}

// LoadActive returns the tenant's active rules, cached per tenant.
func (c *Catalog) LoadActive(ctx context.Context, tenantID string) ([]*domain.RiskRule, error) {
	if c.cache != nil {
		cached, err := c.cache.GetRuleCatalog(ctx, tenantID)
		if err != nil {
			slog.Warn("rule catalog cache read failed",
				"tenant_id", tenantID,
				"error", err,
			)
		} else if cached != nil {
			return cached, nil
		}
	}

	active, err := c.repo.ListActiveRules(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.SetRuleCatalog(ctx, tenantID, active, c.ttl); err != nil {
			slog.Warn("rule catalog cache write failed",
				"tenant_id", tenantID,
				"error", err,
			)
		}
	}

	return active, nil
}

// Invalidate drops the cached catalog after a rule write.
func (c *Catalog) Invalidate(ctx context.Context, tenantID string) {
	if c.cache == nil {
		return
	}
	if err := c.cache.InvalidateRuleCatalog(ctx, tenantID); err != nil {
		slog.Warn("rule catalog invalidation failed",
			"tenant_id", tenantID,
			"error", err,
		)
	}
}

// Partition splits a rule set by scope. Rules with an unknown scope
// are dropped; they cannot match either evaluator.
func Partition(all []*domain.RiskRule) (document, company []*domain.RiskRule) {
	for _, r := range all {
		switch r.Scope {
		case domain.ScopeDocument:
			document = append(document, r)
		case domain.ScopeCompany:
			company = append(company, r)
		}
	}
	return document, company
}
