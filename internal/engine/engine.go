// Package engine evaluates risk rules against documents and client
// companies and maintains the resulting scores.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

var tracer = otel.Tracer("kestrel-engine")

// scoreCacheTTL bounds staleness of the cached current score.
const scoreCacheTTL = 5 * time.Minute

// ScoreCacheKey is the cache key for an entity's current score.
func ScoreCacheKey(entityType domain.EntityType, entityID string) string {
	return fmt.Sprintf("score:%s:%s", entityType, entityID)
}

// Engine runs rule evaluation for both scopes. It owns the write path
// for risk scores: one atomic upsert of the current score plus one
// history append per evaluation, and an alert event when the result
// is high severity.
type Engine struct {
	repo     domain.Repository
	bus      domain.EventBus
	cache    domain.Cache
	catalog  *rules.Catalog
	registry *rules.Registry

	windowDays int
}

// New creates an evaluation engine. bus and cache may be nil; events
// and score caching are then skipped.
func New(repo domain.Repository, bus domain.EventBus, cache domain.Cache, catalog *rules.Catalog, registry *rules.Registry, cfg domain.EvaluationConfig) *Engine {
	windowDays := cfg.CompanyWindowDays
	if windowDays <= 0 {
		windowDays = 90
	}
	return &Engine{
		repo:       repo,
		bus:        bus,
		cache:      cache,
		catalog:    catalog,
		registry:   registry,
		windowDays: windowDays,
	}
}

// score runs the scope's rules against the context and assembles the
// final score record. Severity is always derived from the clamped
// score, never taken from rule metadata.
func (e *Engine) score(ctx *rules.Context, ruleSet []*domain.RiskRule, tenantID string, entityType domain.EntityType, entityID string) *domain.RiskScore {
	var total float64
	var triggered []string

	for _, rule := range ruleSet {
		if e.registry.Evaluate(ctx, rule) {
			total += rule.Weight
			triggered = append(triggered, rule.Code)
		}
	}

	degraded := ctx.DegradedSignals()
	sort.Strings(degraded)

	clamped := rules.ClampScore(total)
	return &domain.RiskScore{
		TenantID:           tenantID,
		EntityType:         entityType,
		EntityID:           entityID,
		Score:              clamped,
		Severity:           rules.SeverityOf(clamped),
		TriggeredRuleCodes: triggered,
		DegradedSignals:    degraded,
		GeneratedAt:        time.Now().UTC(),
	}
}

// persist writes the current score and its history entry, then emits
// the score event and, for high severity, the alert event. Event
// publishing is best-effort: a bus failure is logged, not raised, so
// the already-persisted score is never rolled back.
func (e *Engine) persist(ctx context.Context, score *domain.RiskScore, companyID string) error {
	if err := e.repo.UpsertCurrentScore(ctx, score.TenantID, score); err != nil {
		return fmt.Errorf("failed to upsert current score: %w", err)
	}

	entry := &domain.HistoryEntry{
		ID:         uuid.New().String(),
		TenantID:   score.TenantID,
		EntityType: score.EntityType,
		EntityID:   score.EntityID,
		Score:      score.Score,
		Severity:   score.Severity,
		CreatedAt:  score.GeneratedAt,
	}
	if err := e.repo.AppendHistory(ctx, score.TenantID, entry); err != nil {
		return fmt.Errorf("failed to append score history: %w", err)
	}

	if e.cache != nil {
		cached, _ := json.Marshal(score)
		if err := e.cache.Set(ctx, score.TenantID, ScoreCacheKey(score.EntityType, score.EntityID), cached, scoreCacheTTL); err != nil {
			slog.Warn("failed to cache current score",
				"tenant_id", score.TenantID,
				"entity_id", score.EntityID,
				"error", err,
			)
		}
	}

	if e.bus == nil {
		return nil
	}

	payload, _ := json.Marshal(score)
	if err := e.bus.Publish(ctx, score.TenantID, domain.TopicScoreUpdated, payload); err != nil {
		slog.Warn("failed to publish score event",
			"tenant_id", score.TenantID,
			"entity_id", score.EntityID,
			"error", err,
		)
	}

	if score.Severity == domain.SeverityHigh {
		e.emitAlert(ctx, score, companyID)
	}

	return nil
}

func (e *Engine) emitAlert(ctx context.Context, score *domain.RiskScore, companyID string) {
	alert := domain.Alert{
		TenantID:        score.TenantID,
		ClientCompanyID: companyID,
		Severity:        score.Severity,
		CreatedAt:       score.GeneratedAt,
	}

	switch score.EntityType {
	case domain.EntityDocument:
		alert.DocumentID = score.EntityID
		alert.Type = "document_high_risk"
		alert.Title = "High risk document"
		alert.Message = fmt.Sprintf("Document %s scored %.0f/100", score.EntityID, score.Score)
	case domain.EntityCompany:
		alert.Type = "company_high_risk"
		alert.Title = "High risk client company"
		alert.Message = fmt.Sprintf("Client company %s scored %.0f/100 over the last %d days", score.EntityID, score.Score, e.windowDays)
	}

	payload, _ := json.Marshal(alert)
	if err := e.bus.Publish(ctx, score.TenantID, domain.TopicAlert, payload); err != nil {
		slog.Warn("failed to publish alert",
			"tenant_id", score.TenantID,
			"entity_id", score.EntityID,
			"error", err,
		)
	}
}
