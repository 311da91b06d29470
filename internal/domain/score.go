package domain

import "time"

// EntityType identifies what kind of entity a risk score belongs to.
type EntityType string

const (
	EntityDocument EntityType = "document"
	EntityCompany  EntityType = "client_company"
)

// RiskScore is the current risk score of an entity. Exactly one row
// exists per (tenant, entityType, entityId); every evaluation replaces
// it via an atomic upsert.
type RiskScore struct {
	TenantID   string     `json:"tenantId"`
	EntityType EntityType `json:"entityType"`
	EntityID   string     `json:"entityId"`

	// Score is clamped to [0,100].
	Score float64 `json:"score"`

	// Severity is derived from Score via rules.SeverityOf.
	Severity Severity `json:"severity"`

	// TriggeredRuleCodes lists the codes whose predicate evaluated
	// true in the run that produced this score.
	TriggeredRuleCodes []string `json:"triggeredRuleCodes"`

	// DegradedSignals lists fraud signals that defaulted to their
	// neutral value because the underlying detector input could not
	// be fetched. Distinguishes "computed false" from "unknown".
	DegradedSignals []string `json:"degradedSignals,omitempty"`

	GeneratedAt time.Time `json:"generatedAt"`
}

// HistoryEntry is an immutable, timestamped record of a score at the
// moment of one evaluation. History is append-only and never pruned
// by the engine.
type HistoryEntry struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenantId"`
	EntityType EntityType `json:"entityType"`
	EntityID   string     `json:"entityId"`
	Score      float64    `json:"score"`
	Severity   Severity   `json:"severity"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// TrendDirection is the derived movement of an entity's score,
// computed by comparing current-period and prior-period averages.
type TrendDirection string

const (
	TrendIncreasing TrendDirection = "increasing"
	TrendDecreasing TrendDirection = "decreasing"
	TrendStable     TrendDirection = "stable"
)

// Alert is the payload published to the alert topic when an
// evaluation produces a high severity score.
type Alert struct {
	TenantID        string    `json:"tenantId"`
	ClientCompanyID string    `json:"clientCompanyId"`
	DocumentID      string    `json:"documentId,omitempty"`
	Type            string    `json:"type"`
	Title           string    `json:"title"`
	Message         string    `json:"message"`
	Severity        Severity  `json:"severity"`
	CreatedAt       time.Time `json:"createdAt"`
}
