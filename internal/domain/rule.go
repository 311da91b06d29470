package domain

import "time"

// RuleScope determines whether a rule applies to a single document
// or to a client company aggregated over a trailing window.
type RuleScope string

const (
	ScopeDocument RuleScope = "document"
	ScopeCompany  RuleScope = "company"
)

// Severity buckets a numeric risk score. It is always derived from the
// score via rules.SeverityOf and never stored independently of one.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// RiskRule is a named, weighted, tenant-scoped predicate over document
// or company features. Rules are immutable during one evaluation pass.
type RiskRule struct {
	Code        string    `json:"code"`
	TenantID    string    `json:"tenantId"`
	Scope       RuleScope `json:"scope"`
	Name        string    `json:"name"`
	Description string    `json:"description"`

	// Weight is added to the score when the rule's predicate is true.
	Weight float64 `json:"weight"`

	// DefaultSeverity is advisory metadata shown in rule listings.
	// The severity of an evaluation is always derived from the score.
	DefaultSeverity Severity `json:"defaultSeverity"`

	// Expression is an optional CEL expression evaluated against the
	// rule context for codes with no registered predicate.
	Expression string `json:"expression,omitempty"`

	// Config holds rule-specific thresholds (e.g. max_count, window_days).
	Config map[string]any `json:"config,omitempty"`

	Active bool `json:"active"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// ConfigFloat reads a numeric threshold from the rule config,
// falling back to def when absent or of the wrong type.
func (r *RiskRule) ConfigFloat(key string, def float64) float64 {
	if r.Config == nil {
		return def
	}
	switch v := r.Config[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

// ConfigInt reads an integer threshold from the rule config.
func (r *RiskRule) ConfigInt(key string, def int) int {
	return int(r.ConfigFloat(key, float64(def)))
}
