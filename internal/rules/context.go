package rules

import (
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/fraud"
)

// Context is the enriched input a rule predicate sees: the stored
// feature values, the raw risk flags, the precomputed fraud signals,
// and (for company-scope rules) the aggregated company statistics.
// A Context is built once per evaluation and never mutated by rules,
// so identical inputs always produce identical triggered-code sets.
type Context struct {
	Scope domain.RuleScope

	// Features holds the upstream feature values by name.
	Features map[string]any

	// RiskFlags holds the raw flag codes attached to the document.
	RiskFlags map[string]bool

	// Signals holds one fraud signal per pattern type.
	Signals map[domain.FraudPatternType]fraud.Signal

	// Company is set only for company-scope evaluation.
	Company *CompanyStats
}

// CompanyStats aggregates a client company over the trailing window.
type CompanyStats struct {
	WindowDays int

	HighSeverityDocs        int
	InvoiceCount            int
	HighRiskInvoices        int
	DuplicateInvoiceNumbers int
	FraudPatternHits        int
}

// FeatureBool reads a boolean feature; missing or non-boolean is false.
func (c *Context) FeatureBool(name string) bool {
	v, ok := c.Features[name].(bool)
	return ok && v
}

// FeatureNumber reads a numeric feature.
func (c *Context) FeatureNumber(name string) (float64, bool) {
	switch v := c.Features[name].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// SignalDetected reports whether the given fraud pattern was detected.
// Degraded signals read as their neutral value, false.
func (c *Context) SignalDetected(t domain.FraudPatternType) bool {
	return c.Signals[t].Pattern.Detected
}

// DegradedSignals lists the pattern types that defaulted after an
// input-fetch failure, for observability on the score record.
func (c *Context) DegradedSignals() []string {
	var out []string
	for t, s := range c.Signals {
		if s.Degraded {
			out = append(out, string(t))
		}
	}
	return out
}

// HighRiskInvoiceRatio is the share of in-window invoices linked to
// high-scored documents. Zero when the company has no invoices.
func (s *CompanyStats) HighRiskInvoiceRatio() float64 {
	if s == nil || s.InvoiceCount == 0 {
		return 0
	}
	return float64(s.HighRiskInvoices) / float64(s.InvoiceCount)
}
