// Package rules provides the tenant-scoped rule catalog, the predicate
// registry, and the shared score-to-severity mapping.
package rules

import (
	"log/slog"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Predicate decides whether a rule triggers against a context.
// Predicates must be pure: no I/O, no mutation of the context.
type Predicate func(ctx *Context, rule *domain.RiskRule) bool

// Well-known document-scope rule codes.
const (
	CodeBenfordViolation      = "BENFORD_VIOLATION"
	CodeRoundNumberSuspicious = "ROUND_NUMBER_SUSPICIOUS"
	CodeUnusualTiming         = "UNUSUAL_TIMING"
	CodeNewCounterparty       = "NEW_COUNTERPARTY"
	CodeUnusualCounterparty   = "UNUSUAL_COUNTERPARTY"
	CodeDuplicateInvoice      = "DUPLICATE_INVOICE"
	CodeDueBeforeIssue        = "INV_DUE_BEFORE_ISSUE"
	CodeMissingCounterparty   = "MISSING_COUNTERPARTY"
	CodeAmountAboveLimit      = "AMOUNT_ABOVE_LIMIT"
)

// Well-known company-scope rule codes.
const (
	CodeHighRiskDocs            = "HIGH_RISK_DOCS"
	CodeHighRiskInvoiceRatio    = "HIGH_RISK_INVOICE_RATIO"
	CodeDuplicateInvoiceNumbers = "DUPLICATE_INVOICE_NUMBERS"
	CodeFraudPatternCount       = "FRAUD_PATTERN_COUNT"
	CodeCompanyBenford          = "COMPANY_BENFORD_VIOLATION"
	CodeCircularTransactions    = "CIRCULAR_TRANSACTIONS"
	CodeVATRateAnomaly          = "VAT_RATE_ANOMALY"
	CodeDateManipulation        = "DATE_MANIPULATION"
)

// Registry maps rule codes to predicate functions. New rules are added
// by registration; unknown codes fall back to a CEL expression when
// the rule carries one, and otherwise to a lookup against the
// document's raw risk-flag list.
type Registry struct {
	mu         sync.RWMutex
	predicates map[string]Predicate
	custom     *CustomEvaluator
}

// NewRegistry creates a registry pre-loaded with the built-in
// predicates for both scopes.
func NewRegistry(custom *CustomEvaluator) *Registry {
	r := &Registry{
		predicates: make(map[string]Predicate),
		custom:     custom,
	}
	r.registerBuiltins()
	return r
}

// Register installs a predicate for a rule code, replacing any
// previous registration.
func (r *Registry) Register(code string, p Predicate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.predicates[code] = p
}

// Evaluate runs the predicate for the rule against the context.
// Resolution order: registered predicate, CEL expression, raw
// risk-flag lookup. A CEL failure counts as not triggered and is
// logged, never raised.
func (r *Registry) Evaluate(ctx *Context, rule *domain.RiskRule) bool {
	r.mu.RLock()
	p, ok := r.predicates[rule.Code]
	r.mu.RUnlock()

	if ok {
		return p(ctx, rule)
	}

	if rule.Expression != "" && r.custom != nil {
		triggered, err := r.custom.Evaluate(ctx, rule)
		if err != nil {
			slog.Warn("custom rule expression failed",
				"rule_code", rule.Code,
				"error", err,
			)
			return false
		}
		return triggered
	}

	return ctx.RiskFlags[rule.Code]
}

// Known reports whether a code has a registered predicate.
func (r *Registry) Known(code string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.predicates[code]
	return ok
}

func (r *Registry) registerBuiltins() {
	// Document scope: fraud signals.
	r.predicates[CodeBenfordViolation] = signalPredicate(domain.PatternBenford)
	r.predicates[CodeRoundNumberSuspicious] = signalPredicate(domain.PatternRoundNumbers)
	r.predicates[CodeUnusualTiming] = signalPredicate(domain.PatternUnusualTiming)
	r.predicates[CodeNewCounterparty] = signalPredicate(domain.PatternNewCounterparty)
	r.predicates[CodeUnusualCounterparty] = signalPredicate(domain.PatternUnusualParty)
	r.predicates[CodeDuplicateInvoice] = signalPredicate(domain.PatternDuplicateInvoice)

	// Document scope: stored feature checks.
	r.predicates[CodeDueBeforeIssue] = func(ctx *Context, _ *domain.RiskRule) bool {
		return ctx.FeatureBool("dateInconsistency")
	}
	r.predicates[CodeMissingCounterparty] = func(ctx *Context, _ *domain.RiskRule) bool {
		return ctx.FeatureBool("missingCounterparty")
	}
	r.predicates[CodeAmountAboveLimit] = func(ctx *Context, rule *domain.RiskRule) bool {
		amount, ok := ctx.FeatureNumber("amount")
		return ok && amount > rule.ConfigFloat("max_amount", 10000)
	}

	// Company scope: threshold comparisons against the window stats.
	r.predicates[CodeHighRiskDocs] = func(ctx *Context, rule *domain.RiskRule) bool {
		return ctx.Company != nil &&
			ctx.Company.HighSeverityDocs > rule.ConfigInt("max_count", 3)
	}
	r.predicates[CodeHighRiskInvoiceRatio] = func(ctx *Context, rule *domain.RiskRule) bool {
		return ctx.Company != nil &&
			ctx.Company.HighRiskInvoiceRatio() > rule.ConfigFloat("max_ratio", 0.2)
	}
	r.predicates[CodeDuplicateInvoiceNumbers] = func(ctx *Context, rule *domain.RiskRule) bool {
		return ctx.Company != nil &&
			ctx.Company.DuplicateInvoiceNumbers > rule.ConfigInt("max_count", 0)
	}
	r.predicates[CodeFraudPatternCount] = func(ctx *Context, rule *domain.RiskRule) bool {
		return ctx.Company != nil &&
			ctx.Company.FraudPatternHits > rule.ConfigInt("max_count", 2)
	}

	// Company scope: company-wide fraud signals.
	r.predicates[CodeCompanyBenford] = signalPredicate(domain.PatternBenford)
	r.predicates[CodeCircularTransactions] = signalPredicate(domain.PatternCircularFlow)
	r.predicates[CodeVATRateAnomaly] = signalPredicate(domain.PatternVATAnomaly)
	r.predicates[CodeDateManipulation] = signalPredicate(domain.PatternDateManipulation)
}

func signalPredicate(t domain.FraudPatternType) Predicate {
	return func(ctx *Context, _ *domain.RiskRule) bool {
		return ctx.SignalDetected(t)
	}
}
