package rules

import (
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/fraud"
)

func newTestContext() *Context {
	return &Context{
		Scope:     domain.ScopeDocument,
		Features:  map[string]any{},
		RiskFlags: map[string]bool{},
		Signals:   map[domain.FraudPatternType]fraud.Signal{},
	}
}

func TestRegistrySignalPredicates(t *testing.T) {
	reg := NewRegistry(nil)

	ctx := newTestContext()
	ctx.Signals[domain.PatternRoundNumbers] = fraud.Ok(domain.FraudPattern{
		Type:     domain.PatternRoundNumbers,
		Detected: true,
	})

	rule := &domain.RiskRule{Code: CodeRoundNumberSuspicious, Weight: 35}
	if !reg.Evaluate(ctx, rule) {
		t.Error("detected round-number signal must trigger ROUND_NUMBER_SUSPICIOUS")
	}

	other := &domain.RiskRule{Code: CodeBenfordViolation, Weight: 40}
	if reg.Evaluate(ctx, other) {
		t.Error("absent benford signal must not trigger")
	}
}

func TestRegistryDegradedSignalReadsFalse(t *testing.T) {
	reg := NewRegistry(nil)

	ctx := newTestContext()
	ctx.Signals[domain.PatternBenford] = fraud.Degraded(domain.PatternBenford)

	if reg.Evaluate(ctx, &domain.RiskRule{Code: CodeBenfordViolation}) {
		t.Error("a degraded signal must read as its neutral value")
	}
	if got := ctx.DegradedSignals(); len(got) != 1 || got[0] != string(domain.PatternBenford) {
		t.Errorf("expected benford listed as degraded, got %v", got)
	}
}

func TestRegistryFeaturePredicates(t *testing.T) {
	reg := NewRegistry(nil)

	ctx := newTestContext()
	ctx.Features["dateInconsistency"] = true
	ctx.Features["amount"] = 25000.0

	if !reg.Evaluate(ctx, &domain.RiskRule{Code: CodeDueBeforeIssue}) {
		t.Error("dateInconsistency feature must trigger INV_DUE_BEFORE_ISSUE")
	}

	limit := &domain.RiskRule{Code: CodeAmountAboveLimit}
	if !reg.Evaluate(ctx, limit) {
		t.Error("25000 must exceed the default 10000 limit")
	}

	limit.Config = map[string]any{"max_amount": 50000.0}
	if reg.Evaluate(ctx, limit) {
		t.Error("configured limit of 50000 must not trigger at 25000")
	}
}

func TestRegistryCompanyThresholds(t *testing.T) {
	reg := NewRegistry(nil)

	ctx := newTestContext()
	ctx.Scope = domain.ScopeCompany
	ctx.Company = &CompanyStats{
		WindowDays:              90,
		HighSeverityDocs:        5,
		InvoiceCount:            40,
		HighRiskInvoices:        12,
		DuplicateInvoiceNumbers: 2,
		FraudPatternHits:        3,
	}

	cases := []struct {
		code string
		want bool
	}{
		{CodeHighRiskDocs, true},            // 5 > default 3
		{CodeHighRiskInvoiceRatio, true},    // 0.3 > default 0.2
		{CodeDuplicateInvoiceNumbers, true}, // 2 > default 0
		{CodeFraudPatternCount, true},       // 3 > default 2
	}
	for _, tc := range cases {
		if got := reg.Evaluate(ctx, &domain.RiskRule{Code: tc.code}); got != tc.want {
			t.Errorf("%s = %v, want %v", tc.code, got, tc.want)
		}
	}

	// Raising a configured threshold flips the outcome.
	strict := &domain.RiskRule{
		Code:   CodeHighRiskDocs,
		Config: map[string]any{"max_count": 10},
	}
	if reg.Evaluate(ctx, strict) {
		t.Error("5 high-risk docs must not exceed a configured max of 10")
	}
}

func TestRegistryCompanyPredicatesNilStats(t *testing.T) {
	reg := NewRegistry(nil)
	ctx := newTestContext()

	for _, code := range []string{CodeHighRiskDocs, CodeHighRiskInvoiceRatio, CodeDuplicateInvoiceNumbers, CodeFraudPatternCount} {
		if reg.Evaluate(ctx, &domain.RiskRule{Code: code}) {
			t.Errorf("%s must not trigger without company stats", code)
		}
	}
}

func TestRegistryUnknownCodeFallsBackToFlags(t *testing.T) {
	reg := NewRegistry(nil)

	ctx := newTestContext()
	ctx.RiskFlags["LEGACY_OCR_MISMATCH"] = true

	if !reg.Evaluate(ctx, &domain.RiskRule{Code: "LEGACY_OCR_MISMATCH"}) {
		t.Error("unknown code present in risk flags must trigger")
	}
	if reg.Evaluate(ctx, &domain.RiskRule{Code: "NEVER_SEEN"}) {
		t.Error("unknown code absent from risk flags must not trigger")
	}
}

func TestRegistryCustomExpression(t *testing.T) {
	custom, err := NewCustomEvaluator()
	if err != nil {
		t.Fatalf("failed to create custom evaluator: %v", err)
	}
	reg := NewRegistry(custom)

	ctx := newTestContext()
	ctx.Features["amount"] = 1200.0
	ctx.Features["currencyMismatch"] = true

	rule := &domain.RiskRule{
		Code:       "CCY_MISMATCH_OVER_1K",
		Expression: `features["currencyMismatch"] == true && double(features["amount"]) > 1000.0`,
	}

	if !reg.Evaluate(ctx, rule) {
		t.Error("CEL expression over features must trigger")
	}

	ctx.Features["amount"] = 800.0
	if reg.Evaluate(ctx, rule) {
		t.Error("CEL expression must not trigger below the amount bound")
	}
}

func TestRegistryRegisterOverridesBuiltin(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(CodeDueBeforeIssue, func(*Context, *domain.RiskRule) bool { return true })

	if !reg.Evaluate(newTestContext(), &domain.RiskRule{Code: CodeDueBeforeIssue}) {
		t.Error("registered predicate must replace the built-in")
	}
	if !reg.Known(CodeDueBeforeIssue) {
		t.Error("registered code must be known")
	}
}
