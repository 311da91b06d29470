package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/fraud"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// duplicateWindowDays bounds the issue-date window searched for
// duplicate invoice candidates, in both directions.
const duplicateWindowDays = 30

// EvaluateDocument scores a single document against the tenant's
// document-scope rules, loading the stored feature record.
//
// A missing feature record is fatal: evaluation cannot proceed and the
// repository's not-found error propagates, which also covers the
// cross-tenant case. Failures while fetching detector inputs are not
// fatal; the affected signals degrade to their neutral value and are
// recorded on the score.
func (e *Engine) EvaluateDocument(ctx context.Context, tenantID string, documentID string) (*domain.RiskScore, error) {
	return e.EvaluateDocumentWithFeatures(ctx, tenantID, documentID, nil)
}

// EvaluateDocumentWithFeatures scores a document using the supplied
// feature record instead of the stored one, so a caller that just ran
// extraction can evaluate without a store round trip. A nil record
// falls back to the store. A supplied record claiming a different
// document is rejected.
func (e *Engine) EvaluateDocumentWithFeatures(ctx context.Context, tenantID string, documentID string, features *domain.DocumentRiskFeatures) (*domain.RiskScore, error) {
	ctx, span := tracer.Start(ctx, "EvaluateDocument")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("document.id", documentID),
	)

	if features == nil {
		var err error
		features, err = e.repo.GetDocumentFeatures(ctx, tenantID, documentID)
		if err != nil {
			return nil, fmt.Errorf("failed to load document features: %w", err)
		}
	} else {
		if features.DocumentID != "" && features.DocumentID != documentID {
			return nil, fmt.Errorf("%w: features belong to document %s", repository.ErrInvalidInput, features.DocumentID)
		}
		features.TenantID = tenantID
		features.DocumentID = documentID
	}

	catalog, err := e.catalog.LoadActive(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rule catalog: %w", err)
	}
	docRules, _ := rules.Partition(catalog)

	signals := e.documentSignals(ctx, tenantID, features)

	rctx := &rules.Context{
		Scope:     domain.ScopeDocument,
		Features:  features.Features,
		RiskFlags: flagSet(features.RiskFlags),
		Signals:   signals,
	}

	score := e.score(rctx, docRules, tenantID, domain.EntityDocument, documentID)

	if err := e.persist(ctx, score, features.ClientCompanyID); err != nil {
		return nil, err
	}

	slog.Info("document evaluated",
		"tenant_id", tenantID,
		"document_id", documentID,
		"score", score.Score,
		"severity", score.Severity,
		"rules_triggered", len(score.TriggeredRuleCodes),
		"degraded_signals", len(score.DegradedSignals),
	)

	return score, nil
}

// documentSignals runs the document-scope fraud detectors. Every
// repository failure downgrades the signals that needed that input
// and leaves the rest intact.
func (e *Engine) documentSignals(ctx context.Context, tenantID string, features *domain.DocumentRiskFeatures) map[domain.FraudPatternType]fraud.Signal {
	signals := make(map[domain.FraudPatternType]fraud.Signal)
	now := time.Now().UTC()
	since := now.AddDate(0, 0, -e.windowDays)

	invoices, err := e.repo.ListInvoicesByCompany(ctx, tenantID, features.ClientCompanyID, since)
	if err != nil {
		slog.Warn("invoice history unavailable, degrading statistical signals",
			"tenant_id", tenantID,
			"company_id", features.ClientCompanyID,
			"error", err,
		)
		signals[domain.PatternBenford] = fraud.Degraded(domain.PatternBenford)
		signals[domain.PatternRoundNumbers] = fraud.Degraded(domain.PatternRoundNumbers)
		signals[domain.PatternUnusualTiming] = fraud.Degraded(domain.PatternUnusualTiming)
	} else {
		amounts := make([]float64, 0, len(invoices))
		booked := make([]time.Time, 0, len(invoices))
		for _, inv := range invoices {
			amounts = append(amounts, inv.Amount)
			booked = append(booked, inv.CreatedAt)
		}
		signals[domain.PatternBenford] = fraud.Ok(fraud.AnalyzeBenford(amounts))
		signals[domain.PatternRoundNumbers] = fraud.Ok(fraud.DetectRoundNumbers(amounts))
		signals[domain.PatternUnusualTiming] = fraud.Ok(fraud.AnalyzeTiming(booked))
	}

	inv := e.documentInvoice(features, invoices, now)
	if inv == nil {
		// Nothing to compare; invoice-level signals stay neutral.
		signals[domain.PatternDuplicateInvoice] = fraud.Ok(fraud.Neutral(domain.PatternDuplicateInvoice))
		signals[domain.PatternNewCounterparty] = fraud.Ok(fraud.Neutral(domain.PatternNewCounterparty))
		signals[domain.PatternUnusualParty] = fraud.Ok(fraud.Neutral(domain.PatternUnusualParty))
		return signals
	}

	from := inv.IssueDate.AddDate(0, 0, -duplicateWindowDays)
	to := inv.IssueDate.AddDate(0, 0, duplicateWindowDays)
	candidates, err := e.repo.ListInvoicesByAmount(ctx, tenantID, inv.Amount, from, to)
	if err != nil {
		slog.Warn("duplicate candidate lookup failed, degrading signal",
			"tenant_id", tenantID,
			"document_id", features.DocumentID,
			"error", err,
		)
		signals[domain.PatternDuplicateInvoice] = fraud.Degraded(domain.PatternDuplicateInvoice)
	} else {
		signals[domain.PatternDuplicateInvoice] = fraud.Ok(fraud.DetectDuplicateInvoice(inv, candidates))
	}

	if inv.Counterparty == "" {
		signals[domain.PatternNewCounterparty] = fraud.Ok(fraud.Neutral(domain.PatternNewCounterparty))
		signals[domain.PatternUnusualParty] = fraud.Ok(fraud.Neutral(domain.PatternUnusualParty))
		return signals
	}

	history, err := e.repo.ListTransactionsByCounterparty(ctx, tenantID, features.ClientCompanyID, inv.Counterparty)
	if err != nil {
		slog.Warn("counterparty history unavailable, degrading signals",
			"tenant_id", tenantID,
			"company_id", features.ClientCompanyID,
			"error", err,
		)
		signals[domain.PatternNewCounterparty] = fraud.Degraded(domain.PatternNewCounterparty)
		signals[domain.PatternUnusualParty] = fraud.Degraded(domain.PatternUnusualParty)
	} else {
		isNew, unusual := fraud.AnalyzeCounterparty(inv.Counterparty, inv.Amount, inv.IssueDate, history)
		signals[domain.PatternNewCounterparty] = fraud.Ok(isNew)
		signals[domain.PatternUnusualParty] = fraud.Ok(unusual)
	}

	return signals
}

// documentInvoice resolves the invoice behind the document: the
// booked ledger row when one links back to it, otherwise a synthetic
// invoice built from the extracted features. Returns nil when the
// features carry no amount to compare.
func (e *Engine) documentInvoice(features *domain.DocumentRiskFeatures, invoices []*domain.Invoice, now time.Time) *domain.Invoice {
	for _, inv := range invoices {
		if inv.DocumentID == features.DocumentID {
			return inv
		}
	}

	amount, ok := features.Number("amount")
	if !ok {
		return nil
	}

	inv := &domain.Invoice{
		TenantID:        features.TenantID,
		ClientCompanyID: features.ClientCompanyID,
		DocumentID:      features.DocumentID,
		Amount:          amount,
		IssueDate:       features.ExtractedAt,
	}
	if inv.IssueDate.IsZero() {
		inv.IssueDate = now
	}
	if cp, ok := features.Features["counterparty"].(string); ok {
		inv.Counterparty = cp
	}
	if num, ok := features.Features["externalNumber"].(string); ok {
		inv.ExternalNumber = num
	}
	return inv
}

func flagSet(flags []domain.RiskFlag) map[string]bool {
	set := make(map[string]bool, len(flags))
	for _, f := range flags {
		set[f.Code] = true
	}
	return set
}
