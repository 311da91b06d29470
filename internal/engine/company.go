package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/fraud"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// EvaluateCompany scores a client company against the tenant's
// company-scope rules, aggregating documents, invoices and
// transactions over the trailing window.
//
// The severity counts are the company evaluator's required input;
// a repository failure there is fatal. Detector inputs degrade the
// same way document signals do.
func (e *Engine) EvaluateCompany(ctx context.Context, tenantID string, companyID string) (*domain.RiskScore, error) {
	if companyID == "" {
		return nil, fmt.Errorf("companyID is required")
	}

	ctx, span := tracer.Start(ctx, "EvaluateCompany")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("company.id", companyID),
	)

	catalog, err := e.catalog.LoadActive(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rule catalog: %w", err)
	}
	_, companyRules := rules.Partition(catalog)

	now := time.Now().UTC()
	since := now.AddDate(0, 0, -e.windowDays)

	stats := &rules.CompanyStats{WindowDays: e.windowDays}

	stats.HighSeverityDocs, err = e.repo.CountDocumentScoresBySeverity(ctx, tenantID, companyID, domain.SeverityHigh, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count high severity documents: %w", err)
	}
	stats.HighRiskInvoices, err = e.repo.CountHighRiskInvoices(ctx, tenantID, companyID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count high risk invoices: %w", err)
	}
	stats.DuplicateInvoiceNumbers, err = e.repo.CountDuplicateExternalNumbers(ctx, tenantID, companyID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count duplicate invoice numbers: %w", err)
	}

	signals := make(map[domain.FraudPatternType]fraud.Signal)

	invoices, err := e.repo.ListInvoicesByCompany(ctx, tenantID, companyID, since)
	if err != nil {
		slog.Warn("invoice history unavailable, degrading statistical signals",
			"tenant_id", tenantID,
			"company_id", companyID,
			"error", err,
		)
		signals[domain.PatternBenford] = fraud.Degraded(domain.PatternBenford)
		signals[domain.PatternRoundNumbers] = fraud.Degraded(domain.PatternRoundNumbers)
		signals[domain.PatternVATAnomaly] = fraud.Degraded(domain.PatternVATAnomaly)
		signals[domain.PatternDateManipulation] = fraud.Degraded(domain.PatternDateManipulation)
	} else {
		stats.InvoiceCount = len(invoices)
		amounts := make([]float64, 0, len(invoices))
		for _, inv := range invoices {
			amounts = append(amounts, inv.Amount)
		}
		signals[domain.PatternBenford] = fraud.Ok(fraud.AnalyzeBenford(amounts))
		signals[domain.PatternRoundNumbers] = fraud.Ok(fraud.DetectRoundNumbers(amounts))
		signals[domain.PatternVATAnomaly] = fraud.Ok(fraud.AnalyzeVATRates(invoices))
		signals[domain.PatternDateManipulation] = fraud.Ok(fraud.DetectDateManipulation(invoices, now))
	}

	txs, err := e.repo.ListTransactionsByCompany(ctx, tenantID, companyID, since)
	if err != nil {
		slog.Warn("transaction history unavailable, degrading circular flow signal",
			"tenant_id", tenantID,
			"company_id", companyID,
			"error", err,
		)
		signals[domain.PatternCircularFlow] = fraud.Degraded(domain.PatternCircularFlow)
	} else {
		signals[domain.PatternCircularFlow] = fraud.Ok(fraud.DetectCircularTransactions(txs))
	}

	for _, s := range signals {
		if s.Pattern.Detected {
			stats.FraudPatternHits++
		}
	}

	rctx := &rules.Context{
		Scope:   domain.ScopeCompany,
		Signals: signals,
		Company: stats,
	}

	score := e.score(rctx, companyRules, tenantID, domain.EntityCompany, companyID)

	if err := e.persist(ctx, score, companyID); err != nil {
		return nil, err
	}

	slog.Info("company evaluated",
		"tenant_id", tenantID,
		"company_id", companyID,
		"window_days", e.windowDays,
		"score", score.Score,
		"severity", score.Severity,
		"rules_triggered", len(score.TriggeredRuleCodes),
		"degraded_signals", len(score.DegradedSignals),
	)

	return score, nil
}
