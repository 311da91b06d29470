package fraud

import (
	"math"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	// duplicateWindow is the issue-date window within which two
	// matching invoices count as duplicates.
	duplicateWindow = 30 * 24 * time.Hour

	// amountEpsilon tolerates rounding noise when comparing amounts.
	amountEpsilon = 0.005
)

// DetectDuplicateInvoice flags the invoice as a duplicate when another
// invoice in the candidate set (same tenant) has the same amount and,
// when both carry one, the same counterparty name, with issue dates
// within ±30 days. The invoice itself is excluded from matching.
func DetectDuplicateInvoice(inv *domain.Invoice, candidates []*domain.Invoice) domain.FraudPattern {
	if inv == nil {
		return Neutral(domain.PatternDuplicateInvoice)
	}

	matches := 0
	for _, c := range candidates {
		if c.ID == inv.ID {
			continue
		}
		if math.Abs(c.Amount-inv.Amount) > amountEpsilon {
			continue
		}
		if inv.Counterparty != "" && c.Counterparty != "" &&
			!strings.EqualFold(inv.Counterparty, c.Counterparty) {
			continue
		}
		gap := inv.IssueDate.Sub(c.IssueDate)
		if gap < 0 {
			gap = -gap
		}
		if gap > duplicateWindow {
			continue
		}
		matches++
	}

	return domain.FraudPattern{
		Type:     domain.PatternDuplicateInvoice,
		Detected: matches > 0,
		Stats: map[string]float64{
			"candidates": float64(len(candidates)),
			"matches":    float64(matches),
		},
	}
}
