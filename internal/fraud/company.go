package fraud

import (
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	// circularAmountTolerance is the relative amount difference under
	// which an inflow and an outflow count as a matched pair.
	circularAmountTolerance = 0.01

	// circularPairWindow bounds how far apart a matched pair may be booked.
	circularPairWindow = 14 * 24 * time.Hour

	vatMinSample = 10

	// vatRareShare is the share of invoices carrying a rare VAT rate
	// above which the rate mix is anomalous.
	vatRareShare = 0.10

	// backdatingDelay is how long after the issue date an invoice may
	// be recorded before it looks backdated.
	backdatingDelay = 60 * 24 * time.Hour
)

// DetectCircularTransactions flags company ledgers containing matched
// inflow/outflow pairs with the same counterparty: money that leaves
// and comes back at near-identical amounts within a short window.
func DetectCircularTransactions(txs []*domain.Transaction) domain.FraudPattern {
	if len(txs) < 2 {
		return Neutral(domain.PatternCircularFlow)
	}

	pairs := 0
	for i, a := range txs {
		if a.Counterparty == "" || a.Amount == 0 {
			continue
		}
		for _, b := range txs[i+1:] {
			if b.Counterparty != a.Counterparty {
				continue
			}
			// Opposite directions only.
			if (a.Amount > 0) == (b.Amount > 0) {
				continue
			}
			absA, absB := math.Abs(a.Amount), math.Abs(b.Amount)
			if math.Abs(absA-absB) > circularAmountTolerance*math.Max(absA, absB) {
				continue
			}
			gap := a.BookedAt.Sub(b.BookedAt)
			if gap < 0 {
				gap = -gap
			}
			if gap > circularPairWindow {
				continue
			}
			pairs++
		}
	}

	return domain.FraudPattern{
		Type:     domain.PatternCircularFlow,
		Detected: pairs > 0,
		Stats: map[string]float64{
			"transactions":  float64(len(txs)),
			"matched_pairs": float64(pairs),
		},
	}
}

// AnalyzeVATRates flags invoice sets whose VAT-rate mix is unusual:
// too many invoices carrying a rate the company otherwise never uses.
// Fewer than ten invoices is neutral.
func AnalyzeVATRates(invoices []*domain.Invoice) domain.FraudPattern {
	if len(invoices) < vatMinSample {
		return Neutral(domain.PatternVATAnomaly)
	}

	freq := make(map[float64]int)
	for _, inv := range invoices {
		freq[inv.VATRate]++
	}

	rare := 0
	for _, count := range freq {
		if count == 1 {
			rare++
		}
	}

	share := float64(rare) / float64(len(invoices))

	return domain.FraudPattern{
		Type:     domain.PatternVATAnomaly,
		Detected: share > vatRareShare,
		Stats: map[string]float64{
			"invoices":       float64(len(invoices)),
			"distinct_rates": float64(len(freq)),
			"rare_rates":     float64(rare),
			"rare_share":     share,
		},
	}
}

// DetectDateManipulation flags invoice sets with inconsistent dates:
// due dates before issue dates, issue dates in the future, or invoices
// recorded long after their issue date (backdating). A single
// due-before-issue invoice is enough to trigger; softer signals need
// at least two occurrences.
func DetectDateManipulation(invoices []*domain.Invoice, now time.Time) domain.FraudPattern {
	if len(invoices) == 0 {
		return Neutral(domain.PatternDateManipulation)
	}

	var dueBeforeIssue, futureDated, backdated int
	for _, inv := range invoices {
		if !inv.DueDate.IsZero() && inv.DueDate.Before(inv.IssueDate) {
			dueBeforeIssue++
		}
		if inv.IssueDate.After(now) {
			futureDated++
		}
		if !inv.CreatedAt.IsZero() && inv.CreatedAt.Sub(inv.IssueDate) > backdatingDelay {
			backdated++
		}
	}

	detected := dueBeforeIssue > 0 || futureDated >= 2 || backdated >= 2

	return domain.FraudPattern{
		Type:     domain.PatternDateManipulation,
		Detected: detected,
		Stats: map[string]float64{
			"invoices":         float64(len(invoices)),
			"due_before_issue": float64(dueBeforeIssue),
			"future_dated":     float64(futureDated),
			"backdated":        float64(backdated),
		},
	}
}
