package fraud

import (
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestDetectRoundNumbers(t *testing.T) {
	t.Run("OverThirtyPercentRound", func(t *testing.T) {
		// 4 of 10 amounts are exact multiples of 1000.
		amounts := []float64{1000, 2000, 5000, 10000, 137.50, 226.13, 89.99, 411.27, 733.01, 954.60}

		p := DetectRoundNumbers(amounts)

		if !p.Detected {
			t.Errorf("40%% round amounts not flagged, ratio=%v", p.Stats["ratio"])
		}
	})

	t.Run("ExactlyThirtyPercentRound", func(t *testing.T) {
		// The threshold is inclusive: 3 of 10 round amounts flag.
		amounts := []float64{1000, 2000, 300, 137.50, 226.13, 89.99, 411.27, 733.01, 954.60, 68.14}

		p := DetectRoundNumbers(amounts)

		if !p.Detected {
			t.Errorf("30%% round amounts not flagged, ratio=%v", p.Stats["ratio"])
		}
	})

	t.Run("JustUnderThirtyPercentRound", func(t *testing.T) {
		// 2 of 7 is under the threshold.
		amounts := []float64{1000, 2000, 137.50, 226.13, 89.99, 411.27, 733.01}

		p := DetectRoundNumbers(amounts)

		if p.Detected {
			t.Errorf("%.0f%% round amounts flagged, ratio=%v", 100*2.0/7.0, p.Stats["ratio"])
		}
	})

	t.Run("TenPercentRound", func(t *testing.T) {
		amounts := []float64{1000, 137.50, 226.13, 89.99, 411.27, 733.01, 954.60, 68.14, 302.88, 519.45}

		p := DetectRoundNumbers(amounts)

		if p.Detected {
			t.Errorf("10%% round amounts flagged, ratio=%v", p.Stats["ratio"])
		}
	})

	t.Run("EmptyInputNeutral", func(t *testing.T) {
		if DetectRoundNumbers(nil).Detected {
			t.Error("empty input must be neutral")
		}
	})

	t.Run("ZeroNotRound", func(t *testing.T) {
		if isRound(0) {
			t.Error("zero must not count as a round amount")
		}
	})
}

func TestAnalyzeTiming(t *testing.T) {
	base := time.Date(2026, time.March, 10, 14, 0, 0, 0, time.UTC) // Tuesday

	t.Run("BusinessHoursNeutral", func(t *testing.T) {
		var times []time.Time
		for i := 0; i < 10; i++ {
			times = append(times, base.Add(time.Duration(i)*time.Hour/2))
		}
		if AnalyzeTiming(times).Detected {
			t.Error("daytime weekday bookings flagged")
		}
	})

	t.Run("NightClusterFlagged", func(t *testing.T) {
		var times []time.Time
		for i := 0; i < 10; i++ {
			times = append(times, time.Date(2026, time.March, 10+i%3, 3, 0, 0, 0, time.UTC))
		}
		p := AnalyzeTiming(times)
		if !p.Detected {
			t.Errorf("3am cluster not flagged, off_hours_share=%v", p.Stats["off_hours_share"])
		}
	})

	t.Run("SmallSampleNeutral", func(t *testing.T) {
		times := []time.Time{
			time.Date(2026, time.March, 8, 3, 0, 0, 0, time.UTC),
			time.Date(2026, time.March, 8, 4, 0, 0, 0, time.UTC),
		}
		if AnalyzeTiming(times).Detected {
			t.Error("fewer than five timestamps must be neutral")
		}
	})
}

func TestAnalyzeCounterparty(t *testing.T) {
	now := time.Date(2026, time.June, 1, 12, 0, 0, 0, time.UTC)

	history := func(n int, last time.Time, amount float64) []*domain.Transaction {
		txs := make([]*domain.Transaction, n)
		for i := range txs {
			txs[i] = &domain.Transaction{
				Counterparty: "Acme GmbH",
				Amount:       amount,
				BookedAt:     last.AddDate(0, 0, -i*7),
			}
		}
		return txs
	}

	t.Run("FirstAppearanceIsNew", func(t *testing.T) {
		isNew, unusual := AnalyzeCounterparty("Acme GmbH", 500, now, nil)
		if !isNew.Detected {
			t.Error("empty history must classify counterparty as new")
		}
		if unusual.Detected {
			t.Error("empty history must not be unusual")
		}
	})

	t.Run("OngoingIsNeither", func(t *testing.T) {
		isNew, unusual := AnalyzeCounterparty("Acme GmbH", 500, now, history(8, now.AddDate(0, 0, -10), 500))
		if isNew.Detected || unusual.Detected {
			t.Error("recent steady history must be neutral")
		}
	})

	t.Run("ReactivationAfterDormancy", func(t *testing.T) {
		_, unusual := AnalyzeCounterparty("Acme GmbH", 500, now, history(8, now.AddDate(-1, 0, 0), 500))
		if !unusual.Detected {
			t.Error("reactivation after a year of dormancy must be unusual")
		}
	})

	t.Run("AbnormalAmount", func(t *testing.T) {
		// History clusters tightly around 500; 50000 is far outside.
		txs := history(10, now.AddDate(0, 0, -7), 500)
		for i, tx := range txs {
			tx.Amount = 500 + float64(i%3) // small spread so stddev > 0
		}
		_, unusual := AnalyzeCounterparty("Acme GmbH", 50000, now, txs)
		if !unusual.Detected {
			t.Error("amount far outside the counterparty's distribution must be unusual")
		}
	})

	t.Run("EmptyNameNeutral", func(t *testing.T) {
		isNew, unusual := AnalyzeCounterparty("", 500, now, nil)
		if isNew.Detected || unusual.Detected {
			t.Error("unnamed counterparty must be neutral")
		}
	})
}

func TestDetectDuplicateInvoice(t *testing.T) {
	issue := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
	inv := &domain.Invoice{
		ID:           "inv-1",
		Amount:       1499.00,
		Counterparty: "Nordwind Logistik",
		IssueDate:    issue,
	}

	t.Run("TenDaysApartFlagged", func(t *testing.T) {
		other := &domain.Invoice{
			ID:           "inv-2",
			Amount:       1499.00,
			Counterparty: "nordwind logistik",
			IssueDate:    issue.AddDate(0, 0, 10),
		}
		p := DetectDuplicateInvoice(inv, []*domain.Invoice{other})
		if !p.Detected {
			t.Error("same amount, same counterparty, 10 days apart must flag duplicate")
		}
	})

	t.Run("FortyDaysApartNotFlagged", func(t *testing.T) {
		other := &domain.Invoice{
			ID:           "inv-2",
			Amount:       1499.00,
			Counterparty: "Nordwind Logistik",
			IssueDate:    issue.AddDate(0, 0, 40),
		}
		if DetectDuplicateInvoice(inv, []*domain.Invoice{other}).Detected {
			t.Error("40 days apart must not flag duplicate")
		}
	})

	t.Run("ExcludesItself", func(t *testing.T) {
		if DetectDuplicateInvoice(inv, []*domain.Invoice{inv}).Detected {
			t.Error("an invoice must not match itself")
		}
	})

	t.Run("DifferentCounterpartyNotFlagged", func(t *testing.T) {
		other := &domain.Invoice{
			ID:           "inv-2",
			Amount:       1499.00,
			Counterparty: "Other AG",
			IssueDate:    issue.AddDate(0, 0, 5),
		}
		if DetectDuplicateInvoice(inv, []*domain.Invoice{other}).Detected {
			t.Error("different counterparty names must not match")
		}
	})

	t.Run("MissingCounterpartyMatchesOnAmount", func(t *testing.T) {
		bare := &domain.Invoice{ID: "inv-3", Amount: 1499.00, IssueDate: issue.AddDate(0, 0, 3)}
		if !DetectDuplicateInvoice(bare, []*domain.Invoice{inv}).Detected {
			t.Error("counterparty comparison only applies when both invoices carry one")
		}
	})
}

func TestDetectCircularTransactions(t *testing.T) {
	base := time.Date(2026, time.May, 1, 10, 0, 0, 0, time.UTC)

	t.Run("MatchedPairFlagged", func(t *testing.T) {
		txs := []*domain.Transaction{
			{Counterparty: "Shell Co", Amount: -25000, BookedAt: base},
			{Counterparty: "Shell Co", Amount: 24950, BookedAt: base.AddDate(0, 0, 4)},
		}
		p := DetectCircularTransactions(txs)
		if !p.Detected {
			t.Errorf("round-trip flow not flagged, pairs=%v", p.Stats["matched_pairs"])
		}
	})

	t.Run("SameDirectionNeutral", func(t *testing.T) {
		txs := []*domain.Transaction{
			{Counterparty: "Shell Co", Amount: -25000, BookedAt: base},
			{Counterparty: "Shell Co", Amount: -25000, BookedAt: base.AddDate(0, 0, 4)},
		}
		if DetectCircularTransactions(txs).Detected {
			t.Error("two outflows must not count as a circular pair")
		}
	})

	t.Run("OutsideWindowNeutral", func(t *testing.T) {
		txs := []*domain.Transaction{
			{Counterparty: "Shell Co", Amount: -25000, BookedAt: base},
			{Counterparty: "Shell Co", Amount: 25000, BookedAt: base.AddDate(0, 2, 0)},
		}
		if DetectCircularTransactions(txs).Detected {
			t.Error("pair two months apart must not count")
		}
	})
}

func TestAnalyzeVATRates(t *testing.T) {
	invoices := func(rates ...float64) []*domain.Invoice {
		out := make([]*domain.Invoice, len(rates))
		for i, r := range rates {
			out[i] = &domain.Invoice{VATRate: r}
		}
		return out
	}

	t.Run("UniformRatesNeutral", func(t *testing.T) {
		p := AnalyzeVATRates(invoices(19, 19, 19, 19, 19, 7, 7, 7, 7, 7))
		if p.Detected {
			t.Error("two standard rates must be neutral")
		}
	})

	t.Run("ScatteredRaresFlagged", func(t *testing.T) {
		p := AnalyzeVATRates(invoices(19, 19, 19, 19, 19, 19, 5.5, 8.2, 12.7, 3.1))
		if !p.Detected {
			t.Errorf("four one-off rates not flagged, rare_share=%v", p.Stats["rare_share"])
		}
	})

	t.Run("SmallSampleNeutral", func(t *testing.T) {
		if AnalyzeVATRates(invoices(19, 3.3, 8.1)).Detected {
			t.Error("fewer than ten invoices must be neutral")
		}
	})
}

func TestDetectDateManipulation(t *testing.T) {
	now := time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC)

	t.Run("DueBeforeIssueFlagged", func(t *testing.T) {
		invs := []*domain.Invoice{{
			IssueDate: now.AddDate(0, 0, -10),
			DueDate:   now.AddDate(0, 0, -20),
		}}
		if !DetectDateManipulation(invs, now).Detected {
			t.Error("a due date before the issue date must flag")
		}
	})

	t.Run("CleanDatesNeutral", func(t *testing.T) {
		invs := []*domain.Invoice{{
			IssueDate: now.AddDate(0, 0, -10),
			DueDate:   now.AddDate(0, 0, 20),
			CreatedAt: now.AddDate(0, 0, -9),
		}}
		if DetectDateManipulation(invs, now).Detected {
			t.Error("consistent dates must be neutral")
		}
	})

	t.Run("RepeatedBackdatingFlagged", func(t *testing.T) {
		invs := []*domain.Invoice{
			{IssueDate: now.AddDate(0, -6, 0), CreatedAt: now},
			{IssueDate: now.AddDate(0, -5, 0), CreatedAt: now},
		}
		if !DetectDateManipulation(invs, now).Detected {
			t.Error("two invoices recorded months after issue must flag")
		}
	})
}

func TestSignalHelpers(t *testing.T) {
	d := Degraded(domain.PatternBenford)
	if !d.Degraded || d.Pattern.Detected {
		t.Error("degraded signal must be neutral and marked degraded")
	}

	ok := Ok(domain.FraudPattern{Type: domain.PatternRoundNumbers, Detected: true})
	if ok.Degraded || !ok.Pattern.Detected {
		t.Error("ok signal must preserve the pattern and not be degraded")
	}
}
