package fraud

import (
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	// dormancyWindow is the gap after which a counterparty counts as
	// reactivated rather than ongoing.
	dormancyWindow = 180 * 24 * time.Hour

	// amountSigmaLimit is how many standard deviations an amount may
	// sit from the counterparty's own mean before it is unusual.
	amountSigmaLimit = 3.0

	// amountHistoryMin is the minimum history needed for the amount
	// deviation test to be meaningful.
	amountHistoryMin = 5
)

// AnalyzeCounterparty classifies a counterparty against the company's
// own transaction history with it. The history must exclude the
// transaction under analysis. It returns the novelty signal ("new",
// first appearance) and the unusualness signal (reactivation after
// dormancy, or an amount abnormal relative to that counterparty's own
// distribution).
func AnalyzeCounterparty(counterparty string, amount float64, at time.Time, history []*domain.Transaction) (isNew, unusual domain.FraudPattern) {
	isNew = Neutral(domain.PatternNewCounterparty)
	unusual = Neutral(domain.PatternUnusualParty)

	if counterparty == "" {
		return isNew, unusual
	}

	if len(history) == 0 {
		isNew.Detected = true
		isNew.Stats = map[string]float64{"history_size": 0}
		return isNew, unusual
	}

	stats := map[string]float64{"history_size": float64(len(history))}

	// Reactivation after dormancy.
	latest := history[0].BookedAt
	for _, tx := range history[1:] {
		if tx.BookedAt.After(latest) {
			latest = tx.BookedAt
		}
	}
	if gap := at.Sub(latest); gap > dormancyWindow {
		unusual.Detected = true
		stats["dormant_days"] = gap.Hours() / 24
	}

	// Amount deviation against the counterparty's own distribution.
	if len(history) >= amountHistoryMin {
		mean, stddev := amountDistribution(history)
		stats["mean"] = mean
		stats["stddev"] = stddev
		if stddev > 0 && math.Abs(amount-mean) > amountSigmaLimit*stddev {
			unusual.Detected = true
			stats["sigma"] = math.Abs(amount-mean) / stddev
		}
	}

	unusual.Stats = stats
	return isNew, unusual
}

func amountDistribution(txs []*domain.Transaction) (mean, stddev float64) {
	for _, tx := range txs {
		mean += math.Abs(tx.Amount)
	}
	mean /= float64(len(txs))

	var variance float64
	for _, tx := range txs {
		d := math.Abs(tx.Amount) - mean
		variance += d * d
	}
	variance /= float64(len(txs))

	return mean, math.Sqrt(variance)
}
