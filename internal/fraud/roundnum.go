package fraud

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// roundBases are the bases an amount must divide exactly to count as round.
var roundBases = []float64{100, 1000}

// roundSuspicionRatio is the share of round amounts at which the set
// as a whole is treated as suspicious, inclusive.
const roundSuspicionRatio = 0.30

// DetectRoundNumbers flags amount sets where round values (exact
// multiples of 100 or 1000) make up 30% or more of the set, a rate
// organic ledgers rarely reach. An empty input is neutral.
func DetectRoundNumbers(amounts []float64) domain.FraudPattern {
	if len(amounts) == 0 {
		return Neutral(domain.PatternRoundNumbers)
	}

	round := 0
	for _, a := range amounts {
		if isRound(a) {
			round++
		}
	}

	ratio := float64(round) / float64(len(amounts))

	return domain.FraudPattern{
		Type:     domain.PatternRoundNumbers,
		Detected: ratio >= roundSuspicionRatio,
		Stats: map[string]float64{
			"total":       float64(len(amounts)),
			"round_count": float64(round),
			"ratio":       ratio,
		},
	}
}

// isRound reports whether the amount is a non-zero exact multiple of
// any round base. Comparison tolerates float representation noise.
func isRound(amount float64) bool {
	a := math.Abs(amount)
	if a == 0 {
		return false
	}
	for _, base := range roundBases {
		if a < base {
			continue
		}
		q := a / base
		if math.Abs(q-math.Round(q)) < 1e-9 {
			return true
		}
	}
	return false
}
