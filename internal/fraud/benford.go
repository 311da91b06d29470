package fraud

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	// benfordMinSample is the minimum number of usable amounts for a
	// meaningful leading-digit test. Below it the analyzer stays neutral.
	benfordMinSample = 20

	// benfordCritical is the chi-square critical value for 8 degrees
	// of freedom at p = 0.05.
	benfordCritical = 15.507
)

// AnalyzeBenford tests the leading-digit distribution of the given
// amounts against Benford's Law using a chi-square statistic. Amounts
// of zero are skipped; signs are ignored.
func AnalyzeBenford(amounts []float64) domain.FraudPattern {
	var digits [10]int
	usable := 0
	for _, a := range amounts {
		d := leadingDigit(a)
		if d == 0 {
			continue
		}
		digits[d]++
		usable++
	}

	if usable < benfordMinSample {
		return domain.FraudPattern{
			Type:     domain.PatternBenford,
			Detected: false,
			Stats: map[string]float64{
				"sample_size": float64(usable),
				"min_sample":  benfordMinSample,
			},
		}
	}

	var chiSquare float64
	for d := 1; d <= 9; d++ {
		expected := float64(usable) * benfordExpected(d)
		diff := float64(digits[d]) - expected
		chiSquare += diff * diff / expected
	}

	return domain.FraudPattern{
		Type:     domain.PatternBenford,
		Detected: chiSquare > benfordCritical,
		Stats: map[string]float64{
			"sample_size": float64(usable),
			"chi_square":  chiSquare,
			"critical":    benfordCritical,
		},
	}
}

// benfordExpected is the expected frequency of leading digit d.
func benfordExpected(d int) float64 {
	return math.Log10(1 + 1/float64(d))
}

// leadingDigit returns the first significant digit of the absolute
// value, or 0 for amounts that have none.
func leadingDigit(amount float64) int {
	a := math.Abs(amount)
	if a == 0 || math.IsNaN(a) || math.IsInf(a, 0) {
		return 0
	}
	for a >= 10 {
		a /= 10
	}
	for a < 1 {
		a *= 10
	}
	return int(a)
}
