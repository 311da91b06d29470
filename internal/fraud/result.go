// Package fraud provides pure, stateless statistical fraud-pattern
// detectors. Every detector operates only on its input collection and
// returns a neutral, non-violation result when the input is too small
// or malformed for a statistically meaningful judgment. Detectors
// never return errors and never touch persistence.
package fraud

import "github.com/opensource-finance/kestrel/internal/domain"

// Signal wraps a detector outcome for rule evaluation. Degraded marks
// a signal that fell back to its neutral value because the detector's
// input could not be fetched, so "computed false" stays distinguishable
// from "defaulted after failure".
type Signal struct {
	Pattern  domain.FraudPattern
	Degraded bool
}

// Ok wraps a computed pattern.
func Ok(p domain.FraudPattern) Signal {
	return Signal{Pattern: p}
}

// Degraded returns the neutral signal for a pattern type whose input
// fetch failed.
func Degraded(t domain.FraudPatternType) Signal {
	return Signal{Pattern: Neutral(t), Degraded: true}
}

// Neutral is the statistically neutral (no violation) result for a
// pattern type.
func Neutral(t domain.FraudPatternType) domain.FraudPattern {
	return domain.FraudPattern{Type: t, Detected: false}
}
