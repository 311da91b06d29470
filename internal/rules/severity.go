package rules

import "github.com/opensource-finance/kestrel/internal/domain"

// Severity thresholds shared by the document and company evaluators.
// There is exactly one mapping from score to severity in the codebase.
const (
	severityLowMax    = 30.0
	severityMediumMax = 65.0
)

// SeverityOf maps a risk score to its severity bucket:
// score <= 30 low, 31-65 medium, above 65 high.
func SeverityOf(score float64) domain.Severity {
	switch {
	case score <= severityLowMax:
		return domain.SeverityLow
	case score <= severityMediumMax:
		return domain.SeverityMedium
	default:
		return domain.SeverityHigh
	}
}

// ClampScore bounds a raw weight sum to the [0,100] score range.
func ClampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
