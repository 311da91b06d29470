package fraud

import (
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Baseline rates for transaction booking times. Clustering beyond
// these shares marks the set as anomalous.
const (
	timingMinSample = 5

	offHoursBaseline = 0.25
	weekendBaseline  = 0.25
	monthEndBaseline = 0.40

	businessOpenHour  = 6
	businessCloseHour = 22
	monthEndDays      = 3
)

// AnalyzeTiming flags timestamp sets clustered outside normal business
// hours, on weekends, or at month-end beyond the expected baseline
// rates. Fewer than five timestamps is neutral.
func AnalyzeTiming(times []time.Time) domain.FraudPattern {
	if len(times) < timingMinSample {
		return Neutral(domain.PatternUnusualTiming)
	}

	var offHours, weekend, monthEnd int
	for _, ts := range times {
		h := ts.Hour()
		if h < businessOpenHour || h >= businessCloseHour {
			offHours++
		}
		if wd := ts.Weekday(); wd == time.Saturday || wd == time.Sunday {
			weekend++
		}
		if isMonthEnd(ts) {
			monthEnd++
		}
	}

	n := float64(len(times))
	offShare := float64(offHours) / n
	weekendShare := float64(weekend) / n
	monthEndShare := float64(monthEnd) / n

	detected := offShare > offHoursBaseline ||
		weekendShare > weekendBaseline ||
		monthEndShare > monthEndBaseline

	return domain.FraudPattern{
		Type:     domain.PatternUnusualTiming,
		Detected: detected,
		Stats: map[string]float64{
			"sample_size":     n,
			"off_hours_share": offShare,
			"weekend_share":   weekendShare,
			"month_end_share": monthEndShare,
		},
	}
}

// isMonthEnd reports whether the timestamp falls in the last days of
// its month.
func isMonthEnd(ts time.Time) bool {
	lastDay := time.Date(ts.Year(), ts.Month()+1, 0, 0, 0, 0, 0, ts.Location()).Day()
	return ts.Day() > lastDay-monthEndDays
}
