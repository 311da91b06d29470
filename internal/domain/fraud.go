package domain

// FraudPatternType names a statistical fraud signal.
type FraudPatternType string

const (
	PatternBenford          FraudPatternType = "benford_violation"
	PatternRoundNumbers     FraudPatternType = "round_number_suspicious"
	PatternUnusualTiming    FraudPatternType = "unusual_timing"
	PatternNewCounterparty  FraudPatternType = "new_counterparty"
	PatternUnusualParty     FraudPatternType = "unusual_counterparty"
	PatternDuplicateInvoice FraudPatternType = "duplicate_invoice"
	PatternCircularFlow     FraudPatternType = "circular_transactions"
	PatternVATAnomaly       FraudPatternType = "vat_rate_anomaly"
	PatternDateManipulation FraudPatternType = "date_manipulation"
)

// FraudPattern is the ephemeral output of one detector. It is never
// persisted directly; it feeds rule evaluation as booleans and counts.
type FraudPattern struct {
	Type     FraudPatternType   `json:"type"`
	Detected bool               `json:"detected"`
	Stats    map[string]float64 `json:"stats,omitempty"`
}
