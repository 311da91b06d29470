package domain

import "time"

// RiskFlag is a raw flag attached to a document by the upstream
// feature-extraction step. Unknown rule codes fall back to a lookup
// against this list.
type RiskFlag struct {
	Code string `json:"code"`
	Note string `json:"note,omitempty"`
}

// DocumentRiskFeatures is the feature record produced by upstream
// document extraction. The engine consumes it; it never computes
// features itself, except for fraud signals.
type DocumentRiskFeatures struct {
	DocumentID      string `json:"documentId"`
	TenantID        string `json:"tenantId"`
	ClientCompanyID string `json:"clientCompanyId"`

	// Features holds boolean and numeric feature values keyed by name,
	// e.g. "dateInconsistency": true or "amount": 1200.50.
	Features map[string]any `json:"features"`

	RiskFlags []RiskFlag `json:"riskFlags,omitempty"`

	// RiskScore is an upstream pre-score, if any. Advisory only.
	RiskScore *float64 `json:"riskScore,omitempty"`

	ExtractedAt time.Time `json:"extractedAt"`
}

// Bool returns the named feature as a boolean. Missing or
// non-boolean features read as false.
func (f *DocumentRiskFeatures) Bool(name string) bool {
	if f.Features == nil {
		return false
	}
	v, ok := f.Features[name].(bool)
	return ok && v
}

// Number returns the named feature as a float64 and whether it was present.
func (f *DocumentRiskFeatures) Number(name string) (float64, bool) {
	if f.Features == nil {
		return 0, false
	}
	switch v := f.Features[name].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// HasFlag reports whether the document carries the given raw risk flag.
func (f *DocumentRiskFeatures) HasFlag(code string) bool {
	for _, fl := range f.RiskFlags {
		if fl.Code == code {
			return true
		}
	}
	return false
}
