// Package trend derives score movement from the append-only history.
package trend

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// stabilityTolerance is the average-score delta below which movement
// reads as stable rather than noise.
const stabilityTolerance = 2.5

// Service derives trend direction for scored entities.
type Service struct {
	repo       domain.Repository
	periodDays int
}

// NewService creates a trend service. periodDays is the length of the
// current and prior comparison periods.
func NewService(repo domain.Repository, periodDays int) *Service {
	if periodDays <= 0 {
		periodDays = 30
	}
	return &Service{repo: repo, periodDays: periodDays}
}

// Report is one entity's derived trend.
type Report struct {
	EntityType domain.EntityType     `json:"entityType"`
	EntityID   string                `json:"entityId"`
	Direction  domain.TrendDirection `json:"direction"`

	CurrentAvg float64 `json:"currentAvg"`
	PriorAvg   float64 `json:"priorAvg"`

	CurrentSamples int `json:"currentSamples"`
	PriorSamples   int `json:"priorSamples"`

	PeriodDays int `json:"periodDays"`
}

// Direction compares the entity's average score over the current
// period with the period before it. An entity with no history in
// either period reads as stable.
func (s *Service) Direction(ctx context.Context, tenantID string, entityType domain.EntityType, entityID string) (*Report, error) {
	if tenantID == "" || entityID == "" {
		return nil, fmt.Errorf("tenantID and entityID are required")
	}

	now := time.Now().UTC()
	currentStart := now.AddDate(0, 0, -s.periodDays)
	priorStart := now.AddDate(0, 0, -2*s.periodDays)

	entries, err := s.repo.ListHistory(ctx, tenantID, entityType, entityID, priorStart)
	if err != nil {
		return nil, fmt.Errorf("failed to load score history: %w", err)
	}

	report := &Report{
		EntityType: entityType,
		EntityID:   entityID,
		PeriodDays: s.periodDays,
	}

	var currentSum, priorSum float64
	for _, e := range entries {
		if e.CreatedAt.Before(currentStart) {
			priorSum += e.Score
			report.PriorSamples++
		} else {
			currentSum += e.Score
			report.CurrentSamples++
		}
	}

	if report.CurrentSamples > 0 {
		report.CurrentAvg = currentSum / float64(report.CurrentSamples)
	}
	if report.PriorSamples > 0 {
		report.PriorAvg = priorSum / float64(report.PriorSamples)
	}

	report.Direction = direction(report)
	return report, nil
}

func direction(r *Report) domain.TrendDirection {
	// Without a prior period to compare against, a single period of
	// data is not a trend.
	if r.CurrentSamples == 0 || r.PriorSamples == 0 {
		return domain.TrendStable
	}

	delta := r.CurrentAvg - r.PriorAvg
	switch {
	case delta > stabilityTolerance:
		return domain.TrendIncreasing
	case delta < -stabilityTolerance:
		return domain.TrendDecreasing
	default:
		return domain.TrendStable
	}
}
