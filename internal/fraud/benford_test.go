package fraud

import (
	"math"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestAnalyzeBenfordInsufficientSample(t *testing.T) {
	amounts := []float64{12, 34, 56, 78, 90, 123, 456, 789, 1011, 1213}

	p := AnalyzeBenford(amounts)

	if p.Type != domain.PatternBenford {
		t.Errorf("unexpected pattern type: %s", p.Type)
	}
	if p.Detected {
		t.Error("fewer than 20 amounts must never report a violation")
	}
	if got := p.Stats["sample_size"]; got != 10 {
		t.Errorf("expected sample_size 10, got %v", got)
	}
}

func TestAnalyzeBenfordConformingSet(t *testing.T) {
	// Build a set that follows Benford's expected distribution closely:
	// counts proportional to log10(1+1/d) over 100 amounts.
	var amounts []float64
	for d := 1; d <= 9; d++ {
		count := int(math.Round(100 * math.Log10(1+1/float64(d))))
		for i := 0; i < count; i++ {
			amounts = append(amounts, float64(d)*100+float64(i))
		}
	}

	p := AnalyzeBenford(amounts)

	if p.Detected {
		t.Errorf("conforming distribution flagged as violation, chi_square=%v", p.Stats["chi_square"])
	}
}

func TestAnalyzeBenfordSkewedSet(t *testing.T) {
	// All leading digits 9 - maximally un-Benford.
	var amounts []float64
	for i := 0; i < 50; i++ {
		amounts = append(amounts, 9000+float64(i))
	}

	p := AnalyzeBenford(amounts)

	if !p.Detected {
		t.Errorf("skewed distribution not flagged, chi_square=%v", p.Stats["chi_square"])
	}
	if p.Stats["chi_square"] <= benfordCritical {
		t.Errorf("expected chi_square above %v, got %v", benfordCritical, p.Stats["chi_square"])
	}
}

func TestAnalyzeBenfordSkipsZeroAmounts(t *testing.T) {
	amounts := make([]float64, 30)
	p := AnalyzeBenford(amounts)

	if p.Detected {
		t.Error("all-zero input must stay neutral")
	}
	if got := p.Stats["sample_size"]; got != 0 {
		t.Errorf("expected sample_size 0, got %v", got)
	}
}

func TestLeadingDigit(t *testing.T) {
	cases := []struct {
		in   float64
		want int
	}{
		{123.45, 1},
		{0.042, 4},
		{-987, 9},
		{1, 1},
		{0, 0},
	}
	for _, tc := range cases {
		if got := leadingDigit(tc.in); got != tc.want {
			t.Errorf("leadingDigit(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
