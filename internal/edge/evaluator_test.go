package edge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/edgebot/agent/internal/domain"
)

func candidate(mid, spread, volume float64, daysOut float64) domain.Candidate {
	return domain.Candidate{
		ConditionID: "0xabc",
		Category:    domain.CategoryPolitics,
		MidPrice:    mid,
		Spread:      spread,
		Volume24h:   volume,
		ResolvesAt:  time.Now().Add(time.Duration(daysOut * 24 * float64(time.Hour))),
	}
}

func TestEvaluateNoEdge(t *testing.T) {
	c := candidate(0.50, 0.02, 10_000, 5)
	v := domain.Valuation{FairProbability: 0.51}
	sig := Evaluate(c, v, 0.60, DefaultThresholds, Filters{MaxSpreadPct: 0.05, MinVolume24h: 5000, MaxResolutionDays: 14}, false)
	assert.False(t, sig.PassesEdgeGate)
	assert.InDelta(t, 0.01, sig.Edge, 1e-9)
}

func TestEvaluateClearEdgeYes(t *testing.T) {
	c := candidate(0.40, 0.02, 10_000, 5)
	v := domain.Valuation{FairProbability: 0.60}
	sig := Evaluate(c, v, 0.80, DefaultThresholds, Filters{MaxSpreadPct: 0.05, MinVolume24h: 5000, MaxResolutionDays: 14}, false)
	assert.True(t, sig.PassesEdgeGate)
	assert.True(t, sig.PassesAllFilters)
	assert.Equal(t, domain.DirectionYes, sig.Direction)
	assert.InDelta(t, 0.20, sig.Edge, 1e-9)
	assert.InDelta(t, 0.06, sig.Threshold, 1e-9)
}

func TestEvaluateNoDirection(t *testing.T) {
	c := candidate(0.70, 0.02, 10_000, 5)
	v := domain.Valuation{FairProbability: 0.50}
	sig := Evaluate(c, v, 0.80, DefaultThresholds, Filters{MaxSpreadPct: 0.05, MinVolume24h: 5000, MaxResolutionDays: 14}, false)
	assert.Equal(t, domain.DirectionNo, sig.Direction)
	assert.InDelta(t, 0.20, sig.Edge, 1e-9)
}

func TestEvaluateRejectsOnSpread(t *testing.T) {
	c := candidate(0.40, 0.10, 10_000, 5)
	v := domain.Valuation{FairProbability: 0.60}
	sig := Evaluate(c, v, 0.80, DefaultThresholds, Filters{MaxSpreadPct: 0.05, MinVolume24h: 5000, MaxResolutionDays: 14}, false)
	assert.True(t, sig.PassesEdgeGate)
	assert.False(t, sig.PassesAllFilters)
	assert.Equal(t, "spread exceeds max", sig.RejectReason)
}

func TestEvaluateRejectsOnCategory(t *testing.T) {
	c := candidate(0.40, 0.02, 10_000, 5)
	v := domain.Valuation{FairProbability: 0.60}
	filters := Filters{MaxSpreadPct: 0.05, MinVolume24h: 5000, MaxResolutionDays: 14, AllowedCategories: NewAllowedCategories([]domain.Category{domain.CategoryWeather})}
	sig := Evaluate(c, v, 0.80, DefaultThresholds, filters, false)
	assert.False(t, sig.PassesAllFilters)
}

func TestEvaluateForcesLowConfThresholdInLowFuel(t *testing.T) {
	c := candidate(0.40, 0.02, 10_000, 5)
	v := domain.Valuation{FairProbability: 0.47} // edge=0.07: passes the 0.06 high-confidence threshold confidence 0.90 would pick, fails the forced 0.10
	sig := Evaluate(c, v, 0.90, DefaultThresholds, Filters{MaxSpreadPct: 0.05, MinVolume24h: 5000, MaxResolutionDays: 14}, true)
	assert.InDelta(t, 0.10, sig.Threshold, 1e-9)
	assert.False(t, sig.PassesEdgeGate)
}

func TestThresholdBands(t *testing.T) {
	assert.InDelta(t, 0.10, thresholdFor(0.3, DefaultThresholds, false), 1e-9)
	assert.InDelta(t, 0.08, thresholdFor(0.6, DefaultThresholds, false), 1e-9)
	assert.InDelta(t, 0.06, thresholdFor(0.85, DefaultThresholds, false), 1e-9)
}
