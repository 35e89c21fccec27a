// Package edge computes the mispricing signal between an oracle valuation
// and a market's implied probability, and gates candidates through the
// confidence-scaled threshold and the ancillary scan filters.
package edge

import (
	"github.com/edgebot/agent/internal/domain"
)

// Thresholds holds the three confidence-banded edge thresholds.
type Thresholds struct {
	LowConfidence  float64 // applied when effective_confidence < 0.5 (default 0.10)
	Base           float64 // applied when 0.5 <= effective_confidence < 0.8 (default 0.08)
	HighConfidence float64 // applied when effective_confidence >= 0.8 (default 0.06)
}

// DefaultThresholds mirrors the spec's defaults.
var DefaultThresholds = Thresholds{LowConfidence: 0.10, Base: 0.08, HighConfidence: 0.06}

// Filters holds the ancillary candidate filters applied after the edge gate.
type Filters struct {
	MaxSpreadPct      float64 // default 0.05
	MinVolume24h      float64 // default 5000
	MaxResolutionDays float64 // default 14
	AllowedCategories map[domain.Category]bool
}

// Signal is the evaluator's verdict for one candidate.
type Signal struct {
	Direction        domain.Direction
	Edge             float64
	EffectiveConf    float64
	Threshold        float64
	PassesEdgeGate   bool
	PassesAllFilters bool
	RejectReason     string
}

// Evaluate computes the edge for candidate against valuation, using
// effectiveConfidence (already calibration-adjusted), and applies the
// confidence-scaled threshold and ancillary filters.
func Evaluate(candidate domain.Candidate, valuation domain.Valuation, effectiveConfidence float64, thresholds Thresholds, filters Filters, forceLowConfThreshold bool) Signal {
	impliedYes := candidate.MidPrice
	edgeYes := valuation.FairProbability - impliedYes

	direction := domain.DirectionYes
	edge := edgeYes
	if edgeYes <= 0 {
		direction = domain.DirectionNo
		edge = -edgeYes
	}

	threshold := thresholdFor(effectiveConfidence, thresholds, forceLowConfThreshold)
	sig := Signal{
		Direction:     direction,
		Edge:          edge,
		EffectiveConf: effectiveConfidence,
		Threshold:     threshold,
	}

	if edge < threshold {
		sig.RejectReason = "edge below threshold"
		return sig
	}
	sig.PassesEdgeGate = true

	if reason, ok := applyFilters(candidate, filters); !ok {
		sig.RejectReason = reason
		return sig
	}
	sig.PassesAllFilters = true
	return sig
}

func thresholdFor(effectiveConfidence float64, t Thresholds, forceLowConfThreshold bool) float64 {
	if forceLowConfThreshold {
		return t.LowConfidence
	}
	switch {
	case effectiveConfidence < 0.5:
		return t.LowConfidence
	case effectiveConfidence < 0.8:
		return t.Base
	default:
		return t.HighConfidence
	}
}

func applyFilters(c domain.Candidate, f Filters) (string, bool) {
	if c.Spread > f.MaxSpreadPct {
		return "spread exceeds max", false
	}
	if c.Volume24h < f.MinVolume24h {
		return "volume below minimum", false
	}
	if c.HoursToResolution() > f.MaxResolutionDays*24 {
		return "resolution too far out", false
	}
	if len(f.AllowedCategories) > 0 && !f.AllowedCategories[c.Category] {
		return "category not allowed", false
	}
	return "", true
}

// NewAllowedCategories builds the filter lookup set from a category list.
func NewAllowedCategories(categories []domain.Category) map[domain.Category]bool {
	if len(categories) == 0 {
		return nil
	}
	out := make(map[domain.Category]bool, len(categories))
	for _, c := range categories {
		out[c] = true
	}
	return out
}
