package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CalibrationRecord tracks one oracle prediction against its eventual
// resolution, the raw material the calibration store rolls up into the
// calibration factor.
type CalibrationRecord struct {
	ID                 int64
	ConditionID        string
	RawConfidence      decimal.Decimal
	FairValue          decimal.Decimal
	MarketPriceAtEntry decimal.Decimal
	Resolved           bool
	ActualOutcome      *int // 0 or 1, nil until resolved
	ForecastCorrect    *bool
	CreatedAt          time.Time
	ResolvedAt         *time.Time
}

// Close marks the record resolved and computes ForecastCorrect per the
// spec invariant: (fair_value >= 0.5) == (outcome == 1).
func (c CalibrationRecord) Close(outcome int, at time.Time) CalibrationRecord {
	correct := (c.FairValue.GreaterThanOrEqual(decimal.NewFromFloat(0.5))) == (outcome == 1)
	c.Resolved = true
	c.ActualOutcome = &outcome
	c.ForecastCorrect = &correct
	c.ResolvedAt = &at
	return c
}
