// Package kelly implements the risk-scaled half-Kelly position sizer: the
// raw formula, the shrink-only constraint pipeline, and the
// edge-justifies-cost gate.
package kelly

import (
	"github.com/shopspring/decimal"

	"github.com/edgebot/agent/internal/domain"
	"github.com/edgebot/agent/internal/money"
)

// Config holds the sizer's tunable risk parameters (spec §6 "risk" block).
type Config struct {
	HalfKellyFraction   float64 // default 0.5
	MaxPositionPct      float64 // default 0.06
	MaxTotalExposurePct float64 // default 0.30
	MaxPositionsPerCat  int     // default 3
	MinPositionUSD      money.Money
	ProfitCostRatio     float64 // default 1.0
}

// DefaultConfig mirrors the spec's defaults.
var DefaultConfig = Config{
	HalfKellyFraction:   0.5,
	MaxPositionPct:      0.06,
	MaxTotalExposurePct: 0.30,
	MaxPositionsPerCat:  3,
	MinPositionUSD:      money.FromInt(1),
	ProfitCostRatio:     1.0,
}

// Decision is the sizer's output for one candidate: either a sized trade
// or a skip with a reason.
type Decision struct {
	Skip          bool
	Reason        string
	KellyRaw      decimal.Decimal
	KellyAdjusted decimal.Decimal
	SizeUSD       money.Money
	SizeTokens    decimal.Decimal
}

// Inputs bundles everything the sizer needs for one candidate, gathered
// from the portfolio snapshot, the edge signal, and the order book.
type Inputs struct {
	EntryPrice          float64 // decimal price in (0,1)
	FairProbability     float64 // direction-appropriate: P(YES) if direction=YES, else 1-P(YES)
	EffectiveConfidence float64
	StateScale          float64
	Edge                float64
	Bankroll            money.Money
	TotalExposure       money.Money
	CategoryOpenCount   int
	BookDepthAtPrice    float64 // sum_of_book_depth_at_or_better(direction, entry_price)
	PerMarketOracleCost money.Money
}

// Size runs the half-Kelly formula and the full shrink-only constraint
// pipeline (spec §4.7), returning a skip decision or a final sized trade.
func Size(in Inputs, cfg Config) Decision {
	if in.EntryPrice <= 0 || in.EntryPrice >= 1 {
		return Decision{Skip: true, Reason: "entry_price out of (0,1)"}
	}

	b := decimal.NewFromFloat(1 / in.EntryPrice).Sub(decimal.NewFromInt(1))
	if !b.IsPositive() {
		return Decision{Skip: true, Reason: "b <= 0"}
	}

	p := decimal.NewFromFloat(in.FairProbability)
	q := decimal.NewFromInt(1).Sub(p)
	kellyRaw := p.Mul(b).Sub(q).DivRound(b, money.Scale+2)

	if !kellyRaw.IsPositive() {
		return Decision{Skip: true, Reason: "kelly_raw <= 0", KellyRaw: kellyRaw}
	}

	kellyAdjusted := kellyRaw.
		Mul(decimal.NewFromFloat(cfg.HalfKellyFraction)).
		Mul(decimal.NewFromFloat(in.EffectiveConfidence)).
		Mul(decimal.NewFromFloat(in.StateScale))

	if !kellyAdjusted.IsPositive() {
		return Decision{Skip: true, Reason: "kelly_adjusted <= 0 (state scale or confidence zeroed it out)", KellyRaw: kellyRaw}
	}

	// 1. target = kelly_adjusted * bankroll
	target := in.Bankroll.MulFrac(kellyAdjusted)

	// 2. cap at max_position_pct * bankroll
	target = money.Min(target, in.Bankroll.MulFrac(decimal.NewFromFloat(cfg.MaxPositionPct)))

	// 3. cap so total_exposure + target <= max_total_exposure_pct * bankroll
	exposureCap := in.Bankroll.MulFrac(decimal.NewFromFloat(cfg.MaxTotalExposurePct))
	room := exposureCap.Sub(in.TotalExposure)
	if room.IsNegative() {
		room = money.Zero()
	}
	target = money.Min(target, room)

	// 4. per-category cap: skip, don't shrink.
	if in.CategoryOpenCount+1 > cfg.MaxPositionsPerCat {
		return Decision{Skip: true, Reason: "per-category position cap reached", KellyRaw: kellyRaw, KellyAdjusted: kellyAdjusted}
	}

	// 5. liquidity-aware cap: 0.20 * book depth at or better than entry price.
	liquidityCap := money.FromDecimal(decimal.NewFromFloat(in.BookDepthAtPrice).
		Mul(decimal.NewFromFloat(in.EntryPrice)).
		Mul(decimal.NewFromFloat(0.20)))
	target = money.Min(target, liquidityCap)

	// 6. minimum size floor: skip if below.
	if target.LessThan(cfg.MinPositionUSD) {
		return Decision{Skip: true, Reason: "sized position below minimum", KellyRaw: kellyRaw, KellyAdjusted: kellyAdjusted}
	}

	// Edge-justifies-cost gate: expected_profit = edge * size.
	expectedProfit := target.MulFrac(decimal.NewFromFloat(in.Edge))
	costGate := in.PerMarketOracleCost.MulFrac(decimal.NewFromFloat(cfg.ProfitCostRatio))
	if expectedProfit.LessThan(costGate) {
		return Decision{Skip: true, Reason: "expected profit does not justify oracle cost", KellyRaw: kellyRaw, KellyAdjusted: kellyAdjusted}
	}

	sizeTokens, err := target.Div(money.FromDecimal(decimal.NewFromFloat(in.EntryPrice)))
	if err != nil {
		return Decision{Skip: true, Reason: "size/price division failed", KellyRaw: kellyRaw, KellyAdjusted: kellyAdjusted}
	}

	return Decision{
		KellyRaw:      kellyRaw,
		KellyAdjusted: kellyAdjusted,
		SizeUSD:       target,
		SizeTokens:    sizeTokens.Decimal(),
	}
}
