package domain

import (
	"github.com/shopspring/decimal"

	"github.com/edgebot/agent/internal/money"
)

// PortfolioSnapshot is a read-only view of the in-memory portfolio state,
// handed to the Kelly sizer and the lifecycle controller. It never
// aliases the tracker's internal maps.
type PortfolioSnapshot struct {
	Bankroll        money.Money
	TotalExposure   money.Money
	OpenPositions   map[TradeKey]Trade
	PerCategoryOpen map[Category]int
}

// UnrealizedPnL sums (current_mid - entry_price) * size * sign(direction)
// over every open position, given a lookup of current mid prices keyed
// by condition ID.
func (p PortfolioSnapshot) UnrealizedPnL(currentMid map[string]float64) money.Money {
	total := money.Zero()
	for key, t := range p.OpenPositions {
		mid, ok := currentMid[key.ConditionID]
		if !ok {
			continue
		}
		sign := decimal.NewFromInt(1)
		if key.Direction == DirectionNo {
			sign = decimal.NewFromInt(-1)
		}
		delta := decimal.NewFromFloat(mid).Sub(t.EntryPrice)
		total = total.Add(t.Size.MulFrac(delta.Mul(sign)))
	}
	return total
}
