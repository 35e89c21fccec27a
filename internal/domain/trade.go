package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/edgebot/agent/internal/money"
)

// Direction is which side of a binary market a trade takes.
type Direction string

const (
	DirectionYes Direction = "YES"
	DirectionNo  Direction = "NO"
)

// TradeStatus is the lifecycle state of a single Trade.
type TradeStatus string

const (
	TradeStatusOpen         TradeStatus = "OPEN"
	TradeStatusFilled       TradeStatus = "FILLED"
	TradeStatusResolvedWin  TradeStatus = "RESOLVED_WIN"
	TradeStatusResolvedLoss TradeStatus = "RESOLVED_LOSS"
	TradeStatusCancelled    TradeStatus = "CANCELLED"
)

// IsOpenLike reports whether status holds exposure (blocks a same-market,
// same-direction retry per the at-most-one-position invariant).
func (s TradeStatus) IsOpenLike() bool {
	return s == TradeStatusOpen || s == TradeStatusFilled
}

// IsSettled reports whether status is a terminal, resolved state.
func (s TradeStatus) IsSettled() bool {
	return s == TradeStatusResolvedWin || s == TradeStatusResolvedLoss
}

// Trade is one position the agent has taken (or attempted to take).
type Trade struct {
	ID            int64
	Cycle         int64
	ConditionID   string
	Question      string
	Direction     Direction
	EntryPrice    decimal.Decimal // probability-space price, 0..1, not Money
	Size          money.Money     // outcome tokens, expressed in USDC notional
	EdgeAtEntry   decimal.Decimal
	FairValue     decimal.Decimal
	Confidence    decimal.Decimal
	KellyRaw      decimal.Decimal
	KellyAdjusted decimal.Decimal
	Status        TradeStatus
	PnL           *money.Money
	CreatedAt     time.Time
	ResolvedAt    *time.Time
}

// Notional returns entry_price * size, the capital the trade locks up.
func (t Trade) Notional() money.Money {
	return t.Size.MulFrac(t.EntryPrice)
}

// Key identifies the (market, direction) pair the single-position
// invariant is keyed on.
type TradeKey struct {
	ConditionID string
	Direction   Direction
}

// Key returns the trade's (market, direction) identity.
func (t Trade) Key() TradeKey {
	return TradeKey{ConditionID: t.ConditionID, Direction: t.Direction}
}
