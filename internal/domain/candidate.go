package domain

import "time"

// Category tags a market by subject so the edge evaluator and the Kelly
// sizer's per-category concentration cap can group positions.
type Category string

const (
	CategoryWeather  Category = "weather"
	CategorySports   Category = "sports"
	CategoryCrypto   Category = "crypto"
	CategoryPolitics Category = "politics"
	CategoryOther    Category = "other"
)

// Candidate is a single market surfaced by one market-scan pass: the
// exchange's own prices plus the order-book depth needed to size and
// route an order against it. Everything here is read-only scan output —
// the core never mutates a Candidate.
type Candidate struct {
	ConditionID string
	Question    string
	Category    Category
	Volume24h   float64
	BidPrice    float64
	AskPrice    float64
	MidPrice    float64
	Spread      float64
	ResolvesAt  time.Time
	Book        OrderBookSnapshot
	ObservedAt  time.Time
}

// ImpliedProbability is the market's own estimate of the YES outcome,
// taken as the mid price.
func (c Candidate) ImpliedProbability() float64 {
	return c.MidPrice
}

// HoursToResolution returns the hours remaining until ResolvesAt, or 0 if
// it has already passed or is unset.
func (c Candidate) HoursToResolution() float64 {
	if c.ResolvesAt.IsZero() {
		return 0
	}
	h := time.Until(c.ResolvesAt).Hours()
	if h < 0 {
		return 0
	}
	return h
}

// PriceMoved reports whether the candidate's mid price has drifted more
// than deltaPct (e.g. 0.02 for 2%) from a previously observed price.
func (c Candidate) PriceMoved(previousMid float64, deltaPct float64) bool {
	if previousMid == 0 {
		return true
	}
	diff := c.MidPrice - previousMid
	if diff < 0 {
		diff = -diff
	}
	return diff/previousMid > deltaPct
}

// BookLevel is one price/size level of an order book side.
type BookLevel struct {
	Price float64
	Size  float64
}

// OrderBookSnapshot is a depth snapshot of both sides of the YES token's
// book at scan time (the NO side is synthetically 1-complement priced and
// is not snapshotted separately by this spec).
type OrderBookSnapshot struct {
	Bids []BookLevel // best (highest) bid first
	Asks []BookLevel // best (lowest) ask first
}

// BestBid returns the highest bid price, or 0 if the book has no bids.
func (b OrderBookSnapshot) BestBid() float64 {
	if len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Price
}

// BestAsk returns the lowest ask price, or 0 if the book has no asks.
func (b OrderBookSnapshot) BestAsk() float64 {
	if len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price
}

// DepthAtOrBetter sums the size available on one side of the book at a
// price at least as good as limitPrice for a maker of the given
// direction: for YES, bids at or above limitPrice; mirrored for NO via
// the asks side priced at 1-limitPrice by convention of the caller.
func (b OrderBookSnapshot) DepthAtOrBetter(direction Direction, limitPrice float64) float64 {
	var total float64
	switch direction {
	case DirectionYes:
		for _, lvl := range b.Bids {
			if lvl.Price >= limitPrice {
				total += lvl.Size
			}
		}
	case DirectionNo:
		for _, lvl := range b.Asks {
			if lvl.Price <= limitPrice {
				total += lvl.Size
			}
		}
	}
	return total
}

// DataPoint is one item of opaque enrichment data handed to the oracle
// prompt. The core never interprets Payload; it is forwarded verbatim.
type DataPoint struct {
	Source      string
	Category    string
	Timestamp   time.Time
	Payload     []byte // raw JSON, forwarded verbatim into the prompt
	Confidence  float64
	RelevanceTo []string
}
