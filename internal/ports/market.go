package ports

import (
	"context"

	"github.com/edgebot/agent/internal/domain"
)

// Resolution is what an exchange reports once a market has settled.
type Resolution struct {
	Outcome   int // 0 or 1
	Timestamp int64
}

// MarketFilter narrows a market scan to a candidate count and a category
// list. The volume, spread and resolution-window filters are not part of
// it; the edge evaluator applies those after the scan.
type MarketFilter struct {
	MaxCandidates int
	Categories    []domain.Category
}

// MarketClient is the exchange collaborator: market discovery, order
// books, and resolution lookups. Out of scope per spec §1 — this core
// only depends on the interface; internal/adapters/market ships one thin
// reference implementation that never signs or places live orders.
type MarketClient interface {
	ListMarkets(ctx context.Context, filter MarketFilter) ([]domain.Candidate, error)
	GetOrderBook(ctx context.Context, conditionID string) (domain.OrderBookSnapshot, error)
	GetResolution(ctx context.Context, conditionID string) (Resolution, bool, error)

	// PlaceLimitOrder is live-only. Every implementation shipped by this
	// module returns domain.ErrNotImplemented.
	PlaceLimitOrder(ctx context.Context, conditionID string, direction domain.Direction, price, size float64, ttl int) (string, error)
}

// Enrichment is one of the independent external data sources (weather,
// sports, crypto, news) whose output is forwarded opaquely into the
// oracle prompt.
type Enrichment interface {
	Fetch(ctx context.Context) ([]domain.DataPoint, error)
}
