// Package ports declares the narrow interfaces the trading core consumes
// from its collaborators. Concrete implementations live under
// internal/repository and internal/adapters; this spec treats all of
// them as out-of-scope externals except the repository, which is
// implemented in this module (see internal/repository).
package ports

import (
	"context"
	"time"

	"github.com/edgebot/agent/internal/domain"
	"github.com/edgebot/agent/internal/money"
)

// Repository is the typed persistence contract the core depends on. It
// guarantees serializable reads for single-row queries and atomic writes
// per call; cross-call consistency (e.g. "don't place two trades in the
// same cycle for the same market") is the caller's responsibility — the
// lifecycle controller serializes cycles so this is never a race.
type Repository interface {
	InsertTrade(ctx context.Context, t domain.Trade) (int64, error)
	UpdateTradeStatus(ctx context.Context, id int64, status domain.TradeStatus, pnl *money.Money, resolvedAt *time.Time) error
	ListOpenTrades(ctx context.Context) ([]domain.Trade, error)
	ListTradesByMarket(ctx context.Context, conditionID string) ([]domain.Trade, error)

	InsertCycle(ctx context.Context, rec domain.CycleRecord) error
	MaxCycleNumber(ctx context.Context) (int64, error)

	InsertAPICost(ctx context.Context, rec domain.APICostRecord) error
	SumCostSince(ctx context.Context, since time.Time) (money.Money, error)

	InsertCalibration(ctx context.Context, rec domain.CalibrationRecord) (int64, error)
	UpdateCalibrationOutcome(ctx context.Context, conditionID string, outcome int, at time.Time) error
	CalibrationStats(ctx context.Context) (total, correct int, err error)

	GetValuationCache(ctx context.Context, conditionID string, maxAge time.Duration) (domain.Valuation, bool, error)
	PutValuationCache(ctx context.Context, v domain.Valuation) error

	Close() error
}
