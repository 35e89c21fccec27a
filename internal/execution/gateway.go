// Package execution implements the unified order-routing interface: the
// paper simulator (default), the live gateway (deliberately
// unimplemented), resolution settlement, and stop-loss.
package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/edgebot/agent/internal/domain"
	"github.com/edgebot/agent/internal/money"
	"github.com/edgebot/agent/internal/ports"
)

// OrderResult is returned by PlaceLimitOrder.
type OrderResult struct {
	OrderID string
	Trade   domain.Trade
}

// Gateway is the unified order-routing interface consumed by the
// lifecycle controller. PaperGateway and LiveGateway both implement it.
type Gateway interface {
	PlaceLimitOrder(ctx context.Context, order domain.Trade) (OrderResult, error)
	SettleResolutions(ctx context.Context, market ports.MarketClient, openTrades []domain.Trade) ([]domain.Trade, error)
	ApplyStopLoss(ctx context.Context, market ports.MarketClient, openTrades []domain.Trade, stopLossPct float64) ([]domain.Trade, error)
}

// PaperGateway simulates fills and settlement entirely in memory against
// real market data; no network I/O for order placement itself.
type PaperGateway struct {
	repo        ports.Repository
	calibration closer
	bankroll    *money.Money // owned by the caller; gateway mutates via pointer
}

// closer is the narrow slice of calibration.Store the gateway needs,
// kept as an interface so tests can fake it without importing the
// calibration package (which would create an import cycle risk).
type closer interface {
	Close(ctx context.Context, conditionID string, outcome int, at time.Time) error
}

// NewPaperGateway builds a PaperGateway. bankroll is a pointer to the
// caller-owned bankroll value; the gateway debits/credits it in place so
// the lifecycle controller's view stays current without a callback.
func NewPaperGateway(repo ports.Repository, calibration closer, bankroll *money.Money) *PaperGateway {
	return &PaperGateway{repo: repo, calibration: calibration, bankroll: bankroll}
}

// PlaceLimitOrder synchronously fills at the limit price, reserving
// price*size from the bankroll into exposure, and persists the Trade row.
func (g *PaperGateway) PlaceLimitOrder(ctx context.Context, order domain.Trade) (OrderResult, error) {
	order.Status = domain.TradeStatusFilled
	notional := order.Notional()

	id, err := g.repo.InsertTrade(ctx, order)
	if err != nil {
		return OrderResult{}, fmt.Errorf("execution.PlaceLimitOrder: %w", err)
	}
	order.ID = id

	*g.bankroll = g.bankroll.Sub(notional)

	return OrderResult{OrderID: "paper-" + uuid.NewString(), Trade: order}, nil
}

// SettleResolutions queries the market for each open trade's resolution
// and, where resolved, computes P&L, credits the bankroll, updates trade
// status, and closes the calibration record — in that order, matching the
// spec's crash-consistency ordering guarantee (c).
func (g *PaperGateway) SettleResolutions(ctx context.Context, market ports.MarketClient, openTrades []domain.Trade) ([]domain.Trade, error) {
	var settled []domain.Trade
	for _, t := range openTrades {
		if !t.Status.IsOpenLike() {
			continue
		}
		res, ok, err := market.GetResolution(ctx, t.ConditionID)
		if err != nil {
			return settled, fmt.Errorf("execution.SettleResolutions: %w", err)
		}
		if !ok {
			continue
		}

		outcomeMatchesDirection := (res.Outcome == 1 && t.Direction == domain.DirectionYes) ||
			(res.Outcome == 0 && t.Direction == domain.DirectionNo)

		var pnl money.Money
		var outcomeValue money.Money
		if outcomeMatchesDirection {
			pnl = t.Size.MulFrac(decimal.NewFromInt(1).Sub(t.EntryPrice))
			outcomeValue = t.Size
		} else {
			pnl = t.Size.MulFrac(t.EntryPrice).Neg()
			outcomeValue = money.Zero()
		}

		*g.bankroll = g.bankroll.Add(outcomeValue)

		status := domain.TradeStatusResolvedLoss
		if outcomeMatchesDirection {
			status = domain.TradeStatusResolvedWin
		}
		resolvedAt := time.Unix(res.Timestamp, 0).UTC()
		if err := g.repo.UpdateTradeStatus(ctx, t.ID, status, &pnl, &resolvedAt); err != nil {
			return settled, fmt.Errorf("execution.SettleResolutions: update trade: %w", err)
		}

		if g.calibration != nil {
			if err := g.calibration.Close(ctx, t.ConditionID, res.Outcome, resolvedAt); err != nil {
				return settled, fmt.Errorf("execution.SettleResolutions: close calibration: %w", err)
			}
		}

		t.Status = status
		t.PnL = &pnl
		t.ResolvedAt = &resolvedAt
		settled = append(settled, t)
	}
	return settled, nil
}

// ApplyStopLoss checks each open trade's unrealized loss against the
// current mid price (spec's fixed resolution of the mark-to-market
// ambiguity — see design notes) and exits any position whose loss exceeds
// stopLossPct of its notional.
func (g *PaperGateway) ApplyStopLoss(ctx context.Context, market ports.MarketClient, openTrades []domain.Trade, stopLossPct float64) ([]domain.Trade, error) {
	var exited []domain.Trade
	for _, t := range openTrades {
		if !t.Status.IsOpenLike() {
			continue
		}
		book, err := market.GetOrderBook(ctx, t.ConditionID)
		if err != nil {
			return exited, fmt.Errorf("execution.ApplyStopLoss: %w", err)
		}
		mid := midFromBook(book)
		if mid == 0 {
			continue
		}

		// A NO trade's EntryPrice is a NO-token price (1 - YES bid at
		// entry), so it is marked against the NO side of the mid, 1 - mid.
		mark := decimal.NewFromFloat(mid)
		if t.Direction == domain.DirectionNo {
			mark = decimal.NewFromInt(1).Sub(mark)
		}
		unrealized := t.Size.MulFrac(mark.Sub(t.EntryPrice))
		notional := t.Notional()
		lossThreshold := notional.MulFrac(decimal.NewFromFloat(stopLossPct))

		if unrealized.IsNegative() && unrealized.Neg().GreaterThan(lossThreshold) {
			exitValue := t.Size.MulFrac(mark)
			*g.bankroll = g.bankroll.Add(exitValue)

			realizedLoss := unrealized
			now := time.Now().UTC()
			if err := g.repo.UpdateTradeStatus(ctx, t.ID, domain.TradeStatusCancelled, &realizedLoss, &now); err != nil {
				return exited, fmt.Errorf("execution.ApplyStopLoss: update trade: %w", err)
			}
			t.Status = domain.TradeStatusCancelled
			t.PnL = &realizedLoss
			t.ResolvedAt = &now
			exited = append(exited, t)
		}
	}
	return exited, nil
}

func midFromBook(b domain.OrderBookSnapshot) float64 {
	bid, ask := b.BestBid(), b.BestAsk()
	if bid == 0 || ask == 0 {
		if bid != 0 {
			return bid
		}
		return ask
	}
	return (bid + ask) / 2
}

// LiveGateway surfaces domain.ErrNotImplemented on every call. Live-mode
// cryptographic order signing is deliberately unimplemented by this spec.
type LiveGateway struct{}

func (LiveGateway) PlaceLimitOrder(ctx context.Context, order domain.Trade) (OrderResult, error) {
	return OrderResult{}, domain.ErrNotImplemented
}

func (LiveGateway) SettleResolutions(ctx context.Context, market ports.MarketClient, openTrades []domain.Trade) ([]domain.Trade, error) {
	return nil, domain.ErrNotImplemented
}

func (LiveGateway) ApplyStopLoss(ctx context.Context, market ports.MarketClient, openTrades []domain.Trade, stopLossPct float64) ([]domain.Trade, error) {
	return nil, domain.ErrNotImplemented
}
