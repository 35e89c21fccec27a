// Package portfolio maintains the in-memory, repository-derived view of
// open positions, total exposure, and per-category concentration that the
// Kelly sizer and lifecycle controller read from.
package portfolio

import (
	"context"
	"fmt"

	"github.com/edgebot/agent/internal/domain"
	"github.com/edgebot/agent/internal/money"
	"github.com/edgebot/agent/internal/ports"
)

// Tracker owns the in-memory portfolio state. It is mutated only by the
// lifecycle controller's cycle loop; everyone else reads a Snapshot.
type Tracker struct {
	bankroll      money.Money
	positions     map[domain.TradeKey]domain.Trade
	byCategory    map[domain.Category]int
	categoryByKey map[domain.TradeKey]domain.Category
}

// Restore rebuilds a Tracker from the repository's open/filled trades at
// startup, starting from an initial bankroll that already reflects all
// historical settlements (the caller computes this from cycle history or
// config, per spec §9 "reconstructable from Trade").
func Restore(ctx context.Context, repo ports.Repository, startingBankroll money.Money) (*Tracker, error) {
	open, err := repo.ListOpenTrades(ctx)
	if err != nil {
		return nil, fmt.Errorf("portfolio.Restore: %w", err)
	}
	t := &Tracker{
		bankroll:      startingBankroll,
		positions:     make(map[domain.TradeKey]domain.Trade, len(open)),
		byCategory:    make(map[domain.Category]int),
		categoryByKey: make(map[domain.TradeKey]domain.Category),
	}
	for _, tr := range open {
		t.positions[tr.Key()] = tr
	}
	// Trade rows don't carry a category (only condition id and question
	// snapshot), so per-category counts can't be reconstructed from
	// history alone: restored positions count toward total exposure but
	// toward no category, and releasing one leaves the category counters
	// unchanged.
	return t, nil
}

// New builds an empty Tracker with the given starting bankroll (fresh
// paper start, spec §8 scenario 1).
func New(startingBankroll money.Money) *Tracker {
	return &Tracker{
		bankroll:      startingBankroll,
		positions:     make(map[domain.TradeKey]domain.Trade),
		byCategory:    make(map[domain.Category]int),
		categoryByKey: make(map[domain.TradeKey]domain.Category),
	}
}

// Bankroll returns the current realized cash balance.
func (t *Tracker) Bankroll() money.Money { return t.bankroll }

// SetBankroll overwrites the tracked bankroll; the lifecycle controller
// uses it to debit each cycle's oracle costs.
func (t *Tracker) SetBankroll(b money.Money) { t.bankroll = b }

// BankrollPtr exposes a pointer to the bankroll for the execution gateway
// to mutate directly, keeping a single source of truth during a cycle.
func (t *Tracker) BankrollPtr() *money.Money { return &t.bankroll }

// HasOpenPosition reports whether key already has an OPEN or FILLED trade
// (the at-most-one-position-per-market-direction invariant, P2).
func (t *Tracker) HasOpenPosition(key domain.TradeKey) bool {
	tr, ok := t.positions[key]
	return ok && tr.Status.IsOpenLike()
}

// Open registers a freshly placed trade, incrementing exposure and the
// category counter.
func (t *Tracker) Open(tr domain.Trade, category domain.Category) {
	t.positions[tr.Key()] = tr
	t.byCategory[category]++
	t.categoryByKey[tr.Key()] = category
}

// CategoryOf returns the category a still-open position was opened under,
// so a caller holding only a settled/exited Trade (which carries no
// category of its own) can determine what to pass to Release.
func (t *Tracker) CategoryOf(key domain.TradeKey) (domain.Category, bool) {
	cat, ok := t.categoryByKey[key]
	return cat, ok
}

// Release removes a settled or cancelled trade from the open set,
// decrementing its category counter. Safe to call more than once for the
// same key (idempotent, satisfies P8).
func (t *Tracker) Release(key domain.TradeKey, category domain.Category) {
	if tr, ok := t.positions[key]; ok && tr.Status.IsOpenLike() {
		delete(t.positions, key)
		delete(t.categoryByKey, key)
		if t.byCategory[category] > 0 {
			t.byCategory[category]--
		}
	}
}

// TotalExposure sums entry_price x size over every open position.
func (t *Tracker) TotalExposure() money.Money {
	total := money.Zero()
	for _, tr := range t.positions {
		if tr.Status.IsOpenLike() {
			total = total.Add(tr.Notional())
		}
	}
	return total
}

// CategoryOpenCount returns the number of open positions in category.
func (t *Tracker) CategoryOpenCount(category domain.Category) int {
	return t.byCategory[category]
}

// Snapshot returns a read-only, non-aliased view for the Kelly sizer and
// the lifecycle controller.
func (t *Tracker) Snapshot() domain.PortfolioSnapshot {
	positions := make(map[domain.TradeKey]domain.Trade, len(t.positions))
	for k, v := range t.positions {
		positions[k] = v
	}
	categories := make(map[domain.Category]int, len(t.byCategory))
	for k, v := range t.byCategory {
		categories[k] = v
	}
	return domain.PortfolioSnapshot{
		Bankroll:        t.bankroll,
		TotalExposure:   t.TotalExposure(),
		OpenPositions:   positions,
		PerCategoryOpen: categories,
	}
}
