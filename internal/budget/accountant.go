// Package budget implements the daily oracle-spend cap and per-cycle cost
// projection, grounded on the teacher's cost-aware API client conventions
// (internal/adapters/polymarket tracks per-call cost the same way this
// package rolls it up).
package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/edgebot/agent/internal/domain"
	"github.com/edgebot/agent/internal/money"
	"github.com/edgebot/agent/internal/ports"
)

// DefaultRollingWindow is K, the number of most recent calls averaged to
// project the next cycle's cost (spec default 20).
const DefaultRollingWindow = 20

// DefaultFloor is the conservative minimum per-cycle cost estimate: it is
// returned before any history has accumulated, and whenever the rolling
// estimate falls below it.
var DefaultFloor = money.MustParse("0.05000000")

// Accountant enforces the daily oracle spend cap and tracks a rolling
// mean of recent per-call costs to project the cost of the next cycle.
type Accountant struct {
	repo          ports.Repository
	dailyCap      money.Money
	expectedCalls int
	floor         money.Money
	rollingWindow int
	recentCosts   []money.Money
	now           func() time.Time
}

// Option configures an Accountant at construction time.
type Option func(*Accountant)

// WithFloor overrides the conservative per-cycle cost floor.
func WithFloor(floor money.Money) Option {
	return func(a *Accountant) { a.floor = floor }
}

// WithRollingWindow overrides K, the number of most recent calls averaged.
func WithRollingWindow(k int) Option {
	return func(a *Accountant) {
		if k > 0 {
			a.rollingWindow = k
		}
	}
}

// WithClock overrides the accountant's notion of "now" for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Accountant) { a.now = now }
}

// New builds an Accountant against dailyCap, expecting expectedCallsPerCycle
// oracle calls per heartbeat.
func New(repo ports.Repository, dailyCap money.Money, expectedCallsPerCycle int, opts ...Option) *Accountant {
	a := &Accountant{
		repo:          repo,
		dailyCap:      dailyCap,
		expectedCalls: expectedCallsPerCycle,
		floor:         DefaultFloor,
		rollingWindow: DefaultRollingWindow,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Allow reports whether a call costing projectedCost may proceed without
// breaching today's cap: sum_cost_since(day_start) + projected_cost <= cap.
func (a *Accountant) Allow(ctx context.Context, projectedCost money.Money) (bool, error) {
	spent, err := a.repo.SumCostSince(ctx, startOfUTCDay(a.now()))
	if err != nil {
		return false, fmt.Errorf("budget.Allow: %w", err)
	}
	return spent.Add(projectedCost).LessThanOrEqual(a.dailyCap), nil
}

// Refuse returns the BudgetExhausted error the lifecycle controller
// surfaces when Allow returns false.
func (a *Accountant) Refuse(ctx context.Context) (*domain.BudgetExhausted, error) {
	spent, err := a.repo.SumCostSince(ctx, startOfUTCDay(a.now()))
	if err != nil {
		return nil, fmt.Errorf("budget.Refuse: %w", err)
	}
	return &domain.BudgetExhausted{DailyCap: a.dailyCap.String(), Spent: spent.String()}, nil
}

// RecordCost folds a just-incurred call cost into the rolling window used
// by EstimateNextCycleCost. Call this once per completed oracle call,
// after the cost has already been persisted as an API Cost Record.
func (a *Accountant) RecordCost(cost money.Money) {
	a.recentCosts = append(a.recentCosts, cost)
	if len(a.recentCosts) > a.rollingWindow {
		a.recentCosts = a.recentCosts[len(a.recentCosts)-a.rollingWindow:]
	}
}

// EstimateNextCycleCost returns expected_calls_per_cycle x mean_per_call_cost
// from the rolling window, floored at a conservative default.
func (a *Accountant) EstimateNextCycleCost() money.Money {
	if len(a.recentCosts) == 0 {
		return a.floor
	}
	sum := money.Zero()
	for _, c := range a.recentCosts {
		sum = sum.Add(c)
	}
	n := money.FromInt(int64(len(a.recentCosts)))
	mean, err := sum.Div(n)
	if err != nil {
		return a.floor
	}
	estimate := mean.MulFrac(decimal.NewFromInt(int64(a.expectedCalls)))
	if estimate.LessThan(a.floor) {
		return a.floor
	}
	return estimate
}

func startOfUTCDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
