// Package lifecycle implements the heartbeat loop: the state machine,
// per-state cycle actions, bounded oracle fan-out, and graceful shutdown.
// The fan-out worker pool is adapted from the teacher's
// application/scanner.analyzeMarketsConcurrent (there CPU-bound market
// analysis; here I/O-bound oracle calls bounded to a fixed in-flight
// count rather than runtime.NumCPU()).
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/edgebot/agent/internal/calibration"
	"github.com/edgebot/agent/internal/domain"
	"github.com/edgebot/agent/internal/edge"
	"github.com/edgebot/agent/internal/execution"
	"github.com/edgebot/agent/internal/kelly"
	"github.com/edgebot/agent/internal/money"
	"github.com/edgebot/agent/internal/oracle"
	"github.com/edgebot/agent/internal/portfolio"
	"github.com/edgebot/agent/internal/ports"
	"github.com/edgebot/agent/internal/survival"
)

// DefaultFanOut is the bounded number of in-flight oracle calls per cycle.
const DefaultFanOut = 4

// Config wires every tunable the controller needs at startup, mirroring
// the spec's config sections (agent/scanning/valuation/risk/execution).
type Config struct {
	CycleInterval               time.Duration
	MaxMarkets                  int
	LowFuelMaxMarkets           int
	FanOut                      int
	CacheTTL                    time.Duration
	CacheBypassDelta            float64
	EdgeThresholds              edge.Thresholds
	EdgeFilters                 edge.Filters
	KellyConfig                 kelly.Config
	StopLossPct                 float64
	PerMarketOracleCost         money.Money
	ExpectedOracleCallsPerCycle int
	SurvivalThresholds          survival.Thresholds
}


// Controller owns every cycle-loop-local piece of mutable state: the
// portfolio tracker and the last-observed prices used for cache-bypass
// decisions. The budget accountant is handed to Run by the caller. The
// repository is the only process-wide shared resource (spec §5).
type Controller struct {
	cfg          Config
	repo         ports.Repository
	market       ports.MarketClient
	enrichment   []ports.Enrichment
	oracleClient *oracle.Client
	cache        *oracle.CachingLookup
	calib        *calibration.Store
	gateway      execution.Gateway
	tracker      *portfolio.Tracker

	lastObservedMid   map[string]float64
	lastState         domain.AgentState
	prevCycleBankroll money.Money
	cycleNumber       int64
	reporter          Reporter
}

// New wires a Controller from its collaborators. The tracker's current
// bankroll is the starting bankroll, and the baseline for the first
// cycle's balance-increase check.
func New(
	cfg Config,
	repo ports.Repository,
	marketClient ports.MarketClient,
	enrichment []ports.Enrichment,
	oracleClient *oracle.Client,
	gateway execution.Gateway,
	tracker *portfolio.Tracker,
) *Controller {
	if cfg.FanOut <= 0 {
		cfg.FanOut = DefaultFanOut
	}
	return &Controller{
		cfg:               cfg,
		repo:              repo,
		market:            marketClient,
		enrichment:        enrichment,
		oracleClient:      oracleClient,
		cache:             oracle.NewCachingLookup(repo, cfg.CacheTTL, cfg.CacheBypassDelta),
		calib:             calibration.New(repo),
		gateway:           gateway,
		tracker:           tracker,
		lastObservedMid:   make(map[string]float64),
		lastState:         domain.StateAlive,
		prevCycleBankroll: tracker.Bankroll(),
	}
}

// Run executes the heartbeat loop until ctx is cancelled (graceful
// shutdown) or the agent transitions to Dead. It returns the final
// lifecycle state and any fatal (ConfigurationError/RepositoryError)
// failure.
func (c *Controller) Run(ctx context.Context, accountant budgetAccountant) (domain.AgentState, error) {
	max, err := c.repo.MaxCycleNumber(ctx)
	if err != nil {
		return domain.StateDead, &domain.RepositoryError{Op: "MaxCycleNumber", Err: err}
	}
	c.cycleNumber = max

	for {
		select {
		case <-ctx.Done():
			slog.Info("shutdown signal received, finishing current cycle")
			return c.lastState, nil
		default:
		}

		c.cycleNumber++
		start := time.Now()

		state, err := c.runCycle(ctx, accountant)
		if err != nil {
			var repoErr *domain.RepositoryError
			var cfgErr *domain.ConfigurationError
			if errors.As(err, &repoErr) {
				return state, repoErr
			}
			if errors.As(err, &cfgErr) {
				return state, cfgErr
			}
			slog.Error("cycle failed, continuing next cycle", "cycle", c.cycleNumber, "err", err)
		}
		c.lastState = state

		if state == domain.StateDead {
			slog.Info("agent transitioned to Dead, exiting loop", "cycle", c.cycleNumber)
			return state, nil
		}

		elapsed := time.Since(start)
		sleepFor := c.cfg.CycleInterval - elapsed
		if sleepFor < 0 {
			sleepFor = 0
		}
		select {
		case <-time.After(sleepFor):
		case <-ctx.Done():
			return state, nil
		}
	}
}

// Reporter is an optional sink for per-cycle status, e.g. the console
// notifier. A nil Reporter is a silent no-op.
type Reporter interface {
	ReportCycle(ctx context.Context, rec domain.CycleRecord, placed []domain.Trade) error
}

// SetReporter attaches a status reporter invoked once per cycle.
func (c *Controller) SetReporter(r Reporter) { c.reporter = r }

// budgetAccountant is the narrow slice of budget.Accountant the
// controller depends on, kept as an interface to avoid an import cycle
// and to ease testing with a fake.
type budgetAccountant interface {
	Allow(ctx context.Context, projectedCost money.Money) (bool, error)
	Refuse(ctx context.Context) (*domain.BudgetExhausted, error)
	RecordCost(cost money.Money)
	EstimateNextCycleCost() money.Money
}

func (c *Controller) runCycle(ctx context.Context, accountant budgetAccountant) (domain.AgentState, error) {
	cycleStart := time.Now()

	currentBankroll := c.tracker.Bankroll()
	unrealized := c.estimateUnrealizedPnL(ctx)
	nextCost := accountant.EstimateNextCycleCost()
	state := survival.NextState(currentBankroll, unrealized, nextCost, c.cfg.SurvivalThresholds)

	// balanceIncreased compares against the bankroll recorded at the top
	// of the *previous* cycle, before that cycle's own settlement ran —
	// so a resolution credit applied during the previous cycle shows up
	// here as an increase, letting Monotone's P7 exception fire. Snapshot
	// immediately, before this cycle's own settlement/stop-loss mutate
	// the bankroll below, so next cycle sees the same pre-settlement
	// baseline this cycle is being judged against.
	balanceIncreased := currentBankroll.GreaterThan(c.prevCycleBankroll)
	c.prevCycleBankroll = currentBankroll
	state = survival.Monotone(c.lastState, state, balanceIncreased)

	rec := domain.CycleRecord{
		CycleNumber: c.cycleNumber,
		AgentState:  state,
		Timestamp:   time.Now().UTC(),
	}

	// Settlement and stop-loss run in every live state except Dead.
	open, err := c.repo.ListOpenTrades(ctx)
	if err != nil {
		return state, &domain.RepositoryError{Op: "ListOpenTrades", Err: err}
	}

	if state != domain.StateDead {
		settled, err := c.gateway.SettleResolutions(ctx, c.market, open)
		if err != nil {
			slog.Error("settlement failed", "cycle", c.cycleNumber, "err", err)
		}
		exited, err := c.gateway.ApplyStopLoss(ctx, c.market, open, c.cfg.StopLossPct)
		if err != nil {
			slog.Error("stop-loss sweep failed", "cycle", c.cycleNumber, "err", err)
		}
		c.releaseClosed(settled)
		c.releaseClosed(exited)
	}

	var placedTrades []domain.Trade

	switch state {
	case domain.StateDead:
		rec.ClosingBankroll = c.tracker.Bankroll()
		rec.UnrealizedPnL = unrealized
		rec.DurationMS = time.Since(cycleStart).Milliseconds()
		if err := c.repo.InsertCycle(ctx, rec); err != nil {
			return state, &domain.RepositoryError{Op: "InsertCycle", Err: err}
		}
		c.report(ctx, rec, placedTrades)
		return state, nil

	case domain.StateCriticalSurvival:
		// No new orders; only settlement/stop-loss above.

	case domain.StateLowFuel, domain.StateAlive:
		maxMarkets := c.cfg.MaxMarkets
		forceLowConf := false
		if state == domain.StateLowFuel {
			maxMarkets = c.cfg.LowFuelMaxMarkets
			forceLowConf = true
		}
		scanned, found, trades, err := c.scanAndTrade(ctx, accountant, state, maxMarkets, forceLowConf)
		rec.MarketsScanned = scanned
		rec.OpportunitiesFound = found
		rec.TradesPlaced = len(trades)
		placedTrades = trades
		if err != nil {
			slog.Error("scan/trade phase failed", "cycle", c.cycleNumber, "err", err)
		}
	}

	rec.ClosingBankroll = c.tracker.Bankroll()
	rec.UnrealizedPnL = c.estimateUnrealizedPnL(ctx)
	rec.DurationMS = time.Since(cycleStart).Milliseconds()
	if err := c.repo.InsertCycle(ctx, rec); err != nil {
		return state, &domain.RepositoryError{Op: "InsertCycle", Err: err}
	}
	c.report(ctx, rec, placedTrades)
	return state, nil
}

func (c *Controller) report(ctx context.Context, rec domain.CycleRecord, placed []domain.Trade) {
	if c.reporter == nil {
		return
	}
	if err := c.reporter.ReportCycle(ctx, rec, placed); err != nil {
		slog.Warn("reporter failed", "cycle", c.cycleNumber, "err", err)
	}
}

// releaseClosed frees the exposure and category slot a now-settled or
// stop-loss-exited trade was holding. The category isn't on domain.Trade
// itself, so it's recovered from the tracker's own record of what it was
// opened under (spec §9 "scoped release of exposure"). A position restored
// at startup has no recorded category: it still leaves the open set, and
// no category counter changes.
func (c *Controller) releaseClosed(trades []domain.Trade) {
	for _, t := range trades {
		cat, _ := c.tracker.CategoryOf(t.Key())
		c.tracker.Release(t.Key(), cat)
	}
}

func (c *Controller) estimateUnrealizedPnL(ctx context.Context) money.Money {
	snap := c.tracker.Snapshot()
	mids := make(map[string]float64, len(snap.OpenPositions))
	for key := range snap.OpenPositions {
		if mid, ok := c.lastObservedMid[key.ConditionID]; ok {
			mids[key.ConditionID] = mid
		}
	}
	return snap.UnrealizedPnL(mids)
}

type fanOutResult struct {
	candidate domain.Candidate
	valuation domain.Valuation
	cost      *domain.APICostRecord // nil on a cache hit; already persisted during fan-out, folded into the rolling mean serially after it
	err       error
}

// scanAndTrade runs the per-candidate pipeline: cache lookup -> oracle
// (bounded fan-out) -> calibration -> edge -> Kelly -> execution. Results
// from the fan-out are collected before the serial sizing/execution
// phase begins, preserving deterministic bankroll mutation (spec §5, §9).
func (c *Controller) scanAndTrade(ctx context.Context, accountant budgetAccountant, state domain.AgentState, maxMarkets int, forceLowConf bool) (scanned, found int, placed []domain.Trade, err error) {
	candidates, err := c.market.ListMarkets(ctx, ports.MarketFilter{MaxCandidates: maxMarkets, Categories: allowedCategoryList(c.cfg.EdgeFilters)})
	if err != nil {
		return 0, 0, nil, err
	}
	scanned = len(candidates)

	var enrichment []domain.DataPoint
	for _, e := range c.enrichment {
		dps, err := e.Fetch(ctx)
		if err != nil {
			slog.Warn("enrichment source failed", "err", err)
			continue
		}
		enrichment = append(enrichment, dps...)
	}

	calibrationFactor, err := c.calib.Factor(ctx)
	if err != nil {
		return scanned, 0, nil, err
	}

	results := c.fanOutOracleCalls(ctx, accountant, candidates, enrichment, calibrationFactor)

	stateScale := state.StateScale()
	cycleCost := money.Zero()
	for _, r := range results {
		if r.err != nil {
			continue
		}
		// The cost row itself was already persisted during the
		// concurrent phase (see evaluateOneCandidate); folding it into
		// the rolling-mean estimator here, serially, is what needed
		// protecting from concurrent mutation.
		if r.cost != nil {
			accountant.RecordCost(r.cost.Cost)
			cycleCost = cycleCost.Add(r.cost.Cost)
		}
		c.lastObservedMid[r.candidate.ConditionID] = r.candidate.MidPrice

		effectiveConf := r.valuation.EffectiveConfidence(calibrationFactor)
		sig := edge.Evaluate(r.candidate, r.valuation, effectiveConf, c.cfg.EdgeThresholds, c.cfg.EdgeFilters, forceLowConf)
		if !sig.PassesAllFilters {
			continue
		}
		found++

		trade, err := c.sizeAndExecute(ctx, r.candidate, r.valuation, sig, effectiveConf, stateScale)
		if err != nil {
			slog.Error("size/execute failed", "condition_id", r.candidate.ConditionID, "err", err)
			continue
		}
		if trade != nil {
			placed = append(placed, *trade)
		}
	}
	// Oracle calls are paid out of the bankroll in every mode, paper
	// included; the cycle's total is debited once its sizing is done.
	c.tracker.SetBankroll(c.tracker.Bankroll().Sub(cycleCost))
	return scanned, found, placed, nil
}

func (c *Controller) sizeAndExecute(ctx context.Context, cand domain.Candidate, val domain.Valuation, sig edge.Signal, effectiveConf, stateScale float64) (*domain.Trade, error) {
	key := domain.TradeKey{ConditionID: cand.ConditionID, Direction: sig.Direction}
	if c.tracker.HasOpenPosition(key) {
		return nil, nil
	}

	entryPrice := cand.AskPrice
	fairProb := val.FairProbability
	if sig.Direction == domain.DirectionNo {
		entryPrice = 1 - cand.BidPrice
		fairProb = 1 - val.FairProbability
	}

	snap := c.tracker.Snapshot()
	decision := kelly.Size(kelly.Inputs{
		EntryPrice:          entryPrice,
		FairProbability:     fairProb,
		EffectiveConfidence: effectiveConf,
		StateScale:          stateScale,
		Edge:                sig.Edge,
		Bankroll:            snap.Bankroll,
		TotalExposure:       snap.TotalExposure,
		CategoryOpenCount:   snap.PerCategoryOpen[cand.Category],
		BookDepthAtPrice:    cand.Book.DepthAtOrBetter(sig.Direction, entryPrice),
		PerMarketOracleCost: c.cfg.PerMarketOracleCost,
	}, c.cfg.KellyConfig)

	if decision.Skip {
		return nil, nil
	}

	entryPriceDec := decimal.NewFromFloat(entryPrice)
	fairValueDec := decimal.NewFromFloat(val.FairProbability)
	confidenceDec := decimal.NewFromFloat(effectiveConf)
	edgeDec := decimal.NewFromFloat(sig.Edge)

	trade := domain.Trade{
		Cycle:         c.cycleNumber,
		ConditionID:   cand.ConditionID,
		Question:      cand.Question,
		Direction:     sig.Direction,
		EntryPrice:    entryPriceDec,
		Size:          money.FromDecimal(decision.SizeTokens),
		EdgeAtEntry:   edgeDec,
		FairValue:     fairValueDec,
		Confidence:    confidenceDec,
		KellyRaw:      decision.KellyRaw,
		KellyAdjusted: decision.KellyAdjusted,
		Status:        domain.TradeStatusOpen,
		CreatedAt:     time.Now().UTC(),
	}

	result, err := c.gateway.PlaceLimitOrder(ctx, trade)
	if err != nil {
		return nil, err
	}

	c.tracker.Open(result.Trade, cand.Category)

	if _, err := c.calib.Open(ctx, domain.CalibrationRecord{
		ConditionID:        cand.ConditionID,
		RawConfidence:      decimal.NewFromFloat(val.Confidence),
		FairValue:          fairValueDec,
		MarketPriceAtEntry: entryPriceDec,
		CreatedAt:          time.Now().UTC(),
	}); err != nil {
		slog.Error("failed to open calibration record", "condition_id", cand.ConditionID, "err", err)
	}

	placedTrade := result.Trade
	return &placedTrade, nil
}

// fanOutOracleCalls issues oracle HTTP calls across a bounded worker pool
// (default 4 in-flight, spec §5), applying the cache and budget checks
// before each call. Results are collected in full before returning.
func (c *Controller) fanOutOracleCalls(ctx context.Context, accountant budgetAccountant, candidates []domain.Candidate, enrichment []domain.DataPoint, calibrationFactor float64) []fanOutResult {
	workCh := make(chan domain.Candidate, len(candidates))
	resultCh := make(chan fanOutResult, len(candidates))

	workers := c.cfg.FanOut
	if workers <= 0 {
		workers = DefaultFanOut
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for cand := range workCh {
				resultCh <- c.evaluateOneCandidate(ctx, accountant, cand, enrichment, calibrationFactor)
			}
		}()
	}

	for _, cand := range candidates {
		workCh <- cand
	}
	close(workCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	results := make([]fanOutResult, 0, len(candidates))
	for r := range resultCh {
		results = append(results, r)
	}
	return results
}

func (c *Controller) evaluateOneCandidate(ctx context.Context, accountant budgetAccountant, cand domain.Candidate, enrichment []domain.DataPoint, calibrationFactor float64) fanOutResult {
	lastMid := c.lastObservedMid[cand.ConditionID]
	if cached, ok, err := c.cache.Lookup(ctx, cand.ConditionID, lastMid, cand.MidPrice); err == nil && ok {
		return fanOutResult{candidate: cand, valuation: cached}
	}

	projectedCost := c.cfg.PerMarketOracleCost
	allowed, err := accountant.Allow(ctx, projectedCost)
	if err != nil {
		return fanOutResult{candidate: cand, err: err}
	}
	if !allowed {
		refusal, _ := accountant.Refuse(ctx)
		return fanOutResult{candidate: cand, err: refusal}
	}

	outcome, err := c.oracleClient.Evaluate(ctx, oracle.Request{Candidate: cand, Enrichment: enrichment}, c.cycleNumber)
	if err != nil {
		return fanOutResult{candidate: cand, err: err}
	}

	// Persisting the cost here, from the concurrent phase, is safe: the
	// repository serializes writes over its single connection, so every
	// subsequent Allow() call in this cycle (on any worker) sees the
	// running total, matching the spec's mid-cycle budget-exhaustion
	// behavior. Only the in-memory rolling-cost accumulator used for
	// EstimateNextCycleCost is deferred to the serial phase below, since
	// that slice append is unsynchronized.
	if err := c.repo.InsertAPICost(ctx, outcome.Cost); err != nil {
		slog.Error("failed to persist api cost", "condition_id", cand.ConditionID, "err", err)
	}

	if err := c.cache.Store(ctx, outcome.Valuation); err != nil {
		slog.Warn("failed to store valuation cache", "condition_id", cand.ConditionID, "err", err)
	}

	cost := outcome.Cost
	return fanOutResult{candidate: cand, valuation: outcome.Valuation, cost: &cost}
}

func allowedCategoryList(f edge.Filters) []domain.Category {
	out := make([]domain.Category, 0, len(f.AllowedCategories))
	for cat := range f.AllowedCategories {
		out = append(out, cat)
	}
	return out
}

