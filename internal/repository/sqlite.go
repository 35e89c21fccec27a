// Package repository implements ports.Repository against SQLite,
// following the teacher's schema-first, single-writer-conn convention
// (internal/adapters/storage/sqlite.go in the reference corpus): open
// with MaxOpenConns(1) since SQLite is single-writer, apply the schema
// with CREATE TABLE IF NOT EXISTS, and keep every write method a single
// prepared statement or a short transaction.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/edgebot/agent/internal/domain"
	"github.com/edgebot/agent/internal/money"
)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	cycle INTEGER NOT NULL,
	market_id TEXT NOT NULL,
	market_question TEXT NOT NULL,
	direction TEXT NOT NULL,
	entry_price TEXT NOT NULL,
	size TEXT NOT NULL,
	edge_at_entry TEXT NOT NULL,
	fair_value TEXT NOT NULL,
	confidence TEXT NOT NULL,
	kelly_raw TEXT NOT NULL,
	kelly_adjusted TEXT NOT NULL,
	status TEXT NOT NULL,
	pnl TEXT,
	created_at DATETIME NOT NULL,
	resolved_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_trades_status    ON trades(status);
CREATE INDEX IF NOT EXISTS idx_trades_market_id ON trades(market_id);

CREATE TABLE IF NOT EXISTS cycles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	cycle_number INTEGER NOT NULL UNIQUE,
	markets_scanned INTEGER NOT NULL,
	opportunities_found INTEGER NOT NULL,
	trades_placed INTEGER NOT NULL,
	api_cost TEXT NOT NULL,
	bankroll TEXT NOT NULL,
	unrealized_pnl TEXT NOT NULL,
	agent_state TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cycles_number ON cycles(cycle_number);

CREATE TABLE IF NOT EXISTS api_costs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	provider TEXT NOT NULL,
	endpoint TEXT NOT NULL,
	input_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	cost TEXT NOT NULL,
	cycle INTEGER NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_api_costs_cycle ON api_costs(cycle);

CREATE TABLE IF NOT EXISTS confidence_calibration (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	market_id TEXT NOT NULL,
	claude_confidence TEXT NOT NULL,
	fair_value TEXT NOT NULL,
	market_price_at_entry TEXT NOT NULL,
	actual_outcome TEXT,
	forecast_correct BOOLEAN,
	resolved BOOLEAN NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	resolved_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_calibration_resolved ON confidence_calibration(resolved);

CREATE TABLE IF NOT EXISTS valuation_cache (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	condition_id TEXT NOT NULL UNIQUE,
	probability TEXT NOT NULL,
	confidence TEXT NOT NULL,
	reasoning_summary TEXT,
	key_factors TEXT,
	data_quality TEXT,
	time_sensitivity TEXT,
	cached_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_valuation_cache_condition ON valuation_cache(condition_id);
`

// SQLiteRepository implements ports.Repository on top of modernc.org/sqlite
// (pure Go, no CGo — the teacher's own driver choice).
type SQLiteRepository struct {
	db *sql.DB
}

// Open creates (or reuses) the SQLite database at dsn and applies the
// schema. Pass ":memory:" for tests.
func Open(dsn string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("repository.Open: open %q: %w", dsn, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("repository.Open: apply schema: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error { return r.db.Close() }

func (r *SQLiteRepository) InsertTrade(ctx context.Context, t domain.Trade) (int64, error) {
	var pnl sql.NullString
	if t.PnL != nil {
		pnl = sql.NullString{String: t.PnL.String(), Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO trades
			(cycle, market_id, market_question, direction, entry_price, size,
			 edge_at_entry, fair_value, confidence, kelly_raw, kelly_adjusted,
			 status, pnl, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Cycle, t.ConditionID, t.Question, string(t.Direction),
		t.EntryPrice.String(), t.Size.String(), t.EdgeAtEntry.String(),
		t.FairValue.String(), t.Confidence.String(), t.KellyRaw.String(),
		t.KellyAdjusted.String(), string(t.Status), pnl, t.CreatedAt, t.ResolvedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("repository.InsertTrade: %w", err)
	}
	return res.LastInsertId()
}

func (r *SQLiteRepository) UpdateTradeStatus(ctx context.Context, id int64, status domain.TradeStatus, pnl *money.Money, resolvedAt *time.Time) error {
	var pnlStr sql.NullString
	if pnl != nil {
		pnlStr = sql.NullString{String: pnl.String(), Valid: true}
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE trades SET status = ?, pnl = ?, resolved_at = ? WHERE id = ?`,
		string(status), pnlStr, resolvedAt, id,
	)
	if err != nil {
		return fmt.Errorf("repository.UpdateTradeStatus: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListOpenTrades(ctx context.Context) ([]domain.Trade, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, cycle, market_id, market_question, direction, entry_price, size,
		        edge_at_entry, fair_value, confidence, kelly_raw, kelly_adjusted,
		        status, pnl, created_at, resolved_at
		 FROM trades WHERE status IN ('OPEN','FILLED')`)
	if err != nil {
		return nil, fmt.Errorf("repository.ListOpenTrades: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

func (r *SQLiteRepository) ListTradesByMarket(ctx context.Context, conditionID string) ([]domain.Trade, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, cycle, market_id, market_question, direction, entry_price, size,
		        edge_at_entry, fair_value, confidence, kelly_raw, kelly_adjusted,
		        status, pnl, created_at, resolved_at
		 FROM trades WHERE market_id = ?`, conditionID)
	if err != nil {
		return nil, fmt.Errorf("repository.ListTradesByMarket: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

func scanTrades(rows *sql.Rows) ([]domain.Trade, error) {
	var out []domain.Trade
	for rows.Next() {
		var (
			t                                                         domain.Trade
			direction, status                                         string
			entryPrice, size, edge, fair, conf, kRaw, kAdj            string
			pnl                                                       sql.NullString
			resolvedAt                                                sql.NullTime
		)
		if err := rows.Scan(&t.ID, &t.Cycle, &t.ConditionID, &t.Question, &direction,
			&entryPrice, &size, &edge, &fair, &conf, &kRaw, &kAdj, &status, &pnl,
			&t.CreatedAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("repository: scan trade: %w", err)
		}
		t.Direction = domain.Direction(direction)
		t.Status = domain.TradeStatus(status)
		t.EntryPrice, _ = decimal.NewFromString(entryPrice)
		t.EdgeAtEntry, _ = decimal.NewFromString(edge)
		t.FairValue, _ = decimal.NewFromString(fair)
		t.Confidence, _ = decimal.NewFromString(conf)
		t.KellyRaw, _ = decimal.NewFromString(kRaw)
		t.KellyAdjusted, _ = decimal.NewFromString(kAdj)
		sizeMoney, err := money.Parse(size)
		if err != nil {
			return nil, fmt.Errorf("repository: parse size: %w", err)
		}
		t.Size = sizeMoney
		if pnl.Valid {
			pm, err := money.Parse(pnl.String)
			if err != nil {
				return nil, fmt.Errorf("repository: parse pnl: %w", err)
			}
			t.PnL = &pm
		}
		if resolvedAt.Valid {
			rt := resolvedAt.Time
			t.ResolvedAt = &rt
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) InsertCycle(ctx context.Context, rec domain.CycleRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cycles
			(cycle_number, markets_scanned, opportunities_found, trades_placed,
			 api_cost, bankroll, unrealized_pnl, agent_state, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CycleNumber, rec.MarketsScanned, rec.OpportunitiesFound, rec.TradesPlaced,
		rec.APICost.String(), rec.ClosingBankroll.String(), rec.UnrealizedPnL.String(),
		string(rec.AgentState), rec.DurationMS, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("repository.InsertCycle: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) MaxCycleNumber(ctx context.Context) (int64, error) {
	var max sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(cycle_number) FROM cycles`).Scan(&max); err != nil {
		return 0, fmt.Errorf("repository.MaxCycleNumber: %w", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return max.Int64, nil
}

func (r *SQLiteRepository) InsertAPICost(ctx context.Context, rec domain.APICostRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO api_costs (provider, endpoint, input_tokens, output_tokens, cost, cycle, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Provider, rec.Endpoint, rec.InputTokens, rec.OutputTokens, rec.Cost.String(), rec.Cycle, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("repository.InsertAPICost: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) SumCostSince(ctx context.Context, since time.Time) (money.Money, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT cost FROM api_costs WHERE created_at >= ?`, since)
	if err != nil {
		return money.Zero(), fmt.Errorf("repository.SumCostSince: %w", err)
	}
	defer rows.Close()
	total := money.Zero()
	for rows.Next() {
		var cost string
		if err := rows.Scan(&cost); err != nil {
			return money.Zero(), fmt.Errorf("repository.SumCostSince: scan: %w", err)
		}
		m, err := money.Parse(cost)
		if err != nil {
			return money.Zero(), fmt.Errorf("repository.SumCostSince: parse: %w", err)
		}
		total = total.Add(m)
	}
	return total, rows.Err()
}

func (r *SQLiteRepository) InsertCalibration(ctx context.Context, rec domain.CalibrationRecord) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO confidence_calibration
			(market_id, claude_confidence, fair_value, market_price_at_entry, resolved, created_at)
		VALUES (?, ?, ?, ?, 0, ?)`,
		rec.ConditionID, rec.RawConfidence.String(), rec.FairValue.String(),
		rec.MarketPriceAtEntry.String(), rec.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("repository.InsertCalibration: %w", err)
	}
	return res.LastInsertId()
}

func (r *SQLiteRepository) UpdateCalibrationOutcome(ctx context.Context, conditionID string, outcome int, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repository.UpdateCalibrationOutcome: begin: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, fair_value FROM confidence_calibration WHERE market_id = ? AND resolved = 0`, conditionID)
	if err != nil {
		return fmt.Errorf("repository.UpdateCalibrationOutcome: select: %w", err)
	}
	type pending struct {
		id        int64
		fairValue decimal.Decimal
	}
	var records []pending
	for rows.Next() {
		var p pending
		var fv string
		if err := rows.Scan(&p.id, &fv); err != nil {
			rows.Close()
			return fmt.Errorf("repository.UpdateCalibrationOutcome: scan: %w", err)
		}
		p.fairValue, _ = decimal.NewFromString(fv)
		records = append(records, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, p := range records {
		correct := p.fairValue.GreaterThanOrEqual(decimal.NewFromFloat(0.5)) == (outcome == 1)
		if _, err := tx.ExecContext(ctx,
			`UPDATE confidence_calibration SET actual_outcome = ?, forecast_correct = ?, resolved = 1, resolved_at = ? WHERE id = ?`,
			fmt.Sprintf("%d", outcome), correct, at, p.id,
		); err != nil {
			return fmt.Errorf("repository.UpdateCalibrationOutcome: update: %w", err)
		}
	}
	return tx.Commit()
}

func (r *SQLiteRepository) CalibrationStats(ctx context.Context) (total, correct int, err error) {
	if err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM confidence_calibration WHERE resolved = 1`).Scan(&total); err != nil {
		return 0, 0, fmt.Errorf("repository.CalibrationStats: total: %w", err)
	}
	if err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM confidence_calibration WHERE resolved = 1 AND forecast_correct = 1`).Scan(&correct); err != nil {
		return 0, 0, fmt.Errorf("repository.CalibrationStats: correct: %w", err)
	}
	return total, correct, nil
}

func (r *SQLiteRepository) GetValuationCache(ctx context.Context, conditionID string, maxAge time.Duration) (domain.Valuation, bool, error) {
	var (
		probability, confidence, reasoning, keyFactors, quality, sensitivity string
		cachedAt                                                            time.Time
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT probability, confidence, reasoning_summary, key_factors, data_quality, time_sensitivity, cached_at
		 FROM valuation_cache WHERE condition_id = ?`, conditionID,
	).Scan(&probability, &confidence, &reasoning, &keyFactors, &quality, &sensitivity, &cachedAt)
	if err == sql.ErrNoRows {
		return domain.Valuation{}, false, nil
	}
	if err != nil {
		return domain.Valuation{}, false, fmt.Errorf("repository.GetValuationCache: %w", err)
	}
	if time.Since(cachedAt) > maxAge {
		return domain.Valuation{}, false, nil
	}
	prob, _ := decimal.NewFromString(probability)
	conf, _ := decimal.NewFromString(confidence)
	v := domain.Valuation{
		ConditionID:     conditionID,
		FairProbability: floatOf(prob),
		Confidence:      floatOf(conf),
		DataQuality:     domain.DataQuality(quality),
		TimeSensitivity: domain.TimeSensitivity(sensitivity),
		Reasoning:       reasoning,
		KeyFactors:      splitFactors(keyFactors),
		SourceAt:        cachedAt,
	}
	return v, true, nil
}

func (r *SQLiteRepository) PutValuationCache(ctx context.Context, v domain.Valuation) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO valuation_cache
			(condition_id, probability, confidence, reasoning_summary, key_factors, data_quality, time_sensitivity, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(condition_id) DO UPDATE SET
			probability = excluded.probability,
			confidence = excluded.confidence,
			reasoning_summary = excluded.reasoning_summary,
			key_factors = excluded.key_factors,
			data_quality = excluded.data_quality,
			time_sensitivity = excluded.time_sensitivity,
			cached_at = excluded.cached_at`,
		v.ConditionID, decimal.NewFromFloat(v.FairProbability).String(),
		decimal.NewFromFloat(v.Confidence).String(), v.Reasoning, joinFactors(v.KeyFactors),
		string(v.DataQuality), string(v.TimeSensitivity), v.SourceAt,
	)
	if err != nil {
		return fmt.Errorf("repository.PutValuationCache: %w", err)
	}
	return nil
}

func floatOf(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func joinFactors(factors []string) string {
	out := ""
	for i, f := range factors {
		if i > 0 {
			out += "|"
		}
		out += f
	}
	return out
}

func splitFactors(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '|' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
