// Package config loads the agent's YAML configuration file, overlaying
// environment variables the same way the teacher's scanner config did:
// .env values win over YAML for secrets and logging knobs, everything
// else comes from the file with defaults filled in where the operator
// left a section sparse.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/edgebot/agent/internal/domain"
)

// Mode selects which gateway and market client the agent wires up.
type Mode string

const (
	ModePaper    Mode = "paper"
	ModeLive     Mode = "live"
	ModeBacktest Mode = "backtest"
)

// Config is the full recognized configuration surface (spec §6).
type Config struct {
	Agent     AgentConfig     `yaml:"agent"`
	Scanning  ScanningConfig  `yaml:"scanning"`
	Valuation ValuationConfig `yaml:"valuation"`
	Risk      RiskConfig      `yaml:"risk"`
	Execution ExecutionConfig `yaml:"execution"`
	API       APIConfig       `yaml:"api"`
	Storage   StorageConfig   `yaml:"storage"`
	Log       LogConfig       `yaml:"log"`
}

// AgentConfig controls the lifecycle loop and survival thresholds.
type AgentConfig struct {
	Mode                   Mode    `yaml:"mode"`
	CycleIntervalSeconds   int     `yaml:"cycle_interval_seconds"`
	InitialPaperBalance    float64 `yaml:"initial_paper_balance"`
	LowFuelThreshold       float64 `yaml:"low_fuel_threshold"`
	DeathBalanceThreshold  float64 `yaml:"death_balance_threshold"`
	APIReserve             float64 `yaml:"api_reserve"`
	DailyAPIBudget         float64 `yaml:"daily_api_budget"`
}

// ScanningConfig controls market discovery and filtering.
type ScanningConfig struct {
	MaxMarkets        int      `yaml:"max_markets"`
	MinVolume24h      float64  `yaml:"min_volume_24h"`
	MaxResolutionDays float64  `yaml:"max_resolution_days"`
	MaxSpreadPct      float64  `yaml:"max_spread_pct"`
	Categories        []string `yaml:"categories"`
}

// ValuationConfig controls the oracle client and edge thresholds.
type ValuationConfig struct {
	ModelName          string  `yaml:"model_name"`
	MinEdgeThreshold   float64 `yaml:"min_edge_threshold"`
	HighConfidenceEdge float64 `yaml:"high_confidence_edge"`
	LowConfidenceEdge  float64 `yaml:"low_confidence_edge"`
	CacheTTLSeconds    int     `yaml:"cache_ttl_seconds"`
	PriceIn            float64 `yaml:"price_in"`
	PriceOut           float64 `yaml:"price_out"`
}

// RiskConfig controls the Kelly sizer and exposure caps.
type RiskConfig struct {
	KellyFraction           float64 `yaml:"kelly_fraction"`
	MaxPositionPct          float64 `yaml:"max_position_pct"`
	MaxTotalExposurePct     float64 `yaml:"max_total_exposure_pct"`
	MaxPositionsPerCategory int     `yaml:"max_positions_per_category"`
	MinPositionUSD          float64 `yaml:"min_position_usd"`
	ProfitCostRatio         float64 `yaml:"profit_cost_ratio"`
	StopLossPct             float64 `yaml:"stop_loss_pct"`
}

// ExecutionConfig controls how orders are placed.
type ExecutionConfig struct {
	OrderType       string  `yaml:"order_type"`
	OrderTTLSeconds int     `yaml:"order_ttl_seconds"`
	MaxSlippagePct  float64 `yaml:"max_slippage_pct"`
	MaxRetries      int     `yaml:"max_retries"`
}

// APIConfig holds the exchange and oracle base URLs.
type APIConfig struct {
	MarketBase string `yaml:"market_base"`
	OracleBase string `yaml:"oracle_base"`
}

// StorageConfig controls where persisted state lives.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // path to the SQLite file, or ":memory:"
}

// LogConfig controls the format and level of structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML config at path and overlays .env (if present).
// Env values win over YAML for secrets and logging.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return &cfg, nil
}

// CycleInterval returns the configured heartbeat period as a Duration.
func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.Agent.CycleIntervalSeconds) * time.Second
}

// CacheTTL returns the configured valuation cache TTL as a Duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Valuation.CacheTTLSeconds) * time.Second
}

// Validate rejects configurations the spec disallows outright — a live
// mode with no wallet key configured is a ConfigurationError, not a
// panic at the first order attempt.
func (c *Config) Validate() error {
	switch c.Agent.Mode {
	case ModePaper, ModeLive, ModeBacktest:
	default:
		return &domain.ConfigurationError{Reason: fmt.Sprintf("agent.mode %q is not one of paper|live|backtest", c.Agent.Mode)}
	}
	if c.Agent.Mode == ModeLive && os.Getenv("WALLET_PRIVATE_KEY") == "" {
		return &domain.ConfigurationError{Reason: "agent.mode=live requires WALLET_PRIVATE_KEY"}
	}
	if c.Agent.Mode != ModeBacktest && os.Getenv("ORACLE_API_KEY") == "" {
		return &domain.ConfigurationError{Reason: "paper/live mode requires ORACLE_API_KEY"}
	}
	return nil
}

// applyEnvOverrides overwrites values with environment variables where present.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("AGENT_MODE"); v != "" {
		cfg.Agent.Mode = Mode(v)
	}
}

// setDefaults fills in sane values for anything the operator left zero.
func setDefaults(cfg *Config) {
	if cfg.Agent.Mode == "" {
		cfg.Agent.Mode = ModePaper
	}
	if cfg.Agent.CycleIntervalSeconds <= 0 {
		cfg.Agent.CycleIntervalSeconds = 60
	}
	if cfg.Agent.InitialPaperBalance <= 0 {
		cfg.Agent.InitialPaperBalance = 100
	}
	if cfg.Agent.LowFuelThreshold <= 0 {
		cfg.Agent.LowFuelThreshold = 10
	}
	if cfg.Agent.APIReserve <= 0 {
		cfg.Agent.APIReserve = 0.05
	}
	if cfg.Agent.DailyAPIBudget <= 0 {
		cfg.Agent.DailyAPIBudget = 5
	}
	if cfg.Scanning.MaxMarkets <= 0 {
		cfg.Scanning.MaxMarkets = 50
	}
	if cfg.Scanning.MinVolume24h <= 0 {
		cfg.Scanning.MinVolume24h = 5000
	}
	if cfg.Scanning.MaxResolutionDays <= 0 {
		cfg.Scanning.MaxResolutionDays = 14
	}
	if cfg.Scanning.MaxSpreadPct <= 0 {
		cfg.Scanning.MaxSpreadPct = 0.05
	}
	if cfg.Valuation.ModelName == "" {
		cfg.Valuation.ModelName = "claude-3-5-sonnet-20241022"
	}
	if cfg.Valuation.HighConfidenceEdge <= 0 {
		cfg.Valuation.HighConfidenceEdge = 0.06
	}
	if cfg.Valuation.LowConfidenceEdge <= 0 {
		cfg.Valuation.LowConfidenceEdge = 0.10
	}
	if cfg.Valuation.MinEdgeThreshold <= 0 {
		cfg.Valuation.MinEdgeThreshold = 0.08
	}
	if cfg.Valuation.CacheTTLSeconds <= 0 {
		cfg.Valuation.CacheTTLSeconds = 300
	}
	if cfg.Valuation.PriceIn <= 0 {
		cfg.Valuation.PriceIn = 3.00
	}
	if cfg.Valuation.PriceOut <= 0 {
		cfg.Valuation.PriceOut = 15.00
	}
	if cfg.Risk.KellyFraction <= 0 {
		cfg.Risk.KellyFraction = 0.5
	}
	if cfg.Risk.MaxPositionPct <= 0 {
		cfg.Risk.MaxPositionPct = 0.06
	}
	if cfg.Risk.MaxTotalExposurePct <= 0 {
		cfg.Risk.MaxTotalExposurePct = 0.30
	}
	if cfg.Risk.MaxPositionsPerCategory <= 0 {
		cfg.Risk.MaxPositionsPerCategory = 3
	}
	if cfg.Risk.MinPositionUSD <= 0 {
		cfg.Risk.MinPositionUSD = 1
	}
	if cfg.Risk.ProfitCostRatio <= 0 {
		cfg.Risk.ProfitCostRatio = 1.0
	}
	if cfg.Risk.StopLossPct <= 0 {
		cfg.Risk.StopLossPct = 0.20
	}
	if cfg.Execution.OrderType == "" {
		cfg.Execution.OrderType = "limit"
	}
	if cfg.Execution.OrderTTLSeconds <= 0 {
		cfg.Execution.OrderTTLSeconds = 60
	}
	if cfg.Execution.MaxRetries <= 0 {
		cfg.Execution.MaxRetries = 3
	}
	if cfg.API.MarketBase == "" {
		cfg.API.MarketBase = "https://clob.example-exchange.com"
	}
	if cfg.API.OracleBase == "" {
		cfg.API.OracleBase = "https://api.anthropic.com"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "agent.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
