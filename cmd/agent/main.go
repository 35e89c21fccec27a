package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/edgebot/agent/config"
	"github.com/edgebot/agent/internal/adapters/market"
	"github.com/edgebot/agent/internal/adapters/notify"
	"github.com/edgebot/agent/internal/budget"
	"github.com/edgebot/agent/internal/calibration"
	"github.com/edgebot/agent/internal/domain"
	"github.com/edgebot/agent/internal/edge"
	"github.com/edgebot/agent/internal/execution"
	"github.com/edgebot/agent/internal/kelly"
	"github.com/edgebot/agent/internal/lifecycle"
	"github.com/edgebot/agent/internal/money"
	"github.com/edgebot/agent/internal/oracle"
	"github.com/edgebot/agent/internal/portfolio"
	"github.com/edgebot/agent/internal/ports"
	"github.com/edgebot/agent/internal/repository"
	"github.com/edgebot/agent/internal/survival"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print a full trade table each cycle (default: compact 1-line)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	slog.Info("agent starting",
		"config", *configPath,
		"mode", cfg.Agent.Mode,
		"interval", cfg.CycleInterval(),
	)

	repo, err := repository.Open(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open repository", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer repo.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	marketClient := market.NewClient(cfg.API.MarketBase)

	startingBankroll := money.FromDecimal(decimal.NewFromFloat(cfg.Agent.InitialPaperBalance))
	tracker, err := portfolio.Restore(ctx, repo, startingBankroll)
	if err != nil {
		slog.Error("failed to restore portfolio from repository", "err", err)
		os.Exit(1)
	}

	calib := calibration.New(repo)

	var gateway execution.Gateway
	switch cfg.Agent.Mode {
	case config.ModeLive:
		// Live order signing is not implemented (execution.LiveGateway
		// fails every call), so live mode is refused at startup.
		cfgErr := &domain.ConfigurationError{Reason: "agent.mode=live: live order execution is not implemented"}
		slog.Error("invalid configuration", "err", cfgErr)
		os.Exit(1)
	default:
		gateway = execution.NewPaperGateway(repo, calib, tracker.BankrollPtr())
	}

	oracleClient := oracle.NewClient(
		cfg.API.OracleBase,
		os.Getenv("ORACLE_API_KEY"),
		oracle.PricingConfig{
			ModelName: cfg.Valuation.ModelName,
			PriceIn:   money.FromDecimal(decimal.NewFromFloat(cfg.Valuation.PriceIn / 1_000_000)),
			PriceOut:  money.FromDecimal(decimal.NewFromFloat(cfg.Valuation.PriceOut / 1_000_000)),
			MaxTokens: 1024,
		},
		rate.NewLimiter(rate.Limit(4), 4),
	)

	accountant := budget.New(
		repo,
		money.FromDecimal(decimal.NewFromFloat(cfg.Agent.DailyAPIBudget)),
		cfg.Scanning.MaxMarkets,
		budget.WithFloor(money.FromDecimal(decimal.NewFromFloat(cfg.Agent.APIReserve))),
	)

	categories := make([]domain.Category, 0, len(cfg.Scanning.Categories))
	for _, c := range cfg.Scanning.Categories {
		categories = append(categories, domain.Category(c))
	}

	lifecycleCfg := lifecycle.Config{
		CycleInterval:     cfg.CycleInterval(),
		MaxMarkets:        cfg.Scanning.MaxMarkets,
		LowFuelMaxMarkets: maxInt(1, cfg.Scanning.MaxMarkets/5),
		FanOut:            lifecycle.DefaultFanOut,
		CacheTTL:          cfg.CacheTTL(),
		CacheBypassDelta:  oracle.DefaultPriceDeltaBypass,
		EdgeThresholds: edge.Thresholds{
			LowConfidence:  cfg.Valuation.LowConfidenceEdge,
			Base:           cfg.Valuation.MinEdgeThreshold,
			HighConfidence: cfg.Valuation.HighConfidenceEdge,
		},
		EdgeFilters: edge.Filters{
			MaxSpreadPct:      cfg.Scanning.MaxSpreadPct,
			MinVolume24h:      cfg.Scanning.MinVolume24h,
			MaxResolutionDays: cfg.Scanning.MaxResolutionDays,
			AllowedCategories: edge.NewAllowedCategories(categories),
		},
		KellyConfig: kelly.Config{
			HalfKellyFraction:   cfg.Risk.KellyFraction,
			MaxPositionPct:      cfg.Risk.MaxPositionPct,
			MaxTotalExposurePct: cfg.Risk.MaxTotalExposurePct,
			MaxPositionsPerCat:  cfg.Risk.MaxPositionsPerCategory,
			MinPositionUSD:      money.FromDecimal(decimal.NewFromFloat(cfg.Risk.MinPositionUSD)),
			ProfitCostRatio:     cfg.Risk.ProfitCostRatio,
		},
		StopLossPct:                 cfg.Risk.StopLossPct,
		PerMarketOracleCost:         estimatePerCallCost(cfg),
		ExpectedOracleCallsPerCycle: cfg.Scanning.MaxMarkets,
		SurvivalThresholds: survival.Thresholds{
			DeathBalance: money.FromDecimal(decimal.NewFromFloat(cfg.Agent.DeathBalanceThreshold)),
			LowFuel:      money.FromDecimal(decimal.NewFromFloat(cfg.Agent.LowFuelThreshold)),
		},
	}

	var enrichment []ports.Enrichment // no shipped enrichment adapter; genuinely external

	controller := lifecycle.New(lifecycleCfg, repo, marketClient, enrichment, oracleClient, gateway, tracker)
	controller.SetReporter(notify.NewConsole(*table))

	finalState, err := controller.Run(ctx, accountant)
	if err != nil {
		slog.Error("agent exited with error", "err", err, "final_state", finalState)
		os.Exit(1)
	}

	slog.Info("agent stopped", "final_state", finalState)
}

// estimatePerCallCost is a fixed per-market oracle cost estimate from
// assumed token counts. The controller uses it for the whole run as the
// projected cost in the daily-budget check and in the Kelly cost gate.
func estimatePerCallCost(cfg *config.Config) money.Money {
	const assumedInputTokens = 1200
	const assumedOutputTokens = 250
	perToken := cfg.Valuation.PriceIn/1_000_000*assumedInputTokens + cfg.Valuation.PriceOut/1_000_000*assumedOutputTokens
	return money.FromDecimal(decimal.NewFromFloat(perToken))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
