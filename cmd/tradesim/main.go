// Command tradesim is the single entry point of the trading-strategy
// automation engine, per spec.md 6: no subcommands, exit code 0 on
// normal shutdown, 1 on configuration error, 2 on an unhandled
// orchestrator error. Grounded on cmd/referee/main.go's load-then-run
// shape, expanded with the startup banner of
// original_source/main.py::TradingEngine.start.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"tradesim/internal/clock"
	"tradesim/internal/config"
	"tradesim/internal/health"
	"tradesim/internal/logging"
	"tradesim/internal/orchestrator"
	"tradesim/internal/strategyfile"
)

func main() {
	os.Exit(run())
}

func run() (code int) {
	bootLogger := logging.New(slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		bootLogger.Error("error", "message", err.Error())
		return 1
	}

	logger := logging.New(cfg.LogLevel)

	logger.Info("engine_starting",
		"market_open", cfg.MarketOpen.Format("15:04"),
		"market_close", cfg.MarketClose.Format("15:04"),
	)

	defs, err := strategyfile.Load(cfg.StrategiesFile)
	if err != nil {
		logger.Error("error", "message", err.Error())
		return 1
	}
	logger.Info("strategies_loaded", "count", len(defs))

	store, hub, cleanup := buildHealthSinks(logger)
	defer cleanup()

	o, err := orchestrator.Build(logger, cfg, defs, clock.Real{}, store, hub)
	if err != nil {
		logger.Error("error", "message", err.Error())
		return 1
	}

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("error", "message", fmt.Sprintf("unhandled orchestrator error: %v", rec))
			code = 2
		}
	}()

	summary := o.Run(context.Background())
	for _, s := range summary.Strategies {
		logger.Info("strategy_summary",
			"strategy_id", s.StrategyID,
			"phase", s.Phase,
			"entry_price", s.EntryPrice,
			"exit_price", s.ExitPrice,
			"exit_reason", s.ExitReason,
			"realized_pnl", s.RealizedPnL,
			"abandoned", s.Abandoned,
		)
	}

	return 0
}

// buildHealthSinks wires the optional health store and dashboard hub
// named in SPEC_FULL.md's domain stack. Both are no-ops unless their
// env var is set, so the engine runs with neither configured.
func buildHealthSinks(logger *slog.Logger) (health.Store, health.Broadcaster, func()) {
	var (
		store health.Store
		hub   health.Broadcaster
		stops []func()
	)

	if dbURL := os.Getenv("HEALTH_DB_URL"); dbURL != "" {
		pgStore, err := health.NewPostgresStore(context.Background(), dbURL)
		if err != nil {
			logger.Error("error", "message", "could not start health store: "+err.Error())
		} else {
			store = pgStore
			stops = append(stops, pgStore.Close)
		}
	}

	if addr := os.Getenv("HEALTH_WS_ADDR"); addr != "" {
		h := health.NewHub(logger)
		stop := make(chan struct{})
		go h.Run(stop)
		server := health.StartServer(h, addr)
		hub = h
		stops = append(stops, func() {
			close(stop)
			server.Close()
		})
	}

	return store, hub, func() {
		for _, s := range stops {
			s()
		}
	}
}
