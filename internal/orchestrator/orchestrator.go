// Package orchestrator wires C1-C5 and C7 together per spec.md 4.5:
// strict startup ordering, a broadcast-cancellation + bounded-join
// shutdown, and the final per-strategy/aggregate summary. Grounded on
// cmd/referee/main.go's load-then-run shape, enriched with
// golang.org/x/sync/errgroup for the bounded runner join (seen
// required directly in tommy-ca-opensqt_market_maker and
// yanun0323-go-hft).
package orchestrator

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"tradesim/internal/apperr"
	"tradesim/internal/clock"
	"tradesim/internal/config"
	"tradesim/internal/feed"
	"tradesim/internal/health"
	"tradesim/internal/model"
	"tradesim/internal/predicate"
	"tradesim/internal/runner"
)

// Summary is the orchestrator's final report, per spec.md 4.5 step 5.
type Summary struct {
	Strategies   []model.Summary
	ByPhase      map[model.Phase]int
	ByExitReason map[model.ExitReason]int
}

// strategyEntry pairs a constructed runner with its definition and a
// per-runner completion signal.
type strategyEntry struct {
	def    model.StrategyDefinition
	runner *runner.Runner
	done   chan struct{}
}

// Orchestrator owns the feed, every runner, and the health reporter
// for one engine run.
type Orchestrator struct {
	logger *slog.Logger
	cfg    *config.Config
	clock  clock.Clock

	feed     *feed.Feed
	entries  []*strategyEntry
	reporter *health.Reporter

	mu              sync.Mutex
	lastFailedCount int

	shutdownOnce sync.Once
	shutdown     chan struct{}
}

// Build performs startup steps 2-3 of spec.md 4.5: construct the Feed
// and every Runner, parsing predicates and subscribing eagerly so a
// malformed predicate or a strategy with no derivable seed price
// fails fast before anything starts.
func Build(logger *slog.Logger, cfg *config.Config, defs []model.StrategyDefinition, clk clock.Clock, store health.Store, hub health.Broadcaster) (*Orchestrator, error) {
	f := feed.New(logger, cfg.TickInterval, cfg.PriceVolatility)

	entries := make([]*strategyEntry, 0, len(defs))
	for _, def := range defs {
		entry, err := buildEntry(logger, clk, f, cfg, def)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	o := &Orchestrator{
		logger:   logger,
		cfg:      cfg,
		clock:    clk,
		feed:     f,
		entries:  entries,
		shutdown: make(chan struct{}),
	}
	o.reporter = health.New(logger, cfg.HealthInterval, o.sample, store, hub)
	return o, nil
}

func buildEntry(logger *slog.Logger, clk clock.Clock, f *feed.Feed, cfg *config.Config, def model.StrategyDefinition) (*strategyEntry, error) {
	entryPred, err := predicate.Parse(def.EntryCondition)
	if err != nil {
		return nil, err
	}
	exitPred, err := predicate.Parse(def.ExitCondition)
	if err != nil {
		return nil, err
	}

	seed, ok := predicate.SeedHint(entryPred)
	if !ok {
		seed, ok = predicate.SeedHint(exitPred)
	}
	if !ok {
		return nil, &apperr.ConfigError{Reason: "strategy " + def.StrategyID + ": could not derive a seed price from its predicates"}
	}

	sub := f.Subscribe(def.Instrument, seed, cfg.SubscriptionCapacity)
	r := runner.New(logger, clk, def, entryPred, exitPred, sub)
	return &strategyEntry{def: def, runner: r, done: make(chan struct{})}, nil
}

// Run performs startup steps 4-7, blocks until a shutdown trigger
// fires, then performs the shutdown sequence of spec.md 4.5, and
// returns the final summary.
func (o *Orchestrator) Run(ctx context.Context) Summary {
	o.installSignalTrigger()
	o.waitForMarketOpen(ctx)

	runCtx, cancelRunners := context.WithCancel(ctx)

	o.feed.Start(runCtx)

	var eg errgroup.Group
	for _, e := range o.entries {
		e := e
		eg.Go(func() error {
			e.runner.Run(runCtx)
			close(e.done)
			return nil
		})
	}

	o.reporter.Start(context.Background())

	o.installMarketCloseTrigger()
	go o.watchFeedErrors()

	<-o.shutdown
	cancelRunners()

	joinDone := make(chan struct{})
	go func() {
		eg.Wait()
		close(joinDone)
	}()

	select {
	case <-joinDone:
	case <-time.After(o.cfg.ShutdownGrace):
		o.logger.Warn("shutdown grace period exceeded, abandoning unfinished runners")
	}

	o.feed.Stop()
	o.reporter.Stop()

	summary := o.buildSummary()
	o.logger.Info("shutdown_end", "by_phase", summary.ByPhase, "by_exit_reason", summary.ByExitReason)
	return summary
}

// Shutdown requests the shutdown sequence. Idempotent: a second call
// is a no-op, matching spec.md 4.5's shutdown-trigger idempotency.
// The actual broadcast cancellation and join happen synchronously
// inside Run once it observes the request.
func (o *Orchestrator) Shutdown(reason string) {
	o.shutdownOnce.Do(func() {
		o.logger.Info("shutdown_begin", "reason", reason)
		close(o.shutdown)
	})
}

// waitForMarketOpen blocks until the clock reaches MARKET_OPEN, per
// spec.md 6, or until ctx is cancelled or a shutdown is requested
// before the market ever opens.
func (o *Orchestrator) waitForMarketOpen(ctx context.Context) {
	for {
		now := o.clock.Now()
		occurrence := time.Date(now.Year(), now.Month(), now.Day(), o.cfg.MarketOpen.Hour(), o.cfg.MarketOpen.Minute(), 0, 0, now.Location())
		if !now.Before(occurrence) {
			return
		}
		wait := occurrence.Sub(now)
		if wait > 5*time.Second {
			wait = 5 * time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-o.shutdown:
			return
		case <-time.After(wait):
		}
	}
}

func (o *Orchestrator) installSignalTrigger() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		o.Shutdown("signal: " + sig.String())
		if second := <-sigCh; second != nil {
			o.logger.Warn("second shutdown signal received, forcing immediate exit")
			os.Exit(130)
		}
	}()
}

func (o *Orchestrator) installMarketCloseTrigger() {
	closeAt := nextOccurrence(o.clock.Now(), o.cfg.MarketClose)
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-o.shutdown:
				return
			case <-ticker.C:
				if !o.clock.Now().Before(closeAt) {
					o.Shutdown("market close reached")
					return
				}
			}
		}
	}()
}

// nextOccurrence returns the next instant after now whose time-of-day
// is closeTime's hour and minute: today's occurrence if it has not
// passed yet, otherwise tomorrow's. The market-close trigger computes
// it once and then compares full wall-clock instants, per spec.md
// 4.5's "full instant, not time-of-day" rule, so a session straddling
// local midnight closes on the following day rather than on a bare
// hour/minute match.
func nextOccurrence(now, closeTime time.Time) time.Time {
	occurrence := time.Date(now.Year(), now.Month(), now.Day(), closeTime.Hour(), closeTime.Minute(), 0, 0, now.Location())
	if now.Before(occurrence) {
		return occurrence
	}
	return occurrence.AddDate(0, 0, 1)
}

func (o *Orchestrator) watchFeedErrors() {
	restarted := false
	for {
		select {
		case <-o.shutdown:
			return
		case err, ok := <-o.feed.Errors():
			if !ok {
				return
			}
			o.logger.Error("error", "message", err.Error())
			if restarted {
				o.Shutdown("feed error after restart: " + err.Error())
				return
			}
			restarted = true
		}
	}
}

func (o *Orchestrator) sample() health.Input {
	active := 0
	nonTerminal := 0
	failedNow := 0
	for _, e := range o.entries {
		phase := e.runner.State().SnapshotPhase()
		switch phase {
		case model.PhaseOpen:
			active++
		case model.PhaseFailed:
			failedNow++
		}
		if !phase.Terminal() {
			nonTerminal++
		}
	}

	o.mu.Lock()
	failedSinceLast := failedNow > o.lastFailedCount
	o.lastFailedCount = failedNow
	o.mu.Unlock()

	snap := o.feed.Snapshot()
	return health.Input{
		ActiveStrategies:      active,
		NonTerminalStrategies: nonTerminal,
		TotalStrategies:       len(o.entries),
		MarketFeedActive:      snap.Active,
		Prices:                snap.Prices,
		DroppedTicksTotal:     snap.Dropped,
		FailedSinceLast:       failedSinceLast,
	}
}

func (o *Orchestrator) buildSummary() Summary {
	summary := Summary{
		ByPhase:      make(map[model.Phase]int),
		ByExitReason: make(map[model.ExitReason]int),
	}

	for _, e := range o.entries {
		abandoned := !isClosed(e.done)
		s := e.runner.State().ToSummary(abandoned)
		summary.Strategies = append(summary.Strategies, s)
		summary.ByPhase[s.Phase]++
		if s.Phase.Terminal() && !abandoned {
			summary.ByExitReason[s.ExitReason]++
		}
		if abandoned {
			o.logger.Error("error", "message", (&apperr.ShutdownTimeout{StrategyID: e.def.StrategyID}).Error())
		}
	}
	return summary
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
