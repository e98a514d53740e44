// Package feed implements the market-data broadcast fabric of spec.md
// 4.2: one simulated price generator per instrument, fanned out to
// bounded per-subscriber buffers that never block the producer. The
// per-instrument generator loop is grounded on the context-cancel +
// select reconnect loop of internal/exchange/{binance,kraken}.go,
// generalized from real WebSocket ingestion to a random-walk
// simulation, per spec.md 4.2 and original_source/market_sim.py.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"tradesim/internal/apperr"
	"tradesim/internal/model"
)

// Snapshot is the non-blocking view returned by Feed.Snapshot.
type Snapshot struct {
	Prices  map[model.Instrument]decimal.Decimal
	Active  bool
	Dropped int64
}

// Feed generates ticks for every subscribed instrument on a fixed
// cadence and fans them out to each subscriber's bounded buffer.
type Feed struct {
	logger     *slog.Logger
	interval   time.Duration
	volatility float64

	mu            sync.Mutex
	subscriptions map[model.Instrument][]*Subscription
	prices        map[model.Instrument]decimal.Decimal
	active        bool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	errCh chan error
}

// New constructs a Feed that ticks every interval with the given
// per-tick return volatility (the uniform half-width epsilon of
// spec.md 4.2).
func New(logger *slog.Logger, interval time.Duration, volatility float64) *Feed {
	return &Feed{
		logger:        logger,
		interval:      interval,
		volatility:    volatility,
		subscriptions: make(map[model.Instrument][]*Subscription),
		prices:        make(map[model.Instrument]decimal.Decimal),
		errCh:         make(chan error, 8),
	}
}

// Subscribe creates a bounded FIFO of the given capacity for
// instrument and registers it. Safe to call concurrently; the
// orchestrator calls it for every strategy before Start.
func (f *Feed) Subscribe(instrument model.Instrument, seed decimal.Decimal, capacity int) *Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.prices[instrument]; !ok {
		f.prices[instrument] = seed
	}
	sub := newSubscription(instrument, capacity)
	f.subscriptions[instrument] = append(f.subscriptions[instrument], sub)
	return sub
}

// Errors returns the channel the feed reports FeedErrors on. The
// orchestrator should drain it; per spec.md 7, one restart is attempted
// automatically before a FeedError becomes fatal.
func (f *Feed) Errors() <-chan error { return f.errCh }

// Start begins emitting ticks for every instrument with at least one
// subscriber, one goroutine per instrument as spec.md 4.2 allows.
func (f *Feed) Start(ctx context.Context) {
	f.mu.Lock()
	if f.active {
		f.mu.Unlock()
		return
	}
	f.active = true
	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	instruments := make([]model.Instrument, 0, len(f.subscriptions))
	for ins := range f.subscriptions {
		instruments = append(instruments, ins)
	}
	f.mu.Unlock()

	for _, ins := range instruments {
		f.wg.Add(1)
		go f.runInstrument(runCtx, ins)
	}
}

// Stop stops emission. Idempotent; does not drain already-queued ticks.
func (f *Feed) Stop() {
	f.mu.Lock()
	if !f.active {
		f.mu.Unlock()
		return
	}
	f.active = false
	cancel := f.cancel
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	f.wg.Wait()
}

// Snapshot returns a non-blocking view of current prices and activity.
func (f *Feed) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	prices := make(map[model.Instrument]decimal.Decimal, len(f.prices))
	var dropped int64
	for ins, p := range f.prices {
		prices[ins] = p
	}
	for _, subs := range f.subscriptions {
		for _, s := range subs {
			dropped += s.Dropped()
		}
	}
	return Snapshot{Prices: prices, Active: f.active, Dropped: dropped}
}

// runInstrument drives one instrument's tick cadence. On a panic it
// reports a FeedError and restarts exactly once, per spec.md 7; a
// second failure is reported but not retried again, leaving the
// orchestrator to decide on a degraded shutdown.
func (f *Feed) runInstrument(ctx context.Context, instrument model.Instrument) {
	defer f.wg.Done()

	restarted := false
	for {
		err := f.tickLoop(ctx, instrument)
		if err == nil || ctx.Err() != nil {
			return
		}
		f.reportError(&apperr.FeedError{Err: err})
		if restarted {
			f.logger.Error("feed instrument failed twice, giving up", "instrument", instrument, "error", err)
			return
		}
		restarted = true
		f.logger.Warn("feed instrument restarting after error", "instrument", instrument, "error", err)
	}
}

func (f *Feed) reportError(err error) {
	select {
	case f.errCh <- err:
	default:
		f.logger.Error("feed error channel full, dropping error", "error", err)
	}
}

func (f *Feed) tickLoop(ctx context.Context, instrument model.Instrument) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			f.emit(instrument)
		}
	}
}

func (f *Feed) emit(instrument model.Instrument) {
	f.mu.Lock()
	price := f.prices[instrument]
	eps := (rand.Float64()*2 - 1) * f.volatility
	next := price.Add(price.Mul(decimal.NewFromFloat(eps)))
	f.prices[instrument] = next
	subs := f.subscriptions[instrument]
	f.mu.Unlock()

	tick := model.Tick{Instrument: instrument, Price: next, Time: time.Now()}
	for _, s := range subs {
		s.enqueue(tick)
	}
}
