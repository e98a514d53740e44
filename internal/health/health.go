// Package health implements the periodic status reporter of spec.md
// 4.6. Grounded on referee's database.Repository persistence pattern
// (here persisting health snapshots instead of trades) and
// bally65-singularity's websocket Hub for an optional live push.
package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"tradesim/internal/model"
)

// Status is the coarse health verdict of spec.md 4.6.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
)

// Input is what the orchestrator hands the reporter on each sample.
type Input struct {
	ActiveStrategies      int // phase == OPEN; the displayed count of spec.md 4.6
	NonTerminalStrategies int // phase in {CREATED, OPEN}; drives the degraded verdict
	TotalStrategies       int
	MarketFeedActive      bool
	Prices                map[model.Instrument]decimal.Decimal
	DroppedTicksTotal     int64
	FailedSinceLast       bool
}

// Record is one persisted/broadcast health sample.
type Record struct {
	ID                uuid.UUID
	Time              time.Time
	Status            Status
	ActiveStrategies  int
	TotalStrategies   int
	MarketFeedActive  bool
	Prices            map[model.Instrument]decimal.Decimal
	DroppedTicksTotal int64
}

// Store persists Records. Implementations may no-op.
type Store interface {
	Save(ctx context.Context, rec Record) error
}

// Broadcaster pushes Records to live subscribers. Implementations may
// no-op.
type Broadcaster interface {
	Broadcast(rec Record)
}

// Sampler produces the next Input when asked. The orchestrator
// supplies this as a closure over its own state.
type Sampler func() Input

// Reporter drives the fixed-interval sampling loop.
type Reporter struct {
	logger   *slog.Logger
	interval time.Duration
	sample   Sampler
	store    Store
	hub      Broadcaster

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Reporter. store and hub may be nil, in which case
// persistence/broadcast are skipped.
func New(logger *slog.Logger, interval time.Duration, sample Sampler, store Store, hub Broadcaster) *Reporter {
	return &Reporter{
		logger:   logger,
		interval: interval,
		sample:   sample,
		store:    store,
		hub:      hub,
		done:     make(chan struct{}),
	}
}

// Start begins the sampling loop in a new goroutine.
func (r *Reporter) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	go r.run(runCtx)
}

// Stop cancels the sampling loop and waits for it to exit.
func (r *Reporter) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	<-r.done
}

func (r *Reporter) run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.report(ctx)
		}
	}
}

func (r *Reporter) report(ctx context.Context) {
	in := r.sample()

	status := StatusHealthy
	if in.FailedSinceLast || (!in.MarketFeedActive && in.NonTerminalStrategies > 0) {
		status = StatusDegraded
	}

	rec := Record{
		ID:                uuid.New(),
		Time:              time.Now(),
		Status:            status,
		ActiveStrategies:  in.ActiveStrategies,
		TotalStrategies:   in.TotalStrategies,
		MarketFeedActive:  in.MarketFeedActive,
		Prices:            in.Prices,
		DroppedTicksTotal: in.DroppedTicksTotal,
	}

	r.logger.Info("health",
		"status", rec.Status,
		"active_strategies", rec.ActiveStrategies,
		"total_strategies", rec.TotalStrategies,
		"market_feed_active", rec.MarketFeedActive,
		"dropped_ticks_total", rec.DroppedTicksTotal,
	)

	if r.store != nil {
		if err := r.store.Save(ctx, rec); err != nil {
			r.logger.Error("error", "message", "failed to persist health record: "+err.Error())
		}
	}
	if r.hub != nil {
		r.hub.Broadcast(rec)
	}
}
