// Package runner implements the per-strategy lifecycle task of spec.md
// 4.4: one goroutine per strategy, sole writer of its StrategyState,
// driving CREATED -> OPEN -> {CLOSED, FORCE_CLOSED} via predicate
// evaluation and risk checks, with any-phase -> FAILED on error.
// Grounded on internal/arbitrage/engine.go's ProcessTick shape
// (per-tick dispatch against owned state) generalized from arbitrage
// detection to the state machine of spec.md 4.4, with the structured
// per-event slog idiom of jwtly10-tradebook/internal/account/account.go.
package runner

import (
	"context"
	"fmt"
	"log/slog"

	"tradesim/internal/apperr"
	"tradesim/internal/clock"
	"tradesim/internal/logging"
	"tradesim/internal/model"
	"tradesim/internal/predicate"
	"tradesim/internal/risk"
)

// tickSource is the consumer side of a market-feed subscription. It is
// satisfied by *feed.Subscription; naming it as an interface here lets
// tests substitute a fault-injecting source without reaching into feed
// package internals.
type tickSource interface {
	Receive(ctx context.Context) (model.Tick, bool)
}

// Runner owns exactly one StrategyState and drives it to a terminal
// phase from the ticks delivered on its Subscription.
type Runner struct {
	logger *slog.Logger
	clock  clock.Clock

	def   model.StrategyDefinition
	entry *predicate.Predicate
	exit  *predicate.Predicate
	sub   tickSource
	state *model.StrategyState
}

// New constructs a Runner for def. entry and exit must already be
// parsed; the orchestrator parses every strategy's predicates up
// front so a malformed one fails fast at startup, per spec.md 4.5
// step 3, rather than mid-run.
func New(logger *slog.Logger, clk clock.Clock, def model.StrategyDefinition, entry, exit *predicate.Predicate, sub tickSource) *Runner {
	return &Runner{
		logger: logging.ForStrategy(logger, def.StrategyID),
		clock:  clk,
		def:    def,
		entry:  entry,
		exit:   exit,
		sub:    sub,
		state:  model.NewStrategyState(def.StrategyID),
	}
}

// State returns the runner's state. Safe to read only after Run has
// returned: the orchestrator's join barrier guarantees single-writer
// access has ended by the time it inspects the result.
func (r *Runner) State() *model.StrategyState { return r.state }

// Run drives the lifecycle state machine until ctx is cancelled or a
// terminal phase is reached. It recovers any panic raised by predicate
// evaluation or its own logic and transitions to FAILED instead of
// letting the panic escape, per spec.md 4.4's error-isolation rule.
func (r *Runner) Run(ctx context.Context) {
	r.logger.Info("strategy_started", "instrument", r.def.Instrument, "quantity", r.def.Quantity)

	defer func() {
		if rec := recover(); rec != nil {
			r.fail(fmt.Errorf("panic: %v", rec))
		}
	}()

	for {
		if r.state.Phase.Terminal() {
			return
		}

		tick, ok := r.sub.Receive(ctx)
		if !ok {
			r.onShutdown()
			return
		}
		r.onTick(tick)
	}
}

func (r *Runner) onTick(t model.Tick) {
	env := predicate.Env{Price: t.Price, Time: clock.MinutesSinceMidnight(t.Time)}

	switch r.state.Phase {
	case model.PhaseCreated:
		if r.entry.Eval(env) {
			r.state.Enter(t.Price, t.Time)
			r.logger.Info("entry", "price", t.Price, "time", t.Time)
		}
	case model.PhaseOpen:
		r.state.LastPrice = t.Price

		outcome := risk.Check(risk.Position{
			EntryPrice: r.state.EntryPrice,
			Quantity:   r.def.Quantity,
			MaxLoss:    r.def.MaxLoss,
			MaxProfit:  r.def.MaxProfit,
		}, t.Price)

		switch outcome {
		case risk.StopLoss:
			r.exitPosition(t, model.ExitStopLoss, model.PhaseClosed)
		case risk.TargetHit:
			r.exitPosition(t, model.ExitTargetHit, model.PhaseClosed)
		default:
			if r.exit.Eval(env) {
				r.exitPosition(t, model.ExitConditionReason, model.PhaseClosed)
			}
		}
	}
}

func (r *Runner) onShutdown() {
	switch r.state.Phase {
	case model.PhaseCreated:
		r.state.CloseWithoutPosition()
	case model.PhaseOpen:
		last := model.Tick{Instrument: r.def.Instrument, Price: r.state.LastPrice, Time: r.clock.Now()}
		r.exitPosition(last, model.ExitMarketClose, model.PhaseForceClosed)
	}
}

func (r *Runner) exitPosition(t model.Tick, reason model.ExitReason, terminal model.Phase) {
	r.state.Exit(t.Price, t.Time, reason, r.def.Quantity, terminal)
	r.logger.Info("exit", "reason", reason, "price", t.Price, "realized_pnl", r.state.RealizedPnL)
}

func (r *Runner) fail(err error) {
	r.state.Fail()
	wrapped := &apperr.RuntimeStrategyError{StrategyID: r.def.StrategyID, Err: err}
	r.logger.Error("error", "message", wrapped.Error())
}
