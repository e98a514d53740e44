// Package model holds the data types shared by every component of the
// trading-strategy engine: ticks, strategy definitions, and the
// per-strategy lifecycle state.
package model

import (
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// Instrument identifies a tradable symbol. Identity only.
type Instrument string

// Tick is a single, immutable price sample for an instrument.
type Tick struct {
	Instrument Instrument
	Price      decimal.Decimal
	Time       time.Time
}

// Phase is a strategy's position in the lifecycle state machine.
type Phase string

const (
	PhaseCreated     Phase = "CREATED"
	PhaseOpen        Phase = "OPEN"
	PhaseClosed      Phase = "CLOSED"
	PhaseForceClosed Phase = "FORCE_CLOSED"
	PhaseFailed      Phase = "FAILED"
)

// Terminal reports whether phase is absorbing.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseClosed, PhaseForceClosed, PhaseFailed:
		return true
	default:
		return false
	}
}

// ExitReason records why a strategy left the OPEN phase.
type ExitReason string

const (
	ExitConditionReason ExitReason = "EXIT_CONDITION"
	ExitStopLoss        ExitReason = "STOP_LOSS"
	ExitTargetHit       ExitReason = "TARGET_HIT"
	ExitMarketClose     ExitReason = "MARKET_CLOSE"
	ExitError           ExitReason = "ERROR"
)

// StrategyDefinition is the immutable input parsed from the strategy file.
type StrategyDefinition struct {
	StrategyID     string
	Instrument     Instrument
	EntryCondition string
	ExitCondition  string
	Quantity       int64
	MaxLoss        decimal.Decimal
	MaxProfit      decimal.Decimal
}

// StrategyState is the mutable, single-writer state owned by one runner.
// Every field is read by the orchestrator only after the runner has
// terminated (the join barrier of spec.md 5) except phaseView, which
// the health reporter samples concurrently while the runner is still
// running; phaseView is kept in sync with Phase on every transition
// via atomic.Value so that read is race-free without taking a lock on
// the runner's hot path.
type StrategyState struct {
	StrategyID string
	Phase      Phase
	phaseView  atomic.Value

	EntryPrice decimal.Decimal
	EntryTime  time.Time

	ExitPrice  decimal.Decimal
	ExitTime   time.Time
	ExitReason ExitReason

	LastPrice   decimal.Decimal
	RealizedPnL decimal.Decimal
}

// NewStrategyState returns a freshly CREATED state for the given id.
func NewStrategyState(strategyID string) *StrategyState {
	s := &StrategyState{StrategyID: strategyID, Phase: PhaseCreated}
	s.phaseView.Store(PhaseCreated)
	return s
}

// SnapshotPhase returns the strategy's current phase. Safe to call
// concurrently with the owning runner, for the health reporter's live
// active-strategy count.
func (s *StrategyState) SnapshotPhase() Phase {
	return s.phaseView.Load().(Phase)
}

// Enter records the CREATED -> OPEN transition.
func (s *StrategyState) Enter(price decimal.Decimal, at time.Time) {
	s.EntryPrice = price
	s.EntryTime = at
	s.LastPrice = price
	s.Phase = PhaseOpen
	s.phaseView.Store(PhaseOpen)
}

// Exit records the terminal transition out of OPEN, computing realized PnL.
func (s *StrategyState) Exit(price decimal.Decimal, at time.Time, reason ExitReason, quantity int64, terminal Phase) {
	s.ExitPrice = price
	s.ExitTime = at
	s.ExitReason = reason
	s.RealizedPnL = price.Sub(s.EntryPrice).Mul(decimal.NewFromInt(quantity))
	s.Phase = terminal
	s.phaseView.Store(terminal)
}

// CloseWithoutPosition records the CREATED -> CLOSED transition taken
// on shutdown when no position was ever opened.
func (s *StrategyState) CloseWithoutPosition() {
	s.Phase = PhaseClosed
	s.phaseView.Store(PhaseClosed)
}

// Fail records a transition to FAILED from any non-terminal phase.
func (s *StrategyState) Fail() {
	s.Phase = PhaseFailed
	s.ExitReason = ExitError
	s.phaseView.Store(PhaseFailed)
}

// Summary is the per-strategy slice of the orchestrator's final report.
type Summary struct {
	StrategyID  string
	Phase       Phase
	EntryPrice  decimal.Decimal
	ExitPrice   decimal.Decimal
	ExitReason  ExitReason
	RealizedPnL decimal.Decimal
	Abandoned   bool
}

// ToSummary captures a snapshot of state after the runner has terminated
// (or been abandoned past the shutdown grace deadline).
func (s *StrategyState) ToSummary(abandoned bool) Summary {
	return Summary{
		StrategyID:  s.StrategyID,
		Phase:       s.Phase,
		EntryPrice:  s.EntryPrice,
		ExitPrice:   s.ExitPrice,
		ExitReason:  s.ExitReason,
		RealizedPnL: s.RealizedPnL,
		Abandoned:   abandoned,
	}
}
