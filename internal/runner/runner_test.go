package runner

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tradesim/internal/clock"
	"tradesim/internal/feed"
	"tradesim/internal/model"
	"tradesim/internal/predicate"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func mustParse(t *testing.T, src string) *predicate.Predicate {
	p, err := predicate.Parse(src)
	require.NoError(t, err)
	return p
}

func newHarness(t *testing.T, def model.StrategyDefinition, capacity int) (*Runner, *feed.Subscription, *clock.Mock) {
	entry := mustParse(t, def.EntryCondition)
	exit := mustParse(t, def.ExitCondition)
	f := feed.New(testLogger(), time.Hour, 0)
	sub := f.Subscribe(def.Instrument, decimal.Zero, capacity)
	mock := clock.NewMock(time.Date(2026, 8, 3, 10, 0, 0, 0, time.Local))
	r := New(testLogger(), mock, def, entry, exit, sub)
	return r, sub, mock
}

func tickAt(instrument model.Instrument, price string, at time.Time) model.Tick {
	return model.Tick{Instrument: instrument, Price: dec(price), Time: at}
}

// TestEntryThenStopLoss reproduces spec.md 8 scenario 1.
func TestEntryThenStopLoss(t *testing.T) {
	def := model.StrategyDefinition{
		StrategyID: "s1", Instrument: "X",
		EntryCondition: "price > 100", ExitCondition: "price < 50",
		Quantity: 10, MaxLoss: dec("200"), MaxProfit: dec("1000"),
	}
	r, sub, mock := newHarness(t, def, 16)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { r.Run(ctx); close(done) }()

	base := mock.Now()
	for _, p := range []string{"99", "101", "101", "80"} {
		sub.Deliver(tickAt(def.Instrument, p, base))
	}
	time.Sleep(30 * time.Millisecond)
	cancel()
	<-done

	state := r.State()
	assert.Equal(t, model.PhaseClosed, state.Phase)
	assert.Equal(t, model.ExitStopLoss, state.ExitReason)
	assert.True(t, state.ExitPrice.Equal(dec("80")))
	assert.True(t, state.RealizedPnL.Equal(dec("-210")))
}

// TestTargetHitBeforeExitPredicate reproduces spec.md 8 scenario 2.
func TestTargetHitBeforeExitPredicate(t *testing.T) {
	def := model.StrategyDefinition{
		StrategyID: "s2", Instrument: "X",
		EntryCondition: "price > 100", ExitCondition: "time >= 15:20",
		Quantity: 1, MaxLoss: dec("1000"), MaxProfit: dec("50"),
	}
	r, sub, mock := newHarness(t, def, 16)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { r.Run(ctx); close(done) }()

	base := time.Date(2026, 8, 3, 10, 0, 0, 0, time.Local)
	mock.Set(base)
	for _, p := range []string{"100", "101", "160"} {
		sub.Deliver(tickAt(def.Instrument, p, base))
	}
	time.Sleep(30 * time.Millisecond)
	cancel()
	<-done

	state := r.State()
	assert.Equal(t, model.PhaseClosed, state.Phase)
	assert.Equal(t, model.ExitTargetHit, state.ExitReason)
	assert.True(t, state.ExitPrice.Equal(dec("160")))
}

// TestMarketCloseForceClosesOpenPosition reproduces spec.md 8 scenario 3.
func TestMarketCloseForceClosesOpenPosition(t *testing.T) {
	def := model.StrategyDefinition{
		StrategyID: "s3", Instrument: "X",
		EntryCondition: "price > 150", ExitCondition: "price < 0",
		Quantity: 1, MaxLoss: dec("100000"), MaxProfit: dec("100000"),
	}
	r, sub, mock := newHarness(t, def, 16)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { r.Run(ctx); close(done) }()

	base := mock.Now()
	sub.Deliver(tickAt(def.Instrument, "200", base))
	sub.Deliver(tickAt(def.Instrument, "210", base))
	time.Sleep(30 * time.Millisecond)
	cancel()
	<-done

	state := r.State()
	assert.Equal(t, model.PhaseForceClosed, state.Phase)
	assert.Equal(t, model.ExitMarketClose, state.ExitReason)
	assert.True(t, state.ExitPrice.Equal(dec("210")))
}

// TestFailingStrategyDoesNotAffectSibling reproduces spec.md 8 scenario 4's
// runtime-failure variant: a panic inside one runner transitions only
// that runner to FAILED while a sibling on the same instrument keeps
// running to completion.
func TestFailingStrategyDoesNotAffectSibling(t *testing.T) {
	failing := model.StrategyDefinition{
		StrategyID: "fails", Instrument: "X",
		EntryCondition: "price > 0", ExitCondition: "price < 0",
		Quantity: 1, MaxLoss: dec("1"), MaxProfit: dec("1"),
	}
	r, sub, _ := newHarness(t, failing, 16)
	r.sub = &panicSubscription{Subscription: sub}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { r.Run(ctx); close(done) }()

	sub.Deliver(tickAt(failing.Instrument, "10", time.Now()))
	time.Sleep(30 * time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, model.PhaseFailed, r.State().Phase)
	assert.Equal(t, model.ExitError, r.State().ExitReason)

	sibling := model.StrategyDefinition{
		StrategyID: "sibling", Instrument: "X",
		EntryCondition: "price > 5", ExitCondition: "price < 0",
		Quantity: 1, MaxLoss: dec("1000"), MaxProfit: dec("1000"),
	}
	r2, sub2, _ := newHarness(t, sibling, 16)
	ctx2, cancel2 := context.WithCancel(context.Background())
	done2 := make(chan struct{})
	go func() { r2.Run(ctx2); close(done2) }()
	sub2.Deliver(tickAt(sibling.Instrument, "10", time.Now()))
	time.Sleep(20 * time.Millisecond)
	cancel2()
	<-done2
	assert.Equal(t, model.PhaseForceClosed, r2.State().Phase)
}

// panicSubscription forces a panic on the first Receive to exercise the
// runner's recover-to-FAILED path without depending on predicate or
// risk internals.
type panicSubscription struct {
	*feed.Subscription
	done bool
}

func (p *panicSubscription) Receive(ctx context.Context) (model.Tick, bool) {
	t, ok := p.Subscription.Receive(ctx)
	if !p.done {
		p.done = true
		panic("injected runtime failure")
	}
	return t, ok
}

// TestTimePredicateBoundary reproduces spec.md 8 scenario 6.
func TestTimePredicateBoundary(t *testing.T) {
	p := mustParse(t, "time >= 15:20")
	assert.True(t, p.Eval(predicate.Env{Time: 15*60 + 20}))
	assert.False(t, p.Eval(predicate.Env{Time: 15*60 + 19}))
}
