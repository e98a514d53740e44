package feed

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

// TestSlowSubscriberDropsOldest reproduces spec.md 8 scenario 5: a
// subscriber with capacity 4 that never drains sees only its newest
// ticks and a nonzero drop count once the producer has outpaced it.
func TestSlowSubscriberDropsOldest(t *testing.T) {
	f := New(testLogger(), 5*time.Millisecond, 0.01)
	sub := f.Subscribe("AAPL", decimal.NewFromInt(100), 4)

	ctx, cancel := context.WithCancel(context.Background())
	f.Start(ctx)
	defer f.Stop()

	time.Sleep(80 * time.Millisecond)
	cancel()
	f.Stop()

	assert.GreaterOrEqual(t, sub.Dropped(), int64(6))

	count := 0
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer drainCancel()
	for {
		if _, ok := sub.Receive(drainCtx); ok {
			count++
		} else {
			break
		}
	}
	assert.LessOrEqual(t, count, 4)
}

// TestFeedIsolatesStuckSubscriber ensures one never-draining subscriber
// does not slow or starve delivery to other subscribers of the same
// instrument, per spec.md 3's per-subscriber buffer isolation.
func TestFeedIsolatesStuckSubscriber(t *testing.T) {
	f := New(testLogger(), 5*time.Millisecond, 0.01)
	stuck := f.Subscribe("AAPL", decimal.NewFromInt(100), 2)
	healthy := f.Subscribe("AAPL", decimal.NewFromInt(100), 100)

	ctx, cancel := context.WithCancel(context.Background())
	f.Start(ctx)
	defer f.Stop()

	received := 0
	deadline := time.After(120 * time.Millisecond)
loop:
	for {
		select {
		case <-deadline:
			break loop
		default:
			recvCtx, recvCancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
			if _, ok := healthy.Receive(recvCtx); ok {
				received++
			}
			recvCancel()
		}
	}
	cancel()

	assert.Greater(t, received, 5)
	_ = stuck
}

func TestSubscribeSeedsPriceOnce(t *testing.T) {
	f := New(testLogger(), time.Second, 0.0)
	f.Subscribe("AAPL", decimal.NewFromInt(100), 4)
	f.Subscribe("AAPL", decimal.NewFromInt(999), 4)

	snap := f.Snapshot()
	price, ok := snap.Prices["AAPL"]
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.NewFromInt(100)))
}
