package feed

import (
	"context"
	"sync"
	"sync/atomic"

	"tradesim/internal/model"
)

// Subscription is a bounded, single-producer/single-consumer FIFO of
// ticks for one (instrument, subscriber) pair, per spec.md 3 and 9:
// "one bounded SPSC FIFO per subscriber, not a single shared queue".
// Enqueue is always non-blocking: when full it drops the oldest queued
// tick before appending the new one, so a stuck subscriber can never
// stall the producer.
type Subscription struct {
	instrument model.Instrument
	capacity   int

	mu   sync.Mutex
	buf  []model.Tick
	wake chan struct{}

	dropped atomic.Int64
}

func newSubscription(instrument model.Instrument, capacity int) *Subscription {
	return &Subscription{
		instrument: instrument,
		capacity:   capacity,
		buf:        make([]model.Tick, 0, capacity),
		wake:       make(chan struct{}, 1),
	}
}

// Instrument returns the instrument this subscription was created for.
func (s *Subscription) Instrument() model.Instrument { return s.instrument }

// Deliver injects a tick directly into the subscription, applying the
// same drop-oldest policy as the feed's own fan-out. Exported for
// tests that need to drive a runner with an exact tick sequence
// instead of the feed's random walk.
func (s *Subscription) Deliver(t model.Tick) { s.enqueue(t) }

// enqueue delivers a tick to the subscriber, dropping the oldest queued
// tick first if the buffer is already at capacity.
func (s *Subscription) enqueue(t model.Tick) {
	s.mu.Lock()
	if len(s.buf) >= s.capacity {
		s.buf = s.buf[1:]
		s.dropped.Add(1)
	}
	s.buf = append(s.buf, t)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Receive blocks until a tick is available or ctx is done. It is the
// runner's "next tick OR cancel" suspension point from spec.md 5.
func (s *Subscription) Receive(ctx context.Context) (model.Tick, bool) {
	for {
		s.mu.Lock()
		if len(s.buf) > 0 {
			t := s.buf[0]
			s.buf = s.buf[1:]
			s.mu.Unlock()
			return t, true
		}
		s.mu.Unlock()

		select {
		case <-s.wake:
			continue
		case <-ctx.Done():
			return model.Tick{}, false
		}
	}
}

// Dropped returns the number of ticks dropped from this subscription so
// far, for the feed's observability counters.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }
