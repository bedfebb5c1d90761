package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yuthstyle88/108jobs-clean-sub000/internal/domain/shared/events"
)

// Sink is where drained events go, normally the Kafka publisher.
type Sink interface {
	PublishEvent(ctx context.Context, event events.DomainEvent) error
}

var ErrRelayNotConfigured = errors.New("outbox: relay missing sink")

type entry struct {
	event    events.DomainEvent
	attempts int
	nextTry  time.Time
}

// Relay buffers workflow events in memory and drains them to the sink with
// backoff. Enqueueing never fails, so a broker hiccup cannot abort a workflow
// action that already committed; the cost is losing buffered events on a
// crash, which the backend's own room updates compensate for.
type Relay struct {
	sink     Sink
	interval time.Duration
	backoff  []time.Duration

	mu      sync.Mutex
	pending []entry
}

func NewRelay(sink Sink, interval time.Duration) *Relay {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Relay{
		sink:     sink,
		interval: interval,
		backoff:  []time.Duration{time.Second, 5 * time.Second, 30 * time.Second},
	}
}

// PublishEvent queues the event for delivery.
func (r *Relay) PublishEvent(_ context.Context, event events.DomainEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, entry{event: event, nextTry: time.Now()})
	return nil
}

// Run drains the queue until the context is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	if r.sink == nil {
		return ErrRelayNotConfigured
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.drainOnce(ctx)
		}
	}
}

func (r *Relay) drainOnce(ctx context.Context) {
	for {
		e, ok := r.claim()
		if !ok {
			return
		}
		if err := r.sink.PublishEvent(ctx, e.event); err != nil {
			e.attempts++
			e.nextTry = time.Now().Add(r.nextBackoff(e.attempts))
			r.requeue(e)
			return
		}
	}
}

func (r *Relay) claim() (entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for i, e := range r.pending {
		if e.nextTry.After(now) {
			continue
		}
		r.pending = append(r.pending[:i], r.pending[i+1:]...)
		return e, true
	}
	return entry{}, false
}

func (r *Relay) requeue(e entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, e)
}

func (r *Relay) nextBackoff(attempts int) time.Duration {
	if attempts <= 0 {
		return r.backoff[0]
	}
	if attempts > len(r.backoff) {
		return r.backoff[len(r.backoff)-1]
	}
	return r.backoff[attempts-1]
}

// Pending reports how many events wait for delivery.
func (r *Relay) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
