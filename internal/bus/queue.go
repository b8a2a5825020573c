package bus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/yanun0323/errors"

	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema"
)

var (
	ErrQueueFull   = errors.New("event queue full")
	ErrQueueClosed = errors.New("event queue closed")
)

// Queue is a bounded in-process queue of audit envelopes.
type Queue struct {
	ch chan schema.Envelope

	mu     sync.RWMutex
	closed bool

	published atomic.Uint64
	rejected  atomic.Uint64
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan schema.Envelope, capacity)}
}

// Publish enqueues an envelope without blocking.
func (q *Queue) Publish(env schema.Envelope) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.rejected.Add(1)
		return ErrQueueClosed
	}
	select {
	case q.ch <- env:
		q.published.Add(1)
		return nil
	default:
		q.rejected.Add(1)
		return ErrQueueFull
	}
}

// PublishWait enqueues an envelope, waiting for space until ctx is done.
func (q *Queue) PublishWait(ctx context.Context, env schema.Envelope) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.rejected.Add(1)
		return ErrQueueClosed
	}
	select {
	case q.ch <- env:
		q.published.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the queue from accepting new envelopes. Queued envelopes are
// still delivered by Run.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// Len returns the number of queued envelopes.
func (q *Queue) Len() int { return len(q.ch) }

// Published returns how many envelopes were accepted.
func (q *Queue) Published() uint64 { return q.published.Load() }

// Rejected returns how many envelopes were refused because the queue was
// full or closed.
func (q *Queue) Rejected() uint64 { return q.rejected.Load() }

// Run consumes envelopes until the context is done or the queue is closed
// and drained.
func (q *Queue) Run(ctx context.Context, handler func(schema.Envelope)) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-q.ch:
			if !ok {
				return
			}
			handler(env)
		}
	}
}
