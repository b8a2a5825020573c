package index

import (
	"context"
	"time"

	"github.com/yanun0323/logs"

	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/bus"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/obs"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema"
)

const appendTimeout = 5 * time.Second

// Sink feeds the index from the store without blocking producers. It
// implements audit.Mirror; a full queue rejects the envelope.
type Sink struct {
	index   *Index
	queue   *bus.Queue
	metrics *obs.Metrics
}

// NewSink creates a sink with a bounded queue of the given capacity.
func NewSink(idx *Index, capacity int, metrics *obs.Metrics) *Sink {
	return &Sink{index: idx, queue: bus.NewQueue(capacity), metrics: metrics}
}

// Publish queues env for indexing.
func (s *Sink) Publish(env schema.Envelope) error {
	return s.queue.Publish(env)
}

// Pending returns the number of queued envelopes.
func (s *Sink) Pending() int {
	return s.queue.Len()
}

// Close stops accepting envelopes; Run drains what is queued and returns.
func (s *Sink) Close() {
	s.queue.Close()
}

// Run indexes queued envelopes until ctx is done or the sink is closed and
// drained. Insert failures are logged and counted.
func (s *Sink) Run(ctx context.Context) {
	s.queue.Run(ctx, func(env schema.Envelope) {
		actx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		defer cancel()
		if err := s.index.Append(actx, env); err != nil {
			s.metrics.IncMirrorError()
			logs.Warnf("index append failed, seq: %d, err: %+v", env.Seq(), err)
		}
	})
}
