package audit

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/id"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/obs"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/recorder"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema"
	"github.com/CrisisCore-Systems/Autotrader-sub001/pkg/exception"
)

// Appender is the durable side of the store.
type Appender interface {
	Append(schema.Envelope) error
	Flush(ctx context.Context) error
	Close() error
}

// Mirror receives every accepted envelope after it is stamped, for secondary
// sinks such as the SQL index. Publish must not block.
type Mirror interface {
	Publish(schema.Envelope) error
}

// Option configures a Store.
type Option func(*Store)

// WithMetrics attaches counters shared with the writer and the HTTP layer.
func WithMetrics(m *obs.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithMirror adds a secondary sink.
func WithMirror(m Mirror) Option {
	return func(s *Store) {
		if m != nil {
			s.mirrors = append(s.mirrors, m)
		}
	}
}

// WithClock overrides the wall clock used for event ids and report stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSequenceStart sets a floor for sequence numbering. Open still
// resumes after the highest seq on disk when that is larger.
func WithSequenceStart(after uint64) Option {
	return func(s *Store) { s.seq.Advance(after) }
}

// Store is the append-only audit trail: a ring of recent events in memory
// and daily JSONL partitions on disk. Record calls never fail; the ring
// reflects every accepted event whatever happens on disk.
type Store struct {
	cfg     Config
	writer  Appender
	metrics *obs.Metrics
	mirrors []Mirror
	now     func() time.Time

	// mu orders stamping, the ring and the writer queue so that ring order,
	// file order and seq order agree.
	mu   sync.Mutex
	ring *ring
	seq  *obs.Sequencer
}

// New creates a store around an existing writer.
func New(cfg Config, w Appender, opts ...Option) (*Store, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if w == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "audit writer")
	}
	s := &Store{
		cfg:    cfg,
		writer: w,
		now:    time.Now,
		ring:   newRing(cfg.RingSize),
		seq:    obs.NewSequencer(0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Open creates and starts a partition writer for cfg and wraps it in a store.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	w, err := recorder.NewWriter(cfg.Recorder)
	if err != nil {
		return nil, err
	}
	last, err := recorder.LastSeq(ctx, cfg.Recorder.Dir, cfg.Recorder.FilePrefix)
	if err != nil {
		return nil, errors.Wrap(err, "resume sequence")
	}
	s, err := New(cfg, w, opts...)
	if err != nil {
		return nil, err
	}
	s.seq.Advance(last)
	w.WithMetrics(s.metrics)
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	logs.Infof("audit store opened, dir: %s, ring: %d, last seq: %d", cfg.Recorder.Dir, cfg.RingSize, s.seq.Current())
	return s, nil
}

// Config returns the effective configuration.
func (s *Store) Config() Config {
	return s.cfg
}

// LastSeq returns the last sequence number handed out.
func (s *Store) LastSeq() uint64 {
	return s.seq.Current()
}

// Close drains the writer and closes every partition.
func (s *Store) Close() error {
	return s.writer.Close()
}

func (s *Store) RecordMarketData(e schema.MarketDataSnapshot)      { s.record(e) }
func (s *Store) RecordSignal(e schema.SignalEvent)                 { s.record(e) }
func (s *Store) RecordRiskCheck(e schema.RiskCheckEvent)           { s.record(e) }
func (s *Store) RecordOrder(e schema.OrderEvent)                   { s.record(e) }
func (s *Store) RecordFill(e schema.FillEvent)                     { s.record(e) }
func (s *Store) RecordLLMDecision(e schema.LLMDecisionEvent)       { s.record(e) }
func (s *Store) RecordPositionUpdate(e schema.PositionUpdateEvent) { s.record(e) }
func (s *Store) RecordCircuitBreaker(e schema.CircuitBreakerEvent) { s.record(e) }
func (s *Store) RecordSystem(e schema.SystemEvent)                 { s.record(e) }

func (s *Store) record(p schema.Payload) {
	env, err := schema.NewEnvelope(p)
	if err != nil {
		s.metrics.IncValidationError()
		logs.Warnf("drop invalid audit event, err: %+v", err)
		return
	}
	s.Record(env)
}

// Record stamps a validated envelope and appends it. Any seq or id already
// on the envelope is replaced.
func (s *Store) Record(env schema.Envelope) schema.Envelope {
	if env.IsZero() {
		s.metrics.IncValidationError()
		logs.Warnf("drop empty audit envelope")
		return env
	}

	s.mu.Lock()
	stamped := env.WithSequence(s.seq.Next(), id.New(s.now()))
	s.ring.push(stamped)
	err := s.writer.Append(stamped)
	s.mu.Unlock()

	s.metrics.ObserveEvent(stamped.Type())
	if err != nil {
		logs.Warnf("audit event %d kept in memory only, err: %+v", stamped.Seq(), err)
	}
	for _, m := range s.mirrors {
		if err := m.Publish(stamped); err != nil {
			s.metrics.IncMirrorError()
			logs.Warnf("audit mirror rejected event %d, err: %+v", stamped.Seq(), err)
		}
	}
	return stamped
}

// RecentEvents returns up to count of the newest in-memory events, oldest first.
func (s *Store) RecentEvents(count int) []schema.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring.last(count)
}

// Len returns the number of events held in memory.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring.len()
}
