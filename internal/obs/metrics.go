package obs

import (
	"sync/atomic"
	"time"

	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema"
)

// Metrics collects lightweight counters for the audit trail hot path.
type Metrics struct {
	eventCounts      [16]uint64
	queueDrops       uint64
	queueClosed      uint64
	writeErrors      uint64
	parseErrors      uint64
	validationErrors uint64
	mirrorErrors     uint64
	linesWritten     uint64
	bytesWritten     uint64

	appendLatency LatencyStats
	flushLatency  LatencyStats
	queryLatency  LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64        `json:"count"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Avg   time.Duration `json:"avg"`
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	EventCounts      map[schema.EventType]uint64 `json:"event_counts"`
	QueueDrops       uint64                      `json:"queue_drops"`
	QueueClosed      uint64                      `json:"queue_closed"`
	WriteErrors      uint64                      `json:"write_errors"`
	ParseErrors      uint64                      `json:"parse_errors"`
	ValidationErrors uint64                      `json:"validation_errors"`
	MirrorErrors     uint64                      `json:"mirror_errors"`
	LinesWritten     uint64                      `json:"lines_written"`
	BytesWritten     uint64                      `json:"bytes_written"`
	AppendLatency    LatencySnapshot             `json:"append_latency"`
	FlushLatency     LatencySnapshot             `json:"flush_latency"`
	QueryLatency     LatencySnapshot             `json:"query_latency"`
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

func eventIndex(t schema.EventType) int {
	for i, known := range schema.EventTypes {
		if known == t {
			return i
		}
	}
	return -1
}

// ObserveEvent counts an accepted event by type.
func (m *Metrics) ObserveEvent(t schema.EventType) {
	if m == nil {
		return
	}
	if idx := eventIndex(t); idx >= 0 && idx < len(m.eventCounts) {
		atomic.AddUint64(&m.eventCounts[idx], 1)
	}
}

// IncQueueDrop records a record dropped by the writer's overflow policy.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueDrops, 1)
}

// IncQueueClosed records an append attempted after the writer closed.
func (m *Metrics) IncQueueClosed() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueClosed, 1)
}

func (m *Metrics) IncWriteError() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.writeErrors, 1)
}

func (m *Metrics) IncParseError() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.parseErrors, 1)
}

func (m *Metrics) IncValidationError() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.validationErrors, 1)
}

func (m *Metrics) IncMirrorError() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.mirrorErrors, 1)
}

// ObserveWrite counts one line appended to a partition.
func (m *Metrics) ObserveWrite(bytes int, queued time.Duration) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.linesWritten, 1)
	atomic.AddUint64(&m.bytesWritten, uint64(bytes))
	m.appendLatency.Observe(queued)
}

func (m *Metrics) ObserveFlush(d time.Duration) {
	if m == nil {
		return
	}
	m.flushLatency.Observe(d)
}

func (m *Metrics) ObserveQuery(d time.Duration) {
	if m == nil {
		return
	}
	m.queryLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{EventCounts: map[schema.EventType]uint64{}}
	}
	eventCounts := make(map[schema.EventType]uint64)
	for i, t := range schema.EventTypes {
		if i >= len(m.eventCounts) {
			break
		}
		if v := atomic.LoadUint64(&m.eventCounts[i]); v > 0 {
			eventCounts[t] = v
		}
	}
	return Snapshot{
		EventCounts:      eventCounts,
		QueueDrops:       atomic.LoadUint64(&m.queueDrops),
		QueueClosed:      atomic.LoadUint64(&m.queueClosed),
		WriteErrors:      atomic.LoadUint64(&m.writeErrors),
		ParseErrors:      atomic.LoadUint64(&m.parseErrors),
		ValidationErrors: atomic.LoadUint64(&m.validationErrors),
		MirrorErrors:     atomic.LoadUint64(&m.mirrorErrors),
		LinesWritten:     atomic.LoadUint64(&m.linesWritten),
		BytesWritten:     atomic.LoadUint64(&m.bytesWritten),
		AppendLatency:    m.appendLatency.Snapshot(),
		FlushLatency:     m.flushLatency.Snapshot(),
		QueryLatency:     m.queryLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
