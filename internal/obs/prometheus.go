package obs

import (
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "autotrader"

// SeriesFunc produces a flat metric-name to value map, such as a dashboard snapshot.
type SeriesFunc func() map[string]float64

// Collector exposes audit counters and dashboard series to Prometheus.
// Series names are only known at scrape time, so the collector is unchecked.
type Collector struct {
	metrics *Metrics
	series  map[string]SeriesFunc

	eventsDesc *prometheus.Desc
	counters   []counterDesc
}

type counterDesc struct {
	desc *prometheus.Desc
	get  func(Snapshot) uint64
}

// NewCollector builds a collector. Each series source is exported under
// autotrader_<subsystem>_<sanitized name>.
func NewCollector(metrics *Metrics, series map[string]SeriesFunc) *Collector {
	c := &Collector{
		metrics: metrics,
		series:  series,
		eventsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "audit", "events_total"),
			"Events accepted by the audit trail", []string{"event_type"}, nil),
	}
	add := func(name, help string, get func(Snapshot) uint64) {
		c.counters = append(c.counters, counterDesc{
			desc: prometheus.NewDesc(prometheus.BuildFQName(namespace, "audit", name), help, nil, nil),
			get:  get,
		})
	}
	add("queue_drops_total", "Records dropped by the writer overflow policy", func(s Snapshot) uint64 { return s.QueueDrops })
	add("queue_closed_total", "Records appended after the writer closed", func(s Snapshot) uint64 { return s.QueueClosed })
	add("write_errors_total", "Failed partition appends", func(s Snapshot) uint64 { return s.WriteErrors })
	add("parse_errors_total", "Malformed lines skipped by queries", func(s Snapshot) uint64 { return s.ParseErrors })
	add("validation_errors_total", "Events rejected at construction", func(s Snapshot) uint64 { return s.ValidationErrors })
	add("mirror_errors_total", "Failed secondary index writes", func(s Snapshot) uint64 { return s.MirrorErrors })
	add("lines_written_total", "Lines appended to partitions", func(s Snapshot) uint64 { return s.LinesWritten })
	add("bytes_written_total", "Bytes appended to partitions", func(s Snapshot) uint64 { return s.BytesWritten })
	return c
}

// Describe sends nothing: the collector is unchecked.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.metrics != nil {
		snap := c.metrics.Snapshot()
		for t, v := range snap.EventCounts {
			ch <- prometheus.MustNewConstMetric(c.eventsDesc, prometheus.CounterValue, float64(v), string(t))
		}
		for _, counter := range c.counters {
			ch <- prometheus.MustNewConstMetric(counter.desc, prometheus.CounterValue, float64(counter.get(snap)))
		}
	}

	subsystems := make([]string, 0, len(c.series))
	for name := range c.series {
		subsystems = append(subsystems, name)
	}
	sort.Strings(subsystems)
	for _, subsystem := range subsystems {
		fn := c.series[subsystem]
		if fn == nil {
			continue
		}
		seen := make(map[string]struct{})
		for key, value := range fn() {
			name := prometheus.BuildFQName(namespace, SanitizeName(subsystem), SanitizeName(key))
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			desc := prometheus.NewDesc(name, "Dashboard series "+key, nil, nil)
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, value)
		}
	}
}

// SanitizeName maps a series key onto the Prometheus metric name alphabet.
func SanitizeName(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for i, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
