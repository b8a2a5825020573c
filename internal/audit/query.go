package audit

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/recorder"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema"
	"github.com/CrisisCore-Systems/Autotrader-sub001/pkg/exception"
)

// DateLayout is the bare UTC date form accepted by ParseBound.
const DateLayout = "2006-01-02"

// ParseBound parses a range bound given as RFC 3339 or a bare UTC date. An
// empty value is an open bound. A bare date used as an end bound covers the
// whole day.
func ParseBound(v string, end bool) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(DateLayout, v)
	if err != nil {
		return time.Time{}, errors.Wrapf(exception.ErrInvalidArgument, "invalid time %q, want RFC 3339 or %s", v, DateLayout)
	}
	if end {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

// Filter selects events. Every non-zero field must match. Start and End are
// inclusive and compared as instants.
type Filter struct {
	EventType  schema.EventType
	Start      time.Time
	End        time.Time
	Instrument string
	SignalID   string
	OrderID    string
	// Limit stops the scan after that many matches; 0 means no limit.
	Limit int
}

// Validate rejects filters that can never match.
func (f Filter) Validate() error {
	if f.EventType != "" && !f.EventType.Valid() {
		return errors.Wrapf(exception.ErrInvalidArgument, "unknown event type %q", f.EventType)
	}
	if !f.Start.IsZero() && !f.End.IsZero() && f.End.Before(f.Start) {
		return errors.Wrap(exception.ErrInvalidArgument, "end is before start")
	}
	if f.Limit < 0 {
		return errors.Wrap(exception.ErrInvalidArgument, "limit must be >= 0")
	}
	return nil
}

// Ranged reports whether the filter bounds time on either side.
func (f Filter) Ranged() bool {
	return !f.Start.IsZero() || !f.End.IsZero()
}

// Match reports whether env satisfies every supplied criterion.
func (f Filter) Match(env schema.Envelope) bool {
	if f.EventType != "" && env.Type() != f.EventType {
		return false
	}
	ts := env.Timestamp()
	if !f.Start.IsZero() && ts.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && ts.After(f.End) {
		return false
	}
	if f.Instrument != "" && env.Instrument() != f.Instrument {
		return false
	}
	if f.SignalID != "" && env.SignalID() != f.SignalID {
		return false
	}
	if f.OrderID != "" && env.OrderID() != f.OrderID {
		return false
	}
	return true
}

// QueryEvents returns matching events from disk in partition then line
// order. Results are neither time-sorted across partitions nor deduplicated.
// Events recorded before the call are visible to it.
func (s *Store) QueryEvents(ctx context.Context, f Filter) ([]schema.Envelope, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	out := []schema.Envelope{}
	err := s.scan(ctx, f.Start, f.End, func(env schema.Envelope) error {
		if !f.Match(env) {
			return nil
		}
		out = append(out, env)
		if f.Limit > 0 && len(out) >= f.Limit {
			return recorder.ErrStopScan
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// scan flushes pending writes and visits every envelope of the partitions
// covering [start, end]. Without a range only the newest MaxScanDays
// partitions are read.
func (s *Store) scan(ctx context.Context, start, end time.Time, fn func(schema.Envelope) error) error {
	begin := time.Now()
	defer func() { s.metrics.ObserveQuery(time.Since(begin)) }()

	if err := s.writer.Flush(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logs.Warnf("audit query could not flush writer, err: %+v", err)
	}

	rc := s.cfg.Recorder
	parts, err := recorder.PartitionsBetween(rc.Dir, rc.FilePrefix, start, end)
	if err != nil {
		return err
	}
	if start.IsZero() && end.IsZero() && s.cfg.MaxScanDays > 0 && len(parts) > s.cfg.MaxScanDays {
		logs.Debugf("audit query without range reads the newest %d of %d partitions", s.cfg.MaxScanDays, len(parts))
		parts = recorder.Latest(parts, s.cfg.MaxScanDays)
	}

	return recorder.ScanPartitions(ctx, parts, recorder.ScanOptions{OnParseError: s.onParseError}, fn)
}

func (s *Store) onParseError(err *exception.QueryParseError) {
	s.metrics.IncParseError()
	logs.Warnf("skip malformed audit line, err: %+v", err)
}
