package recorder

import (
	"context"
	"time"

	"github.com/yanun0323/errors"

	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema"
	"github.com/CrisisCore-Systems/Autotrader-sub001/pkg/exception"
)

// PlaybackConfig controls partition playback.
type PlaybackConfig struct {
	Dir        string
	FilePrefix string
	// From and To bound the partitions by UTC day; zero leaves a side open.
	From time.Time
	To   time.Time
	// Speed > 0 paces delivery by event timestamps; 2 replays twice as fast.
	Speed        float64
	OnParseError func(*exception.QueryParseError)
}

// Clock allows deterministic playback control.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Playback replays audit partitions in day order, then line order.
type Playback struct {
	cfg   PlaybackConfig
	clock Clock
}

// NewPlayback validates the config and creates a playback engine.
func NewPlayback(cfg PlaybackConfig) (*Playback, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Playback{cfg: cfg, clock: realClock{}}, nil
}

// WithClock swaps the clock implementation.
func (p *Playback) WithClock(clock Clock) *Playback {
	if clock != nil {
		p.clock = clock
	}
	return p
}

func (c PlaybackConfig) withDefaults() PlaybackConfig {
	if c.FilePrefix == "" {
		c.FilePrefix = defaultFilePrefix
	}
	return c
}

// Validate checks if the config is usable.
func (c PlaybackConfig) Validate() error {
	if c.Dir == "" {
		return &exception.ConfigurationError{Field: "playback.dir", Reason: "is empty"}
	}
	if c.Speed < 0 {
		return &exception.ConfigurationError{Field: "playback.speed", Reason: "must be >= 0"}
	}
	if !c.From.IsZero() && !c.To.IsZero() && c.To.Before(c.From) {
		return &exception.ConfigurationError{Field: "playback.to", Reason: "is before from"}
	}
	return nil
}

// Run replays every envelope and calls the handler for each one.
// A handler error stops playback and is returned.
func (p *Playback) Run(ctx context.Context, handler func(schema.Envelope) error) error {
	if handler == nil {
		return errors.Wrap(exception.ErrNilInstance, "playback handler")
	}
	parts, err := PartitionsBetween(p.cfg.Dir, p.cfg.FilePrefix, p.cfg.From, p.cfg.To)
	if err != nil {
		return err
	}

	var prev time.Time
	opts := ScanOptions{OnParseError: p.cfg.OnParseError}
	for _, part := range parts {
		err := ScanFile(ctx, part.Path, opts, func(env schema.Envelope) error {
			if err := p.pace(ctx, env.Timestamp(), &prev); err != nil {
				return err
			}
			return handler(env)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Playback) pace(ctx context.Context, ts time.Time, prev *time.Time) error {
	if p.cfg.Speed <= 0 || ts.IsZero() {
		return nil
	}
	if !prev.IsZero() {
		if delta := ts.Sub(*prev); delta > 0 {
			sleep := time.Duration(float64(delta) / p.cfg.Speed)
			if err := p.clock.Sleep(ctx, sleep); err != nil {
				return err
			}
		}
	}
	*prev = ts
	return nil
}
