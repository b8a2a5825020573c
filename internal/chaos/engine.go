package chaos

import (
	"math/rand"
	"time"

	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema"
	"github.com/CrisisCore-Systems/Autotrader-sub001/pkg/exception"
)

// Config controls how a replayed stream is perturbed.
type Config struct {
	Seed          int64   `json:"seed" yaml:"seed"`
	DropRate      float64 `json:"drop_rate" yaml:"drop_rate"`
	DuplicateRate float64 `json:"duplicate_rate" yaml:"duplicate_rate"`
	// ReorderWindow > 1 holds that many envelopes and releases a random one.
	ReorderWindow int `json:"reorder_window" yaml:"reorder_window"`
}

// Enabled reports whether the config perturbs anything.
func (c Config) Enabled() bool {
	return c.DropRate > 0 || c.DuplicateRate > 0 || c.ReorderWindow > 1
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	if c.DropRate < 0 || c.DropRate > 1 {
		return &exception.ConfigurationError{Field: "chaos.drop_rate", Reason: "must be between 0 and 1"}
	}
	if c.DuplicateRate < 0 || c.DuplicateRate > 1 {
		return &exception.ConfigurationError{Field: "chaos.duplicate_rate", Reason: "must be between 0 and 1"}
	}
	if c.ReorderWindow <= 0 {
		return &exception.ConfigurationError{Field: "chaos.reorder_window", Reason: "must be >= 1"}
	}
	return nil
}

// Stats counts what the engine did.
type Stats struct {
	Seen       uint64 `json:"seen"`
	Dropped    uint64 `json:"dropped"`
	Duplicated uint64 `json:"duplicated"`
	Emitted    uint64 `json:"emitted"`
}

// Engine applies chaos rules to envelopes. It is not safe for concurrent use.
type Engine struct {
	cfg     Config
	rng     *rand.Rand
	pending []schema.Envelope
	stats   Stats
}

// NewEngine creates a chaos engine with validation. A zero seed is replaced
// by the current time.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.ReorderWindow <= 0 {
		cfg.ReorderWindow = 1
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	return &Engine{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Stats returns the counters so far.
func (e *Engine) Stats() Stats {
	if e == nil {
		return Stats{}
	}
	return e.stats
}

// Process applies chaos to a single envelope and returns any output envelopes.
func (e *Engine) Process(env schema.Envelope) []schema.Envelope {
	if e == nil {
		return []schema.Envelope{env}
	}
	e.stats.Seen++
	if e.shouldDrop() {
		e.stats.Dropped++
		return nil
	}
	if e.cfg.ReorderWindow <= 1 {
		return e.applyDuplicate(env)
	}
	e.pending = append(e.pending, env)
	if len(e.pending) < e.cfg.ReorderWindow {
		return nil
	}
	return e.applyDuplicate(e.takeRandom())
}

// Flush returns any buffered envelopes after processing completes.
func (e *Engine) Flush() []schema.Envelope {
	if e == nil || len(e.pending) == 0 {
		return nil
	}
	out := make([]schema.Envelope, 0, len(e.pending))
	for len(e.pending) > 0 {
		out = append(out, e.applyDuplicate(e.takeRandom())...)
	}
	return out
}

func (e *Engine) takeRandom() schema.Envelope {
	idx := e.rng.Intn(len(e.pending))
	env := e.pending[idx]
	e.pending = append(e.pending[:idx], e.pending[idx+1:]...)
	return env
}

func (e *Engine) shouldDrop() bool {
	return e.cfg.DropRate > 0 && e.rng.Float64() < e.cfg.DropRate
}

func (e *Engine) applyDuplicate(env schema.Envelope) []schema.Envelope {
	out := []schema.Envelope{env}
	if e.cfg.DuplicateRate > 0 && e.rng.Float64() < e.cfg.DuplicateRate {
		out = append(out, env)
		e.stats.Duplicated++
	}
	e.stats.Emitted += uint64(len(out))
	return out
}
