package chaos

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema/schematest"
	"github.com/CrisisCore-Systems/Autotrader-sub001/pkg/exception"
)

func stream(n int) []schema.Envelope {
	out := make([]schema.Envelope, n)
	for i := range out {
		out[i] = schema.MustEnvelope(schematest.System(schematest.Time(i), "tick")).WithSequence(uint64(i+1), "")
	}
	return out
}

func run(t *testing.T, cfg Config, in []schema.Envelope) ([]uint64, Stats) {
	t.Helper()
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	var seqs []uint64
	for _, env := range in {
		for _, out := range e.Process(env) {
			seqs = append(seqs, out.Seq())
		}
	}
	for _, out := range e.Flush() {
		seqs = append(seqs, out.Seq())
	}
	return seqs, e.Stats()
}

func TestPassThrough(t *testing.T) {
	seqs, stats := run(t, Config{Seed: 1}, stream(20))
	require.Len(t, seqs, 20)
	for i, s := range seqs {
		assert.Equal(t, uint64(i+1), s)
	}
	assert.Equal(t, Stats{Seen: 20, Emitted: 20}, stats)
}

func TestDeterministicBySeed(t *testing.T) {
	cfg := Config{Seed: 42, DropRate: 0.2, DuplicateRate: 0.2, ReorderWindow: 4}
	a, statsA := run(t, cfg, stream(200))
	b, statsB := run(t, cfg, stream(200))
	assert.Equal(t, a, b)
	assert.Equal(t, statsA, statsB)
	assert.Equal(t, uint64(200), statsA.Seen)
	assert.Equal(t, statsA.Seen-statsA.Dropped+statsA.Duplicated, statsA.Emitted)
	assert.Len(t, a, int(statsA.Emitted))
}

func TestReorderKeepsEverything(t *testing.T) {
	seqs, _ := run(t, Config{Seed: 9, ReorderWindow: 5}, stream(50))
	require.Len(t, seqs, 50)
	seen := map[uint64]bool{}
	inOrder := true
	for i, s := range seqs {
		seen[s] = true
		if s != uint64(i+1) {
			inOrder = false
		}
	}
	assert.Len(t, seen, 50)
	assert.False(t, inOrder)
}

func TestNilEngineIsIdentity(t *testing.T) {
	var e *Engine
	in := stream(1)[0]
	assert.Equal(t, []schema.Envelope{in}, e.Process(in))
	assert.Nil(t, e.Flush())
}

func TestConfigValidate(t *testing.T) {
	_, err := NewEngine(Config{DropRate: 1.5})
	assert.True(t, errors.Is(err, exception.ErrConfiguration))
	_, err = NewEngine(Config{DuplicateRate: -0.1})
	assert.True(t, errors.Is(err, exception.ErrConfiguration))
	assert.False(t, Config{ReorderWindow: 1}.Enabled())
	assert.True(t, Config{ReorderWindow: 3}.Enabled())
}
