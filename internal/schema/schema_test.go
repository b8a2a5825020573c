package schema_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema/schematest"
	"github.com/CrisisCore-Systems/Autotrader-sub001/pkg/exception"
)

func TestNewEnvelopeDerivesType(t *testing.T) {
	for _, p := range schematest.All(schematest.Time(0), "sig-1") {
		env, err := schema.NewEnvelope(p)
		require.NoError(t, err)
		assert.Equal(t, p.EventType(), env.Type())
		assert.True(t, env.Type().Valid())
	}
	assert.Len(t, schema.EventTypes, 9)
}

func TestNewEnvelopeFailsFast(t *testing.T) {
	fill := schematest.Fill(schematest.Time(0), "f-1", "o-1", "s-1", "BTC/USD")
	fill.OrderID = ""
	_, err := schema.NewEnvelope(fill)
	require.Error(t, err)

	var verr *exception.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "order_id", verr.Field)
	assert.True(t, errors.Is(err, exception.ErrValidation))

	sig := schematest.Signal(time.Time{}, "s-1", "BTC/USD")
	_, err = schema.NewEnvelope(sig)
	require.Error(t, err)

	_, err = schema.NewEnvelope(nil)
	require.Error(t, err)
}

func TestEnvelopeIsImmutable(t *testing.T) {
	sig := schematest.Signal(schematest.Time(0), "s-1", "BTC/USD")
	env := schema.MustEnvelope(sig)

	sig.Features["rsi"] = 1
	got := env.Payload().(schema.SignalEvent)
	assert.Equal(t, 61.5, got.Features["rsi"])

	got.Features["rsi"] = 2
	again := env.Payload().(schema.SignalEvent)
	assert.Equal(t, 61.5, again.Features["rsi"])
}

func TestEnvelopeFilterAccessors(t *testing.T) {
	ts := schematest.Time(0)
	fill := schema.MustEnvelope(schematest.Fill(ts, "f-1", "o-9", "s-3", "ETH/USD"))
	assert.Equal(t, "ETH/USD", fill.Instrument())
	assert.Equal(t, "s-3", fill.SignalID())
	assert.Equal(t, "o-9", fill.OrderID())

	cb := schema.MustEnvelope(schematest.CircuitBreaker(ts, schema.BreakerHalt))
	assert.Empty(t, cb.Instrument())
	assert.Empty(t, cb.SignalID())
	assert.Empty(t, cb.OrderID())
}

func TestRestoreRejectsMismatchedType(t *testing.T) {
	_, err := schema.Restore(schema.EventOrder, 1, "x", schematest.System(schematest.Time(0), "reset"))
	require.Error(t, err)

	env, err := schema.Restore(schema.EventSystem, 3, "x", schematest.System(schematest.Time(0), "reset"))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), env.Seq())
}

func TestMarketOrderNeedsNoPrice(t *testing.T) {
	o := schematest.Order(schematest.Time(0), "o-1", "s-1", "BTC/USD")
	o.Type = schema.OrderTypeMarket
	o.Price.Valid = false
	_, err := schema.NewEnvelope(o)
	require.NoError(t, err)

	o.Type = schema.OrderTypeLimit
	_, err = schema.NewEnvelope(o)
	require.Error(t, err)
}

func TestBreakerActionTrips(t *testing.T) {
	assert.True(t, schema.BreakerHalt.Trips())
	assert.True(t, schema.BreakerReduce.Trips())
	assert.False(t, schema.BreakerWarn.Trips())
	assert.False(t, schema.BreakerResume.Trips())
}
