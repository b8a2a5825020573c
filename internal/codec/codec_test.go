package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema/schematest"
	"github.com/CrisisCore-Systems/Autotrader-sub001/pkg/exception"
)

func TestEncodeDecodeRoundTripAllKinds(t *testing.T) {
	for _, p := range schematest.All(schematest.Time(0), "sig-1") {
		t.Run(string(p.EventType()), func(t *testing.T) {
			env := schema.MustEnvelope(p).WithSequence(7, "01HTEST")

			line, err := EncodeLine(env)
			require.NoError(t, err)
			require.Equal(t, byte('\n'), line[len(line)-1])

			decoded, err := DecodeLine(line)
			require.NoError(t, err)
			assert.Equal(t, env.Type(), decoded.Type())
			assert.Equal(t, uint64(7), decoded.Seq())
			assert.Equal(t, "01HTEST", decoded.ID())
			assert.True(t, env.Timestamp().Equal(decoded.Timestamp()))
			assert.Equal(t, env.Instrument(), decoded.Instrument())
			assert.Equal(t, env.SignalID(), decoded.SignalID())
			assert.Equal(t, env.OrderID(), decoded.OrderID())

			again, err := EncodeLine(decoded)
			require.NoError(t, err)
			assert.Equal(t, string(line), string(again))
		})
	}
}

func TestDecodeFillKeepsDecimals(t *testing.T) {
	fill := schematest.Fill(schematest.Time(0), "f-1", "o-1", "s-1", "ETH/USD")
	line, err := EncodeLine(schema.MustEnvelope(fill))
	require.NoError(t, err)

	env, err := DecodeLine(line)
	require.NoError(t, err)
	got, ok := env.Payload().(schema.FillEvent)
	require.True(t, ok)
	assert.True(t, fill.Price.Equal(got.Price))
	assert.True(t, fill.Fee.Equal(got.Fee))
	assert.True(t, fill.Quantity.Equal(got.Quantity))
	assert.Equal(t, fill.SlippageBps, got.SlippageBps)
}

func TestEncodeLineLayout(t *testing.T) {
	env := schema.MustEnvelope(schematest.System(schematest.Time(0), "reset"))
	line, err := EncodeLine(env)
	require.NoError(t, err)
	assert.Equal(t,
		`{"event_type":"system","data":{"timestamp":"2024-03-15T14:00:00Z","component":"aggregator","action":"reset","actor":"ops","message":"manual"}}`+"\n",
		string(line))
}

func TestDecodeLineRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"empty":        "",
		"not json":     "{oops",
		"unknown type": `{"event_type":"bogus","data":{"timestamp":"2024-03-15T14:00:00Z"}}`,
		"no data":      `{"event_type":"signal"}`,
		"invalid":      `{"event_type":"signal","data":{"timestamp":"2024-03-15T14:00:00Z"}}`,
	}
	for name, line := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeLine([]byte(line))
			require.Error(t, err)
			assert.True(t, errors.Is(err, exception.ErrQueryParse))
		})
	}
}

func TestMarshalRejectsZeroEnvelope(t *testing.T) {
	_, err := Marshal(schema.Envelope{})
	require.Error(t, err)
}
