package codec

import (
	"bytes"
	"encoding/json"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema"
	"github.com/CrisisCore-Systems/Autotrader-sub001/pkg/exception"
)

var api = sonic.ConfigStd

// record is the on-disk shape of one audit line.
type record struct {
	EventType schema.EventType `json:"event_type"`
	Seq       uint64           `json:"seq,omitempty"`
	EventID   string           `json:"event_id,omitempty"`
	Data      schema.Payload   `json:"data"`
}

type rawRecord struct {
	EventType schema.EventType `json:"event_type"`
	Seq       uint64           `json:"seq"`
	EventID   string           `json:"event_id"`
	Data      json.RawMessage  `json:"data"`
}

// Marshal encodes an envelope as a single JSON object.
func Marshal(env schema.Envelope) ([]byte, error) {
	if env.IsZero() {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "marshal empty envelope")
	}
	return api.Marshal(record{
		EventType: env.Type(),
		Seq:       env.Seq(),
		EventID:   env.ID(),
		Data:      env.Payload(),
	})
}

// EncodeLine encodes an envelope as one newline-terminated JSON line.
func EncodeLine(env schema.Envelope) ([]byte, error) {
	b, err := Marshal(env)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// DecodeLine parses one JSON line. Any failure is a QueryParseError.
func DecodeLine(line []byte) (schema.Envelope, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return schema.Envelope{}, parseErr(errors.New("empty line"))
	}
	var raw rawRecord
	if err := api.Unmarshal(line, &raw); err != nil {
		return schema.Envelope{}, parseErr(err)
	}
	if len(raw.Data) == 0 || bytes.Equal(raw.Data, []byte("null")) {
		return schema.Envelope{}, parseErr(errors.New("missing data"))
	}
	payload, err := decodePayload(raw.EventType, raw.Data)
	if err != nil {
		return schema.Envelope{}, parseErr(err)
	}
	env, err := schema.Restore(raw.EventType, raw.Seq, raw.EventID, payload)
	if err != nil {
		return schema.Envelope{}, parseErr(err)
	}
	return env, nil
}

func decodePayload(t schema.EventType, data []byte) (schema.Payload, error) {
	switch t {
	case schema.EventMarketData:
		return decodeAs[schema.MarketDataSnapshot](data)
	case schema.EventSignal:
		return decodeAs[schema.SignalEvent](data)
	case schema.EventRiskCheck:
		return decodeAs[schema.RiskCheckEvent](data)
	case schema.EventOrder:
		return decodeAs[schema.OrderEvent](data)
	case schema.EventFill:
		return decodeAs[schema.FillEvent](data)
	case schema.EventLLMDecision:
		return decodeAs[schema.LLMDecisionEvent](data)
	case schema.EventPositionUpdate:
		return decodeAs[schema.PositionUpdateEvent](data)
	case schema.EventCircuitBreaker:
		return decodeAs[schema.CircuitBreakerEvent](data)
	case schema.EventSystem:
		return decodeAs[schema.SystemEvent](data)
	default:
		return nil, errors.New("unknown event_type " + string(t))
	}
}

func decodeAs[T schema.Payload](data []byte) (schema.Payload, error) {
	var p T
	if err := api.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return p, nil
}

// RawMessages encodes envelopes for embedding in larger JSON documents.
func RawMessages(envs []schema.Envelope) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(envs))
	for _, env := range envs {
		b, err := Marshal(env)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func parseErr(err error) error {
	return &exception.QueryParseError{Err: err}
}
