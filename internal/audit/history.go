package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/codec"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema"
	"github.com/CrisisCore-Systems/Autotrader-sub001/pkg/exception"
)

// TradeHistory groups every event of one signal by kind, each bucket in
// query order.
type TradeHistory struct {
	SignalID        string
	Signal          *schema.Envelope
	RiskChecks      []schema.Envelope
	Orders          []schema.Envelope
	Fills           []schema.Envelope
	LLMDecisions    []schema.Envelope
	PositionUpdates []schema.Envelope
}

func newTradeHistory(signalID string) TradeHistory {
	return TradeHistory{
		SignalID:        signalID,
		RiskChecks:      []schema.Envelope{},
		Orders:          []schema.Envelope{},
		Fills:           []schema.Envelope{},
		LLMDecisions:    []schema.Envelope{},
		PositionUpdates: []schema.Envelope{},
	}
}

// Empty reports whether nothing was found for the signal.
func (h TradeHistory) Empty() bool {
	return h.Signal == nil && len(h.RiskChecks) == 0 && len(h.Orders) == 0 &&
		len(h.Fills) == 0 && len(h.LLMDecisions) == 0 && len(h.PositionUpdates) == 0
}

func (h *TradeHistory) add(env schema.Envelope) {
	switch env.Type() {
	case schema.EventSignal:
		if h.Signal == nil {
			h.Signal = &env
		}
	case schema.EventRiskCheck:
		h.RiskChecks = append(h.RiskChecks, env)
	case schema.EventOrder:
		h.Orders = append(h.Orders, env)
	case schema.EventFill:
		h.Fills = append(h.Fills, env)
	case schema.EventLLMDecision:
		h.LLMDecisions = append(h.LLMDecisions, env)
	case schema.EventPositionUpdate:
		h.PositionUpdates = append(h.PositionUpdates, env)
	}
}

type tradeHistoryJSON struct {
	SignalID        string            `json:"signal_id"`
	Signal          json.RawMessage   `json:"signal"`
	RiskChecks      []json.RawMessage `json:"risk_checks"`
	Orders          []json.RawMessage `json:"orders"`
	Fills           []json.RawMessage `json:"fills"`
	LLMDecisions    []json.RawMessage `json:"llm_decisions"`
	PositionUpdates []json.RawMessage `json:"position_updates"`
}

// MarshalJSON encodes each event in its audit line shape.
func (h TradeHistory) MarshalJSON() ([]byte, error) {
	out := tradeHistoryJSON{SignalID: h.SignalID, Signal: json.RawMessage("null")}
	if h.Signal != nil {
		b, err := codec.Marshal(*h.Signal)
		if err != nil {
			return nil, err
		}
		out.Signal = b
	}
	var err error
	buckets := []struct {
		dst *[]json.RawMessage
		src []schema.Envelope
	}{
		{&out.RiskChecks, h.RiskChecks},
		{&out.Orders, h.Orders},
		{&out.Fills, h.Fills},
		{&out.LLMDecisions, h.LLMDecisions},
		{&out.PositionUpdates, h.PositionUpdates},
	}
	for _, b := range buckets {
		if *b.dst, err = codec.RawMessages(b.src); err != nil {
			return nil, err
		}
	}
	return sonic.ConfigStd.Marshal(out)
}

// ReconstructTradeHistory collects the events of one signal for forensic
// replay. Fills that carry only an order id are linked
// through the signal's orders.
func (s *Store) ReconstructTradeHistory(ctx context.Context, signalID string) (TradeHistory, error) {
	if signalID == "" {
		return TradeHistory{}, errors.Wrap(exception.ErrInvalidArgument, "signal id is empty")
	}
	h := newTradeHistory(signalID)
	orders := make(map[string]struct{})
	err := s.scan(ctx, time.Time{}, time.Time{}, func(env schema.Envelope) error {
		if env.SignalID() == signalID {
			if env.Type() == schema.EventOrder {
				orders[env.OrderID()] = struct{}{}
			}
			h.add(env)
			return nil
		}
		if env.SignalID() != "" {
			return nil
		}
		if oid := env.OrderID(); oid != "" {
			if _, ok := orders[oid]; ok {
				h.add(env)
			}
		}
		return nil
	})
	if err != nil {
		return TradeHistory{}, err
	}
	return h, nil
}
