// Package schematest builds valid payloads for tests.
package schematest

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// Time returns a fixed UTC timestamp offset by the given number of minutes.
func Time(minutes int) time.Time {
	return time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC).Add(time.Duration(minutes) * time.Minute)
}

func MarketData(ts time.Time, instrument string) schema.MarketDataSnapshot {
	return schema.MarketDataSnapshot{
		Timestamp:  ts,
		Instrument: instrument,
		Bid:        d("64999.5"),
		Ask:        d("65000.5"),
		Last:       d("65000"),
		BidSize:    d("1.25"),
		AskSize:    d("0.75"),
		Volume:     d("1234.5"),
		Source:     "sim",
	}
}

func Signal(ts time.Time, signalID, instrument string) schema.SignalEvent {
	return schema.SignalEvent{
		Timestamp:  ts,
		SignalID:   signalID,
		Instrument: instrument,
		Strategy:   "ema_cross",
		Direction:  schema.DirectionLong,
		Strength:   0.8,
		Confidence: 0.65,
		Features:   map[string]float64{"ema_fast": 64950.25, "rsi": 61.5},
		Metadata:   map[string]string{"timeframe": "1m"},
	}
}

func RiskCheck(ts time.Time, signalID, instrument string, decision schema.RiskDecision) schema.RiskCheckEvent {
	status := schema.CheckPass
	if decision == schema.RiskReject {
		status = schema.CheckFail
	}
	return schema.RiskCheckEvent{
		Timestamp:  ts,
		SignalID:   signalID,
		Instrument: instrument,
		Checks: []schema.RiskCheckResult{
			{Name: "max_position", Status: schema.CheckPass, Value: 1, Limit: 5},
			{Name: "daily_loss", Status: status, Value: 12000, Limit: 10000, Message: "limit check"},
		},
		Decision: decision,
		Reason:   "evaluated",
	}
}

func Order(ts time.Time, orderID, signalID, instrument string) schema.OrderEvent {
	return schema.OrderEvent{
		Timestamp:  ts,
		OrderID:    orderID,
		SignalID:   signalID,
		Instrument: instrument,
		Side:       schema.SideBuy,
		Type:       schema.OrderTypeLimit,
		Quantity:   d("0.5"),
		Price:      decimal.NewNullDecimal(d("65000")),
		Status:     "submitted",
		Venue:      "sim",
		LatencyMS:  12.5,
	}
}

func Fill(ts time.Time, fillID, orderID, signalID, instrument string) schema.FillEvent {
	return schema.FillEvent{
		Timestamp:   ts,
		FillID:      fillID,
		OrderID:     orderID,
		SignalID:    signalID,
		Instrument:  instrument,
		Side:        schema.SideBuy,
		Quantity:    d("0.5"),
		Price:       d("65001"),
		Fee:         d("3.25"),
		SlippageBps: 1.5,
		Venue:       "sim",
	}
}

func LLMDecision(ts time.Time, decisionID, signalID string) schema.LLMDecisionEvent {
	return schema.LLMDecisionEvent{
		Timestamp:        ts,
		DecisionID:       decisionID,
		SignalID:         signalID,
		Instrument:       "BTC/USD",
		Model:            "gpt-4o-mini",
		Decision:         "enter_long",
		Confidence:       0.7,
		Rationale:        "trend continuation",
		PromptTokens:     812,
		CompletionTokens: 64,
		LatencyMS:        950,
	}
}

func PositionUpdate(ts time.Time, instrument string, realized string) schema.PositionUpdateEvent {
	return schema.PositionUpdateEvent{
		Timestamp:        ts,
		Instrument:       instrument,
		PreviousQuantity: d("0"),
		NewQuantity:      d("0.5"),
		AveragePrice:     d("65001"),
		UnrealizedPnL:    decimal.Zero,
		RealizedPnL:      d(realized),
		Reason:           "fill",
	}
}

func CircuitBreaker(ts time.Time, action schema.BreakerAction) schema.CircuitBreakerEvent {
	return schema.CircuitBreakerEvent{
		Timestamp: ts,
		Breaker:   "daily_loss",
		Action:    action,
		Reason:    "daily loss limit breached",
		Metric:    "daily_pnl",
		Value:     -12000,
		Threshold: -10000,
	}
}

func System(ts time.Time, action string) schema.SystemEvent {
	return schema.SystemEvent{
		Timestamp: ts,
		Component: "aggregator",
		Action:    action,
		Actor:     "ops",
		Message:   "manual",
	}
}

// All returns one valid payload of every kind, all tied to signalID.
func All(ts time.Time, signalID string) []schema.Payload {
	p := PositionUpdate(ts, "BTC/USD", "12.5")
	p.SignalID = signalID
	return []schema.Payload{
		MarketData(ts, "BTC/USD"),
		Signal(ts, signalID, "BTC/USD"),
		RiskCheck(ts, signalID, "BTC/USD", schema.RiskApprove),
		Order(ts, "ord-1", signalID, "BTC/USD"),
		Fill(ts, "fill-1", "ord-1", signalID, "BTC/USD"),
		LLMDecision(ts, "llm-1", signalID),
		p,
		CircuitBreaker(ts, schema.BreakerWarn),
		System(ts, "reset_circuit_breaker"),
	}
}
