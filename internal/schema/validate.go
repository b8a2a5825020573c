package schema

import (
	"strings"
	"time"

	"github.com/CrisisCore-Systems/Autotrader-sub001/pkg/exception"
)

func invalid(kind, field, reason string) error {
	return &exception.ValidationError{Kind: kind, Field: field, Reason: reason}
}

type validator struct {
	kind string
	err  error
}

func (v *validator) timestamp(t time.Time) {
	if v.err == nil && t.IsZero() {
		v.err = invalid(v.kind, "timestamp", "is required")
	}
}

func (v *validator) required(field, value string) {
	if v.err == nil && strings.TrimSpace(value) == "" {
		v.err = invalid(v.kind, field, "is required")
	}
}

func (v *validator) check(field string, ok bool, reason string) {
	if v.err == nil && !ok {
		v.err = invalid(v.kind, field, reason)
	}
}

func (e MarketDataSnapshot) Validate() error {
	v := validator{kind: string(EventMarketData)}
	v.timestamp(e.Timestamp)
	v.required("instrument", e.Instrument)
	v.check("ask", e.Bid.IsZero() || e.Ask.IsZero() || e.Ask.GreaterThanOrEqual(e.Bid), "must be >= bid")
	return v.err
}

func (e SignalEvent) Validate() error {
	v := validator{kind: string(EventSignal)}
	v.timestamp(e.Timestamp)
	v.required("signal_id", e.SignalID)
	v.required("instrument", e.Instrument)
	v.check("direction", e.Direction.Valid(), "must be long, short or flat")
	v.check("confidence", e.Confidence >= 0 && e.Confidence <= 1, "must be within [0, 1]")
	return v.err
}

func (e RiskCheckEvent) Validate() error {
	v := validator{kind: string(EventRiskCheck)}
	v.timestamp(e.Timestamp)
	v.required("signal_id", e.SignalID)
	v.required("instrument", e.Instrument)
	v.check("decision", e.Decision.Valid(), "must be approve, reject or modify")
	for _, c := range e.Checks {
		v.required("checks.name", c.Name)
		v.check("checks.status", c.Status.Valid(), "must be pass, warn or fail")
	}
	return v.err
}

func (e OrderEvent) Validate() error {
	v := validator{kind: string(EventOrder)}
	v.timestamp(e.Timestamp)
	v.required("order_id", e.OrderID)
	v.required("instrument", e.Instrument)
	v.check("side", e.Side.Valid(), "must be buy or sell")
	v.check("order_type", e.Type.Valid(), "must be market, limit or stop")
	v.check("quantity", e.Quantity.IsPositive(), "must be > 0")
	v.check("price", e.Type == OrderTypeMarket || (e.Price.Valid && e.Price.Decimal.IsPositive()), "must be > 0 for priced orders")
	v.check("latency_ms", e.LatencyMS >= 0, "must be >= 0")
	return v.err
}

func (e FillEvent) Validate() error {
	v := validator{kind: string(EventFill)}
	v.timestamp(e.Timestamp)
	v.required("fill_id", e.FillID)
	v.required("order_id", e.OrderID)
	v.required("instrument", e.Instrument)
	v.check("side", e.Side.Valid(), "must be buy or sell")
	v.check("quantity", e.Quantity.IsPositive(), "must be > 0")
	v.check("price", e.Price.IsPositive(), "must be > 0")
	v.check("fee", !e.Fee.IsNegative(), "must be >= 0")
	v.check("latency_ms", e.LatencyMS >= 0, "must be >= 0")
	return v.err
}

func (e LLMDecisionEvent) Validate() error {
	v := validator{kind: string(EventLLMDecision)}
	v.timestamp(e.Timestamp)
	v.required("decision_id", e.DecisionID)
	v.required("signal_id", e.SignalID)
	v.required("model", e.Model)
	v.required("decision", e.Decision)
	v.check("confidence", e.Confidence >= 0 && e.Confidence <= 1, "must be within [0, 1]")
	v.check("prompt_tokens", e.PromptTokens >= 0 && e.CompletionTokens >= 0, "must be >= 0")
	return v.err
}

func (e PositionUpdateEvent) Validate() error {
	v := validator{kind: string(EventPositionUpdate)}
	v.timestamp(e.Timestamp)
	v.required("instrument", e.Instrument)
	v.required("reason", e.Reason)
	v.check("average_price", !e.AveragePrice.IsNegative(), "must be >= 0")
	return v.err
}

func (e CircuitBreakerEvent) Validate() error {
	v := validator{kind: string(EventCircuitBreaker)}
	v.timestamp(e.Timestamp)
	v.required("breaker", e.Breaker)
	v.check("action", e.Action.Valid(), "must be halt, reduce, warn or resume")
	v.required("reason", e.Reason)
	return v.err
}

func (e SystemEvent) Validate() error {
	v := validator{kind: string(EventSystem)}
	v.timestamp(e.Timestamp)
	v.required("component", e.Component)
	v.required("action", e.Action)
	return v.err
}
