package schema

import (
	"maps"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Side describes order and fill direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// Sign returns +1 for buys and -1 for sells.
func (s Side) Sign() int {
	if s == SideSell {
		return -1
	}
	return 1
}

// OrderType describes how an order is priced.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeStop   OrderType = "stop"
)

func (t OrderType) Valid() bool {
	return t == OrderTypeMarket || t == OrderTypeLimit || t == OrderTypeStop
}

// Direction is the bias expressed by a signal.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionFlat  Direction = "flat"
)

func (d Direction) Valid() bool {
	return d == DirectionLong || d == DirectionShort || d == DirectionFlat
}

// CheckStatus is the outcome of a single risk check.
type CheckStatus string

const (
	CheckPass CheckStatus = "pass"
	CheckWarn CheckStatus = "warn"
	CheckFail CheckStatus = "fail"
)

func (s CheckStatus) Valid() bool { return s == CheckPass || s == CheckWarn || s == CheckFail }

// RiskDecision is the overall outcome of a risk evaluation.
type RiskDecision string

const (
	RiskApprove RiskDecision = "approve"
	RiskReject  RiskDecision = "reject"
	RiskModify  RiskDecision = "modify"
)

func (d RiskDecision) Valid() bool { return d == RiskApprove || d == RiskReject || d == RiskModify }

// BreakerAction is the action requested by a circuit breaker.
type BreakerAction string

const (
	BreakerHalt   BreakerAction = "halt"
	BreakerReduce BreakerAction = "reduce"
	BreakerWarn   BreakerAction = "warn"
	BreakerResume BreakerAction = "resume"
)

func (a BreakerAction) Valid() bool {
	return a == BreakerHalt || a == BreakerReduce || a == BreakerWarn || a == BreakerResume
}

// Trips reports whether the action activates the breaker.
func (a BreakerAction) Trips() bool { return a == BreakerHalt || a == BreakerReduce }

// MarketDataSnapshot is the payload for EventMarketData.
type MarketDataSnapshot struct {
	Timestamp  time.Time       `json:"timestamp"`
	Instrument string          `json:"instrument"`
	Bid        decimal.Decimal `json:"bid"`
	Ask        decimal.Decimal `json:"ask"`
	Last       decimal.Decimal `json:"last"`
	BidSize    decimal.Decimal `json:"bid_size"`
	AskSize    decimal.Decimal `json:"ask_size"`
	Volume     decimal.Decimal `json:"volume"`
	Source     string          `json:"source,omitempty"`
}

// SignalEvent is the payload for EventSignal.
type SignalEvent struct {
	Timestamp  time.Time          `json:"timestamp"`
	SignalID   string             `json:"signal_id"`
	Instrument string             `json:"instrument"`
	Strategy   string             `json:"strategy"`
	Direction  Direction          `json:"direction"`
	Strength   float64            `json:"strength"`
	Confidence float64            `json:"confidence"`
	Features   map[string]float64 `json:"features,omitempty"`
	Metadata   map[string]string  `json:"metadata,omitempty"`
}

// RiskCheckResult is one named check inside a RiskCheckEvent.
type RiskCheckResult struct {
	Name    string      `json:"name"`
	Status  CheckStatus `json:"status"`
	Value   float64     `json:"value"`
	Limit   float64     `json:"limit"`
	Message string      `json:"message,omitempty"`
}

// RiskCheckEvent is the payload for EventRiskCheck.
type RiskCheckEvent struct {
	Timestamp  time.Time         `json:"timestamp"`
	SignalID   string            `json:"signal_id"`
	OrderID    string            `json:"order_id,omitempty"`
	Instrument string            `json:"instrument"`
	Checks     []RiskCheckResult `json:"checks"`
	Decision   RiskDecision      `json:"decision"`
	Reason     string            `json:"reason,omitempty"`
}

// Failed returns the checks that did not pass.
func (e RiskCheckEvent) Failed() []RiskCheckResult {
	var out []RiskCheckResult
	for _, c := range e.Checks {
		if c.Status != CheckPass {
			out = append(out, c)
		}
	}
	return out
}

// OrderEvent is the payload for EventOrder.
type OrderEvent struct {
	Timestamp  time.Time           `json:"timestamp"`
	OrderID    string              `json:"order_id"`
	SignalID   string              `json:"signal_id"`
	Instrument string              `json:"instrument"`
	Side       Side                `json:"side"`
	Type       OrderType           `json:"order_type"`
	Quantity   decimal.Decimal     `json:"quantity"`
	Price      decimal.NullDecimal `json:"price"`
	Status     string              `json:"status"`
	Venue      string              `json:"venue,omitempty"`
	LatencyMS  float64             `json:"latency_ms,omitempty"`
}

// FillEvent is the payload for EventFill.
type FillEvent struct {
	Timestamp   time.Time       `json:"timestamp"`
	FillID      string          `json:"fill_id"`
	OrderID     string          `json:"order_id"`
	SignalID    string          `json:"signal_id,omitempty"`
	Instrument  string          `json:"instrument"`
	Side        Side            `json:"side"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Fee         decimal.Decimal `json:"fee"`
	SlippageBps float64         `json:"slippage_bps"`
	Venue       string          `json:"venue,omitempty"`
	LatencyMS   float64         `json:"latency_ms,omitempty"`
}

// Notional returns |quantity * price|.
func (e FillEvent) Notional() decimal.Decimal {
	return e.Quantity.Mul(e.Price).Abs()
}

// LLMDecisionEvent is the payload for EventLLMDecision.
type LLMDecisionEvent struct {
	Timestamp        time.Time `json:"timestamp"`
	DecisionID       string    `json:"decision_id"`
	SignalID         string    `json:"signal_id"`
	Instrument       string    `json:"instrument,omitempty"`
	Model            string    `json:"model"`
	Decision         string    `json:"decision"`
	Confidence       float64   `json:"confidence"`
	Rationale        string    `json:"rationale,omitempty"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	LatencyMS        float64   `json:"latency_ms"`
}

// PositionUpdateEvent is the payload for EventPositionUpdate.
// RealizedPnL is the amount realized by this update, not a running total.
type PositionUpdateEvent struct {
	Timestamp        time.Time       `json:"timestamp"`
	Instrument       string          `json:"instrument"`
	SignalID         string          `json:"signal_id,omitempty"`
	PreviousQuantity decimal.Decimal `json:"previous_quantity"`
	NewQuantity      decimal.Decimal `json:"new_quantity"`
	AveragePrice     decimal.Decimal `json:"average_price"`
	UnrealizedPnL    decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL      decimal.Decimal `json:"realized_pnl"`
	Reason           string          `json:"reason"`
}

// CircuitBreakerEvent is the payload for EventCircuitBreaker.
type CircuitBreakerEvent struct {
	Timestamp time.Time     `json:"timestamp"`
	Breaker   string        `json:"breaker"`
	Action    BreakerAction `json:"action"`
	Reason    string        `json:"reason"`
	Metric    string        `json:"metric,omitempty"`
	Value     float64       `json:"value"`
	Threshold float64       `json:"threshold"`
}

// SystemEvent is the payload for EventSystem; it records operator actions.
type SystemEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Component string    `json:"component"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Operator actions that change dashboard state when replayed.
const (
	ComponentAggregator     = "aggregator"
	ComponentCircuitBreaker = "circuit_breaker"
	ActionReset             = "reset"
)

// Resets reports whether the event is a reset of component.
func (e SystemEvent) Resets(component string) bool {
	return e.Component == component && e.Action == ActionReset
}

func (MarketDataSnapshot) EventType() EventType  { return EventMarketData }
func (SignalEvent) EventType() EventType         { return EventSignal }
func (RiskCheckEvent) EventType() EventType      { return EventRiskCheck }
func (OrderEvent) EventType() EventType          { return EventOrder }
func (FillEvent) EventType() EventType           { return EventFill }
func (LLMDecisionEvent) EventType() EventType    { return EventLLMDecision }
func (PositionUpdateEvent) EventType() EventType { return EventPositionUpdate }
func (CircuitBreakerEvent) EventType() EventType { return EventCircuitBreaker }
func (SystemEvent) EventType() EventType         { return EventSystem }

func (e MarketDataSnapshot) EventTime() time.Time  { return e.Timestamp }
func (e SignalEvent) EventTime() time.Time         { return e.Timestamp }
func (e RiskCheckEvent) EventTime() time.Time      { return e.Timestamp }
func (e OrderEvent) EventTime() time.Time          { return e.Timestamp }
func (e FillEvent) EventTime() time.Time           { return e.Timestamp }
func (e LLMDecisionEvent) EventTime() time.Time    { return e.Timestamp }
func (e PositionUpdateEvent) EventTime() time.Time { return e.Timestamp }
func (e CircuitBreakerEvent) EventTime() time.Time { return e.Timestamp }
func (e SystemEvent) EventTime() time.Time         { return e.Timestamp }

func (e MarketDataSnapshot) clone() Payload { return e }

func (e SignalEvent) clone() Payload {
	e.Features = maps.Clone(e.Features)
	e.Metadata = maps.Clone(e.Metadata)
	return e
}

func (e RiskCheckEvent) clone() Payload {
	e.Checks = slices.Clone(e.Checks)
	return e
}

func (e OrderEvent) clone() Payload          { return e }
func (e FillEvent) clone() Payload           { return e }
func (e LLMDecisionEvent) clone() Payload    { return e }
func (e PositionUpdateEvent) clone() Payload { return e }
func (e CircuitBreakerEvent) clone() Payload { return e }
func (e SystemEvent) clone() Payload         { return e }
