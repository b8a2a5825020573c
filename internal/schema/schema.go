package schema

import (
	"time"
)

// SchemaVersion is the current event schema version.
const SchemaVersion uint16 = 1

// EventType defines the category of an event stored in the audit trail.
type EventType string

const (
	EventMarketData     EventType = "market_data"
	EventSignal         EventType = "signal"
	EventRiskCheck      EventType = "risk_check"
	EventOrder          EventType = "order"
	EventFill           EventType = "fill"
	EventLLMDecision    EventType = "llm_decision"
	EventPositionUpdate EventType = "position_update"
	EventCircuitBreaker EventType = "circuit_breaker"
	EventSystem         EventType = "system"
)

// EventTypes lists every known event type in declaration order.
var EventTypes = []EventType{
	EventMarketData,
	EventSignal,
	EventRiskCheck,
	EventOrder,
	EventFill,
	EventLLMDecision,
	EventPositionUpdate,
	EventCircuitBreaker,
	EventSystem,
}

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseEventType converts a string to an EventType.
func ParseEventType(s string) (EventType, bool) {
	t := EventType(s)
	return t, t.Valid()
}

func (t EventType) String() string { return string(t) }

// Payload is implemented by every event kind. The set is closed: the
// unexported clone method keeps other packages from adding kinds.
type Payload interface {
	EventType() EventType
	EventTime() time.Time
	Validate() error
	clone() Payload
}

// Envelope is the immutable unit of the audit trail.
type Envelope struct {
	eventType EventType
	seq       uint64
	id        string
	payload   Payload
}

// NewEnvelope validates the payload and wraps a private copy of it.
func NewEnvelope(p Payload) (Envelope, error) {
	if p == nil {
		return Envelope{}, invalid("envelope", "data", "is nil")
	}
	if err := p.Validate(); err != nil {
		return Envelope{}, err
	}
	return Envelope{eventType: p.EventType(), payload: p.clone()}, nil
}

// MustEnvelope is NewEnvelope for fixtures; it panics on invalid payloads.
func MustEnvelope(p Payload) Envelope {
	env, err := NewEnvelope(p)
	if err != nil {
		panic(err)
	}
	return env
}

// WithSequence returns a copy of the envelope stamped with an ingestion
// sequence number and event id.
func (e Envelope) WithSequence(seq uint64, id string) Envelope {
	e.seq = seq
	e.id = id
	return e
}

func (e Envelope) Type() EventType { return e.eventType }

// Seq is the ingestion sequence number, zero when the envelope was never stamped.
func (e Envelope) Seq() uint64 { return e.seq }

// ID is the ingestion event id, empty when the envelope was never stamped.
func (e Envelope) ID() string { return e.id }

// IsZero reports whether the envelope carries no payload.
func (e Envelope) IsZero() bool { return e.payload == nil }

// Payload returns a copy of the payload; mutating it does not affect the envelope.
func (e Envelope) Payload() Payload {
	if e.payload == nil {
		return nil
	}
	return e.payload.clone()
}

// Timestamp returns the payload timestamp.
func (e Envelope) Timestamp() time.Time {
	if e.payload == nil {
		return time.Time{}
	}
	return e.payload.EventTime()
}

// Instrument returns the instrument carried by the payload, if any.
func (e Envelope) Instrument() string {
	switch p := e.payload.(type) {
	case MarketDataSnapshot:
		return p.Instrument
	case SignalEvent:
		return p.Instrument
	case RiskCheckEvent:
		return p.Instrument
	case OrderEvent:
		return p.Instrument
	case FillEvent:
		return p.Instrument
	case LLMDecisionEvent:
		return p.Instrument
	case PositionUpdateEvent:
		return p.Instrument
	}
	return ""
}

// SignalID returns the signal id carried by the payload, if any.
func (e Envelope) SignalID() string {
	switch p := e.payload.(type) {
	case SignalEvent:
		return p.SignalID
	case RiskCheckEvent:
		return p.SignalID
	case OrderEvent:
		return p.SignalID
	case FillEvent:
		return p.SignalID
	case LLMDecisionEvent:
		return p.SignalID
	case PositionUpdateEvent:
		return p.SignalID
	}
	return ""
}

// OrderID returns the order id carried by the payload, if any.
func (e Envelope) OrderID() string {
	switch p := e.payload.(type) {
	case RiskCheckEvent:
		return p.OrderID
	case OrderEvent:
		return p.OrderID
	case FillEvent:
		return p.OrderID
	}
	return ""
}

// Restore rebuilds a stamped envelope from decoded parts. The payload kind
// must match eventType.
func Restore(eventType EventType, seq uint64, id string, p Payload) (Envelope, error) {
	env, err := NewEnvelope(p)
	if err != nil {
		return Envelope{}, err
	}
	if env.eventType != eventType {
		return Envelope{}, invalid("envelope", "event_type", "does not match payload "+string(env.eventType))
	}
	return env.WithSequence(seq, id), nil
}
