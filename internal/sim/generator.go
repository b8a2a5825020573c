// Package sim generates a synthetic trading session as audit payloads.
package sim

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema"
	"github.com/CrisisCore-Systems/Autotrader-sub001/pkg/exception"
)

const (
	strategyName = "sim_momentum"
	venueName    = "sim"
	modelName    = "sim-llm"
)

// Config controls the synthetic session.
type Config struct {
	Seed        int64           `json:"seed" yaml:"seed"`
	Instruments []string        `json:"instruments" yaml:"instruments"`
	Start       time.Time       `json:"start" yaml:"start"`
	Step        time.Duration   `json:"step" yaml:"step"`
	BasePrice   decimal.Decimal `json:"base_price" yaml:"base_price"`
	Quantity    decimal.Decimal `json:"quantity" yaml:"quantity"`
	// Volatility is the standard deviation of the per-tick return.
	Volatility float64 `json:"volatility" yaml:"volatility"`
	SpreadBps  float64 `json:"spread_bps" yaml:"spread_bps"`
	FeeBps     float64 `json:"fee_bps" yaml:"fee_bps"`
	// SignalEvery emits one signal every n ticks.
	SignalEvery int     `json:"signal_every" yaml:"signal_every"`
	RejectRate  float64 `json:"reject_rate" yaml:"reject_rate"`
	LLM         bool    `json:"llm" yaml:"llm"`
}

// DefaultConfig returns a two-instrument session starting at start.
func DefaultConfig(start time.Time) Config {
	return Config{
		Seed:        1,
		Instruments: []string{"BTC/USD", "ETH/USD"},
		Start:       start.UTC(),
		Step:        time.Second,
		BasePrice:   decimal.NewFromInt(100),
		Quantity:    decimal.NewFromInt(1),
		Volatility:  0.002,
		SpreadBps:   2,
		FeeBps:      1,
		SignalEvery: 10,
		RejectRate:  0.1,
		LLM:         true,
	}
}

// Validate ensures the config can drive a session.
func (c Config) Validate() error {
	if len(c.Instruments) == 0 {
		return &exception.ConfigurationError{Field: "sim.instruments", Reason: "must not be empty"}
	}
	for _, inst := range c.Instruments {
		if inst == "" {
			return &exception.ConfigurationError{Field: "sim.instruments", Reason: "must not contain empty names"}
		}
	}
	if c.Start.IsZero() {
		return &exception.ConfigurationError{Field: "sim.start", Reason: "is required"}
	}
	if c.Step <= 0 {
		return &exception.ConfigurationError{Field: "sim.step", Reason: "must be > 0"}
	}
	if !c.BasePrice.IsPositive() {
		return &exception.ConfigurationError{Field: "sim.base_price", Reason: "must be > 0"}
	}
	if !c.Quantity.IsPositive() {
		return &exception.ConfigurationError{Field: "sim.quantity", Reason: "must be > 0"}
	}
	if c.Volatility < 0 || c.SpreadBps < 0 || c.FeeBps < 0 {
		return &exception.ConfigurationError{Field: "sim.volatility", Reason: "volatility, spread and fee must be >= 0"}
	}
	if c.SignalEvery < 1 {
		return &exception.ConfigurationError{Field: "sim.signal_every", Reason: "must be >= 1"}
	}
	if c.RejectRate < 0 || c.RejectRate > 1 {
		return &exception.ConfigurationError{Field: "sim.reject_rate", Reason: "must be between 0 and 1"}
	}
	return nil
}

// Stats summarizes what the generator emitted.
type Stats struct {
	Ticks       int             `json:"ticks"`
	Events      int             `json:"events"`
	Signals     int             `json:"signals"`
	Rejected    int             `json:"rejected"`
	Fills       int             `json:"fills"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Fees        decimal.Decimal `json:"fees"`
}

type position struct {
	qty decimal.Decimal
	avg decimal.Decimal
}

type book struct {
	last decimal.Decimal
	pos  position
}

// Generator walks a random price path per instrument and trades it. Market
// data rotates through the instruments one tick at a time. Every
// SignalEvery ticks a signal opens a position when flat and closes it
// otherwise. It is not safe for concurrent use.
type Generator struct {
	cfg   Config
	rng   *rand.Rand
	books map[string]*book
	index int
	tick  int
	seq   int
	stats Stats
}

// NewGenerator validates cfg and prepares a generator.
func NewGenerator(cfg Config) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	books := make(map[string]*book, len(cfg.Instruments))
	for _, inst := range cfg.Instruments {
		books[inst] = &book{last: cfg.BasePrice}
	}
	return &Generator{
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		books: books,
	}, nil
}

// Stats returns the counters so far.
func (g *Generator) Stats() Stats {
	return g.stats
}

// Next returns the payloads of the next tick in emission order.
func (g *Generator) Next() []schema.Payload {
	inst := g.cfg.Instruments[g.index]
	g.index = (g.index + 1) % len(g.cfg.Instruments)
	ts := g.cfg.Start.Add(time.Duration(g.tick) * g.cfg.Step)
	g.tick++
	g.stats.Ticks++

	b := g.books[inst]
	move := decimal.NewFromFloat(1 + g.rng.NormFloat64()*g.cfg.Volatility)
	b.last = b.last.Mul(move).Round(2)
	if !b.last.IsPositive() {
		b.last = decimal.New(1, -2)
	}
	half := b.last.Mul(decimal.NewFromFloat(g.cfg.SpreadBps / 20000)).Round(2)

	out := []schema.Payload{schema.MarketDataSnapshot{
		Timestamp:  ts,
		Instrument: inst,
		Bid:        b.last.Sub(half),
		Ask:        b.last.Add(half),
		Last:       b.last,
		BidSize:    g.cfg.Quantity.Mul(decimal.NewFromInt(10)),
		AskSize:    g.cfg.Quantity.Mul(decimal.NewFromInt(10)),
		Volume:     decimal.NewFromInt(int64(g.tick)).Mul(g.cfg.Quantity),
		Source:     venueName,
	}}
	if g.tick%g.cfg.SignalEvery == 0 {
		out = append(out, g.trade(ts, inst, b, half)...)
	}
	g.stats.Events += len(out)
	return out
}

func (g *Generator) trade(ts time.Time, inst string, b *book, half decimal.Decimal) []schema.Payload {
	g.seq++
	g.stats.Signals++
	signalID := fmt.Sprintf("sim-sig-%06d", g.seq)

	dir := schema.DirectionLong
	switch {
	case b.pos.qty.IsPositive():
		dir = schema.DirectionShort
	case b.pos.qty.IsNegative():
		dir = schema.DirectionLong
	case g.rng.Intn(2) == 1:
		dir = schema.DirectionShort
	}
	confidence := 0.5 + g.rng.Float64()/2
	out := []schema.Payload{schema.SignalEvent{
		Timestamp:  ts,
		SignalID:   signalID,
		Instrument: inst,
		Strategy:   strategyName,
		Direction:  dir,
		Strength:   confidence,
		Confidence: confidence,
		Features:   map[string]float64{"last": b.last.InexactFloat64()},
	}}

	if g.cfg.LLM {
		out = append(out, schema.LLMDecisionEvent{
			Timestamp:        ts,
			DecisionID:       fmt.Sprintf("sim-llm-%06d", g.seq),
			SignalID:         signalID,
			Instrument:       inst,
			Model:            modelName,
			Decision:         "enter_" + string(dir),
			Confidence:       confidence,
			PromptTokens:     400 + g.rng.Intn(400),
			CompletionTokens: 20 + g.rng.Intn(60),
			LatencyMS:        200 + g.rng.Float64()*800,
		})
	}

	decision := schema.RiskApprove
	status := schema.CheckPass
	if g.rng.Float64() < g.cfg.RejectRate {
		decision = schema.RiskReject
		status = schema.CheckFail
	}
	out = append(out, schema.RiskCheckEvent{
		Timestamp:  ts,
		SignalID:   signalID,
		Instrument: inst,
		Checks: []schema.RiskCheckResult{
			{Name: "max_position", Status: schema.CheckPass, Value: b.pos.qty.Abs().InexactFloat64(), Limit: g.cfg.Quantity.InexactFloat64()},
			{Name: "signal_confidence", Status: status, Value: confidence, Limit: 0.5},
		},
		Decision: decision,
	})
	if decision == schema.RiskReject {
		g.stats.Rejected++
		return out
	}

	side := schema.SideBuy
	qty := g.cfg.Quantity
	if !b.pos.qty.IsZero() {
		qty = b.pos.qty.Abs()
	}
	price := b.last.Add(half)
	if dir == schema.DirectionShort {
		side = schema.SideSell
		price = b.last.Sub(half)
	}
	if !price.IsPositive() {
		price = b.last
	}
	slippage := g.rng.Float64() * 3
	fee := price.Mul(qty).Mul(decimal.NewFromFloat(g.cfg.FeeBps / 10000)).Round(8)
	orderID := fmt.Sprintf("sim-ord-%06d", g.seq)
	latency := 5 + g.rng.Float64()*20

	out = append(out,
		schema.OrderEvent{
			Timestamp:  ts,
			OrderID:    orderID,
			SignalID:   signalID,
			Instrument: inst,
			Side:       side,
			Type:       schema.OrderTypeMarket,
			Quantity:   qty,
			Status:     "filled",
			Venue:      venueName,
			LatencyMS:  latency,
		},
		schema.FillEvent{
			Timestamp:   ts,
			FillID:      fmt.Sprintf("sim-fill-%06d", g.seq),
			OrderID:     orderID,
			SignalID:    signalID,
			Instrument:  inst,
			Side:        side,
			Quantity:    qty,
			Price:       price,
			Fee:         fee,
			SlippageBps: slippage,
			Venue:       venueName,
			LatencyMS:   latency,
		},
	)
	g.stats.Fills++
	g.stats.Fees = g.stats.Fees.Add(fee)

	prev := b.pos.qty
	realized := decimal.Zero
	if prev.IsZero() {
		b.pos.avg = price
		b.pos.qty = qty
		if side == schema.SideSell {
			b.pos.qty = qty.Neg()
		}
	} else {
		realized = price.Sub(b.pos.avg).Mul(prev)
		b.pos = position{qty: decimal.Zero, avg: decimal.Zero}
	}
	g.stats.RealizedPnL = g.stats.RealizedPnL.Add(realized)

	return append(out, schema.PositionUpdateEvent{
		Timestamp:        ts,
		Instrument:       inst,
		SignalID:         signalID,
		PreviousQuantity: prev,
		NewQuantity:      b.pos.qty,
		AveragePrice:     b.pos.avg,
		UnrealizedPnL:    b.last.Sub(b.pos.avg).Mul(b.pos.qty),
		RealizedPnL:      realized,
		Reason:           "fill",
	})
}

// Run emits ticks payloads to fn, stopping at the first error or when ctx
// is done.
func (g *Generator) Run(ctx context.Context, ticks int, fn func(schema.Payload) error) (Stats, error) {
	if fn == nil {
		return g.stats, exception.ErrNilInstance
	}
	for i := 0; i < ticks; i++ {
		if err := ctx.Err(); err != nil {
			return g.stats, err
		}
		for _, p := range g.Next() {
			if err := fn(p); err != nil {
				return g.stats, err
			}
		}
	}
	return g.stats, nil
}
