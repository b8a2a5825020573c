package aggregator

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/risk"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema"
)

const (
	dayLayout = "2006-01-02"

	ErrorKeySLABreach     = "latency_sla_breach"
	errorKeyBreakerPrefix = "circuit_breaker."
)

type instrumentState struct {
	orders        uint64
	fills         uint64
	slippageSum   float64
	slippageCount uint64
	filledQty     decimal.Decimal
	notional      decimal.Decimal
	fees          decimal.Decimal
	realized      decimal.Decimal
	unrealized    decimal.Decimal
	quantity      decimal.Decimal
	avgPrice      decimal.Decimal
	wins          uint64
	losses        uint64
	lastUpdate    time.Time
}

type breakerState struct {
	active    bool
	breaker   string
	reason    string
	since     time.Time
	trips     uint64
	lastReset *ResetInfo
}

// Aggregator turns the event stream into dashboard metrics. One mutex
// guards all state and every exported method holds it for its full
// duration; unexported helpers assume it is held.
type Aggregator struct {
	mu  sync.Mutex
	cfg Config
	loc *time.Location
	now func() time.Time

	instruments map[string]*instrumentState
	latency     *window
	equity      *equityWindow
	returns     *window

	daily      map[string]decimal.Decimal
	currentDay string

	realized    decimal.Decimal
	grossProfit decimal.Decimal
	grossLoss   decimal.Decimal
	wins        uint64
	losses      uint64

	orders        uint64
	fills         uint64
	slippageSum   float64
	slippageCount uint64

	peak       float64
	lastEquity float64

	breaker       breakerState
	errors        map[string]uint64
	riskFailures  map[string]uint64
	riskDecisions map[schema.RiskDecision]uint64
	events        uint64
	lastEventAt   time.Time
}

// New builds an aggregator from a validated config.
func New(cfg Config) (*Aggregator, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, _ := cfg.location()
	a := &Aggregator{cfg: cfg, loc: loc, now: time.Now}
	a.resetLocked()
	return a, nil
}

// WithClock overrides the clock stamped on snapshots.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	if now != nil {
		a.mu.Lock()
		a.now = now
		a.mu.Unlock()
	}
	return a
}

// Config returns the effective configuration.
func (a *Aggregator) Config() Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

func (a *Aggregator) resetLocked() {
	a.instruments = make(map[string]*instrumentState)
	a.latency = newWindow(a.cfg.LatencyWindow)
	a.equity = newEquityWindow(a.cfg.EquityWindow)
	a.returns = newWindow(a.cfg.ReturnsWindow)
	a.daily = make(map[string]decimal.Decimal)
	a.currentDay = ""
	a.realized = decimal.Zero
	a.grossProfit = decimal.Zero
	a.grossLoss = decimal.Zero
	a.wins, a.losses = 0, 0
	a.orders, a.fills = 0, 0
	a.slippageSum, a.slippageCount = 0, 0
	start := a.cfg.StartingEquity.InexactFloat64()
	a.peak = start
	a.lastEquity = start
	a.breaker = breakerState{}
	a.errors = make(map[string]uint64)
	a.riskFailures = make(map[string]uint64)
	a.riskDecisions = make(map[schema.RiskDecision]uint64)
	a.events = 0
	a.lastEventAt = time.Time{}
}

// Reset discards all accumulated state, including the circuit breaker.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetLocked()
	logs.Infof("dashboard aggregator reset")
}

// SetLimits swaps the risk limits used by later snapshots.
func (a *Aggregator) SetLimits(limits risk.Limits) error {
	limits = limits.WithDefaults()
	if err := limits.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	a.cfg.Limits = limits
	a.mu.Unlock()
	return nil
}

func (a *Aggregator) instrument(name string) *instrumentState {
	st, ok := a.instruments[name]
	if !ok {
		st = &instrumentState{
			filledQty:  decimal.Zero,
			notional:   decimal.Zero,
			fees:       decimal.Zero,
			realized:   decimal.Zero,
			unrealized: decimal.Zero,
			quantity:   decimal.Zero,
			avgPrice:   decimal.Zero,
		}
		a.instruments[name] = st
	}
	return st
}

func (a *Aggregator) touch(ts time.Time) {
	a.events++
	if ts.After(a.lastEventAt) {
		a.lastEventAt = ts
	}
}

// Apply dispatches an envelope to the matching record method. Kinds that
// carry no dashboard metric are only counted, except operator resets.
func (a *Aggregator) Apply(env schema.Envelope) {
	if env.IsZero() {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	switch p := env.Payload().(type) {
	case schema.OrderEvent:
		a.recordOrder(p)
	case schema.FillEvent:
		a.recordFill(p)
	case schema.PositionUpdateEvent:
		a.recordPositionUpdate(p)
	case schema.CircuitBreakerEvent:
		a.recordCircuitBreaker(p)
	case schema.RiskCheckEvent:
		a.recordRiskChecks(p)
	case schema.LLMDecisionEvent:
		a.touch(p.Timestamp)
	case schema.MarketDataSnapshot:
		a.touch(p.Timestamp)
	case schema.SignalEvent:
		a.touch(p.Timestamp)
	case schema.SystemEvent:
		a.recordSystem(p)
	}
}

// recordSystem replays operator resets so that a rebuilt aggregator matches
// the live one. An aggregator reset leaves the counters empty.
func (a *Aggregator) recordSystem(e schema.SystemEvent) {
	switch {
	case e.Resets(schema.ComponentAggregator):
		a.resetLocked()
		logs.Infof("dashboard aggregator reset by %s at %s", e.Actor, e.Timestamp.UTC().Format(time.RFC3339))
	case e.Resets(schema.ComponentCircuitBreaker):
		a.touch(e.Timestamp)
		a.resetBreakerLocked(e.Timestamp.UTC(), e.Actor, e.Message)
	default:
		a.touch(e.Timestamp)
	}
}

// RecordOrder counts an order and samples its latency when present.
func (a *Aggregator) RecordOrder(e schema.OrderEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recordOrder(e)
}

func (a *Aggregator) recordOrder(e schema.OrderEvent) {
	a.touch(e.Timestamp)
	a.instrument(e.Instrument).orders++
	a.orders++
	if e.LatencyMS > 0 {
		a.recordLatency(e.LatencyMS)
	}
}

// RecordFill counts a fill, its slippage and notional, and samples its
// latency when present.
func (a *Aggregator) RecordFill(e schema.FillEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recordFill(e)
}

func (a *Aggregator) recordFill(e schema.FillEvent) {
	a.touch(e.Timestamp)
	st := a.instrument(e.Instrument)
	st.fills++
	st.slippageSum += e.SlippageBps
	st.slippageCount++
	st.filledQty = st.filledQty.Add(e.Quantity)
	st.notional = st.notional.Add(e.Notional())
	st.fees = st.fees.Add(e.Fee)
	a.fills++
	a.slippageSum += e.SlippageBps
	a.slippageCount++
	if e.LatencyMS > 0 {
		a.recordLatency(e.LatencyMS)
	}
}

// RecordPositionUpdate applies realized and unrealized PnL of one
// instrument and pushes a new equity sample.
func (a *Aggregator) RecordPositionUpdate(e schema.PositionUpdateEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recordPositionUpdate(e)
}

func (a *Aggregator) recordPositionUpdate(e schema.PositionUpdateEvent) {
	a.touch(e.Timestamp)
	st := a.instrument(e.Instrument)
	st.realized = st.realized.Add(e.RealizedPnL)
	st.unrealized = e.UnrealizedPnL
	st.quantity = e.NewQuantity
	st.avgPrice = e.AveragePrice
	st.lastUpdate = e.Timestamp
	a.realized = a.realized.Add(e.RealizedPnL)

	switch e.RealizedPnL.Sign() {
	case 1:
		a.wins++
		st.wins++
		a.grossProfit = a.grossProfit.Add(e.RealizedPnL)
	case -1:
		a.losses++
		st.losses++
		a.grossLoss = a.grossLoss.Sub(e.RealizedPnL)
	}

	day := e.Timestamp.In(a.loc).Format(dayLayout)
	a.daily[day] = a.daily[day].Add(e.RealizedPnL)
	if day > a.currentDay {
		a.currentDay = day
	}
	a.pruneDays()

	a.pushEquity(e.Timestamp, a.equityLocked().InexactFloat64())
}

func (a *Aggregator) pruneDays() {
	if len(a.daily) <= a.cfg.DailyHistory {
		return
	}
	days := make([]string, 0, len(a.daily))
	for d := range a.daily {
		days = append(days, d)
	}
	sort.Strings(days)
	for _, d := range days[:len(days)-a.cfg.DailyHistory] {
		delete(a.daily, d)
	}
}

func (a *Aggregator) unrealizedLocked() decimal.Decimal {
	total := decimal.Zero
	for _, st := range a.instruments {
		total = total.Add(st.unrealized)
	}
	return total
}

func (a *Aggregator) equityLocked() decimal.Decimal {
	return a.cfg.StartingEquity.Add(a.realized).Add(a.unrealizedLocked())
}

func (a *Aggregator) pushEquity(ts time.Time, equity float64) {
	if prev, ok := a.equity.last(); ok && prev.Equity != 0 {
		a.returns.push((equity - prev.Equity) / prev.Equity)
	}
	a.equity.push(EquityPoint{Timestamp: ts, Equity: equity})
	if equity > a.peak {
		a.peak = equity
	}
	a.lastEquity = equity
}

// RecordLatency samples one latency in milliseconds and counts SLA breaches.
func (a *Aggregator) RecordLatency(ms float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recordLatency(ms)
}

func (a *Aggregator) recordLatency(ms float64) {
	if ms < 0 {
		return
	}
	a.latency.push(ms)
	if ms > float64(a.cfg.LatencySLA)/float64(time.Millisecond) {
		a.errors[ErrorKeySLABreach]++
	}
}

// RecordCircuitBreaker counts the event under its breaker name. Halt and
// reduce trip the breaker; only an operator reset clears it.
func (a *Aggregator) RecordCircuitBreaker(e schema.CircuitBreakerEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recordCircuitBreaker(e)
}

func (a *Aggregator) recordCircuitBreaker(e schema.CircuitBreakerEvent) {
	a.touch(e.Timestamp)
	a.errors[errorKeyBreakerPrefix+e.Breaker]++
	if !e.Action.Trips() {
		return
	}
	if !a.breaker.active {
		a.breaker.since = e.Timestamp
	}
	a.breaker.active = true
	a.breaker.breaker = e.Breaker
	a.breaker.reason = e.Reason
	a.breaker.trips++
}

// ResetCircuitBreaker clears a tripped breaker. It reports whether the
// breaker was active.
func (a *Aggregator) ResetCircuitBreaker(actor, reason string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resetBreakerLocked(a.now().UTC(), actor, reason)
}

func (a *Aggregator) resetBreakerLocked(at time.Time, actor, reason string) bool {
	wasActive := a.breaker.active
	a.breaker.active = false
	a.breaker.lastReset = &ResetInfo{
		At:        at,
		Actor:     actor,
		Reason:    reason,
		WasActive: wasActive,
	}
	logs.Infof("circuit breaker reset by %s, was active: %t, reason: %s", actor, wasActive, reason)
	return wasActive
}

// CircuitBreakerActive reports the breaker flag.
func (a *Aggregator) CircuitBreakerActive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.breaker.active
}

// RecordRiskChecks counts every check that did not pass, by check name.
func (a *Aggregator) RecordRiskChecks(e schema.RiskCheckEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recordRiskChecks(e)
}

func (a *Aggregator) recordRiskChecks(e schema.RiskCheckEvent) {
	a.touch(e.Timestamp)
	a.riskDecisions[e.Decision]++
	for _, c := range e.Failed() {
		a.riskFailures[c.Name]++
	}
}

// EquityCurve returns the equity window, oldest first.
func (a *Aggregator) EquityCurve() []EquityPoint {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.equity.points()
}
