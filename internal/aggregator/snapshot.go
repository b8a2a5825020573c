package aggregator

import (
	"maps"
	"time"

	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/risk"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema"
)

// ResetInfo records the last operator reset of the circuit breaker.
type ResetInfo struct {
	At        time.Time `json:"at"`
	Actor     string    `json:"actor"`
	Reason    string    `json:"reason"`
	WasActive bool      `json:"was_active"`
}

// BreakerStatus is the circuit-breaker state machine.
type BreakerStatus struct {
	Active    bool       `json:"active"`
	Breaker   string     `json:"breaker,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	Since     *time.Time `json:"since,omitempty"`
	Trips     uint64     `json:"trips"`
	LastReset *ResetInfo `json:"last_reset,omitempty"`
}

type PnLSummary struct {
	Total      float64 `json:"total"`
	Realized   float64 `json:"realized"`
	Unrealized float64 `json:"unrealized"`
	// Daily is the realized PnL of the most recent trading day seen.
	Daily         float64            `json:"daily"`
	TradingDay    string             `json:"trading_day,omitempty"`
	DailyRealized map[string]float64 `json:"daily_realized"`
	GrossProfit   float64            `json:"gross_profit"`
	GrossLoss     float64            `json:"gross_loss"`
	Wins          uint64             `json:"wins"`
	Losses        uint64             `json:"losses"`
	HitRate       Value              `json:"hit_rate"`
	ProfitFactor  Value              `json:"profit_factor"`
}

type EquitySummary struct {
	Starting    float64 `json:"starting"`
	Current     float64 `json:"current"`
	Peak        float64 `json:"peak"`
	DrawdownAbs float64 `json:"drawdown_abs"`
	DrawdownPct Value   `json:"drawdown_pct"`
	Samples     int     `json:"samples"`
	Returns     int     `json:"returns"`
	Sharpe      Value   `json:"sharpe"`
}

type ExecutionSummary struct {
	Orders         uint64 `json:"orders"`
	Fills          uint64 `json:"fills"`
	FillRate       Value  `json:"fill_rate"`
	AvgSlippageBps Value  `json:"avg_slippage_bps"`
}

// InstrumentMetrics is the inventory and execution view of one instrument.
type InstrumentMetrics struct {
	Orders         uint64    `json:"orders"`
	Fills          uint64    `json:"fills"`
	FillRate       Value     `json:"fill_rate"`
	AvgSlippageBps Value     `json:"avg_slippage_bps"`
	FilledQuantity float64   `json:"filled_quantity"`
	Notional       float64   `json:"notional"`
	Fees           float64   `json:"fees"`
	Quantity       float64   `json:"quantity"`
	AveragePrice   float64   `json:"average_price"`
	RealizedPnL    float64   `json:"realized_pnl"`
	UnrealizedPnL  float64   `json:"unrealized_pnl"`
	Wins           uint64    `json:"wins"`
	Losses         uint64    `json:"losses"`
	HitRate        Value     `json:"hit_rate"`
	LastUpdate     time.Time `json:"last_update,omitzero"`
}

// Snapshot is an immutable point-in-time view of the aggregator. It owns
// every map and slice it holds.
type Snapshot struct {
	Timestamp         time.Time                      `json:"timestamp"`
	Events            uint64                         `json:"events"`
	LastEventAt       time.Time                      `json:"last_event_at,omitzero"`
	PnL               PnLSummary                     `json:"pnl"`
	Equity            EquitySummary                  `json:"equity"`
	Execution         ExecutionSummary               `json:"execution"`
	Latency           LatencySummary                 `json:"latency"`
	Errors            map[string]uint64              `json:"errors"`
	RiskCheckFailures map[string]uint64              `json:"risk_check_failures"`
	RiskDecisions     map[schema.RiskDecision]uint64 `json:"risk_decisions"`
	Risk              risk.Consumption               `json:"risk"`
	RiskChecks        []schema.RiskCheckResult       `json:"risk_checks"`
	Instruments       map[string]InstrumentMetrics   `json:"instruments"`
	CircuitBreaker    BreakerStatus                  `json:"circuit_breaker"`
}

// Snapshot computes the current view. Latency percentiles sort the window,
// so the call is O(n log n) in the latency window size.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	realized := a.realized.InexactFloat64()
	unrealized := a.unrealizedLocked().InexactFloat64()
	grossProfit := a.grossProfit.InexactFloat64()
	grossLoss := a.grossLoss.InexactFloat64()

	daily := make(map[string]float64, len(a.daily))
	for d, v := range a.daily {
		daily[d] = v.InexactFloat64()
	}

	s := Snapshot{
		Timestamp:   a.now().UTC(),
		Events:      a.events,
		LastEventAt: a.lastEventAt,
		PnL: PnLSummary{
			Total:         realized + unrealized,
			Realized:      realized,
			Unrealized:    unrealized,
			Daily:         daily[a.currentDay],
			TradingDay:    a.currentDay,
			DailyRealized: daily,
			GrossProfit:   grossProfit,
			GrossLoss:     grossLoss,
			Wins:          a.wins,
			Losses:        a.losses,
			HitRate:       ratio(float64(a.wins), float64(a.wins+a.losses)),
			ProfitFactor:  profitFactor(grossProfit, grossLoss),
		},
		Equity: EquitySummary{
			Starting:    a.cfg.StartingEquity.InexactFloat64(),
			Current:     a.lastEquity,
			Peak:        a.peak,
			DrawdownAbs: a.peak - a.lastEquity,
			DrawdownPct: ratio(a.peak-a.lastEquity, a.peak),
			Samples:     a.equity.size,
			Returns:     a.returns.len(),
			Sharpe:      sharpe(a.returns, a.cfg.PeriodsPerYear),
		},
		Execution: ExecutionSummary{
			Orders:         a.orders,
			Fills:          a.fills,
			FillRate:       fillRate(a.fills, a.orders),
			AvgSlippageBps: ratio(a.slippageSum, float64(a.slippageCount)),
		},
		Latency:           summarizeLatency(a.latency),
		Errors:            maps.Clone(a.errors),
		RiskCheckFailures: maps.Clone(a.riskFailures),
		RiskDecisions:     maps.Clone(a.riskDecisions),
		Instruments:       make(map[string]InstrumentMetrics, len(a.instruments)),
		CircuitBreaker: BreakerStatus{
			Active:  a.breaker.active,
			Breaker: a.breaker.breaker,
			Reason:  a.breaker.reason,
			Trips:   a.breaker.trips,
		},
	}
	s.Latency.SLABreaches = a.errors[ErrorKeySLABreach]
	if a.breaker.active {
		since := a.breaker.since
		s.CircuitBreaker.Since = &since
	}
	if a.breaker.lastReset != nil {
		r := *a.breaker.lastReset
		s.CircuitBreaker.LastReset = &r
	}

	positions := make([]risk.Position, 0, len(a.instruments))
	for name, st := range a.instruments {
		s.Instruments[name] = InstrumentMetrics{
			Orders:         st.orders,
			Fills:          st.fills,
			FillRate:       fillRate(st.fills, st.orders),
			AvgSlippageBps: ratio(st.slippageSum, float64(st.slippageCount)),
			FilledQuantity: st.filledQty.InexactFloat64(),
			Notional:       st.notional.InexactFloat64(),
			Fees:           st.fees.InexactFloat64(),
			Quantity:       st.quantity.InexactFloat64(),
			AveragePrice:   st.avgPrice.InexactFloat64(),
			RealizedPnL:    st.realized.InexactFloat64(),
			UnrealizedPnL:  st.unrealized.InexactFloat64(),
			Wins:           st.wins,
			Losses:         st.losses,
			HitRate:        ratio(float64(st.wins), float64(st.wins+st.losses)),
			LastUpdate:     st.lastUpdate,
		}
		if !st.quantity.IsZero() {
			positions = append(positions, risk.Position{
				Instrument:   name,
				Quantity:     st.quantity,
				AveragePrice: st.avgPrice,
			})
		}
	}
	s.Risk = risk.Evaluate(a.cfg.Limits, positions, a.lastEquity, daily[a.currentDay])
	s.RiskChecks = s.Risk.Checks(a.cfg.Limits.WarnUtilization)
	return s
}

// fillRate is fills per order, capped at 1; undefined without orders.
func fillRate(fills, orders uint64) Value {
	if orders == 0 {
		return Value{}
	}
	return Some(min(1, float64(fills)/float64(orders)))
}
