package aggregator

import "strings"

// Series flattens the snapshot into metric name to value pairs for
// push-based backends. Undefined and infinite values are left out.
func (s Snapshot) Series() map[string]float64 {
	out := make(map[string]float64, 64+len(s.Instruments)*12)
	put := func(name string, v float64) { out[name] = v }
	putValue := func(name string, v Value) {
		if f, ok := v.Float(); ok {
			out[name] = f
		}
	}
	putBool := func(name string, b bool) {
		if b {
			out[name] = 1
		} else {
			out[name] = 0
		}
	}

	put("events.total", float64(s.Events))

	put("pnl.total", s.PnL.Total)
	put("pnl.realized", s.PnL.Realized)
	put("pnl.unrealized", s.PnL.Unrealized)
	put("pnl.daily", s.PnL.Daily)
	put("pnl.gross_profit", s.PnL.GrossProfit)
	put("pnl.gross_loss", s.PnL.GrossLoss)
	put("pnl.wins", float64(s.PnL.Wins))
	put("pnl.losses", float64(s.PnL.Losses))
	putValue("pnl.hit_rate", s.PnL.HitRate)
	putValue("pnl.profit_factor", s.PnL.ProfitFactor)

	put("equity.starting", s.Equity.Starting)
	put("equity.current", s.Equity.Current)
	put("equity.peak", s.Equity.Peak)
	put("drawdown.abs", s.Equity.DrawdownAbs)
	putValue("drawdown.pct", s.Equity.DrawdownPct)
	putValue("sharpe", s.Equity.Sharpe)

	put("execution.orders", float64(s.Execution.Orders))
	put("execution.fills", float64(s.Execution.Fills))
	putValue("execution.fill_rate", s.Execution.FillRate)
	putValue("execution.avg_slippage_bps", s.Execution.AvgSlippageBps)

	put("latency.count", float64(s.Latency.Count))
	putValue("latency.p50_ms", s.Latency.P50)
	putValue("latency.p95_ms", s.Latency.P95)
	putValue("latency.p99_ms", s.Latency.P99)
	putValue("latency.max_ms", s.Latency.Max)
	putValue("latency.mean_ms", s.Latency.Mean)

	putBool("circuit_breaker.active", s.CircuitBreaker.Active)
	put("circuit_breaker.trips", float64(s.CircuitBreaker.Trips))

	for k, v := range s.Errors {
		put("errors."+k, float64(v))
	}
	for k, v := range s.RiskCheckFailures {
		put("risk_check_failures."+k, float64(v))
	}
	for _, u := range s.Risk.All() {
		if !u.Available {
			continue
		}
		put("risk."+u.Name, u.Value)
		put("risk."+u.Name+".limit", u.Limit)
		put("risk."+u.Name+".utilization", u.Utilization)
	}

	for name, m := range s.Instruments {
		prefix := "instrument." + strings.ReplaceAll(name, ".", "_") + "."
		put(prefix+"orders", float64(m.Orders))
		put(prefix+"fills", float64(m.Fills))
		putValue(prefix+"fill_rate", m.FillRate)
		putValue(prefix+"avg_slippage_bps", m.AvgSlippageBps)
		put(prefix+"quantity", m.Quantity)
		put(prefix+"notional", m.Notional)
		put(prefix+"fees", m.Fees)
		put(prefix+"realized_pnl", m.RealizedPnL)
		put(prefix+"unrealized_pnl", m.UnrealizedPnL)
		putValue(prefix+"hit_rate", m.HitRate)
	}
	for _, e := range s.Risk.Instruments {
		prefix := "instrument." + strings.ReplaceAll(e.Instrument, ".", "_") + "."
		put(prefix+"gross_exposure", e.Gross)
		put(prefix+"net_exposure", e.Net)
	}
	return out
}

// MetricsAsGrafanaSeries is Snapshot().Series().
func (a *Aggregator) MetricsAsGrafanaSeries() map[string]float64 {
	return a.Snapshot().Series()
}
