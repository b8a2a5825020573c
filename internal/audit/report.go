package audit

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/aggregator"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema"
	"github.com/CrisisCore-Systems/Autotrader-sub001/pkg/exception"
)

// ComplianceReport summarises the audit trail over a closed time range.
type ComplianceReport struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	GeneratedAt time.Time `json:"generated_at"`

	TotalEvents int                      `json:"total_events"`
	EventCounts map[schema.EventType]int `json:"event_counts"`

	Signals       int              `json:"signals"`
	RiskChecks    int              `json:"risk_checks"`
	Approvals     int              `json:"approvals"`
	Rejections    int              `json:"rejections"`
	Modifications int              `json:"modifications"`
	RejectionRate aggregator.Value `json:"rejection_rate"`
	FailedChecks  map[string]int   `json:"failed_checks"`

	Orders            int              `json:"orders"`
	Fills             int              `json:"fills"`
	FillRate          aggregator.Value `json:"fill_rate"`
	TradedNotional    decimal.Decimal  `json:"traded_notional"`
	Fees              decimal.Decimal  `json:"fees"`
	AvgSlippageBps    aggregator.Value `json:"avg_slippage_bps"`
	RealizedPnL       decimal.Decimal  `json:"realized_pnl"`
	LLMDecisions      map[string]int   `json:"llm_decisions"`
	BreakerEvents     int              `json:"circuit_breaker_events"`
	BreakerTrips      int              `json:"circuit_breaker_trips"`
	OperatorActions   []OperatorAction `json:"operator_actions"`
	InstrumentsTraded []string         `json:"instruments_traded"`
}

// OperatorAction is one recorded system event.
type OperatorAction struct {
	Timestamp time.Time `json:"timestamp"`
	Component string    `json:"component"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Message   string    `json:"message"`
}

// ComplianceReport aggregates every event in [start, end].
func (s *Store) ComplianceReport(ctx context.Context, start, end time.Time) (ComplianceReport, error) {
	if start.IsZero() || end.IsZero() {
		return ComplianceReport{}, errors.Wrap(exception.ErrInvalidArgument, "report needs both start and end")
	}
	events, err := s.QueryEvents(ctx, Filter{Start: start, End: end})
	if err != nil {
		return ComplianceReport{}, err
	}

	r := ComplianceReport{
		Start:             start,
		End:               end,
		GeneratedAt:       s.now().UTC(),
		EventCounts:       make(map[schema.EventType]int),
		FailedChecks:      make(map[string]int),
		LLMDecisions:      make(map[string]int),
		OperatorActions:   []OperatorAction{},
		InstrumentsTraded: []string{},
		TradedNotional:    decimal.Zero,
		Fees:              decimal.Zero,
		RealizedPnL:       decimal.Zero,
	}
	var slippage float64
	traded := make(map[string]struct{})

	for _, env := range events {
		r.TotalEvents++
		r.EventCounts[env.Type()]++

		switch p := env.Payload().(type) {
		case schema.SignalEvent:
			r.Signals++
		case schema.RiskCheckEvent:
			r.RiskChecks++
			switch p.Decision {
			case schema.RiskApprove:
				r.Approvals++
			case schema.RiskReject:
				r.Rejections++
			case schema.RiskModify:
				r.Modifications++
			}
			for _, c := range p.Failed() {
				r.FailedChecks[c.Name]++
			}
		case schema.OrderEvent:
			r.Orders++
		case schema.FillEvent:
			r.Fills++
			r.TradedNotional = r.TradedNotional.Add(p.Notional())
			r.Fees = r.Fees.Add(p.Fee)
			slippage += p.SlippageBps
			if _, ok := traded[p.Instrument]; !ok {
				traded[p.Instrument] = struct{}{}
				r.InstrumentsTraded = append(r.InstrumentsTraded, p.Instrument)
			}
		case schema.LLMDecisionEvent:
			r.LLMDecisions[p.Decision]++
		case schema.PositionUpdateEvent:
			r.RealizedPnL = r.RealizedPnL.Add(p.RealizedPnL)
		case schema.CircuitBreakerEvent:
			r.BreakerEvents++
			if p.Action.Trips() {
				r.BreakerTrips++
			}
		case schema.SystemEvent:
			r.OperatorActions = append(r.OperatorActions, OperatorAction{
				Timestamp: p.Timestamp,
				Component: p.Component,
				Action:    p.Action,
				Actor:     p.Actor,
				Message:   p.Message,
			})
		}
	}

	if r.RiskChecks > 0 {
		r.RejectionRate = aggregator.Some(float64(r.Rejections) / float64(r.RiskChecks))
	}
	if r.Orders > 0 {
		r.FillRate = aggregator.Some(min(1, float64(r.Fills)/float64(r.Orders)))
	}
	if r.Fills > 0 {
		r.AvgSlippageBps = aggregator.Some(slippage / float64(r.Fills))
	}
	return r, nil
}
