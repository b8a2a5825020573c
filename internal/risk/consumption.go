package risk

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema"
)

const (
	GrossExposure = "gross_exposure"
	NetExposure   = "net_exposure"
	Leverage      = "leverage"
	DailyLoss     = "daily_loss"
)

// Position is the inventory of one instrument.
type Position struct {
	Instrument   string
	Quantity     decimal.Decimal
	AveragePrice decimal.Decimal
}

// Exposure is the signed and absolute notional of one instrument.
type Exposure struct {
	Instrument string  `json:"instrument"`
	Quantity   float64 `json:"quantity"`
	Gross      float64 `json:"gross"`
	Net        float64 `json:"net"`
}

// Usage compares one measured value against its limit. Available is false
// when the value is undefined, such as leverage on non-positive equity.
type Usage struct {
	Name        string  `json:"name"`
	Value       float64 `json:"value"`
	Limit       float64 `json:"limit"`
	Utilization float64 `json:"utilization"`
	Available   bool    `json:"available"`
}

// Breached reports whether the value is over its limit.
func (u Usage) Breached() bool {
	return u.Available && u.Utilization > 1
}

// Consumption is how much of each limit the current book uses.
type Consumption struct {
	GrossExposure Usage      `json:"gross_exposure"`
	NetExposure   Usage      `json:"net_exposure"`
	Leverage      Usage      `json:"leverage"`
	DailyLoss     Usage      `json:"daily_loss"`
	Instruments   []Exposure `json:"instruments"`
}

// Evaluate measures positions against limits. dailyRealized is the realized
// PnL of the current trading day; only a net loss consumes the daily limit.
func Evaluate(limits Limits, positions []Position, equity, dailyRealized float64) Consumption {
	var gross, net decimal.Decimal
	exposures := make([]Exposure, 0, len(positions))
	for _, p := range positions {
		notional := p.Quantity.Mul(p.AveragePrice)
		gross = gross.Add(notional.Abs())
		net = net.Add(notional)
		exposures = append(exposures, Exposure{
			Instrument: p.Instrument,
			Quantity:   p.Quantity.InexactFloat64(),
			Gross:      notional.Abs().InexactFloat64(),
			Net:        notional.InexactFloat64(),
		})
	}
	sort.Slice(exposures, func(i, j int) bool { return exposures[i].Instrument < exposures[j].Instrument })

	grossF := gross.InexactFloat64()
	netF := net.InexactFloat64()
	c := Consumption{
		GrossExposure: usage(GrossExposure, grossF, limits.MaxGrossExposure),
		NetExposure:   usage(NetExposure, netF, limits.MaxNetExposure),
		DailyLoss:     usage(DailyLoss, max(0, -dailyRealized), limits.MaxDailyLoss),
		Leverage:      Usage{Name: Leverage, Limit: limits.MaxLeverage},
		Instruments:   exposures,
	}
	// net exposure is measured in absolute terms against its limit
	if netF < 0 && limits.MaxNetExposure > 0 {
		c.NetExposure.Utilization = -netF / limits.MaxNetExposure
	}
	if equity > 0 {
		c.Leverage = usage(Leverage, grossF/equity, limits.MaxLeverage)
	}
	return c
}

func usage(name string, value, limit float64) Usage {
	u := Usage{Name: name, Value: value, Limit: limit, Available: true}
	if limit > 0 {
		u.Utilization = value / limit
	}
	return u
}

// All returns the four usages in a fixed order.
func (c Consumption) All() []Usage {
	return []Usage{c.GrossExposure, c.NetExposure, c.Leverage, c.DailyLoss}
}

// Checks turns the consumption into risk check results: fail when a limit
// is exceeded, warn from warnAt utilization, pass otherwise.
func (c Consumption) Checks(warnAt float64) []schema.RiskCheckResult {
	out := make([]schema.RiskCheckResult, 0, 4)
	for _, u := range c.All() {
		if !u.Available {
			continue
		}
		status := schema.CheckPass
		switch {
		case u.Utilization > 1:
			status = schema.CheckFail
		case u.Utilization >= warnAt:
			status = schema.CheckWarn
		}
		out = append(out, schema.RiskCheckResult{
			Name:   u.Name,
			Status: status,
			Value:  u.Value,
			Limit:  u.Limit,
		})
	}
	return out
}

// Breaches returns the usages over their limit.
func (c Consumption) Breaches() []Usage {
	var out []Usage
	for _, u := range c.All() {
		if u.Breached() {
			out = append(out, u)
		}
	}
	return out
}
