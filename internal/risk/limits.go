package risk

import (
	"math"

	"github.com/CrisisCore-Systems/Autotrader-sub001/pkg/exception"
)

const defaultWarnUtilization = 0.8

// Limits are the portfolio-level ceilings the dashboard measures against.
type Limits struct {
	MaxGrossExposure float64 `json:"max_gross_exposure" yaml:"max_gross_exposure"`
	MaxNetExposure   float64 `json:"max_net_exposure" yaml:"max_net_exposure"`
	MaxLeverage      float64 `json:"max_leverage" yaml:"max_leverage"`
	MaxDailyLoss     float64 `json:"max_daily_loss" yaml:"max_daily_loss"`
	// WarnUtilization marks a limit as warn once usage reaches this fraction.
	WarnUtilization float64 `json:"warn_utilization" yaml:"warn_utilization"`
}

// DefaultLimits returns conservative limits for a 1,000,000 account.
func DefaultLimits() Limits {
	return Limits{
		MaxGrossExposure: 2_000_000,
		MaxNetExposure:   1_000_000,
		MaxLeverage:      2,
		MaxDailyLoss:     50_000,
		WarnUtilization:  defaultWarnUtilization,
	}
}

// WithDefaults fills zero fields from DefaultLimits.
func (l Limits) WithDefaults() Limits {
	d := DefaultLimits()
	if l.MaxGrossExposure == 0 {
		l.MaxGrossExposure = d.MaxGrossExposure
	}
	if l.MaxNetExposure == 0 {
		l.MaxNetExposure = d.MaxNetExposure
	}
	if l.MaxLeverage == 0 {
		l.MaxLeverage = d.MaxLeverage
	}
	if l.MaxDailyLoss == 0 {
		l.MaxDailyLoss = d.MaxDailyLoss
	}
	if l.WarnUtilization == 0 {
		l.WarnUtilization = d.WarnUtilization
	}
	return l
}

// Validate rejects non-positive limits.
func (l Limits) Validate() error {
	fields := []struct {
		name  string
		value float64
	}{
		{"risk.max_gross_exposure", l.MaxGrossExposure},
		{"risk.max_net_exposure", l.MaxNetExposure},
		{"risk.max_leverage", l.MaxLeverage},
		{"risk.max_daily_loss", l.MaxDailyLoss},
	}
	for _, f := range fields {
		if !(f.value > 0) || math.IsInf(f.value, 0) {
			return &exception.ConfigurationError{Field: f.name, Reason: "must be a positive finite number"}
		}
	}
	if !(l.WarnUtilization > 0 && l.WarnUtilization <= 1) {
		return &exception.ConfigurationError{Field: "risk.warn_utilization", Reason: "must be within (0, 1]"}
	}
	return nil
}
