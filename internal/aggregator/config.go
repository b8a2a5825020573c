package aggregator

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/risk"
	"github.com/CrisisCore-Systems/Autotrader-sub001/pkg/exception"
)

const (
	defaultLatencyWindow  = 1000
	defaultEquityWindow   = 5000
	defaultReturnsWindow  = 1000
	defaultDailyHistory   = 90
	defaultPeriodsPerYear = 252
	defaultLatencySLA     = 250 * time.Millisecond
)

var defaultStartingEquity = decimal.NewFromInt(1_000_000)

// Config controls the dashboard aggregator.
type Config struct {
	StartingEquity decimal.Decimal `json:"starting_equity" yaml:"starting_equity"`
	LatencyWindow  int             `json:"latency_window" yaml:"latency_window"`
	EquityWindow   int             `json:"equity_window" yaml:"equity_window"`
	ReturnsWindow  int             `json:"returns_window" yaml:"returns_window"`
	// DailyHistory is how many calendar days of realized PnL are kept.
	DailyHistory int           `json:"daily_history" yaml:"daily_history"`
	LatencySLA   time.Duration `json:"latency_sla" yaml:"latency_sla"`
	// Timezone names the IANA zone that defines a trading day.
	Timezone string `json:"timezone" yaml:"timezone"`
	// PeriodsPerYear annualizes the Sharpe ratio of the returns window.
	PeriodsPerYear float64     `json:"periods_per_year" yaml:"periods_per_year"`
	Limits         risk.Limits `json:"limits" yaml:"limits"`
}

// DefaultConfig returns the baseline aggregator configuration.
func DefaultConfig() Config {
	return Config{
		StartingEquity: defaultStartingEquity,
		LatencyWindow:  defaultLatencyWindow,
		EquityWindow:   defaultEquityWindow,
		ReturnsWindow:  defaultReturnsWindow,
		DailyHistory:   defaultDailyHistory,
		LatencySLA:     defaultLatencySLA,
		Timezone:       "UTC",
		PeriodsPerYear: defaultPeriodsPerYear,
		Limits:         risk.DefaultLimits(),
	}
}

// WithDefaults fills zero fields with their defaults.
func (c Config) WithDefaults() Config {
	if c.StartingEquity.IsZero() {
		c.StartingEquity = defaultStartingEquity
	}
	if c.LatencyWindow == 0 {
		c.LatencyWindow = defaultLatencyWindow
	}
	if c.EquityWindow == 0 {
		c.EquityWindow = defaultEquityWindow
	}
	if c.ReturnsWindow == 0 {
		c.ReturnsWindow = defaultReturnsWindow
	}
	if c.DailyHistory == 0 {
		c.DailyHistory = defaultDailyHistory
	}
	if c.LatencySLA == 0 {
		c.LatencySLA = defaultLatencySLA
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.PeriodsPerYear == 0 {
		c.PeriodsPerYear = defaultPeriodsPerYear
	}
	c.Limits = c.Limits.WithDefaults()
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if !c.StartingEquity.IsPositive() {
		return &exception.ConfigurationError{Field: "aggregator.starting_equity", Reason: "must be > 0"}
	}
	windows := []struct {
		name string
		size int
	}{
		{"aggregator.latency_window", c.LatencyWindow},
		{"aggregator.equity_window", c.EquityWindow},
		{"aggregator.returns_window", c.ReturnsWindow},
		{"aggregator.daily_history", c.DailyHistory},
	}
	for _, w := range windows {
		if w.size <= 0 {
			return &exception.ConfigurationError{Field: w.name, Reason: "must be > 0"}
		}
	}
	if c.LatencySLA <= 0 {
		return &exception.ConfigurationError{Field: "aggregator.latency_sla", Reason: "must be > 0"}
	}
	if !(c.PeriodsPerYear > 0) || math.IsInf(c.PeriodsPerYear, 0) {
		return &exception.ConfigurationError{Field: "aggregator.periods_per_year", Reason: "must be a positive finite number"}
	}
	if _, err := c.location(); err != nil {
		return &exception.ConfigurationError{Field: "aggregator.timezone", Reason: err.Error()}
	}
	return c.Limits.Validate()
}

func (c Config) location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}
