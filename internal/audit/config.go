package audit

import (
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/recorder"
	"github.com/CrisisCore-Systems/Autotrader-sub001/pkg/exception"
)

const defaultRingSize = 1000

// Config controls the audit trail store. Writer settings live in Recorder.
type Config struct {
	Recorder recorder.Config `json:"recorder" yaml:"recorder"`
	// RingSize is the number of recent events kept in memory.
	RingSize int `json:"ring_size" yaml:"ring_size"`
	// MaxScanDays caps how many of the newest partitions a query without a
	// time range reads. 0 scans every partition.
	MaxScanDays int `json:"max_scan_days" yaml:"max_scan_days"`
}

// DefaultConfig returns a store config writing under dir.
func DefaultConfig(dir string) Config {
	return Config{
		Recorder: recorder.DefaultConfig(dir),
		RingSize: defaultRingSize,
	}
}

// WithDefaults fills zero fields with their defaults.
func (c Config) WithDefaults() Config {
	c.Recorder = c.Recorder.WithDefaults()
	if c.RingSize == 0 {
		c.RingSize = defaultRingSize
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if err := c.Recorder.Validate(); err != nil {
		return err
	}
	if c.RingSize <= 0 {
		return &exception.ConfigurationError{Field: "audit.ring_size", Reason: "must be > 0"}
	}
	if c.MaxScanDays < 0 {
		return &exception.ConfigurationError{Field: "audit.max_scan_days", Reason: "must be >= 0"}
	}
	return nil
}
