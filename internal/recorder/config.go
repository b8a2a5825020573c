package recorder

import (
	"strings"
	"time"

	"github.com/CrisisCore-Systems/Autotrader-sub001/pkg/exception"
)

const (
	defaultQueueSize     = 4096
	defaultBufferSize    = 64 * 1024
	defaultFilePrefix    = "audit"
	defaultMaxOpenFiles  = 4
	defaultFlushInterval = 200 * time.Millisecond
)

// Overflow selects what Append does when the queue is full.
type Overflow string

const (
	// OverflowBlock makes Append wait for queue space.
	OverflowBlock Overflow = "block"
	// OverflowDropOldest evicts the oldest queued record to admit the new one.
	OverflowDropOldest Overflow = "drop_oldest"
	// OverflowDropNewest rejects the new record.
	OverflowDropNewest Overflow = "drop_newest"
)

func (o Overflow) Valid() bool {
	switch o {
	case OverflowBlock, OverflowDropOldest, OverflowDropNewest:
		return true
	default:
		return false
	}
}

// ParseOverflow accepts the config spelling of an overflow policy.
func ParseOverflow(s string) (Overflow, error) {
	o := Overflow(strings.ToLower(strings.TrimSpace(s)))
	if !o.Valid() {
		return "", &exception.ConfigurationError{Field: "overflow", Reason: "unknown policy " + s}
	}
	return o, nil
}

// Config controls the partition writer.
type Config struct {
	Dir           string        `json:"dir" yaml:"dir"`
	FilePrefix    string        `json:"file_prefix" yaml:"file_prefix"`
	QueueSize     int           `json:"queue_size" yaml:"queue_size"`
	BufferSize    int           `json:"buffer_size" yaml:"buffer_size"`
	Overflow      Overflow      `json:"overflow" yaml:"overflow"`
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`
	SyncInterval  time.Duration `json:"sync_interval" yaml:"sync_interval"`
	MaxOpenFiles  int           `json:"max_open_files" yaml:"max_open_files"`
}

// DefaultConfig returns a baseline configuration for the writer.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:           dir,
		FilePrefix:    defaultFilePrefix,
		QueueSize:     defaultQueueSize,
		BufferSize:    defaultBufferSize,
		Overflow:      OverflowDropOldest,
		FlushInterval: defaultFlushInterval,
		MaxOpenFiles:  defaultMaxOpenFiles,
	}
}

// WithDefaults fills zero fields with their defaults.
func (c Config) WithDefaults() Config {
	if c.FilePrefix == "" {
		c.FilePrefix = defaultFilePrefix
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.BufferSize == 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.Overflow == "" {
		c.Overflow = OverflowDropOldest
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.MaxOpenFiles == 0 {
		c.MaxOpenFiles = defaultMaxOpenFiles
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.Dir == "" {
		return &exception.ConfigurationError{Field: "audit.dir", Reason: "is empty"}
	}
	if c.FilePrefix == "" || strings.ContainsAny(c.FilePrefix, `/\`) {
		return &exception.ConfigurationError{Field: "audit.file_prefix", Reason: "must be a plain file name prefix"}
	}
	if c.QueueSize <= 0 {
		return &exception.ConfigurationError{Field: "audit.queue_size", Reason: "must be > 0"}
	}
	if c.BufferSize <= 0 {
		return &exception.ConfigurationError{Field: "audit.buffer_size", Reason: "must be > 0"}
	}
	if !c.Overflow.Valid() {
		return &exception.ConfigurationError{Field: "audit.overflow", Reason: "unknown policy " + string(c.Overflow)}
	}
	if c.FlushInterval < 0 {
		return &exception.ConfigurationError{Field: "audit.flush_interval", Reason: "must be >= 0"}
	}
	if c.SyncInterval < 0 {
		return &exception.ConfigurationError{Field: "audit.sync_interval", Reason: "must be >= 0"}
	}
	if c.MaxOpenFiles <= 0 {
		return &exception.ConfigurationError{Field: "audit.max_open_files", Reason: "must be > 0"}
	}
	return nil
}
