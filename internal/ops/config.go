package ops

import (
	"os"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"gopkg.in/yaml.v3"

	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/aggregator"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/audit"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/risk"
	"github.com/CrisisCore-Systems/Autotrader-sub001/pkg/conn"
	"github.com/CrisisCore-Systems/Autotrader-sub001/pkg/exception"
)

const (
	defaultAuditDir        = "data/audit"
	defaultMaxScanDays     = 90
	defaultHTTPAddr        = ":8080"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultShutdownTimeout = 5 * time.Second
	defaultIndexQueue      = 4096
	defaultReloadInterval  = 2 * time.Second
	defaultSnapshotEvery   = time.Minute
)

// Config mirrors the config file layout.
type Config struct {
	Audit      audit.Config      `json:"audit" yaml:"audit"`
	Aggregator aggregator.Config `json:"aggregator" yaml:"aggregator"`
	// Risk overrides aggregator.limits and is the only section reloaded at runtime.
	Risk      risk.Limits     `json:"risk" yaml:"risk"`
	HTTP      HTTPConfig      `json:"http" yaml:"http"`
	Index     IndexConfig     `json:"index" yaml:"index"`
	Profiling ProfilingConfig `json:"profiling" yaml:"profiling"`
	Snapshot  SnapshotConfig  `json:"snapshot" yaml:"snapshot"`
	// ReloadInterval is how often the file is polled for changes; 0 disables reload.
	ReloadInterval time.Duration `json:"reload_interval" yaml:"reload_interval"`
}

// HTTPConfig controls the dashboard API listener.
type HTTPConfig struct {
	Addr            string        `json:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// IndexConfig controls the optional SQL event index.
type IndexConfig struct {
	Enabled   bool        `json:"enabled" yaml:"enabled"`
	QueueSize int         `json:"queue_size" yaml:"queue_size"`
	DB        conn.Option `json:"db" yaml:"db"`
}

// ProfilingConfig controls continuous profiling.
type ProfilingConfig struct {
	Enabled         bool              `json:"enabled" yaml:"enabled"`
	ApplicationName string            `json:"application_name" yaml:"application_name"`
	ServerAddress   string            `json:"server_address" yaml:"server_address"`
	Tags            map[string]string `json:"tags" yaml:"tags"`
}

// SnapshotConfig controls periodic dashboard snapshot files.
type SnapshotConfig struct {
	// Path is the snapshot file; empty disables snapshots.
	Path     string        `json:"path" yaml:"path"`
	Interval time.Duration `json:"interval" yaml:"interval"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	agg := aggregator.DefaultConfig()
	a := audit.DefaultConfig(defaultAuditDir)
	a.MaxScanDays = defaultMaxScanDays
	return Config{
		Audit:      a,
		Aggregator: agg,
		Risk:       agg.Limits,
		HTTP: HTTPConfig{
			Addr:            defaultHTTPAddr,
			ReadTimeout:     defaultReadTimeout,
			WriteTimeout:    defaultWriteTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Index: IndexConfig{
			QueueSize: defaultIndexQueue,
			DB:        conn.Option{Driver: conn.DriverSQLite, Path: "data/audit_index.db"},
		},
		Profiling: ProfilingConfig{
			ApplicationName: "autotrader.auditd",
			ServerAddress:   "http://localhost:4040",
		},
		Snapshot:       SnapshotConfig{Interval: defaultSnapshotEvery},
		ReloadInterval: defaultReloadInterval,
	}
}

// WithDefaults fills zero fields and resolves the risk override.
func (c Config) WithDefaults() Config {
	c.Audit = c.Audit.WithDefaults()
	c.Risk = c.Risk.WithDefaults()
	c.Aggregator.Limits = c.Risk
	c.Aggregator = c.Aggregator.WithDefaults()
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = defaultHTTPAddr
	}
	if c.HTTP.ReadTimeout == 0 {
		c.HTTP.ReadTimeout = defaultReadTimeout
	}
	if c.HTTP.WriteTimeout == 0 {
		c.HTTP.WriteTimeout = defaultWriteTimeout
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.Index.QueueSize == 0 {
		c.Index.QueueSize = defaultIndexQueue
	}
	if c.Snapshot.Interval == 0 {
		c.Snapshot.Interval = defaultSnapshotEvery
	}
	return c
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Audit.Validate(); err != nil {
		return err
	}
	if err := c.Risk.Validate(); err != nil {
		return err
	}
	if err := c.Aggregator.Validate(); err != nil {
		return err
	}
	if c.HTTP.ReadTimeout < 0 || c.HTTP.WriteTimeout < 0 || c.HTTP.ShutdownTimeout < 0 {
		return &exception.ConfigurationError{Field: "http", Reason: "timeouts must be >= 0"}
	}
	if c.Index.Enabled {
		if c.Index.QueueSize <= 0 {
			return &exception.ConfigurationError{Field: "index.queue_size", Reason: "must be > 0"}
		}
		if err := c.Index.DB.Validate(); err != nil {
			return &exception.ConfigurationError{Field: "index.db.driver", Reason: err.Error()}
		}
	}
	if c.Profiling.Enabled && c.Profiling.ServerAddress == "" {
		return &exception.ConfigurationError{Field: "profiling.server_address", Reason: "is empty"}
	}
	if c.Snapshot.Path != "" && c.Snapshot.Interval <= 0 {
		return &exception.ConfigurationError{Field: "snapshot.interval", Reason: "must be > 0"}
	}
	if c.ReloadInterval < 0 {
		return &exception.ConfigurationError{Field: "reload_interval", Reason: "must be >= 0"}
	}
	return nil
}

// Load reads a YAML or JSON config file over the defaults, then validates it.
// An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg.WithDefaults(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config file")
	}

	// Try YAML first, fall back to JSON.
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		cfg = Default()
		if jerr := sonic.ConfigStd.Unmarshal(data, &cfg); jerr != nil {
			return Config{}, &exception.ConfigurationError{
				Field:  path,
				Reason: "parse (tried YAML and JSON): " + err.Error(),
			}
		}
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes cfg as YAML, or as JSON when the path ends in .json.
func Save(path string, cfg Config) error {
	var (
		data []byte
		err  error
	)
	if strings.HasSuffix(strings.ToLower(path), ".json") {
		data, err = sonic.ConfigStd.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}
	return os.WriteFile(path, data, 0o644)
}
