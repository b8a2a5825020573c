package ops

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/recorder"
	"github.com/CrisisCore-Systems/Autotrader-sub001/pkg/conn"
	"github.com/CrisisCore-Systems/Autotrader-sub001/pkg/exception"
)

func write(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, defaultAuditDir, cfg.Audit.Recorder.Dir)
	assert.Equal(t, defaultMaxScanDays, cfg.Audit.MaxScanDays)
	assert.Equal(t, recorder.OverflowDropOldest, cfg.Audit.Recorder.Overflow)
	assert.Equal(t, cfg.Risk, cfg.Aggregator.Limits)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.False(t, cfg.Index.Enabled)
}

func TestLoadYAML(t *testing.T) {
	path := write(t, "auditd.yaml", `
audit:
  recorder:
    dir: /var/lib/audit
    overflow: drop_newest
    flush_interval: 50ms
  ring_size: 200
  max_scan_days: 7
aggregator:
  starting_equity: "250000"
  timezone: America/New_York
  latency_sla: 100ms
risk:
  max_daily_loss: 1000
http:
  addr: 127.0.0.1:9090
index:
  enabled: true
  db:
    driver: postgres
    host: db
    database: audit
reload_interval: 0s
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/audit", cfg.Audit.Recorder.Dir)
	assert.Equal(t, recorder.OverflowDropNewest, cfg.Audit.Recorder.Overflow)
	assert.Equal(t, 50*time.Millisecond, cfg.Audit.Recorder.FlushInterval)
	assert.Equal(t, 4096, cfg.Audit.Recorder.QueueSize)
	assert.Equal(t, 200, cfg.Audit.RingSize)
	assert.Equal(t, 7, cfg.Audit.MaxScanDays)
	assert.True(t, cfg.Aggregator.StartingEquity.Equal(decimal.NewFromInt(250000)))
	assert.Equal(t, "America/New_York", cfg.Aggregator.Timezone)
	assert.Equal(t, 100*time.Millisecond, cfg.Aggregator.LatencySLA)
	assert.Equal(t, 1000.0, cfg.Risk.MaxDailyLoss)
	assert.Equal(t, 1000.0, cfg.Aggregator.Limits.MaxDailyLoss)
	assert.Equal(t, 2_000_000.0, cfg.Risk.MaxGrossExposure)
	assert.Equal(t, "127.0.0.1:9090", cfg.HTTP.Addr)
	assert.Equal(t, defaultWriteTimeout, cfg.HTTP.WriteTimeout)
	assert.True(t, cfg.Index.Enabled)
	assert.Equal(t, conn.DriverPostgres, cfg.Index.DB.Driver)
	assert.Zero(t, cfg.ReloadInterval)
}

func TestLoadJSON(t *testing.T) {
	path := write(t, "auditd.json", `{
  "audit": {"recorder": {"dir": "/tmp/a"}, "ring_size": 50},
  "risk": {"max_leverage": 3},
  "http": {"addr": ":7070"}
}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/a", cfg.Audit.Recorder.Dir)
	assert.Equal(t, 50, cfg.Audit.RingSize)
	assert.Equal(t, 3.0, cfg.Aggregator.Limits.MaxLeverage)
	assert.Equal(t, ":7070", cfg.HTTP.Addr)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(write(t, "bad.yaml", "audit: [unterminated"))
	assert.True(t, errors.Is(err, exception.ErrConfiguration))

	cases := map[string]string{
		"overflow":   "audit:\n  recorder:\n    overflow: sometimes\n",
		"ring":       "audit:\n  ring_size: -1\n",
		"timezone":   "aggregator:\n  timezone: Mars/Olympus\n",
		"risk":       "risk:\n  max_leverage: -2\n",
		"index":      "index:\n  enabled: true\n  db:\n    driver: oracle\n",
		"profiling":  "profiling:\n  enabled: true\n  server_address: \"\"\n",
		"reload":     "reload_interval: -1s\n",
		"scan limit": "audit:\n  max_scan_days: -3\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(write(t, "c.yaml", body))
			var cfgErr *exception.ConfigurationError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := Default().WithDefaults()
	cfg.Risk.MaxDailyLoss = 1234
	cfg.Aggregator.Timezone = "Europe/London"

	for _, name := range []string{"out.yaml", "out.json"} {
		path := filepath.Join(dir, name)
		require.NoError(t, Save(path, cfg))
		got, err := Load(path)
		require.NoError(t, err, name)
		assert.Equal(t, 1234.0, got.Aggregator.Limits.MaxDailyLoss, name)
		assert.Equal(t, "Europe/London", got.Aggregator.Timezone, name)
		assert.Equal(t, cfg.Audit.Recorder.FlushInterval, got.Audit.Recorder.FlushInterval, name)
	}
}

func TestWatchReloads(t *testing.T) {
	path := write(t, "auditd.yaml", "risk:\n  max_daily_loss: 1000\n")

	var (
		mu  sync.Mutex
		got []float64
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		Watch(ctx, path, 5*time.Millisecond, func(cfg Config) {
			mu.Lock()
			got = append(got, cfg.Risk.MaxDailyLoss)
			mu.Unlock()
		})
	}()

	future := time.Now().Add(time.Hour)
	require.NoError(t, os.WriteFile(path, []byte("risk:\n  max_daily_loss: -5\n"), 0o644))
	require.NoError(t, os.Chtimes(path, future, future))
	time.Sleep(30 * time.Millisecond)

	later := future.Add(time.Minute)
	require.NoError(t, os.WriteFile(path, []byte("risk:\n  max_daily_loss: 2500\n"), 0o644))
	require.NoError(t, os.Chtimes(path, later, later))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []float64{2500}, got)
}
