package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/audit"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/bus"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/index"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/obs"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/ops"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema/schematest"
	"github.com/CrisisCore-Systems/Autotrader-sub001/pkg/conn"
)

func TestIndexRuntimeStopDrainsSink(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "index.db")
	cfg := ops.IndexConfig{
		Enabled:   true,
		QueueSize: 16,
		DB:        conn.Option{Driver: conn.DriverSQLite, Path: dbPath},
	}
	rt, err := startIndex(cfg, obs.NewMetrics())
	require.NoError(t, err)

	env := schema.MustEnvelope(schematest.Signal(schematest.Time(0), "sig-1", "BTC/USD")).WithSequence(1, "evt-1")
	require.NoError(t, rt.sink.Publish(env))
	rt.stop()
	rt.stop()
	assert.ErrorIs(t, rt.sink.Publish(env), bus.ErrQueueClosed)

	client, err := conn.New(cfg.DB)
	require.NoError(t, err)
	defer client.Close()
	idx, err := index.New(client.DB())
	require.NoError(t, err)
	got, err := idx.Find(context.Background(), audit.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(1), got[0].Seq())
}

func TestServeStopsIndexWhenStoreFails(t *testing.T) {
	cfg, err := ops.Load("")
	require.NoError(t, err)
	notDir := filepath.Join(t.TempDir(), "trail")
	require.NoError(t, os.WriteFile(notDir, []byte("x"), 0o644))
	cfg.Audit.Recorder.Dir = notDir
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Index.Enabled = true
	cfg.Index.DB.Path = filepath.Join(t.TempDir(), "index.db")

	done := make(chan error, 1)
	go func() { done <- runServe(context.Background(), "", cfg, &serveOptions{noRecover: true}) }()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return")
	}
}
