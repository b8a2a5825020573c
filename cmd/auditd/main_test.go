package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/audit"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/codec"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/ops"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema/schematest"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/state"
)

func seedTrail(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	store, err := audit.Open(context.Background(), audit.DefaultConfig(dir))
	require.NoError(t, err)
	for _, p := range schematest.All(schematest.Time(0), "sig-1") {
		store.Record(schema.MustEnvelope(p))
	}
	store.RecordFill(schematest.Fill(schematest.Time(24*60), "fill-2", "ord-2", "sig-2", "ETH/USD"))
	require.NoError(t, store.Close())
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestQueryCommand(t *testing.T) {
	dir := seedTrail(t)

	out, err := run(t, "--audit-dir", dir, "query", "--type", "fill", "--end", "2024-03-15")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	env, err := codec.DecodeLine([]byte(lines[0]))
	require.NoError(t, err)
	assert.Equal(t, schema.EventFill, env.Type())

	out, err = run(t, "--audit-dir", dir, "query", "--start", "2024-03-16")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "\n"))

	out, err = run(t, "--audit-dir", dir, "query", "-n", "3")
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(out, "\n"))

	_, err = run(t, "--audit-dir", dir, "query", "--type", "nope")
	assert.Error(t, err)
	_, err = run(t, "--audit-dir", dir, "query", "--start", "soon")
	assert.Error(t, err)
}

func TestHistoryCommand(t *testing.T) {
	dir := seedTrail(t)
	out, err := run(t, "--audit-dir", dir, "history", "sig-1")
	require.NoError(t, err)

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.JSONEq(t, `"sig-1"`, string(body["signal_id"]))
	var fills []json.RawMessage
	require.NoError(t, json.Unmarshal(body["fills"], &fills))
	assert.Len(t, fills, 1)

	_, err = run(t, "--audit-dir", dir, "history")
	assert.Error(t, err)
}

func TestReportCommand(t *testing.T) {
	dir := seedTrail(t)
	out, err := run(t, "--audit-dir", dir, "report", "--start", "2024-03-15", "--end", "2024-03-16")
	require.NoError(t, err)

	var report audit.ComplianceReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 10, report.TotalEvents)
	assert.Equal(t, []string{"BTC/USD", "ETH/USD"}, report.InstrumentsTraded)

	_, err = run(t, "--audit-dir", dir, "report", "--start", "2024-03-15")
	assert.Error(t, err)
}

func TestExportCommand(t *testing.T) {
	dir := seedTrail(t)
	out, err := run(t, "--audit-dir", dir, "export", "order")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "timestamp,event_type,seq,event_id"))
	assert.Equal(t, 2, strings.Count(out, "\n"))

	path := filepath.Join(t.TempDir(), "fills.csv")
	_, err = run(t, "--audit-dir", dir, "export", "fill", "-o", path)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "fill-1")
}

func TestReplayCommand(t *testing.T) {
	dir := seedTrail(t)
	snapshot := filepath.Join(t.TempDir(), "dashboard.json")
	output := filepath.Join(t.TempDir(), "out")

	out, err := run(t, "--audit-dir", dir, "replay", "--snapshot-out", snapshot, "--output-dir", output)
	require.NoError(t, err)
	var res replayResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, uint64(10), res.Read)
	assert.Equal(t, uint64(10), res.Applied)
	assert.Equal(t, uint64(10), res.Dashboard.Events)
	require.NotNil(t, res.Output)
	assert.Equal(t, uint64(10), res.Output.Written)
	assert.FileExists(t, snapshot)

	out, err = run(t, "--audit-dir", output, "query")
	require.NoError(t, err)
	assert.Empty(t, out)

	cfgPath := filepath.Join(t.TempDir(), "replay.yaml")
	cfg := ops.Default().WithDefaults()
	cfg.Audit.Recorder.Dir = output
	cfg.Audit.Recorder.FilePrefix = "replay"
	require.NoError(t, ops.Save(cfgPath, cfg))
	out, err = run(t, "--config", cfgPath, "query")
	require.NoError(t, err)
	assert.Equal(t, 10, strings.Count(out, "\n"))

	out, err = run(t, "--audit-dir", dir, "replay", "--verify", snapshot)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.NotNil(t, res.Verified)
	assert.True(t, *res.Verified)

	_, err = run(t, "--audit-dir", dir, "replay", "--verify", snapshot, "--drop-rate", "1", "--seed", "3")
	assert.Error(t, err)

	_, err = run(t, "--audit-dir", dir, "replay", "--dup-rate", "2")
	assert.Error(t, err)
}

func TestConfigCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auditd.yaml")
	_, err := run(t, "config", "init", path)
	require.NoError(t, err)
	_, err = run(t, "config", "init", path)
	assert.ErrorIs(t, err, os.ErrExist)

	out, err := run(t, "--config", path, "config", "print")
	require.NoError(t, err)
	assert.Contains(t, out, "max_scan_days: 90")
	assert.Contains(t, out, "overflow: drop_oldest")
}

func TestServeRecoversAndSnapshotsOnShutdown(t *testing.T) {
	dir := seedTrail(t)
	cfg, err := ops.Load("")
	require.NoError(t, err)
	cfg.Audit.Recorder.Dir = dir
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Snapshot.Path = filepath.Join(t.TempDir(), "dashboard.json")
	cfg.Index.Enabled = true
	cfg.Index.DB.Path = filepath.Join(t.TempDir(), "index.db")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServe(ctx, "", cfg, &serveOptions{}) }()
	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}

	snap, err := state.ReadSnapshot(cfg.Snapshot.Path)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), snap.LastSeq)
	assert.Equal(t, uint64(10), snap.Dashboard.Events)
}

func TestSimulateThenReplay(t *testing.T) {
	dir := t.TempDir()
	out, err := run(t, "--audit-dir", dir, "simulate", "--ticks", "120", "--start", "2024-03-15", "--seed", "9")
	require.NoError(t, err)
	var res simulateResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 120, res.Stats.Ticks)
	assert.Equal(t, uint64(res.Stats.Events), res.LastSeq)

	out, err = run(t, "--audit-dir", dir, "replay")
	require.NoError(t, err)
	var replayed replayResult
	require.NoError(t, json.Unmarshal([]byte(out), &replayed))
	assert.Equal(t, res.LastSeq, replayed.Applied)
	assert.InDelta(t, res.Stats.RealizedPnL.InexactFloat64(), replayed.Dashboard.PnL.Realized, 1e-6)

	out, err = run(t, "--audit-dir", dir, "simulate", "--ticks", "30", "--start", "2024-03-16", "--seed", "9")
	require.NoError(t, err)
	var again simulateResult
	require.NoError(t, json.Unmarshal([]byte(out), &again))
	assert.Equal(t, res.LastSeq+uint64(again.Stats.Events), again.LastSeq)

	_, err = run(t, "--audit-dir", dir, "simulate", "--ticks", "0")
	assert.Error(t, err)
	_, err = run(t, "--audit-dir", dir, "simulate", "--reject-rate", "2")
	assert.Error(t, err)
}
