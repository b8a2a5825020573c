package recorder

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/codec"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema/schematest"
)

func stamped(t *testing.T, seq uint64, p schema.Payload) string {
	t.Helper()
	b, err := codec.Marshal(schema.MustEnvelope(p).WithSequence(seq, "evt"))
	require.NoError(t, err)
	return string(b)
}

func TestLastSeqEmptyDir(t *testing.T) {
	seq, err := LastSeq(context.Background(), filepath.Join(t.TempDir(), "missing"), "audit")
	require.NoError(t, err)
	assert.Zero(t, seq)
}

func TestLastSeqAcrossPartitions(t *testing.T) {
	dir := t.TempDir()
	// a late event for day 0 lands after the day 1 events
	writePartition(t, dir, schematest.Time(0),
		stamped(t, 1, schematest.Signal(schematest.Time(0), "sig-1", "BTC/USD")),
		stamped(t, 9, schematest.Signal(schematest.Time(1), "sig-9", "BTC/USD")),
	)
	writePartition(t, dir, schematest.Time(0).AddDate(0, 0, 1),
		stamped(t, 2, schematest.Signal(schematest.Time(0).AddDate(0, 0, 1), "sig-2", "BTC/USD")),
		stamped(t, 8, schematest.Signal(schematest.Time(0).AddDate(0, 0, 1), "sig-8", "BTC/USD")),
	)

	seq, err := LastSeq(context.Background(), dir, "audit")
	require.NoError(t, err)
	assert.Equal(t, uint64(9), seq)
}

func TestLastSeqSkipsTornTail(t *testing.T) {
	dir := t.TempDir()
	path := writePartition(t, dir, schematest.Time(0),
		stamped(t, 4, schematest.Signal(schematest.Time(0), "sig-4", "BTC/USD")),
		stamped(t, 5, schematest.Signal(schematest.Time(1), "sig-5", "BTC/USD")),
	)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"event_type":"signal","seq":6,"data":{"sig`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	seq, err := LastSeq(context.Background(), dir, "audit")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), seq)
}

func TestLastSeqFallsBackToFullScan(t *testing.T) {
	dir := t.TempDir()
	garbage := strings.Repeat("x", tailChunkSize+10)
	writePartition(t, dir, schematest.Time(0),
		stamped(t, 3, schematest.Signal(schematest.Time(0), "sig-3", "BTC/USD")),
		garbage,
	)

	seq, err := LastSeq(context.Background(), dir, "audit")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)
}

func TestLastSeqIgnoresUnstampedLines(t *testing.T) {
	dir := t.TempDir()
	writePartition(t, dir, schematest.Time(0),
		stamped(t, 7, schematest.Signal(schematest.Time(0), "sig-7", "BTC/USD")),
		line(t, schematest.Signal(schematest.Time(1), "sig-x", "BTC/USD")),
	)

	seq, err := LastSeq(context.Background(), dir, "audit")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), seq)
}

func TestLastSeqStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	writePartition(t, dir, schematest.Time(0), stamped(t, 1, schematest.Signal(schematest.Time(0), "sig-1", "BTC/USD")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := LastSeq(ctx, dir, "audit")
	assert.ErrorIs(t, err, context.Canceled)
}
