package recorder

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/codec"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema/schematest"
	"github.com/CrisisCore-Systems/Autotrader-sub001/pkg/exception"
)

func writePartition(t *testing.T, dir string, day time.Time, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, PartitionName("audit", day))
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func line(t *testing.T, p schema.Payload) string {
	t.Helper()
	b, err := codec.Marshal(schema.MustEnvelope(p))
	require.NoError(t, err)
	return string(b)
}

func TestScanFileSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	path := writePartition(t, dir, schematest.Time(0),
		line(t, schematest.Signal(schematest.Time(0), "sig-1", "BTC/USD")),
		`{"event_type":"signal","data":{`,
		``,
		`{"event_type":"mystery","data":{}}`,
		line(t, schematest.Signal(schematest.Time(1), "sig-2", "BTC/USD")),
	)

	var parseErrs []*exception.QueryParseError
	var got []string
	err := ScanFile(context.Background(), path, ScanOptions{
		OnParseError: func(e *exception.QueryParseError) { parseErrs = append(parseErrs, e) },
	}, func(env schema.Envelope) error {
		got = append(got, env.SignalID())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"sig-1", "sig-2"}, got)
	require.Len(t, parseErrs, 2)
	assert.Equal(t, 2, parseErrs[0].Line)
	assert.Equal(t, 4, parseErrs[1].Line)
	assert.Equal(t, path, parseErrs[0].Path)
}

func TestScanFileMissingIsEmpty(t *testing.T) {
	err := ScanFile(context.Background(), filepath.Join(t.TempDir(), "audit_2020-01-01.jsonl"), ScanOptions{},
		func(schema.Envelope) error {
			t.Fatal("unexpected envelope")
			return nil
		})
	assert.NoError(t, err)
}

func TestScanPartitionsStopsEarly(t *testing.T) {
	dir := t.TempDir()
	writePartition(t, dir, schematest.Time(0),
		line(t, schematest.System(schematest.Time(0), "a")),
		line(t, schematest.System(schematest.Time(1), "b")))
	writePartition(t, dir, schematest.Time(0).AddDate(0, 0, 1),
		line(t, schematest.System(schematest.Time(0).AddDate(0, 0, 1), "c")))

	parts, err := ListPartitions(dir, "audit")
	require.NoError(t, err)

	var seen int
	err = ScanPartitions(context.Background(), parts, ScanOptions{}, func(schema.Envelope) error {
		seen++
		if seen == 2 {
			return ErrStopScan
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, seen)
}

func TestScanFileHonorsContext(t *testing.T) {
	dir := t.TempDir()
	path := writePartition(t, dir, schematest.Time(0), line(t, schematest.System(schematest.Time(0), "a")))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ScanFile(ctx, path, ScanOptions{}, func(schema.Envelope) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPartitionsBetween(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	for _, offset := range []int{0, 1, 3, 6} {
		writePartition(t, dir, base.AddDate(0, 0, offset), line(t, schematest.System(base.AddDate(0, 0, offset), "x")))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "audit_garbage.jsonl"), []byte("x"), 0o644))

	all, err := ListPartitions(dir, "audit")
	require.NoError(t, err)
	require.Len(t, all, 4)

	parts, err := PartitionsBetween(dir, "audit", base.Add(26*time.Hour), base.AddDate(0, 0, 5))
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.True(t, parts[0].Day.Equal(base.AddDate(0, 0, 1)))
	assert.True(t, parts[1].Day.Equal(base.AddDate(0, 0, 3)))

	open, err := PartitionsBetween(dir, "audit", time.Time{}, base.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Len(t, open, 2)

	assert.Len(t, Latest(all, 2), 2)
	assert.True(t, Latest(all, 2)[1].Day.Equal(base.AddDate(0, 0, 6)))
	assert.Len(t, Latest(all, 0), 4)

	none, err := ListPartitions(filepath.Join(dir, "missing"), "audit")
	require.NoError(t, err)
	assert.Empty(t, none)
}

type recordingClock struct {
	slept []time.Duration
}

func (c *recordingClock) Sleep(_ context.Context, d time.Duration) error {
	c.slept = append(c.slept, d)
	return nil
}

func TestPlaybackOrderAndPacing(t *testing.T) {
	dir := t.TempDir()
	day2 := schematest.Time(0).AddDate(0, 0, 1)
	writePartition(t, dir, day2, line(t, schematest.System(day2, "third")))
	writePartition(t, dir, schematest.Time(0),
		line(t, schematest.System(schematest.Time(0), "first")),
		"not json",
		line(t, schematest.System(schematest.Time(2), "second")))

	clock := &recordingClock{}
	var skipped int
	pb, err := NewPlayback(PlaybackConfig{
		Dir:          dir,
		Speed:        60,
		OnParseError: func(*exception.QueryParseError) { skipped++ },
	})
	require.NoError(t, err)
	pb.WithClock(clock)

	var actions []string
	require.NoError(t, pb.Run(context.Background(), func(env schema.Envelope) error {
		actions = append(actions, env.Payload().(schema.SystemEvent).Action)
		return nil
	}))
	assert.Equal(t, []string{"first", "second", "third"}, actions)
	assert.Equal(t, 1, skipped)
	require.Len(t, clock.slept, 2)
	assert.Equal(t, 2*time.Second, clock.slept[0])
}

func TestPlaybackConfigValidate(t *testing.T) {
	_, err := NewPlayback(PlaybackConfig{})
	assert.True(t, errors.Is(err, exception.ErrConfiguration))
	_, err = NewPlayback(PlaybackConfig{Dir: "x", From: schematest.Time(0), To: schematest.Time(0).AddDate(0, 0, -1)})
	assert.True(t, errors.Is(err, exception.ErrConfiguration))

	pb, err := NewPlayback(PlaybackConfig{Dir: t.TempDir()})
	require.NoError(t, err)
	assert.True(t, errors.Is(pb.Run(context.Background(), nil), exception.ErrNilInstance))
}
