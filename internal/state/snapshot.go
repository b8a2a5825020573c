package state

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/aggregator"
)

// Snapshot is a persisted dashboard view plus the audit position it covers.
type Snapshot struct {
	SavedAt   time.Time           `json:"saved_at"`
	LastSeq   uint64              `json:"last_seq"`
	Dashboard aggregator.Snapshot `json:"dashboard"`
}

// WriteSnapshot writes a snapshot to disk as JSON. The file is replaced
// atomically so readers never observe a partial snapshot.
func WriteSnapshot(path string, snapshot Snapshot) error {
	if snapshot.SavedAt.IsZero() {
		snapshot.SavedAt = time.Now().UTC()
	}
	data, err := sonic.ConfigStd.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "create snapshot dir")
		}
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create snapshot temp file")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "write snapshot")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close snapshot")
	}
	return os.Rename(tmp.Name(), path)
}

// ReadSnapshot loads a snapshot from disk.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := sonic.ConfigStd.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, errors.Wrapf(err, "decode snapshot %s", path)
	}
	return snap, nil
}

const compareTolerance = 1e-6

// CompareSnapshots checks that two dashboard views agree on counts, PnL and
// per-instrument inventory. Latency and timestamps are not compared.
func CompareSnapshots(expected, actual aggregator.Snapshot) error {
	if expected.Events != actual.Events {
		return fmt.Errorf("events mismatch: expected=%d actual=%d", expected.Events, actual.Events)
	}
	if expected.Execution.Orders != actual.Execution.Orders || expected.Execution.Fills != actual.Execution.Fills {
		return fmt.Errorf("execution mismatch: expected=%d/%d actual=%d/%d",
			expected.Execution.Orders, expected.Execution.Fills, actual.Execution.Orders, actual.Execution.Fills)
	}
	if !near(expected.PnL.Realized, actual.PnL.Realized) {
		return fmt.Errorf("realized pnl mismatch: expected=%v actual=%v", expected.PnL.Realized, actual.PnL.Realized)
	}
	if !near(expected.PnL.Unrealized, actual.PnL.Unrealized) {
		return fmt.Errorf("unrealized pnl mismatch: expected=%v actual=%v", expected.PnL.Unrealized, actual.PnL.Unrealized)
	}
	if expected.CircuitBreaker.Active != actual.CircuitBreaker.Active {
		return fmt.Errorf("circuit breaker mismatch: expected=%v actual=%v", expected.CircuitBreaker.Active, actual.CircuitBreaker.Active)
	}
	if len(expected.Instruments) != len(actual.Instruments) {
		return fmt.Errorf("instrument count mismatch: expected=%d actual=%d", len(expected.Instruments), len(actual.Instruments))
	}
	for name, want := range expected.Instruments {
		got, ok := actual.Instruments[name]
		if !ok {
			return fmt.Errorf("snapshot missing instrument: %s", name)
		}
		if !near(want.Quantity, got.Quantity) || !near(want.RealizedPnL, got.RealizedPnL) {
			return fmt.Errorf("instrument %s mismatch: expected qty=%v pnl=%v actual qty=%v pnl=%v",
				name, want.Quantity, want.RealizedPnL, got.Quantity, got.RealizedPnL)
		}
	}
	return nil
}

func near(a, b float64) bool {
	return math.Abs(a-b) <= compareTolerance*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}
