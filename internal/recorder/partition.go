package recorder

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/yanun0323/errors"
)

const (
	dayLayout    = "2006-01-02"
	partitionExt = ".jsonl"
)

// Partition is one UTC calendar day of audit records.
type Partition struct {
	Day  time.Time
	Path string
}

// Day truncates t to the start of its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// PartitionName returns the file name holding events of the given day.
func PartitionName(prefix string, t time.Time) string {
	return prefix + "_" + t.UTC().Format(dayLayout) + partitionExt
}

// ParsePartitionName extracts the day from a partition file name.
func ParsePartitionName(prefix, name string) (time.Time, bool) {
	rest, ok := strings.CutPrefix(name, prefix+"_")
	if !ok {
		return time.Time{}, false
	}
	rest, ok = strings.CutSuffix(rest, partitionExt)
	if !ok {
		return time.Time{}, false
	}
	day, err := time.ParseInLocation(dayLayout, rest, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

// ListPartitions returns the partitions in dir sorted by day.
// A missing directory has no partitions.
func ListPartitions(dir, prefix string) ([]Partition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "list partitions in %s", dir)
	}
	var parts []Partition
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		day, ok := ParsePartitionName(prefix, entry.Name())
		if !ok {
			continue
		}
		parts = append(parts, Partition{Day: day, Path: filepath.Join(dir, entry.Name())})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].Day.Before(parts[j].Day) })
	return parts, nil
}

// PartitionsBetween returns the partitions whose day intersects [start, end].
// A zero bound leaves that side open.
func PartitionsBetween(dir, prefix string, start, end time.Time) ([]Partition, error) {
	parts, err := ListPartitions(dir, prefix)
	if err != nil {
		return nil, err
	}
	var from, to time.Time
	if !start.IsZero() {
		from = Day(start)
	}
	if !end.IsZero() {
		to = Day(end)
	}
	out := parts[:0]
	for _, p := range parts {
		if !from.IsZero() && p.Day.Before(from) {
			continue
		}
		if !to.IsZero() && p.Day.After(to) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// Latest returns at most n of the newest partitions, oldest first.
func Latest(parts []Partition, n int) []Partition {
	if n <= 0 || len(parts) <= n {
		return parts
	}
	return parts[len(parts)-n:]
}
