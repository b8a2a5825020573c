package audit

import (
	"context"
	"encoding/csv"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema"
	"github.com/CrisisCore-Systems/Autotrader-sub001/pkg/exception"
)

var leadingColumns = []string{"timestamp", "event_type", "seq", "event_id"}

// Table is a flat, column-oriented view of one event kind.
type Table struct {
	EventType schema.EventType `json:"event_type"`
	Columns   []string         `json:"columns"`
	Rows      [][]string       `json:"rows"`
}

// Len returns the number of rows.
func (t Table) Len() int { return len(t.Rows) }

// Column returns every value of the named column, or nil when absent.
func (t Table) Column(name string) []string {
	idx := -1
	for i, c := range t.Columns {
		if c == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	out := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out
}

// WriteCSV writes the header followed by every row.
func (t Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return err
	}
	return cw.Error()
}

// ExportTable flattens every event of one kind in [start, end] into a table.
// Nested maps become dotted columns; lists are kept as JSON text.
func (s *Store) ExportTable(ctx context.Context, eventType schema.EventType, start, end time.Time) (Table, error) {
	if !eventType.Valid() {
		return Table{}, errors.Wrapf(exception.ErrInvalidArgument, "unknown event type %q", eventType)
	}
	events, err := s.QueryEvents(ctx, Filter{EventType: eventType, Start: start, End: end})
	if err != nil {
		return Table{}, err
	}

	records := make([]map[string]string, 0, len(events))
	keys := make(map[string]struct{})
	for _, env := range events {
		rec, err := flatten(env)
		if err != nil {
			return Table{}, err
		}
		for k := range rec {
			keys[k] = struct{}{}
		}
		records = append(records, rec)
	}

	columns := append([]string(nil), leadingColumns...)
	payloadColumns := make([]string, 0, len(keys))
	for k := range keys {
		if !isLeading(k) {
			payloadColumns = append(payloadColumns, k)
		}
	}
	sort.Strings(payloadColumns)
	columns = append(columns, payloadColumns...)

	rows := make([][]string, len(records))
	for i, rec := range records {
		row := make([]string, len(columns))
		for j, c := range columns {
			row[j] = rec[c]
		}
		rows[i] = row
	}
	return Table{EventType: eventType, Columns: columns, Rows: rows}, nil
}

func isLeading(name string) bool {
	for _, c := range leadingColumns {
		if c == name {
			return true
		}
	}
	return false
}

func flatten(env schema.Envelope) (map[string]string, error) {
	b, err := sonic.ConfigStd.Marshal(env.Payload())
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := sonic.ConfigStd.Unmarshal(b, &fields); err != nil {
		return nil, err
	}

	rec := map[string]string{
		"timestamp":  env.Timestamp().UTC().Format(time.RFC3339Nano),
		"event_type": string(env.Type()),
		"seq":        strconv.FormatUint(env.Seq(), 10),
		"event_id":   env.ID(),
	}
	for k, v := range fields {
		if k == "timestamp" {
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range nested {
				rec[k+"."+nk] = cell(nv)
			}
			continue
		}
		rec[k] = cell(v)
	}
	return rec, nil
}

func cell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		b, err := sonic.ConfigStd.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
