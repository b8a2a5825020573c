// Package index mirrors the audit trail into a SQL table so signal and order
// lookups do not need a partition scan. The JSONL partitions stay the record
// of truth; the index is best effort.
package index

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/audit"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/codec"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema"
	"github.com/CrisisCore-Systems/Autotrader-sub001/pkg/exception"
)

type eventModel struct {
	ID         int64          `gorm:"column:id;primaryKey;autoIncrement"`
	Seq        uint64         `gorm:"column:seq;uniqueIndex"`
	EventID    string         `gorm:"column:event_id;size:26;index"`
	EventType  string         `gorm:"column:event_type;size:32;index"`
	TsNano     int64          `gorm:"column:ts_ns;index"`
	Instrument string         `gorm:"column:instrument;size:64;index"`
	SignalID   string         `gorm:"column:signal_id;size:128;index"`
	OrderID    string         `gorm:"column:order_id;size:128;index"`
	Payload    datatypes.JSON `gorm:"column:payload"`
}

func (eventModel) TableName() string { return "audit_events" }

// Index reads and writes the audit_events table.
type Index struct {
	db *gorm.DB
}

// New migrates the schema and returns an index over db.
func New(db *gorm.DB) (*Index, error) {
	if db == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "index db")
	}
	if err := db.AutoMigrate(&eventModel{}); err != nil {
		return nil, errors.Wrap(err, "migrate audit_events")
	}
	return &Index{db: db}, nil
}

func toModel(env schema.Envelope) (eventModel, error) {
	data, err := codec.Marshal(env)
	if err != nil {
		return eventModel{}, err
	}
	return eventModel{
		Seq:        env.Seq(),
		EventID:    env.ID(),
		EventType:  string(env.Type()),
		TsNano:     env.Timestamp().UnixNano(),
		Instrument: env.Instrument(),
		SignalID:   env.SignalID(),
		OrderID:    env.OrderID(),
		Payload:    datatypes.JSON(data),
	}, nil
}

// Append inserts a stamped envelope. Re-inserting a seq already indexed is a
// no-op, so replays after a restart are safe.
func (i *Index) Append(ctx context.Context, env schema.Envelope) error {
	if env.Seq() == 0 {
		return errors.Wrap(exception.ErrInvalidArgument, "index requires a stamped envelope")
	}
	model, err := toModel(env)
	if err != nil {
		return err
	}
	return i.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "seq"}}, DoNothing: true}).
		Create(&model).Error
}

// Find returns matching envelopes ordered by seq.
func (i *Index) Find(ctx context.Context, f audit.Filter) ([]schema.Envelope, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	query := i.db.WithContext(ctx).Model(&eventModel{}).Order("seq ASC")
	if f.EventType != "" {
		query = query.Where("event_type = ?", string(f.EventType))
	}
	if !f.Start.IsZero() {
		query = query.Where("ts_ns >= ?", f.Start.UnixNano())
	}
	if !f.End.IsZero() {
		query = query.Where("ts_ns <= ?", f.End.UnixNano())
	}
	if f.Instrument != "" {
		query = query.Where("instrument = ?", f.Instrument)
	}
	if f.SignalID != "" {
		query = query.Where("signal_id = ?", f.SignalID)
	}
	if f.OrderID != "" {
		query = query.Where("order_id = ?", f.OrderID)
	}
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}

	var models []eventModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]schema.Envelope, 0, len(models))
	for _, m := range models {
		env, err := codec.DecodeLine(m.Payload)
		if err != nil {
			return nil, errors.Wrapf(err, "decode indexed event %d", m.Seq)
		}
		out = append(out, env)
	}
	return out, nil
}

// Count returns the number of indexed events.
func (i *Index) Count(ctx context.Context) (int64, error) {
	var n int64
	err := i.db.WithContext(ctx).Model(&eventModel{}).Count(&n).Error
	return n, err
}

// LastSeq returns the highest indexed seq, zero when empty.
func (i *Index) LastSeq(ctx context.Context) (uint64, error) {
	var seq int64
	row := i.db.WithContext(ctx).Model(&eventModel{}).Select("COALESCE(MAX(seq), 0)").Row()
	if err := row.Scan(&seq); err != nil {
		return 0, err
	}
	return uint64(seq), nil
}

// Prune deletes events older than before and returns how many were removed.
func (i *Index) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := i.db.WithContext(ctx).Where("ts_ns < ?", before.UnixNano()).Delete(&eventModel{})
	return res.RowsAffected, res.Error
}
