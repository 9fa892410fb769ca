package checkpoint

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/pipeflow/state"
)

// DefaultTable is the table used by SQLStore unless configured otherwise.
const DefaultTable = "pipeflow_checkpoints"

// Record is the row layout of SQLStore. The schema is created by the
// migrations in internal/migration or by AutoMigrate.
type Record struct {
	RunID     string    `gorm:"column:run_id;primaryKey;size:128"`
	GraphID   string    `gorm:"column:graph_id;size:128;index"`
	Status    string    `gorm:"column:status;size:32;index"`
	Data      []byte    `gorm:"column:data;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (Record) TableName() string { return DefaultTable }

// SQLStore persists snapshots through gorm.
type SQLStore struct {
	db    *gorm.DB
	table string
	enc   *Encoder
}

// SQLOptions configures SQLStore.
type SQLOptions struct {
	Table       string
	Codec       Codec
	AutoMigrate bool
}

// NewSQLStore wraps db. With AutoMigrate the table is created if missing.
func NewSQLStore(db *gorm.DB, opts SQLOptions) (*SQLStore, error) {
	enc, err := NewEncoder(opts.Codec)
	if err != nil {
		return nil, err
	}
	table := opts.Table
	if table == "" {
		table = DefaultTable
	}
	s := &SQLStore{db: db, table: table, enc: enc}
	if opts.AutoMigrate {
		if err := db.Table(table).AutoMigrate(&Record{}); err != nil {
			return nil, storageErr("migrate", "", err)
		}
	}
	return s, nil
}

func (s *SQLStore) Save(ctx context.Context, runID string, rs *state.RunState) error {
	if err := validate(runID, rs); err != nil {
		return err
	}
	b, err := s.enc.Encode(rs)
	if err != nil {
		return storageErr("save", runID, err)
	}
	now := time.Now().UTC()
	rec := Record{
		RunID:     runID,
		GraphID:   rs.GraphID,
		Status:    string(rs.Status),
		Data:      b,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.db.WithContext(ctx).Table(s.table).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"graph_id", "status", "data", "updated_at"}),
	}).Create(&rec).Error
	return storageErr("save", runID, err)
}

func (s *SQLStore) Load(ctx context.Context, runID string) (*state.RunState, error) {
	var rec Record
	err := s.db.WithContext(ctx).Table(s.table).Where("run_id = ?", runID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storageErr("load", runID, ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("load", runID, err)
	}
	rs, err := s.enc.Decode(rec.Data)
	if err != nil {
		return nil, storageErr("load", runID, err)
	}
	return rs, nil
}

func (s *SQLStore) Delete(ctx context.Context, runID string) error {
	err := s.db.WithContext(ctx).Table(s.table).Where("run_id = ?", runID).Delete(&Record{}).Error
	return storageErr("delete", runID, err)
}

func (s *SQLStore) List(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Table(s.table).Order("run_id").Pluck("run_id", &ids).Error
	if err != nil {
		return nil, storageErr("list", "", err)
	}
	return ids, nil
}

// ListByStatus returns run ids with the given status, e.g. all paused runs.
func (s *SQLStore) ListByStatus(ctx context.Context, status state.Status) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Table(s.table).
		Where("status = ?", string(status)).
		Order("run_id").
		Pluck("run_id", &ids).Error
	if err != nil {
		return nil, storageErr("list", "", err)
	}
	return ids, nil
}

// Close does not close the shared connection pool.
func (s *SQLStore) Close() error { return nil }
