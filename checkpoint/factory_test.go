package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/BaSui01/pipeflow/config"
)

func TestNew(t *testing.T) {
	ctx := context.Background()
	_, client := setupTestRedis(t)
	deps := Deps{Redis: client, DB: setupTestDB(t)}

	tests := []struct {
		name    string
		cfg     config.CheckpointConfig
		want    any
		wantErr error
	}{
		{name: "default", cfg: config.CheckpointConfig{}, want: &MemoryStore{}},
		{name: "memory", cfg: config.CheckpointConfig{Type: "memory"}, want: &MemoryStore{}},
		{name: "file", cfg: config.CheckpointConfig{Type: "file", Dir: t.TempDir(), Codec: "msgpack"}, want: &FileStore{}},
		{name: "redis", cfg: config.CheckpointConfig{Type: "redis", KeyPrefix: "x:"}, want: &RedisStore{}},
		{name: "sql", cfg: config.CheckpointConfig{Type: "sql", AutoMigrate: true}, want: &SQLStore{}},
		{name: "file without dir", cfg: config.CheckpointConfig{Type: "file"}, wantErr: ErrInvalidInput},
		{name: "bad codec", cfg: config.CheckpointConfig{Type: "redis", Codec: "gob"}, wantErr: ErrInvalidInput},
		{name: "mongo without client", cfg: config.CheckpointConfig{Type: "mongo"}, wantErr: ErrInvalidInput},
		{name: "object without client", cfg: config.CheckpointConfig{Type: "object"}, wantErr: ErrInvalidInput},
		{name: "unknown", cfg: config.CheckpointConfig{Type: "etcd"}, wantErr: ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(ctx, tt.cfg, deps)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, s)
		})
	}
}

func TestNewLocker(t *testing.T) {
	_, client := setupTestRedis(t)
	assert.IsType(t, &RedisLocker{}, NewLocker(config.CheckpointConfig{}, Deps{Redis: client}))
	assert.IsType(t, &MemoryLocker{}, NewLocker(config.CheckpointConfig{}, Deps{}))
}

type recordingObserver struct {
	ops  []string
	errs []error
}

func (r *recordingObserver) ObserveCheckpoint(op string, _ time.Duration, err error) {
	r.ops = append(r.ops, op)
	r.errs = append(r.errs, err)
}

func TestInstrument(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.WarnLevel)
	obs := &recordingObserver{}
	s := Instrument(NewMemoryStore(), obs, zap.New(core))

	require.NoError(t, s.Save(ctx, "r", pausedRun("r")))
	_, err := s.Load(ctx, "r")
	require.NoError(t, err)
	_, err = s.Load(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.List(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "r"))

	assert.Equal(t, []string{"save", "load", "load", "list", "delete"}, obs.ops)
	assert.ErrorIs(t, obs.errs[2], ErrNotFound)

	entries := logs.FilterMessage("checkpoint operation failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "missing", entries[0].ContextMap()["run_id"])
	assert.Equal(t, "checkpoint", entries[0].ContextMap()["component"])
}

func setupMockDB(t *testing.T) (sqlmock.Sqlmock, *gorm.DB) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{})
	require.NoError(t, err)
	return mock, gormDB
}

func TestSQLStore_SurfacesDriverErrors(t *testing.T) {
	mock, db := setupMockDB(t)
	s, err := NewSQLStore(db, SQLOptions{})
	require.NoError(t, err)
	ctx := context.Background()
	dbErr := errors.New("connection reset by peer")

	mock.ExpectQuery(`SELECT \* FROM "pipeflow_checkpoints"`).WillReturnError(dbErr)
	_, err = s.Load(ctx, "r")
	require.Error(t, err)
	assert.ErrorIs(t, err, dbErr)
	assert.NotErrorIs(t, err, ErrNotFound)
	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "load", se.Op)

	mock.ExpectQuery(`SELECT "run_id" FROM "pipeflow_checkpoints"`).WillReturnError(dbErr)
	_, err = s.List(ctx)
	assert.ErrorIs(t, err, dbErr)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_NotFound(t *testing.T) {
	mock, db := setupMockDB(t)
	s, err := NewSQLStore(db, SQLOptions{})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT \* FROM "pipeflow_checkpoints"`).
		WillReturnRows(sqlmock.NewRows([]string{"run_id", "graph_id", "status", "data", "created_at", "updated_at"}))
	_, err = s.Load(context.Background(), "r")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
