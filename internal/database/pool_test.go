package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/BaSui01/pipeflow/config"
)

// =============================================================================
// 🧪 PoolManager 测试
// =============================================================================

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *gorm.DB) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{DisableAutomaticPing: true})
	require.NoError(t, err)

	return mockDB, mock, gormDB
}

type statsRecorder struct {
	mu    sync.Mutex
	calls int
	name  string
}

func (r *statsRecorder) RecordDBConnections(database string, _, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.name = database
}

func (r *statsRecorder) snapshot() (int, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls, r.name
}

func TestNewPoolManager(t *testing.T) {
	mockDB, _, gormDB := setupTestDB(t)
	defer mockDB.Close()

	cfg := PoolConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
	}

	manager, err := NewPoolManager(gormDB, cfg, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, cfg, manager.config)
	assert.Equal(t, "postgres", manager.name)
	assert.Same(t, gormDB, manager.DB())
	assert.Equal(t, 10, manager.Stats().MaxOpenConnections)
}

func TestNewPoolManager_NilDB(t *testing.T) {
	_, err := NewPoolManager(nil, DefaultPoolConfig(), nil)
	assert.Error(t, err)
}

func TestPoolManager_Ping(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager(gormDB, PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5}, zap.NewNop())
	require.NoError(t, err)

	mock.ExpectPing()
	assert.NoError(t, manager.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	assert.Error(t, manager.Ping(context.Background()))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_HealthCheckReportsStats(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()
	// probe pings and the final close interleave freely
	mock.MatchExpectationsInOrder(false)

	for i := 0; i < 100; i++ {
		mock.ExpectPing()
	}
	rec := &statsRecorder{}
	cfg := PoolConfig{MaxOpenConns: 2, MaxIdleConns: 1, HealthCheckInterval: 5 * time.Millisecond}
	manager, err := NewPoolManager(gormDB, cfg, zap.NewNop(), WithStatsObserver(rec), WithName("checkpoints"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		n, _ := rec.snapshot()
		return n > 0
	}, time.Second, 5*time.Millisecond)
	_, name := rec.snapshot()
	assert.Equal(t, "checkpoints", name)

	mock.ExpectClose()
	require.NoError(t, manager.Close())
	// second close is a no-op
	require.NoError(t, manager.Close())

	assert.ErrorIs(t, manager.Ping(context.Background()), ErrPoolClosed)
}

func TestPoolConfigFrom(t *testing.T) {
	pc := PoolConfigFrom(config.DatabaseConfig{MaxOpenConns: 7})
	assert.Equal(t, 7, pc.MaxOpenConns)
	assert.Equal(t, DefaultPoolConfig().MaxIdleConns, pc.MaxIdleConns)
	assert.Equal(t, time.Hour, pc.ConnMaxLifetime)

	pc = PoolConfigFrom(config.DatabaseConfig{MaxIdleConns: 3, ConnMaxLifetime: time.Minute})
	assert.Equal(t, 3, pc.MaxIdleConns)
	assert.Equal(t, time.Minute, pc.ConnMaxLifetime)
}

// =============================================================================
// 🔌 Open 测试
// =============================================================================

func TestDialector(t *testing.T) {
	tests := []struct {
		driver  string
		name    string
		wantErr bool
	}{
		{driver: "postgres", name: "postgres"},
		{driver: "mysql", name: "mysql"},
		{driver: "sqlite", name: "sqlite"},
		{driver: "", wantErr: true},
		{driver: "oracle", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			d, err := Dialector(config.DatabaseConfig{Driver: tt.driver, Name: "pipeflow"})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.name, d.Name())
		})
	}
}

func TestOpen_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeflow.db")
	db, err := Open(config.DatabaseConfig{Driver: "sqlite", Name: path}, nil)
	require.NoError(t, err)

	manager, err := NewPoolManager(db, PoolConfigFrom(config.DatabaseConfig{MaxOpenConns: 1}), zap.NewNop())
	require.NoError(t, err)
	defer manager.Close()

	require.NoError(t, manager.Ping(context.Background()))
	var one int
	require.NoError(t, manager.DB().Raw("SELECT 1").Scan(&one).Error)
	assert.Equal(t, 1, one)
}
