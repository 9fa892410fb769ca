package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/pipeflow/config"
)

// ErrPoolClosed 在 Close 之后调用 Ping 时返回
var ErrPoolClosed = errors.New("database pool is closed")

// =============================================================================
// 🗄️ 检查点数据库连接池
// =============================================================================

// StatsObserver 接收连接池统计
type StatsObserver interface {
	RecordDBConnections(database string, open, idle int)
}

// PoolConfig 连接池参数。HealthCheckInterval 为 0 时不做后台探活
type PoolConfig struct {
	MaxIdleConns        int
	MaxOpenConns        int
	ConnMaxLifetime     time.Duration
	ConnMaxIdleTime     time.Duration
	HealthCheckInterval time.Duration
}

// DefaultPoolConfig 检查点写入是短事务，连接数不需要很多
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:        4,
		MaxOpenConns:        16,
		ConnMaxLifetime:     time.Hour,
		ConnMaxIdleTime:     10 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
	}
}

// PoolConfigFrom 用全局数据库配置覆盖默认值，零值保留默认
func PoolConfigFrom(cfg config.DatabaseConfig) PoolConfig {
	pc := DefaultPoolConfig()
	if cfg.MaxOpenConns > 0 {
		pc.MaxOpenConns = cfg.MaxOpenConns
	}
	if cfg.MaxIdleConns > 0 {
		pc.MaxIdleConns = cfg.MaxIdleConns
	}
	if cfg.ConnMaxLifetime > 0 {
		pc.ConnMaxLifetime = cfg.ConnMaxLifetime
	}
	return pc
}

// PoolOption 连接池选项
type PoolOption func(*PoolManager)

// WithStatsObserver 每次探活成功后上报连接数
func WithStatsObserver(o StatsObserver) PoolOption {
	return func(pm *PoolManager) { pm.observer = o }
}

// WithName 设置上报指标时使用的数据库标签，默认是方言名
func WithName(name string) PoolOption {
	return func(pm *PoolManager) { pm.name = name }
}

// PoolManager 持有 SQL 检查点存储共用的 GORM 连接
type PoolManager struct {
	db       *gorm.DB
	sqlDB    *sql.DB
	name     string
	config   PoolConfig
	observer StatsObserver
	logger   *zap.Logger

	closed    atomic.Bool
	closeOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewPoolManager 应用连接池参数，并按需启动后台探活
func NewPoolManager(db *gorm.DB, cfg PoolConfig, logger *zap.Logger, opts ...PoolOption) (*PoolManager, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pm := &PoolManager{
		db:     db,
		sqlDB:  sqlDB,
		name:   db.Dialector.Name(),
		config: cfg,
		logger: logger.With(zap.String("component", "db_pool")),
	}
	for _, opt := range opts {
		opt(pm)
	}

	ctx, cancel := context.WithCancel(context.Background())
	pm.cancel = cancel
	if cfg.HealthCheckInterval > 0 {
		pm.wg.Add(1)
		go pm.probe(ctx)
	}

	pm.logger.Info("database pool ready",
		zap.String("database", pm.name),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns),
	)
	return pm, nil
}

// DB 返回 GORM 实例，交给 checkpoint.SQLStore 使用
func (pm *PoolManager) DB() *gorm.DB { return pm.db }

// Ping 检查数据库连接，用于 /ready
func (pm *PoolManager) Ping(ctx context.Context) error {
	if pm.closed.Load() {
		return ErrPoolClosed
	}
	return pm.sqlDB.PingContext(ctx)
}

// Stats 返回底层 sql.DB 的统计
func (pm *PoolManager) Stats() sql.DBStats { return pm.sqlDB.Stats() }

// Close 停止探活并关闭连接，重复调用返回 nil
func (pm *PoolManager) Close() error {
	var err error
	pm.closeOnce.Do(func() {
		pm.closed.Store(true)
		pm.cancel()
		pm.wg.Wait()
		err = pm.sqlDB.Close()
		pm.logger.Info("database pool closed", zap.String("database", pm.name))
	})
	return err
}

func (pm *PoolManager) probe(ctx context.Context) {
	defer pm.wg.Done()
	ticker := time.NewTicker(pm.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := pm.Ping(pingCtx)
		cancel()
		if err != nil {
			if ctx.Err() == nil {
				pm.logger.Warn("database ping failed", zap.Error(err))
			}
			continue
		}

		stats := pm.Stats()
		if pm.observer != nil {
			pm.observer.RecordDBConnections(pm.name, stats.OpenConnections, stats.Idle)
		}
		pm.logger.Debug("database ping ok",
			zap.Int("open", stats.OpenConnections),
			zap.Int("in_use", stats.InUse),
			zap.Int64("wait_count", stats.WaitCount),
		)
	}
}
