package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/BaSui01/pipeflow/api/handlers"
	"github.com/BaSui01/pipeflow/checkpoint"
	"github.com/BaSui01/pipeflow/config"
	"github.com/BaSui01/pipeflow/internal/cache"
	"github.com/BaSui01/pipeflow/internal/database"
	"github.com/BaSui01/pipeflow/internal/tlsutil"
)

// =============================================================================
// 💾 检查点存储与共享连接
// =============================================================================

// storage owns the clients behind the checkpoint store and the run leases.
type storage struct {
	store  checkpoint.Store
	locker checkpoint.Locker

	redis  *cache.Manager
	pool   *database.PoolManager
	mongo  *mongo.Client
	checks []handlers.HealthCheck
}

// openStorage connects the backend selected by checkpoint.type. Shared
// backends get Redis leases when Redis is reachable so several processes can
// serve the same runs; local backends always use in-process leases.
func openStorage(ctx context.Context, cfg *config.Config, obs database.StatsObserver, logger *zap.Logger) (*storage, error) {
	st := &storage{}
	deps := checkpoint.Deps{Logger: logger}
	kind := checkpoint.StoreType(cfg.Checkpoint.Type)

	if kind != checkpoint.StoreTypeMemory && kind != checkpoint.StoreTypeFile && kind != "" {
		m, err := cache.NewManager(cache.ConfigFrom(cfg.Redis), logger)
		switch {
		case err == nil:
			st.redis = m
			deps.Redis = m.Client()
			st.checks = append(st.checks, handlers.NewFuncCheck("redis", m.Ping))
		case kind == checkpoint.StoreTypeRedis:
			return nil, err
		default:
			logger.Warn("redis unavailable, run leases are process-local", zap.Error(err))
		}
	}

	switch kind {
	case checkpoint.StoreTypeSQL:
		db, err := database.Open(cfg.Database, logger)
		if err != nil {
			return nil, st.fail(err)
		}
		pool, err := database.NewPoolManager(db, database.PoolConfigFrom(cfg.Database), logger,
			database.WithStatsObserver(obs))
		if err != nil {
			return nil, st.fail(err)
		}
		st.pool = pool
		deps.DB = pool.DB()
		st.checks = append(st.checks, handlers.NewFuncCheck("database", pool.Ping))

	case checkpoint.StoreTypeMongo:
		client, err := mongo.Connect(options.Client().
			ApplyURI(cfg.Mongo.URI).
			SetConnectTimeout(cfg.Mongo.ConnectTimeout))
		if err != nil {
			return nil, st.fail(fmt.Errorf("failed to connect mongo: %w", err))
		}
		st.mongo = client
		deps.Mongo = client.Database(cfg.Mongo.Database)
		st.checks = append(st.checks, handlers.NewFuncCheck("mongo", func(ctx context.Context) error {
			return client.Ping(ctx, nil)
		}))

	case checkpoint.StoreTypeObject:
		client, err := newObjectClient(cfg.ObjectStore)
		if err != nil {
			return nil, st.fail(err)
		}
		deps.Object = client
		deps.Region = cfg.ObjectStore.Region
		deps.Bucket = cfg.ObjectStore.Bucket
		bucket := cfg.ObjectStore.Bucket
		st.checks = append(st.checks, handlers.NewFuncCheck("object_store", func(ctx context.Context) error {
			ok, err := client.BucketExists(ctx, bucket)
			if err == nil && !ok {
				err = fmt.Errorf("bucket %q does not exist", bucket)
			}
			return err
		}))
	}

	store, err := checkpoint.New(ctx, cfg.Checkpoint, deps)
	if err != nil {
		return nil, st.fail(err)
	}
	st.store = store
	st.locker = checkpoint.NewLocker(cfg.Checkpoint, deps)
	return st, nil
}

func newObjectClient(cfg config.ObjectStoreConfig) (*minio.Client, error) {
	opts := &minio.Options{
		Creds:  miniocreds.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}
	if cfg.UseSSL {
		opts.Transport = tlsutil.SecureTransport()
	}
	client, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}
	return client, nil
}

// fail closes whatever was opened before err and returns err.
func (st *storage) fail(err error) error {
	return errors.Join(err, st.Close(context.Background()))
}

// Close closes the store and every shared client.
func (st *storage) Close(ctx context.Context) error {
	var errs []error
	if st.store != nil {
		errs = append(errs, st.store.Close())
	}
	if st.pool != nil {
		errs = append(errs, st.pool.Close())
	}
	if st.mongo != nil {
		errs = append(errs, st.mongo.Disconnect(ctx))
	}
	if st.redis != nil {
		errs = append(errs, st.redis.Close())
	}
	return errors.Join(errs...)
}
