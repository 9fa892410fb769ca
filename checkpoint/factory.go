package checkpoint

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/pipeflow/config"
)

// Deps carries the shared clients a backend may need. Only the client for
// the configured backend has to be set.
type Deps struct {
	Redis  redis.UniversalClient
	DB     *gorm.DB
	Mongo  *mongo.Database
	Object *minio.Client
	// Region is used when the object backend has to create its bucket.
	Region string
	Bucket string
	Logger *zap.Logger
}

// New creates the Store selected by cfg.Type.
func New(ctx context.Context, cfg config.CheckpointConfig, deps Deps) (Store, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	codec := Codec(cfg.Codec)

	var (
		store Store
		err   error
	)
	switch StoreType(cfg.Type) {
	case StoreTypeMemory, "":
		store = NewMemoryStore()
	case StoreTypeFile:
		store, err = NewFileStore(cfg.Dir, codec)
	case StoreTypeRedis:
		if deps.Redis == nil {
			return nil, fmt.Errorf("%w: redis store requires a redis client", ErrInvalidInput)
		}
		store, err = NewRedisStore(deps.Redis, cfg.KeyPrefix, cfg.TTL, codec)
	case StoreTypeSQL:
		if deps.DB == nil {
			return nil, fmt.Errorf("%w: sql store requires a database", ErrInvalidInput)
		}
		store, err = NewSQLStore(deps.DB, SQLOptions{Table: cfg.Table, Codec: codec, AutoMigrate: cfg.AutoMigrate})
	case StoreTypeMongo:
		if deps.Mongo == nil {
			return nil, fmt.Errorf("%w: mongo store requires a database", ErrInvalidInput)
		}
		coll := cfg.Collection
		if coll == "" {
			coll = DefaultCollection
		}
		store, err = NewMongoStore(deps.Mongo.Collection(coll), codec)
	case StoreTypeObject:
		if deps.Object == nil {
			return nil, fmt.Errorf("%w: object store requires a client", ErrInvalidInput)
		}
		var obj *ObjectStore
		obj, err = NewObjectStore(deps.Object, deps.Bucket, cfg.ObjectPrefix, codec)
		if err == nil {
			err = obj.EnsureBucket(ctx, deps.Region)
		}
		store = obj
	default:
		return nil, fmt.Errorf("%w: unknown store type %q", ErrInvalidInput, cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("checkpoint store ready",
		zap.String("type", cfg.Type),
		zap.String("codec", cfg.Codec),
	)
	return store, nil
}

// NewLocker returns a RedisLocker when a redis client is available and a
// MemoryLocker otherwise.
func NewLocker(cfg config.CheckpointConfig, deps Deps) Locker {
	if deps.Redis != nil {
		return NewRedisLocker(deps.Redis, cfg.KeyPrefix)
	}
	return NewMemoryLocker()
}
