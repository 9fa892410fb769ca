package checkpoint

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BaSui01/pipeflow/state"
)

// RedisStore keeps one string key per run.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	enc       *Encoder
}

// NewRedisStore wraps an existing client. A zero ttl keeps snapshots forever.
func NewRedisStore(client redis.UniversalClient, keyPrefix string, ttl time.Duration, codec Codec) (*RedisStore, error) {
	enc, err := NewEncoder(codec)
	if err != nil {
		return nil, err
	}
	if keyPrefix == "" {
		keyPrefix = "pipeflow:"
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix + "checkpoint:",
		ttl:       ttl,
		enc:       enc,
	}, nil
}

func (s *RedisStore) key(runID string) string {
	return s.keyPrefix + runID
}

func (s *RedisStore) Save(ctx context.Context, runID string, rs *state.RunState) error {
	if err := validate(runID, rs); err != nil {
		return err
	}
	b, err := s.enc.Encode(rs)
	if err != nil {
		return storageErr("save", runID, err)
	}
	return storageErr("save", runID, s.client.Set(ctx, s.key(runID), b, s.ttl).Err())
}

func (s *RedisStore) Load(ctx context.Context, runID string) (*state.RunState, error) {
	b, err := s.client.Get(ctx, s.key(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storageErr("load", runID, ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("load", runID, err)
	}
	rs, err := s.enc.Decode(b)
	if err != nil {
		return nil, storageErr("load", runID, err)
	}
	return rs, nil
}

func (s *RedisStore) Delete(ctx context.Context, runID string) error {
	return storageErr("delete", runID, s.client.Del(ctx, s.key(runID)).Err())
}

func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.client.Scan(ctx, 0, s.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), s.keyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, storageErr("list", "", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close does not close the shared client; its owner does.
func (s *RedisStore) Close() error { return nil }
