package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLeaseHeld is returned when another scheduler loop owns the run.
var ErrLeaseHeld = errors.New("run lease held by another executor")

// ErrLeaseLost is returned when refreshing or releasing a lease that expired
// and was taken over.
var ErrLeaseLost = errors.New("run lease lost")

// Lease is exclusive ownership of one run id.
type Lease interface {
	RunID() string
	// Refresh extends the lease by its original ttl.
	Refresh(ctx context.Context) error
	Release(ctx context.Context) error
}

// Locker grants leases. At most one unexpired lease exists per run id.
type Locker interface {
	Acquire(ctx context.Context, runID string, ttl time.Duration) (Lease, error)
}

// MemoryLocker grants leases within one process.
type MemoryLocker struct {
	mu     sync.Mutex
	now    func() time.Time
	leases map[string]memoryEntry
}

type memoryEntry struct {
	token   string
	expires time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{now: time.Now, leases: make(map[string]memoryEntry)}
}

func (l *MemoryLocker) Acquire(_ context.Context, runID string, ttl time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if e, ok := l.leases[runID]; ok && now.Before(e.expires) {
		return nil, fmt.Errorf("%w: %s", ErrLeaseHeld, runID)
	}
	token := uuid.New().String()
	l.leases[runID] = memoryEntry{token: token, expires: now.Add(ttl)}
	return &memoryLease{locker: l, runID: runID, token: token, ttl: ttl}, nil
}

type memoryLease struct {
	locker *MemoryLocker
	runID  string
	token  string
	ttl    time.Duration
}

func (m *memoryLease) RunID() string { return m.runID }

func (m *memoryLease) Refresh(context.Context) error {
	l := m.locker
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.leases[m.runID]
	if !ok || e.token != m.token {
		return fmt.Errorf("%w: %s", ErrLeaseLost, m.runID)
	}
	e.expires = l.now().Add(m.ttl)
	l.leases[m.runID] = e
	return nil
}

func (m *memoryLease) Release(context.Context) error {
	l := m.locker
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.leases[m.runID]
	if !ok || e.token != m.token {
		return fmt.Errorf("%w: %s", ErrLeaseLost, m.runID)
	}
	delete(l.leases, m.runID)
	return nil
}

// Release and refresh only touch the key while it still holds our token.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisLocker grants leases shared by every process using the same Redis.
type RedisLocker struct {
	client    redis.UniversalClient
	keyPrefix string
}

func NewRedisLocker(client redis.UniversalClient, keyPrefix string) *RedisLocker {
	if keyPrefix == "" {
		keyPrefix = "pipeflow:"
	}
	return &RedisLocker{client: client, keyPrefix: keyPrefix + "lease:"}
}

func (l *RedisLocker) Acquire(ctx context.Context, runID string, ttl time.Duration) (Lease, error) {
	token := uuid.New().String()
	key := l.keyPrefix + runID
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, storageErr("lease", runID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLeaseHeld, runID)
	}
	return &redisLease{client: l.client, key: key, runID: runID, token: token, ttl: ttl}, nil
}

type redisLease struct {
	client redis.UniversalClient
	key    string
	runID  string
	token  string
	ttl    time.Duration
}

func (r *redisLease) RunID() string { return r.runID }

func (r *redisLease) Refresh(ctx context.Context) error {
	n, err := refreshScript.Run(ctx, r.client, []string{r.key}, r.token, r.ttl.Milliseconds()).Int()
	if err != nil {
		return storageErr("lease", r.runID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLeaseLost, r.runID)
	}
	return nil
}

func (r *redisLease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, r.client, []string{r.key}, r.token).Int()
	if err != nil {
		return storageErr("lease", r.runID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLeaseLost, r.runID)
	}
	return nil
}
