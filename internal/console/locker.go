package console

import (
	"context"
	"errors"
	"sync"
	"time"

	"agent-console/pkg/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned when another holder owns the connect lock.
var ErrLocked = errors.New("console: connect already in progress elsewhere")

// Locker hands out expiring exclusive locks. The connect flow takes one per
// agent so two tabs or two replicas cannot run overlapping attempts.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context), ok bool, err error)
}

// MemoryLocker is process-local.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: map[string]time.Time{}, clock: time.Now}
}

func (l *MemoryLocker) TryLock(_ context.Context, key string, ttl time.Duration) (func(context.Context), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	if until, ok := l.held[key]; ok && now.Before(until) {
		return nil, false, nil
	}
	until := now.Add(ttl)
	l.held[key] = until
	return func(context.Context) {
		l.mu.Lock()
		defer l.mu.Unlock()
		// a lock that expired and was re-taken belongs to someone else
		if l.held[key].Equal(until) {
			delete(l.held, key)
		}
	}, true, nil
}

// RedisLocker shares locks across replicas.
type RedisLocker struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb, prefix: "agent-console:lock:"}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context), bool, error) {
	owner := uuid.NewString()
	full := l.prefix + key
	ok, err := utils.AcquireLock(ctx, l.rdb, full, owner, ttl)
	if err != nil || !ok {
		return nil, false, err
	}
	return func(ctx context.Context) {
		_, _ = utils.ReleaseLock(ctx, l.rdb, full, owner)
	}, true, nil
}
