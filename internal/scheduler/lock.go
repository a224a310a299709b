package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
)

// ErrLockHeld is returned by TryLock when another runner holds the job lock.
var ErrLockHeld = errors.New("job lock held elsewhere")

// Locker guards a job id across runners. Unlock must be safe to call after
// the lease expired.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, err error)
}

// LocalLocker only excludes runs inside this process.
type LocalLocker struct {
	held *xsync.Map[string, struct{}]
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: xsync.NewMap[string, struct{}]()}
}

func (l *LocalLocker) TryLock(_ context.Context, key string, _ time.Duration) (func(context.Context) error, error) {
	if _, loaded := l.held.LoadOrStore(key, struct{}{}); loaded {
		return nil, ErrLockHeld
	}
	return func(context.Context) error {
		l.held.Delete(key)
		return nil
	}, nil
}

// RedisClient is the part of *redis.Client the lock uses.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// releaseScript deletes the key only while it still carries our token.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// RedisLocker leases job locks in Redis so that several engine replicas can
// share one schedule.
type RedisLocker struct {
	client RedisClient
	prefix string
}

func NewRedisLocker(client RedisClient, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = "shift-engine:job:"
	}
	return &RedisLocker{client: client, prefix: prefix}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	token := uuid.NewString()
	full := l.prefix + key
	ok, err := l.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", full, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return func(ctx context.Context) error {
		if err := l.client.Eval(ctx, releaseScript, []string{full}, token).Err(); err != nil {
			return fmt.Errorf("release %s: %w", full, err)
		}
		return nil
	}, nil
}
