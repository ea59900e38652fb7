package enforcer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker serializes writers across processes with SET NX PX.
// The TTL bounds how long a crashed holder can block a partition.
type RedisLocker struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	poll   time.Duration
	logger *slog.Logger
}

// RedisLockerOption configures a RedisLocker.
type RedisLockerOption func(*RedisLocker)

// WithLockTTL sets how long an unreleased lock survives.
func WithLockTTL(d time.Duration) RedisLockerOption {
	return func(l *RedisLocker) { l.ttl = d }
}

// WithLockPoll sets the wait between acquisition attempts.
func WithLockPoll(d time.Duration) RedisLockerOption {
	return func(l *RedisLocker) { l.poll = d }
}

// WithLockLogger sets the logger used for release failures.
func WithLockLogger(logger *slog.Logger) RedisLockerOption {
	return func(l *RedisLocker) { l.logger = logger }
}

// NewRedisLocker wraps a go-redis client.
func NewRedisLocker(rdb redis.UniversalClient, opts ...RedisLockerOption) *RedisLocker {
	l := &RedisLocker{
		rdb:    rdb,
		ttl:    5 * time.Second,
		poll:   25 * time.Millisecond,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ErrLockUnavailable wraps redis failures while acquiring a lock.
var ErrLockUnavailable = errors.New("lock unavailable")

// Lock polls SET NX until it wins or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %v", ErrLockUnavailable, err)
		}
		if ok {
			return func() { l.release(key, token) }, nil
		}
		if err := sleepContext(ctx, l.poll); err != nil {
			return nil, err
		}
	}
}

func (l *RedisLocker) release(key, token string) {
	// Release with a fresh context: the caller's may already be canceled.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		l.logger.Warn("failed to release partition lock", "key", key, "error", err)
	}
}
