package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/stock-guard/internal/core/domain"
	"github.com/rl1809/stock-guard/internal/port"
)

const (
	lockKeyPrefix        = "lock:"
	defaultLockTTL       = 3 * time.Second
	defaultRetryInterval = 10 * time.Millisecond
)

// releaseScript deletes the lock only while it still carries our token, so
// a holder whose TTL ran out cannot free somebody else's lock.
var releaseScript = redis.NewScript(`
local key = KEYS[1]
local token = ARGV[1]

if redis.call('GET', key) == token then
	return redis.call('DEL', key)
end

return 0
`)

var ErrLockLost = errors.New("lock: released after ttl expiry")

// RedisLock is a SET NX PX spin lock shared by every process talking to the
// same Redis.
type RedisLock struct {
	client        *redis.Client
	ttl           time.Duration
	wait          time.Duration
	retryInterval time.Duration
}

var _ port.DistributedLock = (*RedisLock)(nil)

// NewRedisLock returns a lock whose keys expire after ttl and whose Acquire
// gives up after wait. A zero wait spins until ctx is done.
func NewRedisLock(client *redis.Client, ttl, wait time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{
		client:        client,
		ttl:           ttl,
		wait:          wait,
		retryInterval: defaultRetryInterval,
	}
}

func (l *RedisLock) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	key = lockKeyPrefix + key
	token := uuid.NewString()

	if l.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	ticker := time.NewTicker(l.retryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			return func(ctx context.Context) error { return l.release(ctx, key, token) }, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire %s: %w: %w", key, domain.ErrLockUnavailable, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *RedisLock) release(ctx context.Context, key, token string) error {
	n, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int()
	if err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}
