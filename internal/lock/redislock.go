package lock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned by TryLock when another holder owns the key.
var ErrNotAcquired = errors.New("lock: already held")

var releaseScript = redis.NewScript(`if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`)

// Locker provides a Redis-backed distributed lock. Keys are namespaced with
// Prefix so row guards and workspace locks cannot collide with other data.
type Locker struct {
	R            redis.UniversalClient
	Prefix       string
	RetryBackoff time.Duration
}

// Release frees a lock acquired with TryLock.
type Release func()

// TryLock attempts a single acquisition of key. It never waits: when the key
// is already held ErrNotAcquired is returned.
func (l Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (Release, error) {
	if l.R == nil {
		return nil, errors.New("lock: redis client not configured")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	full := l.key(key)
	token := uuid.NewString()
	ok, err := l.R.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return func() { l.release(context.Background(), full, token) }, nil
}

// WithLock executes fn while holding a lock for the provided key. The lock is
// released automatically even if fn returns an error. When the lock cannot be
// acquired before the context is cancelled an error is returned.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return errors.New("lock: redis client not configured")
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	retry := l.RetryBackoff
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}

	for {
		release, err := l.TryLock(ctx, key, ttl)
		if err == nil {
			defer release()
			return fn(ctx)
		}
		if !errors.Is(err, ErrNotAcquired) {
			return err
		}
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l Locker) key(key string) string {
	if l.Prefix == "" {
		return key
	}
	return l.Prefix + ":" + key
}

func (l Locker) release(ctx context.Context, key, token string) {
	if err := releaseScript.Run(ctx, l.R, []string{key}, token).Err(); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unknown command") {
			_ = l.R.Del(ctx, key).Err()
		}
	}
}
