package lock_test

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/storefront-gateway/internal/lock"
)

func newLocker(t *testing.T) (lock.Locker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return lock.Locker{R: client, Prefix: "lock", RetryBackoff: 5 * time.Millisecond}, mr
}

func TestWithLockSerialisesHolders(t *testing.T) {
	locker, _ := newLocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var order []string
	var mu sync.Mutex
	firstDone := make(chan struct{})
	releaseFirst := make(chan struct{})

	go func() {
		_ = locker.WithLock(ctx, "workspace:c1", 100*time.Millisecond, func(context.Context) error {
			mu.Lock()
			order = append(order, "first")
			mu.Unlock()
			close(firstDone)
			<-releaseFirst
			return nil
		})
	}()

	<-firstDone

	go func() {
		_ = locker.WithLock(ctx, "workspace:c1", 100*time.Millisecond, func(context.Context) error {
			mu.Lock()
			order = append(order, "second")
			mu.Unlock()
			return nil
		})
	}()

	close(releaseFirst)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"first", "second"}, order)
}

func TestTryLockRejectsSecondHolder(t *testing.T) {
	locker, mr := newLocker(t)
	ctx := context.Background()

	release, err := locker.TryLock(ctx, "row:RO-1", time.Minute)
	require.NoError(t, err)
	require.True(t, mr.Exists("lock:row:RO-1"))

	_, err = locker.TryLock(ctx, "row:RO-1", time.Minute)
	require.ErrorIs(t, err, lock.ErrNotAcquired)

	release()
	require.False(t, mr.Exists("lock:row:RO-1"))

	release, err = locker.TryLock(ctx, "row:RO-1", time.Minute)
	require.NoError(t, err)
	release()
}

func TestTryLockReleaseDoesNotStealExpiredLock(t *testing.T) {
	locker, mr := newLocker(t)
	ctx := context.Background()

	release, err := locker.TryLock(ctx, "row:RO-2", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	other, err := locker.TryLock(ctx, "row:RO-2", time.Minute)
	require.NoError(t, err)

	release()
	require.True(t, mr.Exists("lock:row:RO-2"), "stale release must not delete the new holder's key")
	other()
}
