package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/storefront-gateway/internal/lock"
)

func TestSessionsPersistPendingEditsInRedis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	gw := newFakeGateway()
	sessions, err := NewSessions(SessionsConfig{
		Gateway:    gw,
		Normalizer: newTestNormalizer(),
		Store:      RedisStore{R: rdb, TTL: time.Hour},
		Serializer: lock.Locker{R: rdb, Prefix: "lock"},
		Now:        fixedNow,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)

	first, err := sessions.For("C-1")
	require.NoError(t, err)
	loaded, err := first.Loaded(ctx)
	require.NoError(t, err)
	require.False(t, loaded)
	require.NoError(t, first.Load(ctx))
	require.NoError(t, first.SetInterval(ctx, "RO-1", 2))

	require.True(t, mr.Exists("subscriptions:workspace:C-1"))
	require.Greater(t, mr.TTL("subscriptions:workspace:C-1"), time.Duration(0))
	require.False(t, mr.Exists("lock:workspace:C-1"))

	second, err := sessions.For("C-1")
	require.NoError(t, err)
	loaded, err = second.Loaded(ctx)
	require.NoError(t, err)
	require.True(t, loaded)
	row, err := second.Row(ctx, "RO-1")
	require.NoError(t, err)
	require.Equal(t, RowDirty, row.State)
	require.Equal(t, Interval(2), row.Interval)
	require.True(t, day(2024, time.June, 1).Equal(row.NextRunDate))

	outcome, err := second.SaveRow(ctx, "RO-1")
	require.NoError(t, err)
	require.Equal(t, OutcomeSaved, outcome)
	state, err := first.RowState(ctx, "RO-1")
	require.NoError(t, err)
	require.Equal(t, RowClean, state)

	other, err := sessions.For("C-2")
	require.NoError(t, err)
	_, err = other.Row(ctx, "RO-1")
	require.ErrorIs(t, err, ErrRowNotFound)

	require.NoError(t, sessions.Forget(ctx, "C-1"))
	require.False(t, mr.Exists("subscriptions:workspace:C-1"))
}

func TestMemoryStoreIsolatesSnapshots(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	missing, err := store.Load(ctx, "C-1")
	require.NoError(t, err)
	require.Nil(t, missing)

	ws := NewWorkspace("C-1")
	ws.replace([]RecurringOrder{{ROID: "RO-1", Interval: 1, Status: StatusActive, PreferredDeliveryDays: WeekdaySet{2}}}, fixedNow())
	require.NoError(t, store.Save(ctx, ws))
	ws.Pending["RO-1"] = 6

	got, err := store.Load(ctx, "C-1")
	require.NoError(t, err)
	require.Equal(t, Interval(1), got.Pending["RO-1"])
	require.Equal(t, uint64(1), got.Generation)

	require.NoError(t, store.Delete(ctx, "C-1"))
	missing, err = store.Load(ctx, "C-1")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestNewSessionsRequiresDependencies(t *testing.T) {
	_, err := NewSessions(SessionsConfig{Store: NewMemoryStore()})
	require.Error(t, err)
	_, err = NewSessions(SessionsConfig{Gateway: newFakeGateway()})
	require.Error(t, err)
}
