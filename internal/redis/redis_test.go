package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *Deduper, Locker) {
	t.Helper()
	mr := miniredis.RunT(t)

	rdb, err := NewRedisClient(context.Background(), mr.Addr(), "", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	return mr, NewDeduper(rdb), NewRedisLocker(rdb, 5*time.Second)
}

func TestDeduper(t *testing.T) {
	mr, d, _ := newTestClient(t)
	ctx := context.Background()

	first, err := d.FirstSeen(ctx, "webhook:billing:evt_1", time.Hour)
	require.NoError(t, err)
	assert.True(t, first)

	first, err = d.FirstSeen(ctx, "webhook:billing:evt_1", time.Hour)
	require.NoError(t, err)
	assert.False(t, first)

	mr.FastForward(2 * time.Hour)
	first, err = d.FirstSeen(ctx, "webhook:billing:evt_1", time.Hour)
	require.NoError(t, err)
	assert.True(t, first)

	require.NoError(t, d.Forget(ctx, "webhook:billing:evt_1"))
	first, err = d.FirstSeen(ctx, "webhook:billing:evt_1", time.Hour)
	require.NoError(t, err)
	assert.True(t, first)
}

func TestWithLock(t *testing.T) {
	mr, _, locker := newTestClient(t)
	ctx := context.Background()

	err := locker.WithLock(ctx, "expiry-worker", func(ctx context.Context) error {
		assert.True(t, mr.Exists("lock:expiry-worker"))

		inner := locker.WithLock(ctx, "expiry-worker", func(context.Context) error {
			t.Fatal("nested lock must not be acquired")
			return nil
		})
		assert.ErrorIs(t, inner, ErrLockNotAcquired)
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists("lock:expiry-worker"))

	boom := errors.New("boom")
	err = locker.WithLock(ctx, "expiry-worker", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("lock:expiry-worker"))
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisClient(context.Background(), addr, "", "")
	assert.Error(t, err)
}
