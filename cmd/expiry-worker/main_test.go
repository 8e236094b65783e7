package main

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisclient "github.com/hackgods/practice-feedback/internal/redis"
)

type countingExpirer struct{ calls int }

func (c *countingExpirer) ExpireStale(context.Context) (int, error) {
	c.calls++
	return 3, nil
}

func TestRunOnce_SkipsWhenLockHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	locker := redisclient.NewRedisLocker(rdb, 5*time.Second)
	svc := &countingExpirer{}

	runOnce(context.Background(), svc, locker)
	assert.Equal(t, 1, svc.calls)
	assert.False(t, mr.Exists("lock:"+lockName), "lock is released after the run")

	require.NoError(t, mr.Set("lock:"+lockName, "other-worker"))
	runOnce(context.Background(), svc, locker)
	assert.Equal(t, 1, svc.calls)
}
