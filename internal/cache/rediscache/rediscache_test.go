package rediscache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_GetSet(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	b, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), b)

	require.NoError(t, c.Delete(ctx, "k"))
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisCache_TTL(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "shipment:x:snapshot", []byte("{}"), 30*time.Second))
	mr.FastForward(31 * time.Second)

	_, ok, err := c.Get(ctx, "shipment:x:snapshot")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisCache_GetServerDown(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())
	defer c.Close()
	mr.Close()

	_, ok, err := c.Get(context.Background(), "k")
	require.Error(t, err)
	require.False(t, ok)
}

func TestRateLimiter_Allow(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiter(mr.Addr())

	ctx := context.Background()
	ok, n, err := rl.Allow(ctx, "rl:test", 2, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), n)

	ok, n, _ = rl.Allow(ctx, "rl:test", 2, time.Minute)
	require.True(t, ok)
	require.Equal(t, int64(2), n)

	ok, n, _ = rl.Allow(ctx, "rl:test", 2, time.Minute)
	require.False(t, ok)
	require.Equal(t, int64(3), n)
}

func TestLiveStreamKey_minuteBucket(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC)
	require.Equal(t, LiveStreamKey("10.0.0.1", at), LiveStreamKey("10.0.0.1", at.Add(50*time.Second)))
	require.NotEqual(t, LiveStreamKey("10.0.0.1", at), LiveStreamKey("10.0.0.1", at.Add(time.Minute)))
}
