package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestUluleMemoryLimiter(t *testing.T) {
	l := NewUluleMemory("test")
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		allowed, _, _, err := l.Allow(ctx, "k", time.Minute, 3)
		require.NoError(t, err)
		require.True(t, allowed)
	}
	allowed, remaining, _, err := l.Allow(ctx, "k", time.Minute, 3)
	require.NoError(t, err)
	require.False(t, allowed)
	require.Equal(t, 0, remaining)

	allowed, _, _, err = l.Allow(ctx, "other", time.Minute, 3)
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestUluleRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l, err := NewUluleRedis(client, "test")
	require.NoError(t, err)
	ctx := context.Background()
	allowed, _, _, err := l.Allow(ctx, "k", time.Minute, 1)
	require.NoError(t, err)
	require.True(t, allowed)
	allowed, _, _, err = l.Allow(ctx, "k", time.Minute, 1)
	require.NoError(t, err)
	require.False(t, allowed)
}
