package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestCache_MissReturnsEmpty(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	cache := NewIngestCache(client)
	ctx := context.Background()

	id, err := cache.Get(ctx, "deadbeef")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestIngestCache_SetThenGet(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	cache := NewIngestCache(client)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "deadbeef", "event-123", 10*time.Minute))

	id, err := cache.Get(ctx, "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, "event-123", id)
}

func TestIngestCache_ExpiresAfterWindow(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	cache := NewIngestCache(client)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "cafe", "event-456", time.Minute))
	s.FastForward(61 * time.Second)

	id, err := cache.Get(ctx, "cafe")
	require.NoError(t, err)
	assert.Empty(t, id, "fingerprint outside the dedup window should miss")
}
