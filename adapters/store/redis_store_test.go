package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/layer-3/slashauth/core"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisStore(client), mr
}

func TestRedisStore_SetGetRemove(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedis(t)

	_, err := s.Get(ctx, "k")
	require.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, s.Set(ctx, "k", "v", 0))
	assert.True(t, mr.Exists(DefaultRedisPrefix+"k"))

	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	require.NoError(t, s.Remove(ctx, "k"))
	_, err = s.Get(ctx, "k")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestRedisStore_TTL(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedis(t)

	require.NoError(t, s.Set(ctx, "k", "v", time.Minute))
	mr.FastForward(time.Minute)

	_, err := s.Get(ctx, "k")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestRedisStore_ConnectionFailure(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedis(t)
	mr.Close()

	_, err := s.Get(ctx, "k")
	require.ErrorIs(t, err, core.ErrStoreOperationFailed)
}
