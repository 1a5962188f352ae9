package locker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/layer-3/slashauth/ports"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lockers(t *testing.T) map[string]ports.Locker {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]ports.Locker{
		"memory": NewMemoryLocker(),
		"redis":  NewRedisLocker(client),
	}
}

func TestLocker_MutualExclusion(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first, ok, err := l.TryAcquire(ctx, "k", time.Minute)
			require.NoError(t, err)
			require.True(t, ok)

			_, ok, err = l.TryAcquire(ctx, "k", time.Minute)
			require.NoError(t, err)
			assert.False(t, ok, "second acquire must fail while held")

			require.NoError(t, l.Release(ctx, first))

			second, ok, err := l.TryAcquire(ctx, "k", time.Minute)
			require.NoError(t, err)
			require.True(t, ok)
			require.NoError(t, l.Release(ctx, second))
		})
	}
}

func TestLocker_StaleReleaseIsIgnored(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			held, ok, err := l.TryAcquire(ctx, "k", time.Minute)
			require.NoError(t, err)
			require.True(t, ok)

			stale := held
			stale.Value = "someone-else"
			require.NoError(t, l.Release(ctx, stale))

			_, ok, err = l.TryAcquire(ctx, "k", time.Minute)
			require.NoError(t, err)
			assert.False(t, ok, "a foreign token must not free the lock")

			require.NoError(t, l.Release(ctx, held))
		})
	}
}

func TestMemoryLocker_ExpiredHolder(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	l := NewMemoryLocker()
	l.now = func() time.Time { return now }

	_, ok, err := l.TryAcquire(ctx, "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(time.Second)
	assert.False(t, l.Held("k"))

	_, ok, err = l.TryAcquire(ctx, "k", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}
