package store

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/layer-3/slashauth/core"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs when SLASHAUTH_TEST_DATABASE_URL is set.
func newTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()

	dbURL := os.Getenv("SLASHAUTH_TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("SLASHAUTH_TEST_DATABASE_URL is not set; skipping Postgres integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err)
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("Postgres unreachable: %v", err)
	}

	table := "slashauth_test_" + strings.ToLower(ulid.Make().String())
	s, err := NewPostgresStore(pool, WithTable(table))
	require.NoError(t, err)
	require.NoError(t, s.EnsureSchema(ctx))

	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), "DROP TABLE IF EXISTS "+table)
		pool.Close()
	})
	return s
}

func TestPostgresStore_SetGetRemove(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, s.Set(ctx, "k", "v1", 0))
	require.NoError(t, s.Set(ctx, "k", "v2", 0))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", got)

	require.NoError(t, s.Remove(ctx, "k"))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestPostgresStore_Expiry(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()

	now := time.Now()
	s.now = func() time.Time { return now }
	require.NoError(t, s.Set(ctx, "k", "v", time.Minute))

	s.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestPostgresStore_Keys(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "@@slashauth@@::a::x", "1", 0))
	require.NoError(t, s.Set(ctx, "@@slashauth@@::a::y", "2", 0))
	require.NoError(t, s.Set(ctx, "@@slashauth@@::b::x", "3", 0))

	keys, err := s.Keys(ctx, "@@slashauth@@::a::")
	require.NoError(t, err)
	assert.Equal(t, []string{"@@slashauth@@::a::x", "@@slashauth@@::a::y"}, keys)
}

func TestWithTable_RejectsInvalidIdentifier(t *testing.T) {
	_, err := NewPostgresStore(&pgxpool.Pool{}, WithTable("drop table;"))
	assert.Error(t, err)
}
