package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/layer-3/slashauth/core"
)

var pgIdent = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

// PostgresStore keeps records in a single key/value table.
//
// The store does not own the pool; the caller closes it.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
	now   func() time.Time
}

// PostgresOption configures PostgresStore
type PostgresOption func(*PostgresStore) error

// WithTable overrides the table name (default "slashauth_storage")
func WithTable(table string) PostgresOption {
	return func(s *PostgresStore) error {
		table = strings.TrimSpace(table)
		if !pgIdent.MatchString(table) {
			return fmt.Errorf("store: invalid table identifier %q", table)
		}
		s.table = table
		return nil
	}
}

// NewPostgresStore creates a Postgres backed Storage
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("store: nil pool")
	}
	s := &PostgresStore{
		pool:  pool,
		table: "slashauth_storage",
		now:   time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// EnsureSchema creates the backing table when missing
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		expires_at TIMESTAMPTZ NULL
	)`, pgx.Identifier{s.table}.Sanitize())
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("%w: create table: %v", core.ErrStoreOperationFailed, err)
	}
	return nil
}

// Set upserts a record
func (s *PostgresStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := s.now().Add(ttl).UTC()
		expiresAt = &t
	}
	q := fmt.Sprintf(`INSERT INTO %s (key, value, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		pgx.Identifier{s.table}.Sanitize())
	if _, err := s.pool.Exec(ctx, q, key, value, expiresAt); err != nil {
		return fmt.Errorf("%w: set %s: %v", core.ErrStoreOperationFailed, key, err)
	}
	return nil
}

// Get reads a live record
func (s *PostgresStore) Get(ctx context.Context, key string) (string, error) {
	q := fmt.Sprintf(`SELECT value FROM %s WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)`,
		pgx.Identifier{s.table}.Sanitize())
	var value string
	err := s.pool.QueryRow(ctx, q, key, s.now().UTC()).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", core.ErrNotFound
		}
		return "", fmt.Errorf("%w: get %s: %v", core.ErrStoreOperationFailed, key, err)
	}
	return value, nil
}

// Remove deletes a record
func (s *PostgresStore) Remove(ctx context.Context, key string) error {
	q := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, pgx.Identifier{s.table}.Sanitize())
	if _, err := s.pool.Exec(ctx, q, key); err != nil {
		return fmt.Errorf("%w: del %s: %v", core.ErrStoreOperationFailed, key, err)
	}
	return nil
}

// Keys lists live keys with the given prefix
func (s *PostgresStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	q := fmt.Sprintf(`SELECT key FROM %s WHERE starts_with(key, $1) AND (expires_at IS NULL OR expires_at > $2) ORDER BY key`,
		pgx.Identifier{s.table}.Sanitize())
	rows, err := s.pool.Query(ctx, q, prefix, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("%w: list keys: %v", core.ErrStoreOperationFailed, err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("%w: list keys: %v", core.ErrStoreOperationFailed, err)
	}
	return keys, nil
}
