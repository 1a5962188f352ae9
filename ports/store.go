package ports

import (
	"context"
	"time"
)

// Storage persists string records; a missing key yields core.ErrNotFound
type Storage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Remove(ctx context.Context, key string) error
}

// KeyLister is implemented by backends that can enumerate their own keys
type KeyLister interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}
