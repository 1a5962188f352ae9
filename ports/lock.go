package ports

import (
	"context"
	"time"

	"github.com/layer-3/slashauth/core"
)

// Locker is an advisory lock shared by every context using the same medium
type Locker interface {
	// TryAcquire makes one non-blocking attempt; ttl bounds how long a crashed holder keeps the lock
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (core.LockToken, bool, error)

	// Release frees the lock if token still owns it
	Release(ctx context.Context, token core.LockToken) error
}
