package locker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/slashauth/core"
)

type heldLock struct {
	value     string
	expiresAt time.Time
}

// MemoryLocker is a Locker shared by every client in the process that holds a
// reference to it; each client behaves like an independent context.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]heldLock
	now   func() time.Time
}

// NewMemoryLocker creates an empty lock table
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		locks: make(map[string]heldLock),
		now:   time.Now,
	}
}

// TryAcquire takes the lock when it is free or its previous holder expired
func (l *MemoryLocker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (core.LockToken, bool, error) {
	if err := ctx.Err(); err != nil {
		return core.LockToken{}, false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if held, ok := l.locks[name]; ok && now.Before(held.expiresAt) {
		return core.LockToken{}, false, nil
	}

	token := core.LockToken{Name: name, Value: uuid.NewString()}
	l.locks[name] = heldLock{value: token.Value, expiresAt: now.Add(ttl)}
	return token, true, nil
}

// Release frees the lock when token still owns it
func (l *MemoryLocker) Release(ctx context.Context, token core.LockToken) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if held, ok := l.locks[token.Name]; ok && held.value == token.Value {
		delete(l.locks, token.Name)
	}
	return nil
}

// Held reports whether name is currently locked
func (l *MemoryLocker) Held(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	held, ok := l.locks[name]
	return ok && l.now().Before(held.expiresAt)
}
