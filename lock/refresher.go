package lock

import (
	"context"
	"errors"
	"time"

	"github.com/layer-3/slashauth/core"
	"golang.org/x/sync/singleflight"
)

// DefaultRefreshTimeout bounds the network part of a refresh
const DefaultRefreshTimeout = 30 * time.Second

// CheckFunc looks the key up in the cache
type CheckFunc func(ctx context.Context) (*core.CacheEntry, bool)

// RefreshFunc performs the network refresh and stores its result
type RefreshFunc func(ctx context.Context) (*core.CacheEntry, error)

// Refresher coalesces concurrent refreshes of one key and serializes
// refreshes across contexts through the advisory Mutex.
//
// A context that loses the advisory race re-checks the cache once it holds
// the lock; it never joins another context's in-flight refresh.
type Refresher struct {
	group   singleflight.Group
	mutex   *Mutex
	timeout time.Duration
}

// RefresherOption configures a Refresher
type RefresherOption func(*Refresher)

// WithRefreshTimeout bounds the refresh call made once the lock is held
func WithRefreshTimeout(d time.Duration) RefresherOption {
	return func(r *Refresher) { r.timeout = d }
}

// NewRefresher creates a refresher guarded by mutex
func NewRefresher(mutex *Mutex, opts ...RefresherOption) *Refresher {
	r := &Refresher{mutex: mutex, timeout: DefaultRefreshTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do returns the cached entry for key when check finds one after the lock is
// held, otherwise the result of refresh. Callers sharing key share the result.
//
// The flight outlives the caller that started it: it runs detached from ctx,
// bounded by the lock budget plus the refresh timeout. Each caller stops
// waiting when its own ctx ends.
func (r *Refresher) Do(ctx context.Context, key string, check CheckFunc, refresh RefreshFunc) (*core.CacheEntry, error) {
	ch := r.group.DoChan(key, func() (interface{}, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.mutex.Budget()+r.timeout)
		defer cancel()

		entry, err := r.locked(flightCtx, check, refresh)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &core.TimeoutError{Op: "refresh"}
		}
		return entry, err
	})

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &core.TimeoutError{Op: "refresh"}
		}
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*core.CacheEntry), nil
	}
}

func (r *Refresher) locked(ctx context.Context, check CheckFunc, refresh RefreshFunc) (*core.CacheEntry, error) {
	token, err := r.mutex.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer r.mutex.Release(ctx, token)

	// another context may have refreshed while we waited
	if entry, ok := check(ctx); ok {
		return entry, nil
	}
	return refresh(ctx)
}
