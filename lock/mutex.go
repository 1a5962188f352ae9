// Package lock keeps silent token refreshes single-flight, both between
// goroutines of one client and between clients sharing a lock medium.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/layer-3/slashauth/core"
	"github.com/layer-3/slashauth/metrics"
	"github.com/layer-3/slashauth/ports"
	"github.com/rs/zerolog"
)

const (
	// DefaultName is the single advisory lock every refresh contends for
	DefaultName = "slashauth.lock.getTokenSilently"

	DefaultAttemptTimeout = 5 * time.Second
	DefaultRetries        = 10
	DefaultBackoffStep    = 100 * time.Millisecond
	DefaultPollInterval   = 25 * time.Millisecond
	DefaultTTL            = 30 * time.Second

	releaseTimeout = 2 * time.Second
)

// Mutex acquires the cross-context advisory lock with bounded attempts
type Mutex struct {
	locker ports.Locker
	name   string

	ttl            time.Duration
	attemptTimeout time.Duration
	retries        int
	backoffStep    time.Duration
	pollInterval   time.Duration

	log     zerolog.Logger
	metrics *metrics.Collector
}

// MutexOption configures a Mutex
type MutexOption func(*Mutex)

// WithName overrides the lock name
func WithName(name string) MutexOption {
	return func(m *Mutex) { m.name = name }
}

// WithAttemptTimeout bounds a single acquisition attempt
func WithAttemptTimeout(d time.Duration) MutexOption {
	return func(m *Mutex) { m.attemptTimeout = d }
}

// WithRetries sets how many attempts are made before giving up
func WithRetries(n int) MutexOption {
	return func(m *Mutex) { m.retries = n }
}

// WithBackoffStep sets the linear backoff unit; attempt n waits n*step
func WithBackoffStep(d time.Duration) MutexOption {
	return func(m *Mutex) { m.backoffStep = d }
}

// WithPollInterval sets how often the lock is retried within an attempt
func WithPollInterval(d time.Duration) MutexOption {
	return func(m *Mutex) { m.pollInterval = d }
}

// WithTTL bounds how long a crashed holder keeps the lock
func WithTTL(d time.Duration) MutexOption {
	return func(m *Mutex) { m.ttl = d }
}

// WithLogger sets the logger
func WithLogger(log zerolog.Logger) MutexOption {
	return func(m *Mutex) { m.log = log.With().Str("component", "lock").Logger() }
}

// WithMetrics records lock wait times
func WithMetrics(c *metrics.Collector) MutexOption {
	return func(m *Mutex) { m.metrics = c }
}

// NewMutex creates a mutex over locker
func NewMutex(locker ports.Locker, opts ...MutexOption) *Mutex {
	m := &Mutex{
		locker:         locker,
		name:           DefaultName,
		ttl:            DefaultTTL,
		attemptTimeout: DefaultAttemptTimeout,
		retries:        DefaultRetries,
		backoffStep:    DefaultBackoffStep,
		pollInterval:   DefaultPollInterval,
		log:            zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the advisory lock name
func (m *Mutex) Name() string {
	return m.name
}

// Budget is the longest Acquire can take when ctx does not end first
func (m *Mutex) Budget() time.Duration {
	budget := time.Duration(m.retries) * m.attemptTimeout
	for n := 1; n < m.retries; n++ {
		budget += time.Duration(n) * m.backoffStep
	}
	return budget
}

// Acquire blocks until the lock is held, the retry budget is spent or ctx ends.
// Exhausting the budget returns a *core.TimeoutError.
func (m *Mutex) Acquire(ctx context.Context) (core.LockToken, error) {
	start := time.Now()
	defer func() { m.metrics.LockWait(time.Since(start)) }()

	for attempt := 1; attempt <= m.retries; attempt++ {
		token, ok, err := m.attempt(ctx)
		if err != nil {
			return core.LockToken{}, err
		}
		if ok {
			return token, nil
		}

		m.log.Debug().Int("attempt", attempt).Str("lock", m.name).Msg("lock busy, backing off")
		if attempt == m.retries {
			break
		}
		if err := sleep(ctx, time.Duration(attempt)*m.backoffStep); err != nil {
			return core.LockToken{}, err
		}
	}

	return core.LockToken{}, &core.TimeoutError{Op: "lock"}
}

// attempt polls the locker until it succeeds or the attempt timeout elapses
func (m *Mutex) attempt(ctx context.Context) (core.LockToken, bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, m.attemptTimeout)
	defer cancel()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		token, ok, err := m.locker.TryAcquire(attemptCtx, m.name, m.ttl)
		switch {
		case ok:
			return token, true, nil
		case err != nil && ctx.Err() != nil:
			return core.LockToken{}, false, fmt.Errorf("lock acquisition aborted: %w", ctx.Err())
		case err != nil && !errors.Is(err, context.DeadlineExceeded):
			m.log.Warn().Err(err).Str("lock", m.name).Msg("lock attempt failed")
		}

		select {
		case <-ctx.Done():
			return core.LockToken{}, false, fmt.Errorf("lock acquisition aborted: %w", ctx.Err())
		case <-attemptCtx.Done():
			return core.LockToken{}, false, nil
		case <-ticker.C:
		}
	}
}

// Release frees the lock even when ctx is already done
func (m *Mutex) Release(ctx context.Context, token core.LockToken) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if err := m.locker.Release(releaseCtx, token); err != nil {
		m.log.Warn().Err(err).Str("lock", token.Name).Msg("failed to release lock")
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("lock acquisition aborted: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}
