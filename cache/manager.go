// Package cache stores token records keyed by client, audience and scope and
// decides whether a stored record is still usable.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/layer-3/slashauth/core"
	"github.com/layer-3/slashauth/metrics"
	"github.com/layer-3/slashauth/ports"
	"github.com/rs/zerolog"
)

// SetOptions describe the request a token response answers
type SetOptions struct {
	Audience string
	Scope    string

	// Nonce, when set, must equal the id token's nonce claim
	Nonce string

	// MaxAge bounds the age of the authentication event
	MaxAge time.Duration
}

// Manager is the token cache
type Manager struct {
	storage  ports.Storage
	lister   ports.KeyLister
	manifest *Manifest
	verifier ports.IDTokenVerifier

	clientID  string
	issuer    string
	clockSkew time.Duration
	now       func() time.Time
	log       zerolog.Logger
	metrics   *metrics.Collector

	// mu serializes entry+manifest writes of this process
	mu sync.Mutex
}

// Option configures a Manager
type Option func(*Manager)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) { m.log = log.With().Str("component", "cache").Logger() }
}

// WithMetrics records cache lookups
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) { m.metrics = c }
}

// WithClockSkew sets the leeway applied to id token time claims (default 60s)
func WithClockSkew(d time.Duration) Option {
	return func(m *Manager) { m.clockSkew = d }
}

// NewManager creates a cache for clientID. Tokens are validated against issuer.
// A key manifest is maintained unless storage implements ports.KeyLister.
func NewManager(storage ports.Storage, verifier ports.IDTokenVerifier, clientID, issuer string, opts ...Option) *Manager {
	m := &Manager{
		storage:   storage,
		verifier:  verifier,
		clientID:  clientID,
		issuer:    issuer,
		clockSkew: core.DefaultLeeway,
		now:       time.Now,
		log:       zerolog.Nop(),
	}
	if lister, ok := storage.(ports.KeyLister); ok {
		m.lister = lister
	} else {
		m.manifest = NewManifest(storage, clientID)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ClientID returns the client the cache belongs to
func (m *Manager) ClientID() string {
	return m.clientID
}

// Now returns the current time of the cache clock
func (m *Manager) Now() time.Time {
	return m.now()
}

// Key builds the cache key of this client for audience and scope
func (m *Manager) Key(audience, scope string) core.CacheKey {
	return core.NewCacheKey(m.clientID, audience, scope)
}

// Get returns the entry for key when it is valid for at least leeway more.
// Expired entries and storage failures are reported as a miss.
func (m *Manager) Get(ctx context.Context, key core.CacheKey, leeway time.Duration) (*core.CacheEntry, bool) {
	entry, storageKey, err := m.lookup(ctx, key)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			m.log.Warn().Err(err).Str("key", key.String()).Msg("cache read failed, treating as miss")
		}
		m.metrics.CacheLookup(false)
		return nil, false
	}

	if !entry.ValidAt(m.now(), leeway) {
		if entry.RefreshToken == "" {
			m.evict(ctx, storageKey)
		}
		m.metrics.CacheLookup(false)
		return nil, false
	}

	m.metrics.CacheLookup(true)
	return entry, true
}

// RefreshToken returns the refresh token stored for key, even when the
// access token has expired
func (m *Manager) RefreshToken(ctx context.Context, key core.CacheKey) (string, bool) {
	entry, _, err := m.lookup(ctx, key)
	if err != nil || entry.RefreshToken == "" {
		return "", false
	}
	return entry.RefreshToken, true
}

// Entry returns any stored entry for key regardless of expiry
func (m *Manager) Entry(ctx context.Context, key core.CacheKey) (*core.CacheEntry, bool) {
	entry, _, err := m.lookup(ctx, key)
	if err != nil {
		return nil, false
	}
	return entry, true
}

// Set validates the id token of resp, stores the resulting entry and indexes it
func (m *Manager) Set(ctx context.Context, resp core.TokenResponse, opts SetOptions) (*core.CacheEntry, error) {
	if resp.AccessToken == "" {
		return nil, &core.ValidationError{Reason: "token response has no access_token"}
	}

	now := m.now()
	key := m.Key(opts.Audience, opts.Scope)
	entry := &core.CacheEntry{
		AccessToken:  resp.AccessToken,
		IDToken:      resp.IDToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    now.Add(time.Duration(resp.ExpiresIn) * time.Second),
		Scope:        key.Scope,
		Audience:     key.Audience,
		ClientID:     key.ClientID,
	}

	if resp.IDToken != "" {
		claims, err := m.verifier.Verify(ctx, resp.IDToken, ports.VerifyOptions{
			Issuer:   m.issuer,
			Audience: m.clientID,
			Nonce:    opts.Nonce,
			MaxAge:   opts.MaxAge,
			Leeway:   m.clockSkew,
			Now:      now,
		})
		if err != nil {
			var verr *core.ValidationError
			if !errors.As(err, &verr) {
				err = &core.ValidationError{Reason: "id token rejected", Err: err}
			}
			return nil, err
		}
		entry.Claims = claims
	} else if prev, _, err := m.lookup(ctx, key); err == nil {
		// refresh responses may omit the id token and a rotated refresh token
		entry.IDToken = prev.IDToken
		entry.Claims = prev.Claims
		if entry.RefreshToken == "" {
			entry.RefreshToken = prev.RefreshToken
		}
	}

	if err := m.write(ctx, key.String(), entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Remove deletes the entry for key
func (m *Manager) Remove(ctx context.Context, key core.CacheKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.storage.Remove(ctx, key.String()); err != nil {
		return err
	}
	if m.manifest != nil {
		return m.manifest.Remove(ctx, key.String())
	}
	return nil
}

// Clear removes every entry of the client and then the manifest record.
// Individual failures are logged and skipped.
func (m *Manager) Clear(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys, err := m.keys(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("failed to enumerate cache keys")
	}

	for _, k := range keys {
		if err := m.storage.Remove(ctx, k); err != nil {
			m.log.Warn().Err(err).Str("key", k).Msg("failed to remove cache entry")
		}
	}

	if m.manifest != nil {
		if err := m.manifest.Clear(ctx); err != nil {
			m.log.Warn().Err(err).Msg("failed to remove key manifest")
		}
	}
}

// ClearSync clears the cache without honouring cancellation, for teardown paths
func (m *Manager) ClearSync() {
	m.Clear(context.Background())
}

// Keys lists the storage keys of every entry of this client
func (m *Manager) Keys(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys(ctx)
}

func (m *Manager) keys(ctx context.Context) ([]string, error) {
	if m.lister != nil {
		return m.lister.Keys(ctx, core.ManifestKey(m.clientID)+"::")
	}
	return m.manifest.Keys(ctx)
}

// lookup reads the exact key, falling back to an entry whose scope covers the requested one
func (m *Manager) lookup(ctx context.Context, key core.CacheKey) (*core.CacheEntry, string, error) {
	entry, err := m.read(ctx, key.String())
	if err == nil {
		return entry, key.String(), nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, "", err
	}

	keys, err := m.Keys(ctx)
	if err != nil {
		return nil, "", err
	}
	for _, k := range keys {
		candidate, perr := core.ParseCacheKey(k)
		if perr != nil || candidate.ClientID != key.ClientID || candidate.Audience != key.Audience {
			continue
		}
		if !core.ScopeContains(candidate.Scope, key.Scope) {
			continue
		}
		if entry, err := m.read(ctx, k); err == nil {
			return entry, k, nil
		}
	}
	return nil, "", core.ErrNotFound
}

func (m *Manager) read(ctx context.Context, storageKey string) (*core.CacheEntry, error) {
	raw, err := m.storage.Get(ctx, storageKey)
	if err != nil {
		return nil, err
	}

	var entry core.CacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("corrupt cache entry %s: %w", storageKey, err)
	}
	return &entry, nil
}

func (m *Manager) write(ctx context.Context, storageKey string, entry *core.CacheEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.storage.Set(ctx, storageKey, string(raw), 0); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if m.manifest != nil {
		if err := m.manifest.Add(ctx, storageKey); err != nil {
			// keep entry and index consistent: an unindexed entry could never be cleared
			_ = m.storage.Remove(ctx, storageKey)
			return fmt.Errorf("failed to index cache entry: %w", err)
		}
	}
	return nil
}

func (m *Manager) evict(ctx context.Context, storageKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.storage.Remove(ctx, storageKey); err != nil {
		m.log.Debug().Err(err).Str("key", storageKey).Msg("failed to evict expired entry")
		return
	}
	if m.manifest != nil {
		if err := m.manifest.Remove(ctx, storageKey); err != nil {
			m.log.Debug().Err(err).Str("key", storageKey).Msg("failed to unindex expired entry")
		}
	}
}
