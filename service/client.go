// Package service orchestrates the session core: silent token retrieval,
// login completion, role queries and logout.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/layer-3/slashauth/cache"
	"github.com/layer-3/slashauth/channel"
	"github.com/layer-3/slashauth/core"
	"github.com/layer-3/slashauth/identity"
	"github.com/layer-3/slashauth/lock"
	"github.com/layer-3/slashauth/metrics"
	"github.com/layer-3/slashauth/ports"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

const (
	// SessionHintKey marks that a session was established; it is only a hint
	SessionHintKey = "slashauth.is.authenticated"

	// DeviceIDKey keeps the device id stable across runs
	DeviceIDKey = "slashauth.device_id"

	DefaultSessionDays = 1
	DefaultScope       = "openid profile email offline_access"
)

// Logout reasons
const (
	ReasonUser        = "user"
	ReasonNotLoggedIn = "not_logged_in"
)

// Options configure the Client
type Options struct {
	ClientID string
	Audience string
	Scope    string

	// Leeway is subtracted from token expiry on reads
	Leeway time.Duration

	// MaxAge bounds the age of the login an id token attests
	MaxAge time.Duration

	// SessionDays is how long the session hint lives
	SessionDays int
}

// LoginChannel completes a signed login
type LoginChannel interface {
	Login(ctx context.Context, req channel.Request) (*channel.Result, error)
}

// Dependencies are the collaborators of the Client
type Dependencies struct {
	Cache     *cache.Manager
	Refresher *lock.Refresher
	Channel   LoginChannel
	Tokens    ports.TokenEndpoint
	Nonces    ports.NonceAPI
	Accounts  ports.AccountAPI
	Storage   ports.Storage
	Events    ports.EventPublisher
	Log       zerolog.Logger
	Metrics   *metrics.Collector
}

// TokenOptions select the token GetTokenSilently returns
type TokenOptions struct {
	Audience string
	Scope    string

	// IgnoreCache forces a refresh
	IgnoreCache bool
}

// Client is the session core
type Client struct {
	opts      Options
	cache     *cache.Manager
	refresher *lock.Refresher
	channel   LoginChannel
	tokens    ports.TokenEndpoint
	nonces    ports.NonceAPI
	accounts  ports.AccountAPI
	storage   ports.Storage
	events    ports.EventPublisher
	binding   *identity.Binding
	log       zerolog.Logger
	metrics   *metrics.Collector

	deviceMu sync.Mutex
	deviceID string
}

// NewClient creates the session core
func NewClient(opts Options, deps Dependencies) *Client {
	if opts.Scope == "" {
		opts.Scope = DefaultScope
	}
	if opts.Leeway <= 0 {
		opts.Leeway = core.DefaultLeeway
	}
	if opts.SessionDays <= 0 {
		opts.SessionDays = DefaultSessionDays
	}

	c := &Client{
		opts:      opts,
		cache:     deps.Cache,
		refresher: deps.Refresher,
		channel:   deps.Channel,
		tokens:    deps.Tokens,
		nonces:    deps.Nonces,
		accounts:  deps.Accounts,
		storage:   deps.Storage,
		events:    deps.Events,
		log:       deps.Log.With().Str("component", "service").Logger(),
		metrics:   deps.Metrics,
	}
	c.binding = identity.New(c.logout, deps.Log)
	return c
}

// Binding returns the identity binding of the session
func (c *Client) Binding() *identity.Binding {
	return c.binding
}

// GetTokenSilently returns a valid access token, refreshing it when needed.
// Without a refresh token it logs out locally and returns *core.NotLoggedInError.
func (c *Client) GetTokenSilently(ctx context.Context, opts TokenOptions) (*core.CacheEntry, error) {
	key := c.key(opts.Audience, opts.Scope)

	if !opts.IgnoreCache {
		if entry, ok := c.cache.Get(ctx, key, c.opts.Leeway); ok {
			return entry, nil
		}
	}

	check := func(ctx context.Context) (*core.CacheEntry, bool) {
		if opts.IgnoreCache {
			return nil, false
		}
		return c.cache.Get(ctx, key, c.opts.Leeway)
	}
	// runs once per flight, so joined callers share one implicit logout
	refresh := func(ctx context.Context) (*core.CacheEntry, error) {
		entry, err := c.refresh(ctx, key)
		if errors.Is(err, core.ErrNotLoggedIn) {
			c.logout(ctx, ReasonNotLoggedIn)
		}
		return entry, err
	}

	return c.refresher.Do(ctx, key.String(), check, refresh)
}

func (c *Client) refresh(ctx context.Context, key core.CacheKey) (*core.CacheEntry, error) {
	rt, ok := c.cache.RefreshToken(ctx, key)
	if !ok {
		c.metrics.Refresh("not_logged_in")
		return nil, &core.NotLoggedInError{}
	}

	resp, err := c.tokens.Exchange(ctx, core.TokenRequest{
		GrantType:    core.GrantRefreshToken,
		RefreshToken: rt,
		ClientID:     c.opts.ClientID,
		Scope:        key.Scope,
		Audience:     key.Audience,
	})
	if err != nil {
		var aerr *core.AuthenticationError
		if errors.As(err, &aerr) && aerr.Code == "invalid_grant" {
			c.metrics.Refresh("not_logged_in")
			return nil, &core.NotLoggedInError{}
		}
		c.metrics.Refresh("error")
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}

	entry, err := c.cache.Set(ctx, resp, cache.SetOptions{
		Audience: key.Audience,
		Scope:    key.Scope,
		MaxAge:   c.opts.MaxAge,
	})
	if err != nil {
		c.metrics.Refresh("error")
		return nil, err
	}
	c.metrics.Refresh("ok")
	return entry, nil
}

// CheckSession restores the session when the hint says one exists. Failures
// are logged and otherwise ignored.
func (c *Client) CheckSession(ctx context.Context) {
	if !c.hasHint(ctx) {
		return
	}

	entry, err := c.GetTokenSilently(ctx, TokenOptions{})
	if err != nil {
		c.log.Debug().Err(err).Msg("silent session check failed")
		return
	}

	if acc := core.AccountFromClaims(entry.Claims); acc.Address != "" {
		if _, bound := c.binding.Bound(); !bound {
			c.binding.Bind(acc.Address)
		}
	}
}

// HasRole reports whether the account holds role; any failure is false
func (c *Client) HasRole(ctx context.Context, role string) bool {
	entry, err := c.GetTokenSilently(ctx, TokenOptions{})
	if err != nil {
		c.log.Debug().Err(err).Str("role", role).Msg("role check without token")
		return false
	}

	ok, err := c.accounts.HasRole(ctx, core.RoleRequest{
		ClientID:    c.opts.ClientID,
		Role:        role,
		AccessToken: entry.AccessToken,
	})
	if err != nil {
		c.log.Warn().Err(err).Str("role", role).Msg("role check failed")
		return false
	}
	return ok
}

// RoleMetadata returns the metadata of role, or nil on any failure
func (c *Client) RoleMetadata(ctx context.Context, role string) map[string]any {
	entry, err := c.GetTokenSilently(ctx, TokenOptions{})
	if err != nil {
		return nil
	}

	md, err := c.accounts.Metadata(ctx, core.RoleRequest{
		ClientID:    c.opts.ClientID,
		Role:        role,
		AccessToken: entry.AccessToken,
	})
	if err != nil {
		c.log.Warn().Err(err).Str("role", role).Msg("metadata lookup failed")
		return nil
	}
	return md
}

// AppMetadata returns the metadata of the client application
func (c *Client) AppMetadata(ctx context.Context) map[string]any {
	return c.RoleMetadata(ctx, "")
}

// FetchNonce asks the auth server for a nonce to sign with address
func (c *Client) FetchNonce(ctx context.Context, address string) (string, error) {
	deviceID, err := c.DeviceID(ctx)
	if err != nil {
		return "", err
	}

	nonce, err := c.nonces.FetchNonce(ctx, core.NonceRequest{
		Address:  address,
		DeviceID: deviceID,
		ClientID: c.opts.ClientID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to fetch nonce: %w", err)
	}
	return nonce, nil
}

// CompleteLogin exchanges a signed nonce for a session bound to address
func (c *Client) CompleteLogin(ctx context.Context, address, signature string) (*core.Account, error) {
	deviceID, err := c.DeviceID(ctx)
	if err != nil {
		return nil, err
	}

	res, err := c.channel.Login(ctx, channel.Request{
		Address:   address,
		Signature: signature,
		DeviceID:  deviceID,
		Audience:  c.opts.Audience,
		Scope:     c.opts.Scope,
	})
	if err != nil {
		return nil, err
	}

	entry, err := c.cache.Set(ctx, res.Tokens, cache.SetOptions{
		Audience: res.Audience,
		Scope:    res.Scope,
		Nonce:    res.Nonce,
		MaxAge:   c.opts.MaxAge,
	})
	if err != nil {
		return nil, err
	}

	acc := core.AccountFromClaims(entry.Claims)
	if acc.Address == "" {
		acc.Address = address
	} else if !identity.SameAddress(acc.Address, address) {
		_ = c.cache.Remove(ctx, entry.Key())
		return nil, &core.ValidationError{Reason: "id token address does not match the signing wallet"}
	}

	if err := c.storage.Set(ctx, SessionHintKey, "true", time.Duration(c.opts.SessionDays)*24*time.Hour); err != nil {
		c.log.Warn().Err(err).Msg("failed to store session hint")
	}
	c.binding.Bind(acc.Address)

	if c.events != nil {
		if err := c.events.PublishLogin(ctx, acc); err != nil {
			c.log.Warn().Err(err).Msg("failed to publish login event")
		}
	}
	c.log.Info().Str("address", acc.Address).Msg("logged in")
	return &acc, nil
}

// Logout clears the session of this client
func (c *Client) Logout(ctx context.Context) {
	c.logout(ctx, ReasonUser)
}

func (c *Client) logout(ctx context.Context, reason string) {
	address, _ := c.binding.Bound()
	if address == "" {
		if entry, ok := c.cache.Entry(ctx, c.key("", "")); ok {
			address = core.AccountFromClaims(entry.Claims).Address
		}
	}

	c.cache.Clear(ctx)
	if err := c.storage.Remove(ctx, SessionHintKey); err != nil {
		c.log.Warn().Err(err).Msg("failed to remove session hint")
	}
	c.binding.Unbind()
	c.metrics.Logout(reason)

	if c.events != nil {
		if err := c.events.PublishLogout(ctx, address, reason); err != nil {
			c.log.Warn().Err(err).Msg("failed to publish logout event")
		}
	}
	c.log.Info().Str("address", address).Str("reason", reason).Msg("logged out")
}

// Account returns the account of the current session
func (c *Client) Account(ctx context.Context) (*core.Account, error) {
	entry, ok := c.cache.Entry(ctx, c.key("", ""))
	if !ok || !c.usable(entry) {
		return nil, &core.NotLoggedInError{}
	}

	acc := core.AccountFromClaims(entry.Claims)
	if acc.Address == "" {
		acc.Address, _ = c.binding.Bound()
	}
	return &acc, nil
}

// IsAuthenticated reports whether a usable session is cached
func (c *Client) IsAuthenticated(ctx context.Context) bool {
	entry, ok := c.cache.Entry(ctx, c.key("", ""))
	return ok && c.usable(entry)
}

// DeviceID returns the persistent id of this device, creating it on first use
func (c *Client) DeviceID(ctx context.Context) (string, error) {
	c.deviceMu.Lock()
	defer c.deviceMu.Unlock()

	if c.deviceID != "" {
		return c.deviceID, nil
	}

	id, err := c.storage.Get(ctx, DeviceIDKey)
	switch {
	case err == nil && id != "":
	case err == nil || errors.Is(err, core.ErrNotFound):
		id = ulid.Make().String()
		if err := c.storage.Set(ctx, DeviceIDKey, id, 0); err != nil {
			return "", fmt.Errorf("failed to persist device id: %w", err)
		}
	default:
		return "", fmt.Errorf("failed to read device id: %w", err)
	}

	c.deviceID = id
	return id, nil
}

func (c *Client) usable(entry *core.CacheEntry) bool {
	return entry.RefreshToken != "" || entry.ValidAt(c.cache.Now(), 0)
}

func (c *Client) hasHint(ctx context.Context) bool {
	v, err := c.storage.Get(ctx, SessionHintKey)
	return err == nil && v == "true"
}

func (c *Client) key(audience, scope string) core.CacheKey {
	if audience == "" {
		audience = c.opts.Audience
	}
	if scope == "" {
		scope = c.opts.Scope
	}
	return c.cache.Key(audience, scope)
}
