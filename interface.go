// Package slashauth is the client-side session core of a wallet login: it
// caches and silently refreshes tokens, runs the signed-nonce login and keeps
// the session bound to the wallet that created it.
package slashauth

import (
	"context"

	"github.com/layer-3/slashauth/core"
	"github.com/layer-3/slashauth/login"
	"github.com/layer-3/slashauth/service"
)

// TokenOptions select the token GetTokenSilently returns
type TokenOptions = service.TokenOptions

// Client represents the public interface of the session core
type Client interface {
	// GetTokenSilently returns a valid access token, refreshing it if needed
	GetTokenSilently(ctx context.Context, opts TokenOptions) (*core.CacheEntry, error)

	// CheckSession restores a previous session when one is hinted; it never fails
	CheckSession(ctx context.Context)

	// Login runs the wallet login flow to completion
	Login(ctx context.Context) (*core.Account, error)

	// Logout clears the session
	Logout(ctx context.Context)

	// HasRole reports role membership; failures report false
	HasRole(ctx context.Context, role string) bool

	// RoleMetadata returns the metadata of role, nil on failure
	RoleMetadata(ctx context.Context, role string) map[string]any

	// AppMetadata returns the metadata of the client application, nil on failure
	AppMetadata(ctx context.Context) map[string]any

	// Account returns the account of the current session
	Account(ctx context.Context) (*core.Account, error)

	// IsAuthenticated reports whether a usable session exists
	IsAuthenticated(ctx context.Context) bool

	// LoginState returns the current step of the login flow
	LoginState() login.State

	// Subscribe observes login state changes
	Subscribe(fn login.Subscriber) func()
}
