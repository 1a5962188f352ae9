package ports

import (
	"context"

	"github.com/layer-3/slashauth/core"
)

// TokenEndpoint exchanges grants for tokens
type TokenEndpoint interface {
	Exchange(ctx context.Context, req core.TokenRequest) (core.TokenResponse, error)
}

// NonceAPI issues login nonces for a wallet address
type NonceAPI interface {
	FetchNonce(ctx context.Context, req core.NonceRequest) (string, error)
}

// AccountAPI answers role and metadata queries for the logged in account
type AccountAPI interface {
	HasRole(ctx context.Context, req core.RoleRequest) (bool, error)
	Metadata(ctx context.Context, req core.RoleRequest) (map[string]any, error)
}

// Wallet is the connector to the user's wallet
type Wallet interface {
	// Connect returns the connected address, prompting the user if needed
	Connect(ctx context.Context) (string, error)

	// SignMessage signs message with the key of address; a refusal yields core.ErrUserRejected
	SignMessage(ctx context.Context, address, message string) (string, error)
}
