package ports

import (
	"context"
	"time"
)

// VerifyOptions are the expectations an identity token must satisfy
type VerifyOptions struct {
	Issuer   string
	Audience string
	Nonce    string
	MaxAge   time.Duration
	Leeway   time.Duration
	Now      time.Time
}

// IDTokenVerifier validates an identity token and returns its claims
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string, opts VerifyOptions) (map[string]any, error)
}
