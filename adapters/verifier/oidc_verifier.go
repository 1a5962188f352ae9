package verifier

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/layer-3/slashauth/core"
	"github.com/layer-3/slashauth/ports"
)

// OIDCVerifier validates identity tokens against a JWKS key set
type OIDCVerifier struct {
	keySet oidc.KeySet
}

// NewOIDCVerifier wraps an existing key set, e.g. oidc.StaticKeySet in tests
func NewOIDCVerifier(keySet oidc.KeySet) *OIDCVerifier {
	return &OIDCVerifier{keySet: keySet}
}

// NewOIDCVerifierFromIssuer discovers the issuer's JWKS endpoint
func NewOIDCVerifierFromIssuer(ctx context.Context, issuer string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover issuer %s: %w", issuer, err)
	}

	var meta struct {
		JWKSURL string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("failed to read provider metadata: %w", err)
	}

	return NewOIDCVerifier(oidc.NewRemoteKeySet(context.WithoutCancel(ctx), meta.JWKSURL)), nil
}

// Verify checks the token with go-oidc and applies nonce and max age rules
func (v *OIDCVerifier) Verify(ctx context.Context, rawIDToken string, opts ports.VerifyOptions) (map[string]any, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	leeway := opts.Leeway

	cfg := &oidc.Config{
		ClientID:             opts.Audience,
		SkipClientIDCheck:    opts.Audience == "",
		SkipIssuerCheck:      opts.Issuer == "",
		SupportedSigningAlgs: []string{oidc.ES256, oidc.RS256},
		// go-oidc has no leeway knob; shifting its clock back is equivalent
		Now: func() time.Time { return now.Add(-leeway) },
	}

	idToken, err := oidc.NewVerifier(opts.Issuer, v.keySet, cfg).Verify(ctx, rawIDToken)
	if err != nil {
		return nil, &core.ValidationError{Reason: "id token rejected", Err: err}
	}

	claims := map[string]any{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, &core.ValidationError{Reason: "id token claims unreadable", Err: err}
	}

	opts.Now = now
	if err := checkNonce(claims, opts); err != nil {
		return nil, err
	}
	if err := checkMaxAge(claims, opts); err != nil {
		return nil, err
	}

	return claims, nil
}
