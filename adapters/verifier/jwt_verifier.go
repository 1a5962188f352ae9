package verifier

import (
	"context"
	"crypto"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/slashauth/core"
	"github.com/layer-3/slashauth/ports"
)

// JWTVerifier validates identity tokens against a fixed set of public keys
type JWTVerifier struct {
	keys       map[string]crypto.PublicKey
	defaultKey crypto.PublicKey
}

// NewJWTVerifier creates a verifier accepting tokens signed by key, whatever their kid
func NewJWTVerifier(key crypto.PublicKey) *JWTVerifier {
	return &JWTVerifier{defaultKey: key, keys: map[string]crypto.PublicKey{}}
}

// WithKey registers an additional key selected by the token's kid header
func (v *JWTVerifier) WithKey(kid string, key crypto.PublicKey) *JWTVerifier {
	v.keys[kid] = key
	return v
}

// Verify checks signature, issuer, audience, expiry, nonce and max age
func (v *JWTVerifier) Verify(ctx context.Context, rawIDToken string, opts ports.VerifyOptions) (map[string]any, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"ES256", "RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(opts.Leeway),
	}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}
	if opts.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(opts.Audience))
	}
	if !opts.Now.IsZero() {
		now := opts.Now
		parserOpts = append(parserOpts, jwt.WithTimeFunc(func() time.Time { return now }))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.NewParser(parserOpts...).ParseWithClaims(rawIDToken, claims, v.keyFunc)
	if err != nil {
		return nil, &core.ValidationError{Reason: "id token rejected", Err: err}
	}
	if !token.Valid {
		return nil, &core.ValidationError{Reason: "id token invalid"}
	}

	if sub, _ := claims.GetSubject(); sub == "" {
		return nil, &core.ValidationError{Reason: "sub claim missing"}
	}
	if err := checkNonce(claims, opts); err != nil {
		return nil, err
	}
	if err := checkMaxAge(claims, opts); err != nil {
		return nil, err
	}

	return map[string]any(claims), nil
}

// keyFunc selects the verification key and validates the signing method
func (v *JWTVerifier) keyFunc(token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodECDSA, *jwt.SigningMethodRSA:
	default:
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}

	if kid, ok := token.Header["kid"].(string); ok {
		if key, found := v.keys[kid]; found {
			return key, nil
		}
	}
	if v.defaultKey == nil {
		return nil, fmt.Errorf("no key for kid %v", token.Header["kid"])
	}
	return v.defaultKey, nil
}
