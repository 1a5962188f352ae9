package verifier

import (
	"fmt"
	"time"

	"github.com/layer-3/slashauth/core"
	"github.com/layer-3/slashauth/ports"
)

// checkNonce compares the nonce claim with the one generated for the request
func checkNonce(claims map[string]any, opts ports.VerifyOptions) error {
	if opts.Nonce == "" {
		return nil
	}
	got, _ := claims["nonce"].(string)
	if got == "" {
		return &core.ValidationError{Reason: "nonce claim missing"}
	}
	if got != opts.Nonce {
		return &core.ValidationError{Reason: fmt.Sprintf("nonce mismatch: expected %q, got %q", opts.Nonce, got)}
	}
	return nil
}

// checkMaxAge enforces auth_time + max_age + leeway >= now
func checkMaxAge(claims map[string]any, opts ports.VerifyOptions) error {
	if opts.MaxAge <= 0 {
		return nil
	}
	authTime, ok := numericClaim(claims, "auth_time")
	if !ok {
		return &core.ValidationError{Reason: "auth_time claim required when max_age is set"}
	}
	deadline := authTime.Add(opts.MaxAge).Add(opts.Leeway)
	if opts.Now.After(deadline) {
		return &core.ValidationError{Reason: "authentication is older than max_age"}
	}
	return nil
}

func numericClaim(claims map[string]any, name string) (time.Time, bool) {
	switch v := claims[name].(type) {
	case float64:
		return time.Unix(int64(v), 0), true
	case int64:
		return time.Unix(v, 0), true
	case int:
		return time.Unix(int64(v), 0), true
	default:
		return time.Time{}, false
	}
}
