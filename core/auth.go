package core

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// CacheKeyPrefix namespaces every record the SDK writes to storage
const CacheKeyPrefix = "@@slashauth@@"

// DefaultLeeway is subtracted from token expiry to force a proactive refresh
const DefaultLeeway = 60 * time.Second

// CacheKey identifies a token record by client, audience and scope
type CacheKey struct {
	ClientID string
	Audience string
	Scope    string
}

// NewCacheKey builds a key with a canonical scope
func NewCacheKey(clientID, audience, scope string) CacheKey {
	return CacheKey{
		ClientID: clientID,
		Audience: audience,
		Scope:    CanonicalScope(scope),
	}
}

// String renders the storage key
func (k CacheKey) String() string {
	return strings.Join([]string{CacheKeyPrefix, k.ClientID, k.Audience, k.Scope}, "::")
}

// ParseCacheKey reverses CacheKey.String
func ParseCacheKey(s string) (CacheKey, error) {
	parts := strings.SplitN(s, "::", 4)
	if len(parts) != 4 || parts[0] != CacheKeyPrefix {
		return CacheKey{}, fmt.Errorf("malformed cache key %q", s)
	}
	return NewCacheKey(parts[1], parts[2], parts[3]), nil
}

// ManifestKey is the storage key of the key manifest for a client
func ManifestKey(clientID string) string {
	return CacheKeyPrefix + "::" + clientID
}

// CanonicalScope sorts and de-duplicates space separated scope values
func CanonicalScope(scope string) string {
	fields := strings.Fields(scope)
	if len(fields) == 0 {
		return ""
	}
	sort.Strings(fields)
	out := fields[:1]
	for _, f := range fields[1:] {
		if f != out[len(out)-1] {
			out = append(out, f)
		}
	}
	return strings.Join(out, " ")
}

// ScopeContains reports whether every value of want is present in have
func ScopeContains(have, want string) bool {
	set := make(map[string]struct{})
	for _, f := range strings.Fields(have) {
		set[f] = struct{}{}
	}
	for _, f := range strings.Fields(want) {
		if _, ok := set[f]; !ok {
			return false
		}
	}
	return true
}

// CacheEntry is a token record as persisted by the cache manager
type CacheEntry struct {
	AccessToken  string         `json:"access_token"`
	IDToken      string         `json:"id_token,omitempty"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time      `json:"expires_at"`
	Claims       map[string]any `json:"decoded_claims,omitempty"`
	Scope        string         `json:"scope"`
	Audience     string         `json:"audience"`
	ClientID     string         `json:"client_id"`
}

// Key returns the cache key the entry is stored under
func (e *CacheEntry) Key() CacheKey {
	return NewCacheKey(e.ClientID, e.Audience, e.Scope)
}

// ValidAt reports whether the entry is still usable at now given a grace window
func (e *CacheEntry) ValidAt(now time.Time, leeway time.Duration) bool {
	return now.Before(e.ExpiresAt.Add(-leeway))
}

// Account describes the wallet identity behind an authenticated session
type Account struct {
	Address string         `json:"address"`
	Subject string         `json:"sub"`
	Claims  map[string]any `json:"claims,omitempty"`
}

// AccountFromClaims extracts the account from decoded id token claims
func AccountFromClaims(claims map[string]any) Account {
	acc := Account{Claims: claims}
	if sub, ok := claims["sub"].(string); ok {
		acc.Subject = sub
	}
	for _, k := range []string{"wallet_address", "address"} {
		if addr, ok := claims[k].(string); ok && addr != "" {
			acc.Address = addr
			break
		}
	}
	return acc
}

// LockToken represents ownership of an advisory lock
type LockToken struct {
	Name  string
	Value string
}

// WalletEventKind enumerates wallet notifications
type WalletEventKind string

const (
	WalletAccountChanged WalletEventKind = "account_changed"
	WalletDisconnected   WalletEventKind = "disconnected"
)

// WalletEvent is emitted by the wallet connector
type WalletEvent struct {
	Kind    WalletEventKind `json:"kind"`
	Address string          `json:"address,omitempty"`
}
