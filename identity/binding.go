// Package identity ties an authenticated session to the wallet address that
// signed it in and forces a logout when the wallet drifts away from it.
package identity

import (
	"context"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/layer-3/slashauth/core"
	"github.com/layer-3/slashauth/ports"
	"github.com/rs/zerolog"
)

// Logout reasons passed to the LogoutFunc
const (
	ReasonAccountChanged = "account_changed"
	ReasonDisconnected   = "wallet_disconnected"
)

// LogoutFunc tears the session down
type LogoutFunc func(ctx context.Context, reason string)

// Binding holds the address the current session is bound to
type Binding struct {
	mu     sync.Mutex
	bound  string
	logout LogoutFunc
	log    zerolog.Logger
}

// New creates an unbound Binding calling logout on violations
func New(logout LogoutFunc, log zerolog.Logger) *Binding {
	return &Binding{
		logout: logout,
		log:    log.With().Str("component", "identity").Logger(),
	}
}

// Bind ties the session to address
func (b *Binding) Bind(address string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bound = address
}

// Unbind clears the binding without logging out
func (b *Binding) Unbind() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bound = ""
}

// Bound returns the bound address
func (b *Binding) Bound() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bound, b.bound != ""
}

// Handle checks ev against the binding. A violation clears the binding before
// logout runs, so later events of the same transition are no-ops.
func (b *Binding) Handle(ctx context.Context, ev core.WalletEvent) {
	b.mu.Lock()
	if b.bound == "" {
		b.mu.Unlock()
		return
	}

	var reason string
	switch {
	case ev.Kind == core.WalletDisconnected || ev.Address == "":
		reason = ReasonDisconnected
	case ev.Kind == core.WalletAccountChanged && !SameAddress(b.bound, ev.Address):
		reason = ReasonAccountChanged
	default:
		b.mu.Unlock()
		return
	}

	bound := b.bound
	b.bound = ""
	b.mu.Unlock()

	b.log.Info().Str("bound", bound).Str("current", ev.Address).Str("reason", reason).Msg("wallet identity changed, logging out")
	b.logout(ctx, reason)
}

// Watch feeds events from src into Handle until ctx is done or src closes
func (b *Binding) Watch(ctx context.Context, src ports.WalletEventSource) error {
	events, err := src.WalletEvents(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			b.Handle(ctx, ev)
		}
	}
}

// SameAddress compares wallet addresses ignoring checksum casing
func SameAddress(a, b string) bool {
	if common.IsHexAddress(a) && common.IsHexAddress(b) {
		return common.HexToAddress(a) == common.HexToAddress(b)
	}
	return strings.EqualFold(a, b)
}
