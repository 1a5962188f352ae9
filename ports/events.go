package ports

import (
	"context"

	"github.com/layer-3/slashauth/core"
)

// EventPublisher publishes session events to other contexts
type EventPublisher interface {
	PublishLogin(ctx context.Context, account core.Account) error
	PublishLogout(ctx context.Context, address string, reason string) error
}

// WalletEventSource streams wallet account and connection changes
type WalletEventSource interface {
	WalletEvents(ctx context.Context) (<-chan core.WalletEvent, error)
}
