package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/layer-3/slashauth/core"
)

const (
	// LoginTopic carries LoginEvent payloads
	LoginTopic = "slashauth.login"

	// LogoutTopic carries LogoutEvent payloads
	LogoutTopic = "slashauth.logout"

	// WalletTopic carries core.WalletEvent payloads
	WalletTopic = "slashauth.wallet"
)

// LoginEvent is published once a wallet login completes
type LoginEvent struct {
	Address string `json:"address"`
	Subject string `json:"sub"`
}

// LogoutEvent is published when a session ends
type LogoutEvent struct {
	Address string `json:"address"`
	Reason  string `json:"reason"`
}

// WatermillPublisher implements ports.EventPublisher using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) *WatermillPublisher {
	return &WatermillPublisher{publisher: publisher}
}

// PublishLogin publishes a login event
func (p *WatermillPublisher) PublishLogin(ctx context.Context, account core.Account) error {
	return p.publish(ctx, LoginTopic, LoginEvent{Address: account.Address, Subject: account.Subject})
}

// PublishLogout publishes a logout event
func (p *WatermillPublisher) PublishLogout(ctx context.Context, address string, reason string) error {
	return p.publish(ctx, LogoutTopic, LogoutEvent{Address: address, Reason: reason})
}

// PublishWalletEvent forwards a wallet connector notification to subscribers of WalletTopic
func (p *WatermillPublisher) PublishWalletEvent(ctx context.Context, evt core.WalletEvent) error {
	return p.publish(ctx, WalletTopic, evt)
}

func (p *WatermillPublisher) publish(ctx context.Context, topic string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
