package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/layer-3/slashauth/core"
	"github.com/rs/zerolog"
)

// WalletSubscriber implements ports.WalletEventSource on top of a Watermill subscriber
type WalletSubscriber struct {
	subscriber message.Subscriber
	log        zerolog.Logger
}

// NewWalletSubscriber creates a wallet event source reading WalletTopic
func NewWalletSubscriber(subscriber message.Subscriber, log zerolog.Logger) *WalletSubscriber {
	return &WalletSubscriber{
		subscriber: subscriber,
		log:        log.With().Str("component", "wallet-events").Logger(),
	}
}

// WalletEvents decodes WalletTopic messages until ctx is done
func (s *WalletSubscriber) WalletEvents(ctx context.Context) (<-chan core.WalletEvent, error) {
	msgs, err := s.subscriber.Subscribe(ctx, WalletTopic)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", WalletTopic, err)
	}

	out := make(chan core.WalletEvent)
	go func() {
		defer close(out)
		for msg := range msgs {
			var evt core.WalletEvent
			if err := json.Unmarshal(msg.Payload, &evt); err != nil {
				s.log.Warn().Err(err).Str("message_id", msg.UUID).Msg("dropping malformed wallet event")
				msg.Ack()
				continue
			}
			select {
			case out <- evt:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}
