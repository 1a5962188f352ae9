package ports

import (
	"context"
	"encoding/json"
)

// Message is the envelope exchanged with the embedded login document
type Message struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// InboundMessage is a message together with the origin it came from
type InboundMessage struct {
	Origin  string
	Message Message
}

// Frame is a mounted cross-origin document
type Frame interface {
	Messages() <-chan InboundMessage
	Post(ctx context.Context, msg Message, targetOrigin string) error
	Remove() error
}

// FrameMounter mounts a document at url
type FrameMounter interface {
	Mount(ctx context.Context, url string) (Frame, error)
}
