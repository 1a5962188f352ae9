// Package frame mounts the embedded login document over a websocket so the
// handshake runs against the auth domain without sharing the host's state.
package frame

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/layer-3/slashauth/ports"
	"github.com/rs/zerolog"
)

// WebsocketMounter implements ports.FrameMounter
type WebsocketMounter struct {
	hostOrigin string
	httpClient *http.Client
	log        zerolog.Logger
	mounted    atomic.Int64
}

// NewWebsocketMounter creates a mounter announcing hostOrigin as the Origin header
func NewWebsocketMounter(hostOrigin string, httpClient *http.Client, log zerolog.Logger) *WebsocketMounter {
	return &WebsocketMounter{
		hostOrigin: hostOrigin,
		httpClient: httpClient,
		log:        log.With().Str("component", "frame").Logger(),
	}
}

// Mounted returns the number of frames not yet removed
func (m *WebsocketMounter) Mounted() int64 {
	return m.mounted.Load()
}

// Mount dials the login document at rawURL
func (m *WebsocketMounter) Mount(ctx context.Context, rawURL string) (ports.Frame, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid login url: %w", err)
	}
	origin := u.Scheme + "://" + u.Host

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return nil, fmt.Errorf("unsupported login url scheme %q", u.Scheme)
	}

	header := http.Header{}
	if m.hostOrigin != "" {
		header.Set("Origin", m.hostOrigin)
	}

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPClient: m.httpClient,
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to mount login frame: %w", err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	f := &websocketFrame{
		conn:    conn,
		origin:  origin,
		msgs:    make(chan ports.InboundMessage, 8),
		cancel:  cancel,
		mounter: m,
	}
	m.mounted.Add(1)
	go f.readLoop(readCtx)

	return f, nil
}

type websocketFrame struct {
	conn    *websocket.Conn
	origin  string
	msgs    chan ports.InboundMessage
	cancel  context.CancelFunc
	mounter *WebsocketMounter
	once    sync.Once
}

func (f *websocketFrame) readLoop(ctx context.Context) {
	defer close(f.msgs)
	for {
		var msg ports.Message
		if err := wsjson.Read(ctx, f.conn, &msg); err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				f.mounter.log.Debug().Err(err).Str("origin", f.origin).Msg("login frame read ended")
			}
			return
		}
		select {
		case f.msgs <- ports.InboundMessage{Origin: f.origin, Message: msg}:
		case <-ctx.Done():
			return
		}
	}
}

func (f *websocketFrame) Messages() <-chan ports.InboundMessage {
	return f.msgs
}

// Post delivers msg only when targetOrigin is the frame's origin
func (f *websocketFrame) Post(ctx context.Context, msg ports.Message, targetOrigin string) error {
	if targetOrigin != f.origin {
		return fmt.Errorf("target origin %q does not match frame origin %q", targetOrigin, f.origin)
	}
	return wsjson.Write(ctx, f.conn, msg)
}

func (f *websocketFrame) Remove() error {
	f.once.Do(func() {
		f.cancel()
		// cancelling the read may already have closed the connection
		_ = f.conn.Close(websocket.StatusNormalClosure, "bye")
		f.mounter.mounted.Add(-1)
	})
	return nil
}
