// Package channel runs the wallet login handshake with the embedded auth
// document and exchanges the resulting authorization code for tokens.
package channel

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/slashauth/core"
	"github.com/layer-3/slashauth/metrics"
	"github.com/layer-3/slashauth/ports"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const (
	DefaultTimeout       = 60 * time.Second
	DefaultTeardownDelay = 500 * time.Millisecond
	DefaultLoginPath     = "/login/wallet"
)

// Config describes the auth domain and the client performing the login
type Config struct {
	// AuthDomain is the URL of the auth server; its origin is the only one trusted
	AuthDomain  string
	LoginPath   string
	ClientID    string
	RedirectURI string

	// Timeout bounds the whole handshake
	Timeout time.Duration
	// TeardownDelay defers removal of the document after a response
	TeardownDelay time.Duration
}

// Request is one wallet login attempt
type Request struct {
	Address   string
	Signature string
	DeviceID  string
	Audience  string
	Scope     string
}

// Result is the exchanged token response with the nonce the id token must carry
type Result struct {
	Tokens   core.TokenResponse
	Nonce    string
	Audience string
	Scope    string
}

// Channel performs login handshakes
type Channel struct {
	cfg     Config
	origin  string
	mounter ports.FrameMounter
	tokens  ports.TokenEndpoint
	log     zerolog.Logger
	metrics *metrics.Collector
}

// Option configures a Channel
type Option func(*Channel)

// WithLogger sets the logger
func WithLogger(log zerolog.Logger) Option {
	return func(c *Channel) { c.log = log.With().Str("component", "channel").Logger() }
}

// WithMetrics records handshake outcomes
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Channel) { c.metrics = m }
}

// New creates a channel to cfg.AuthDomain
func New(cfg Config, mounter ports.FrameMounter, tokens ports.TokenEndpoint, opts ...Option) (*Channel, error) {
	u, err := url.Parse(cfg.AuthDomain)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid auth domain %q", cfg.AuthDomain)
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = DefaultLoginPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.TeardownDelay < 0 {
		cfg.TeardownDelay = 0
	}

	c := &Channel{
		cfg:     cfg,
		origin:  u.Scheme + "://" + u.Host,
		mounter: mounter,
		tokens:  tokens,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Origin returns the only origin messages are accepted from
func (c *Channel) Origin() string {
	return c.origin
}

// handshake holds the secrets generated for one login attempt
type handshake struct {
	verifier string
	state    string
	nonce    string
}

func newHandshake() (handshake, error) {
	state, err := randomString()
	if err != nil {
		return handshake{}, err
	}
	nonce, err := randomString()
	if err != nil {
		return handshake{}, err
	}
	return handshake{
		verifier: oauth2.GenerateVerifier(),
		state:    state,
		nonce:    nonce,
	}, nil
}

// Login completes a wallet login and returns the exchanged tokens
func (c *Channel) Login(ctx context.Context, req Request) (*Result, error) {
	hs, err := newHandshake()
	if err != nil {
		return nil, fmt.Errorf("failed to generate handshake secrets: %w", err)
	}

	start := time.Now()
	resp, err := c.run(ctx, hs, req)
	if err != nil {
		c.metrics.Handshake(outcome(err), time.Since(start))
		return nil, err
	}

	if resp.Error != "" {
		c.metrics.Handshake("rejected", time.Since(start))
		return nil, &core.AuthenticationError{Code: resp.Error, Description: resp.ErrorDescription}
	}
	if resp.State != hs.state {
		c.metrics.Handshake("state_mismatch", time.Since(start))
		return nil, &core.ValidationError{Reason: "authorization state mismatch", Err: core.ErrStateMismatch}
	}
	c.metrics.Handshake("ok", time.Since(start))

	tokens, err := c.tokens.Exchange(ctx, core.TokenRequest{
		GrantType:    core.GrantAuthorizationCode,
		Code:         resp.Code,
		CodeVerifier: hs.verifier,
		ClientID:     c.cfg.ClientID,
		RedirectURI:  c.cfg.RedirectURI,
		Scope:        req.Scope,
		Audience:     req.Audience,
	})
	if err != nil {
		return nil, fmt.Errorf("code exchange failed: %w", err)
	}

	return &Result{
		Tokens:   tokens,
		Nonce:    hs.nonce,
		Audience: req.Audience,
		Scope:    req.Scope,
	}, nil
}

// loginURL builds the URL of the embedded login document
func (c *Channel) loginURL(hs handshake, req Request) string {
	q := url.Values{}
	q.Set("client_id", c.cfg.ClientID)
	q.Set("response_type", "code")
	q.Set("response_mode", "web_message")
	q.Set("state", hs.state)
	q.Set("nonce", hs.nonce)
	q.Set("code_challenge", oauth2.S256ChallengeFromVerifier(hs.verifier))
	q.Set("code_challenge_method", "S256")
	if c.cfg.RedirectURI != "" {
		q.Set("redirect_uri", c.cfg.RedirectURI)
	}
	if req.Audience != "" {
		q.Set("audience", req.Audience)
	}
	if req.Scope != "" {
		q.Set("scope", req.Scope)
	}
	return c.origin + "/" + strings.TrimLeft(c.cfg.LoginPath, "/") + "?" + q.Encode()
}

// run mounts the document and waits for the authorization response. The
// document is always removed: at once on failure, after TeardownDelay otherwise.
func (c *Channel) run(ctx context.Context, hs handshake, req Request) (*AuthorizationResponse, error) {
	hctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	frame, err := c.mounter.Mount(hctx, c.loginURL(hs, req))
	if err != nil {
		if errors.Is(hctx.Err(), context.DeadlineExceeded) {
			return nil, &core.TimeoutError{Op: "handshake"}
		}
		return nil, fmt.Errorf("failed to mount login document: %w", err)
	}

	resp, err := c.await(hctx, frame, req)
	if err != nil {
		c.remove(frame)
		return nil, err
	}

	if c.cfg.TeardownDelay == 0 {
		c.remove(frame)
	} else {
		time.AfterFunc(c.cfg.TeardownDelay, func() { c.remove(frame) })
	}
	return resp, nil
}

func (c *Channel) await(ctx context.Context, frame ports.Frame, req Request) (*AuthorizationResponse, error) {
	loginID := uuid.NewString()
	sent := false

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, &core.TimeoutError{Op: "handshake"}
			}
			return nil, ctx.Err()

		case in, ok := <-frame.Messages():
			if !ok {
				return nil, errors.New("login document closed before responding")
			}
			if in.Origin != c.origin {
				c.log.Warn().Str("origin", in.Origin).Msg("dropping message from untrusted origin")
				continue
			}

			switch in.Message.Type {
			case TypeReady:
				if sent {
					continue
				}
				if err := c.postLogin(ctx, frame, loginID, req); err != nil {
					return nil, err
				}
				sent = true

			case TypeAuthorizationResponse:
				if !sent || in.Message.ID != loginID {
					c.log.Debug().Str("id", in.Message.ID).Msg("ignoring uncorrelated response")
					continue
				}
				var resp AuthorizationResponse
				if err := json.Unmarshal(in.Message.Payload, &resp); err != nil {
					return nil, &core.ValidationError{Reason: "malformed authorization response", Err: err}
				}
				return &resp, nil

			default:
				c.log.Debug().Str("type", in.Message.Type).Msg("ignoring unknown message type")
			}
		}
	}
}

func (c *Channel) postLogin(ctx context.Context, frame ports.Frame, id string, req Request) error {
	payload, err := json.Marshal(LoginPayload{
		Address:   req.Address,
		Signature: req.Signature,
		DeviceID:  req.DeviceID,
		Method:    MethodWallet,
	})
	if err != nil {
		return fmt.Errorf("failed to encode login payload: %w", err)
	}

	msg := ports.Message{Type: TypeLogin, ID: id, Payload: payload}
	if err := frame.Post(ctx, msg, c.origin); err != nil {
		return fmt.Errorf("failed to post login payload: %w", err)
	}
	return nil
}

func (c *Channel) remove(frame ports.Frame) {
	if err := frame.Remove(); err != nil {
		c.log.Warn().Err(err).Msg("failed to remove login document")
	}
}

func outcome(err error) string {
	if errors.Is(err, core.ErrTimeout) {
		return "timeout"
	}
	return "error"
}

func randomString() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
