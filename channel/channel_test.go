package channel

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/layer-3/slashauth/core"
	"github.com/layer-3/slashauth/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const authDomain = "https://auth.slashauth.test"

// document scripts the embedded party: given the login URL query and a posted
// message it returns the messages to deliver back
type document func(q url.Values, posted ports.Message) []ports.InboundMessage

type fakeFrame struct {
	msgs    chan ports.InboundMessage
	query   url.Values
	doc     document
	removed atomic.Bool

	mu     sync.Mutex
	posted []ports.Message
	target []string
}

func (f *fakeFrame) Messages() <-chan ports.InboundMessage { return f.msgs }

func (f *fakeFrame) Post(ctx context.Context, msg ports.Message, targetOrigin string) error {
	f.mu.Lock()
	f.posted = append(f.posted, msg)
	f.target = append(f.target, targetOrigin)
	f.mu.Unlock()

	for _, out := range f.doc(f.query, msg) {
		f.msgs <- out
	}
	return nil
}

func (f *fakeFrame) Remove() error {
	f.removed.Store(true)
	return nil
}

type fakeMounter struct {
	ready []ports.InboundMessage
	doc   document
	frame *fakeFrame
	url   string
}

func (m *fakeMounter) Mount(ctx context.Context, rawURL string) (ports.Frame, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	m.url = rawURL
	m.frame = &fakeFrame{msgs: make(chan ports.InboundMessage, 16), query: u.Query(), doc: m.doc}
	for _, msg := range m.ready {
		m.frame.msgs <- msg
	}
	return m.frame, nil
}

type fakeTokens struct {
	mu  sync.Mutex
	req []core.TokenRequest
}

func (t *fakeTokens) Exchange(ctx context.Context, req core.TokenRequest) (core.TokenResponse, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.req = append(t.req, req)
	return core.TokenResponse{AccessToken: "access", IDToken: "id", ExpiresIn: 3600}, nil
}

func ready() []ports.InboundMessage {
	return []ports.InboundMessage{{Origin: authDomain, Message: ports.Message{Type: TypeReady, ID: "ready-1"}}}
}

func respond(resp func(q url.Values) AuthorizationResponse) document {
	return func(q url.Values, posted ports.Message) []ports.InboundMessage {
		if posted.Type != TypeLogin {
			return nil
		}
		payload, _ := json.Marshal(resp(q))
		return []ports.InboundMessage{{
			Origin:  authDomain,
			Message: ports.Message{Type: TypeAuthorizationResponse, ID: posted.ID, Payload: payload},
		}}
	}
}

func echoState(q url.Values) AuthorizationResponse {
	return AuthorizationResponse{Code: "code-1", State: q.Get("state")}
}

func newChannel(t *testing.T, m ports.FrameMounter, tokens ports.TokenEndpoint, timeout time.Duration) *Channel {
	t.Helper()
	c, err := New(Config{
		AuthDomain:    authDomain,
		ClientID:      "client-1",
		Timeout:       timeout,
		TeardownDelay: 50 * time.Millisecond,
	}, m, tokens)
	require.NoError(t, err)
	return c
}

var loginRequest = Request{
	Address:   "0xAbC0000000000000000000000000000000000001",
	Signature: "0xsig",
	DeviceID:  "device-1",
	Audience:  "api",
	Scope:     "openid",
}

func TestChannel_Login(t *testing.T) {
	m := &fakeMounter{ready: ready(), doc: respond(echoState)}
	tokens := &fakeTokens{}
	c := newChannel(t, m, tokens, time.Second)

	res, err := c.Login(context.Background(), loginRequest)
	require.NoError(t, err)
	assert.Equal(t, "access", res.Tokens.AccessToken)

	q := m.frame.query
	assert.Equal(t, q.Get("nonce"), res.Nonce)
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, "client-1", q.Get("client_id"))

	require.Len(t, m.frame.posted, 1)
	assert.Equal(t, []string{authDomain}, m.frame.target)
	var payload LoginPayload
	require.NoError(t, json.Unmarshal(m.frame.posted[0].Payload, &payload))
	assert.Equal(t, LoginPayload{Address: loginRequest.Address, Signature: "0xsig", DeviceID: "device-1", Method: MethodWallet}, payload)

	require.Len(t, tokens.req, 1)
	exchange := tokens.req[0]
	assert.Equal(t, core.GrantAuthorizationCode, exchange.GrantType)
	assert.Equal(t, "code-1", exchange.Code)
	assert.Equal(t, q.Get("code_challenge"), oauth2.S256ChallengeFromVerifier(exchange.CodeVerifier))

	assert.False(t, m.frame.removed.Load(), "removal is deferred after a response")
	assert.Eventually(t, m.frame.removed.Load, time.Second, 10*time.Millisecond)
}

func TestChannel_Timeout(t *testing.T) {
	m := &fakeMounter{doc: respond(echoState)}
	c := newChannel(t, m, &fakeTokens{}, 2*time.Second)

	start := time.Now()
	_, err := c.Login(context.Background(), loginRequest)
	elapsed := time.Since(start)

	var terr *core.TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "handshake", terr.Op)
	assert.GreaterOrEqual(t, elapsed, 2*time.Second)
	assert.Less(t, elapsed, 2500*time.Millisecond)
	assert.True(t, m.frame.removed.Load(), "the document is removed as soon as the handshake times out")
}

func TestChannel_IgnoresUntrustedOrigin(t *testing.T) {
	m := &fakeMounter{
		ready: []ports.InboundMessage{
			{Origin: "https://evil.test", Message: ports.Message{Type: TypeReady}},
		},
		doc: respond(echoState),
	}
	c := newChannel(t, m, &fakeTokens{}, 200*time.Millisecond)

	_, err := c.Login(context.Background(), loginRequest)
	require.ErrorIs(t, err, core.ErrTimeout)
	assert.Empty(t, m.frame.posted, "nothing is posted before the trusted origin is ready")
	assert.True(t, m.frame.removed.Load())
}

func TestChannel_IgnoresUnknownAndUncorrelatedMessages(t *testing.T) {
	doc := func(q url.Values, posted ports.Message) []ports.InboundMessage {
		stray, _ := json.Marshal(AuthorizationResponse{Code: "stray", State: q.Get("state")})
		good, _ := json.Marshal(echoState(q))
		return []ports.InboundMessage{
			{Origin: authDomain, Message: ports.Message{Type: "slashauth:resize", ID: posted.ID}},
			{Origin: authDomain, Message: ports.Message{Type: TypeAuthorizationResponse, ID: "other", Payload: stray}},
			{Origin: "https://evil.test", Message: ports.Message{Type: TypeAuthorizationResponse, ID: posted.ID, Payload: stray}},
			{Origin: authDomain, Message: ports.Message{Type: TypeAuthorizationResponse, ID: posted.ID, Payload: good}},
		}
	}
	m := &fakeMounter{ready: ready(), doc: doc}
	tokens := &fakeTokens{}
	c := newChannel(t, m, tokens, time.Second)

	_, err := c.Login(context.Background(), loginRequest)
	require.NoError(t, err)
	require.Len(t, tokens.req, 1)
	assert.Equal(t, "code-1", tokens.req[0].Code)
}

func TestChannel_StateMismatch(t *testing.T) {
	m := &fakeMounter{ready: ready(), doc: respond(func(url.Values) AuthorizationResponse {
		return AuthorizationResponse{Code: "code-1", State: "forged"}
	})}
	tokens := &fakeTokens{}
	c := newChannel(t, m, tokens, time.Second)

	_, err := c.Login(context.Background(), loginRequest)
	require.ErrorIs(t, err, core.ErrStateMismatch)
	require.ErrorIs(t, err, core.ErrValidation)
	assert.Empty(t, tokens.req, "no exchange after a state mismatch")
	assert.Eventually(t, m.frame.removed.Load, time.Second, 10*time.Millisecond)
}

func TestChannel_ServerRejection(t *testing.T) {
	m := &fakeMounter{ready: ready(), doc: respond(func(url.Values) AuthorizationResponse {
		return AuthorizationResponse{Error: "invalid_signature", ErrorDescription: "signature does not match"}
	})}
	c := newChannel(t, m, &fakeTokens{}, time.Second)

	_, err := c.Login(context.Background(), loginRequest)
	var aerr *core.AuthenticationError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "invalid_signature", aerr.Code)
	assert.Equal(t, "signature does not match", aerr.Description)
}

func TestNew_InvalidDomain(t *testing.T) {
	_, err := New(Config{AuthDomain: "not a url"}, &fakeMounter{}, &fakeTokens{})
	require.Error(t, err)
}
