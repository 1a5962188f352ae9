package login

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/layer-3/slashauth/core"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	steps []core.LoginStep
}

func (r *recorder) record(prev, next State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, next.Step)
}

func (r *recorder) snapshot() []core.LoginStep {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.LoginStep(nil), r.steps...)
}

type fakeWallet struct {
	address    string
	connectErr error
	signErr    error
}

func (w *fakeWallet) Connect(ctx context.Context) (string, error) {
	return w.address, w.connectErr
}

func (w *fakeWallet) SignMessage(ctx context.Context, address, message string) (string, error) {
	if w.signErr != nil {
		return "", w.signErr
	}
	return "signed:" + message, nil
}

type fakeBackend struct {
	nonceErr    error
	completeErr error

	mu        sync.Mutex
	signature string
}

func (b *fakeBackend) FetchNonce(ctx context.Context, address string) (string, error) {
	if b.nonceErr != nil {
		return "", b.nonceErr
	}
	return "nonce-for-" + address, nil
}

func (b *fakeBackend) CompleteLogin(ctx context.Context, address, signature string) (*core.Account, error) {
	if b.completeErr != nil {
		return nil, b.completeErr
	}
	b.mu.Lock()
	b.signature = signature
	b.mu.Unlock()
	return &core.Account{Address: address, Subject: "user-1"}, nil
}

func runLogin(t *testing.T, wallet *fakeWallet, backend *fakeBackend) (*Machine, *recorder, chan core.Account) {
	t.Helper()
	m := NewMachine(zerolog.Nop())
	rec := &recorder{}
	m.Subscribe(rec.record)

	l := NewListener(m, wallet, backend, backend, zerolog.Nop())
	logins := make(chan core.Account, 1)
	l.OnLogin(func(acc core.Account) { logins <- acc })
	detach := l.Attach(context.Background())
	t.Cleanup(detach)

	m.Dispatch(Activate{})
	m.Dispatch(LoginRequested{})

	require.Eventually(t, func() bool {
		steps := rec.snapshot()
		return len(steps) > 0 && steps[len(steps)-1].Terminal()
	}, 2*time.Second, 5*time.Millisecond)
	return m, rec, logins
}

func TestListener_SuccessSequence(t *testing.T) {
	backend := &fakeBackend{}
	m, rec, logins := runLogin(t, &fakeWallet{address: "0xAA"}, backend)

	assert.Equal(t, []core.LoginStep{
		core.StepActivated,
		core.StepConnectingWallet,
		core.StepWalletConnected,
		core.StepFetchingNonce,
		core.StepNonceReceived,
		core.StepSignNonce,
		core.StepNonceSigned,
		core.StepLoggedIn,
	}, rec.snapshot())

	assert.Equal(t, "signed:nonce-for-0xAA", backend.signature)
	acc := <-logins
	assert.Equal(t, "0xAA", acc.Address)
	assert.Equal(t, "user-1", m.State().Account.Subject)
}

func TestListener_RejectedSignature(t *testing.T) {
	_, rec, logins := runLogin(t, &fakeWallet{address: "0xAA", signErr: core.ErrUserRejected}, &fakeBackend{})

	assert.Equal(t, []core.LoginStep{
		core.StepActivated,
		core.StepConnectingWallet,
		core.StepWalletConnected,
		core.StepFetchingNonce,
		core.StepNonceReceived,
		core.StepSignNonce,
		core.StepCancel,
	}, rec.snapshot())
	assert.Empty(t, logins)
}

func TestListener_NonceFailure(t *testing.T) {
	m, rec, _ := runLogin(t, &fakeWallet{address: "0xAA"}, &fakeBackend{nonceErr: errors.New("nonce endpoint down")})

	steps := rec.snapshot()
	assert.Equal(t, core.StepError, steps[len(steps)-1])
	assert.Equal(t, core.StepFetchingNonce, steps[len(steps)-2])
	assert.Equal(t, "nonce endpoint down", m.State().Error)
}

func TestListener_CompletionFailure(t *testing.T) {
	m, _, _ := runLogin(t, &fakeWallet{address: "0xAA"}, &fakeBackend{completeErr: &core.TimeoutError{Op: "handshake"}})

	assert.Equal(t, core.StepError, m.State().Step)
	assert.Contains(t, m.State().Error, "handshake")
}

func TestListener_ConnectRejected(t *testing.T) {
	m, _, _ := runLogin(t, &fakeWallet{connectErr: core.ErrUserRejected}, &fakeBackend{})
	assert.Equal(t, core.StepCancel, m.State().Step)
}

func TestMachine_RestartAfterTerminal(t *testing.T) {
	m, _, _ := runLogin(t, &fakeWallet{address: "0xAA", signErr: core.ErrUserRejected}, &fakeBackend{})
	require.Equal(t, core.StepCancel, m.State().Step)

	m.Dispatch(Reset{})
	assert.Equal(t, core.StepNone, m.State().Step)
	m.Dispatch(Activate{})
	assert.Equal(t, core.StepActivated, m.State().Step)
}

func TestMachine_QueuesReentrantDispatch(t *testing.T) {
	m := NewMachine(zerolog.Nop())

	var seen [][2]core.LoginStep
	m.Subscribe(func(prev, next State) {
		seen = append(seen, [2]core.LoginStep{prev.Step, next.Step})
		if next.Step == core.StepActivated {
			m.Dispatch(LoginRequested{})
			assert.Equal(t, core.StepActivated, m.State().Step, "nested dispatch is deferred")
		}
	})
	var second []core.LoginStep
	m.Subscribe(func(prev, next State) { second = append(second, next.Step) })

	m.Dispatch(Activate{})

	assert.Equal(t, [][2]core.LoginStep{
		{core.StepNone, core.StepActivated},
		{core.StepActivated, core.StepConnectingWallet},
	}, seen)
	assert.Equal(t, []core.LoginStep{core.StepActivated, core.StepConnectingWallet}, second,
		"every subscriber sees every transition in order")
}

func TestMachine_Unsubscribe(t *testing.T) {
	m := NewMachine(zerolog.Nop())
	calls := 0
	unsubscribe := m.Subscribe(func(prev, next State) { calls++ })

	m.Dispatch(Activate{})
	unsubscribe()
	m.Dispatch(LoginRequested{})

	assert.Equal(t, 1, calls)
}

func TestMachine_IgnoredEventDoesNotNotify(t *testing.T) {
	m := NewMachine(zerolog.Nop())
	calls := 0
	m.Subscribe(func(prev, next State) { calls++ })

	m.Dispatch(NonceSigned{Signature: "x"})
	assert.Zero(t, calls)
}

// gatedWallet holds each signature until the test releases the nonce
type gatedWallet struct {
	gates map[string]chan struct{}
}

func (w *gatedWallet) Connect(ctx context.Context) (string, error) {
	return "0xAA", nil
}

func (w *gatedWallet) SignMessage(ctx context.Context, address, message string) (string, error) {
	<-w.gates[message]
	return "signed:" + message, nil
}

type sequenceBackend struct {
	mu         sync.Mutex
	nonces     []string
	signatures []string
}

func (b *sequenceBackend) FetchNonce(ctx context.Context, address string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.nonces[0]
	b.nonces = b.nonces[1:]
	return n, nil
}

func (b *sequenceBackend) CompleteLogin(ctx context.Context, address, signature string) (*core.Account, error) {
	b.mu.Lock()
	b.signatures = append(b.signatures, signature)
	b.mu.Unlock()
	return &core.Account{Address: address, Subject: "user-1"}, nil
}

func TestListener_RestartDropsStaleSignature(t *testing.T) {
	wallet := &gatedWallet{gates: map[string]chan struct{}{
		"nonce-1": make(chan struct{}),
		"nonce-2": make(chan struct{}),
	}}
	backend := &sequenceBackend{nonces: []string{"nonce-1", "nonce-2"}}

	m := NewMachine(zerolog.Nop())
	detach := NewListener(m, wallet, backend, backend, zerolog.Nop()).Attach(context.Background())
	t.Cleanup(detach)

	signing := func(nonce string) func() bool {
		return func() bool {
			s := m.State()
			return s.Step == core.StepSignNonce && s.Nonce == nonce
		}
	}

	m.Dispatch(Activate{})
	m.Dispatch(LoginRequested{})
	require.Eventually(t, signing("nonce-1"), time.Second, 5*time.Millisecond)

	// abandon the first attempt while its signature is pending
	m.Dispatch(Cancelled{})
	m.Dispatch(Activate{})
	m.Dispatch(LoginRequested{})
	require.Eventually(t, signing("nonce-2"), time.Second, 5*time.Millisecond)

	close(wallet.gates["nonce-1"])
	assert.Never(t, func() bool { return m.State().Step != core.StepSignNonce }, 100*time.Millisecond, 5*time.Millisecond)

	close(wallet.gates["nonce-2"])
	require.Eventually(t, func() bool { return m.State().Step == core.StepLoggedIn }, time.Second, 5*time.Millisecond)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, []string{"signed:nonce-2"}, backend.signatures)
}
