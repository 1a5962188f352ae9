package login

import (
	"context"
	"errors"

	"github.com/layer-3/slashauth/core"
	"github.com/layer-3/slashauth/ports"
	"github.com/rs/zerolog"
)

// NonceFetcher issues a login nonce for an address
type NonceFetcher interface {
	FetchNonce(ctx context.Context, address string) (string, error)
}

// Completer turns a signed nonce into an authenticated session
type Completer interface {
	CompleteLogin(ctx context.Context, address, signature string) (*core.Account, error)
}

// Listener performs the I/O the reducer asks for. Each step that needs a
// wallet or network call runs it off the dispatch path and reports the
// result back as an event.
type Listener struct {
	machine   *Machine
	wallet    ports.Wallet
	nonces    NonceFetcher
	completer Completer
	onLogin   func(core.Account)
	log       zerolog.Logger
}

// NewListener creates a listener for machine
func NewListener(machine *Machine, wallet ports.Wallet, nonces NonceFetcher, completer Completer, log zerolog.Logger) *Listener {
	return &Listener{
		machine:   machine,
		wallet:    wallet,
		nonces:    nonces,
		completer: completer,
		log:       log.With().Str("component", "login-listener").Logger(),
	}
}

// OnLogin registers the login-complete callback
func (l *Listener) OnLogin(fn func(core.Account)) {
	l.onLogin = fn
}

// Attach subscribes to the machine; side effects run under ctx. The returned
// function detaches the listener.
func (l *Listener) Attach(ctx context.Context) func() {
	return l.machine.Subscribe(func(prev, next State) {
		if prev.Step == next.Step {
			return
		}
		l.enter(ctx, next)
	})
}

// enter starts the side effect of s.Step. Results are tagged with s.Attempt
// so the reducer drops those that arrive after a restart.
func (l *Listener) enter(ctx context.Context, s State) {
	switch s.Step {
	case core.StepConnectingWallet:
		go l.connect(ctx, s.Attempt)
	case core.StepWalletConnected:
		l.machine.Dispatch(NonceRequested{Attempt: s.Attempt})
	case core.StepFetchingNonce:
		go l.fetchNonce(ctx, s.Attempt, s.WalletAddress)
	case core.StepNonceReceived:
		l.machine.Dispatch(SignRequested{Attempt: s.Attempt})
	case core.StepSignNonce:
		go l.sign(ctx, s.Attempt, s.WalletAddress, s.Nonce)
	case core.StepNonceSigned:
		go l.complete(ctx, s.Attempt, s.WalletAddress, s.Signature)
	case core.StepLoggedIn:
		if l.onLogin != nil && s.Account != nil {
			l.onLogin(*s.Account)
		}
	case core.StepError:
		l.log.Warn().Str("error", s.Error).Msg("login failed")
	}
}

func (l *Listener) connect(ctx context.Context, attempt uint64) {
	address, err := l.wallet.Connect(ctx)
	if err != nil {
		l.fail(attempt, err)
		return
	}
	l.machine.Dispatch(WalletConnected{Attempt: attempt, Address: address})
}

func (l *Listener) fetchNonce(ctx context.Context, attempt uint64, address string) {
	nonce, err := l.nonces.FetchNonce(ctx, address)
	if err != nil {
		l.fail(attempt, err)
		return
	}
	l.machine.Dispatch(NonceReceived{Attempt: attempt, Nonce: nonce})
}

func (l *Listener) sign(ctx context.Context, attempt uint64, address, nonce string) {
	signature, err := l.wallet.SignMessage(ctx, address, nonce)
	if err != nil {
		l.fail(attempt, err)
		return
	}
	l.machine.Dispatch(NonceSigned{Attempt: attempt, Signature: signature})
}

func (l *Listener) complete(ctx context.Context, attempt uint64, address, signature string) {
	account, err := l.completer.CompleteLogin(ctx, address, signature)
	if err != nil {
		l.fail(attempt, err)
		return
	}
	l.machine.Dispatch(LoginSucceeded{Attempt: attempt, Account: *account})
}

// fail maps a wallet rejection to Cancel and everything else to Error
func (l *Listener) fail(attempt uint64, err error) {
	if errors.Is(err, core.ErrUserRejected) {
		l.machine.Dispatch(Cancelled{Attempt: attempt})
		return
	}
	l.machine.Dispatch(Failed{Attempt: attempt, Message: err.Error()})
}
