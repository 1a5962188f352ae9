// Package login drives the wallet login flow: a pure reducer over login
// steps, a serializing Machine, and a Listener performing the side effects.
package login

import "github.com/layer-3/slashauth/core"

// State is the login session as seen by subscribers
type State struct {
	core.Session

	// Error is set when the flow ends in StepError
	Error string

	// Account is set once the flow reaches StepLoggedIn
	Account *core.Account

	// Attempt numbers the login attempt; every Activate starts a new one
	Attempt uint64
}

// Reduce returns the state after e. It has no side effects; an event that is
// not legal in the current step returns s unchanged. An event tagged with an
// attempt other than the current one is stale and returns s unchanged.
func Reduce(s State, e Event) State {
	if a := attemptOf(e); a != 0 && a != s.Attempt {
		return s
	}

	switch ev := e.(type) {
	case Reset:
		return State{Attempt: s.Attempt}

	case Activate:
		switch s.Step {
		case core.StepNone, core.StepCancel, core.StepError, core.StepLoggedIn:
			return State{Session: core.Session{Step: core.StepActivated}, Attempt: s.Attempt + 1}
		}

	case LoginRequested:
		if s.Step == core.StepActivated {
			s.Step = core.StepConnectingWallet
			return s
		}

	case WalletConnected:
		if s.Step == core.StepConnectingWallet && ev.Address != "" {
			s.Step = core.StepWalletConnected
			s.WalletAddress = ev.Address
			return s
		}

	case NonceRequested:
		if s.Step == core.StepWalletConnected {
			s.Step = core.StepFetchingNonce
			return s
		}

	case NonceReceived:
		if s.Step == core.StepFetchingNonce {
			s.Step = core.StepNonceReceived
			s.Nonce = ev.Nonce
			return s
		}

	case SignRequested:
		if s.Step == core.StepNonceReceived {
			s.Step = core.StepSignNonce
			return s
		}

	case NonceSigned:
		if s.Step == core.StepSignNonce {
			s.Step = core.StepNonceSigned
			s.Signature = ev.Signature
			return s
		}

	case LoginSucceeded:
		if s.Step == core.StepNonceSigned {
			acc := ev.Account
			return State{
				Session: core.Session{Step: core.StepLoggedIn, WalletAddress: s.WalletAddress},
				Account: &acc,
				Attempt: s.Attempt,
			}
		}

	case Cancelled:
		if inFlight(s.Step) {
			return State{Session: core.Session{Step: core.StepCancel}, Attempt: s.Attempt}
		}

	case Failed:
		if inFlight(s.Step) {
			return State{Session: core.Session{Step: core.StepError}, Error: ev.Message, Attempt: s.Attempt}
		}
	}
	return s
}

// inFlight reports whether a login attempt can still be aborted from step
func inFlight(step core.LoginStep) bool {
	return step != core.StepNone && !step.Terminal()
}
