package login

import "github.com/layer-3/slashauth/core"

// Event drives the login reducer. The set of events is closed.
//
// Events reporting a side-effect result carry the Attempt they belong to.
// Zero addresses whatever attempt is current.
type Event interface {
	isEvent()
}

// Activate starts a new session from None or a terminal step
type Activate struct{}

// Reset discards the session and returns to None
type Reset struct{}

// LoginRequested is the external "log in" signal
type LoginRequested struct{}

// WalletConnected reports the address the wallet exposes
type WalletConnected struct {
	Attempt uint64
	Address string
}

// NonceRequested marks the start of the nonce fetch
type NonceRequested struct {
	Attempt uint64
}

// NonceReceived carries the nonce issued for the address
type NonceReceived struct {
	Attempt uint64
	Nonce   string
}

// SignRequested marks the signature prompt
type SignRequested struct {
	Attempt uint64
}

// NonceSigned carries the wallet signature over the nonce
type NonceSigned struct {
	Attempt   uint64
	Signature string
}

// LoginSucceeded carries the account established by the session channel
type LoginSucceeded struct {
	Attempt uint64
	Account core.Account
}

// Cancelled is a user abort, including a rejected signature
type Cancelled struct {
	Attempt uint64
}

// Failed routes a side-effect failure into the Error step
type Failed struct {
	Attempt uint64
	Message string
}

func (Activate) isEvent()        {}
func (Reset) isEvent()           {}
func (LoginRequested) isEvent()  {}
func (WalletConnected) isEvent() {}
func (NonceRequested) isEvent()  {}
func (NonceReceived) isEvent()   {}
func (SignRequested) isEvent()   {}
func (NonceSigned) isEvent()     {}
func (LoginSucceeded) isEvent()  {}
func (Cancelled) isEvent()       {}
func (Failed) isEvent()          {}

func attemptOf(e Event) uint64 {
	switch ev := e.(type) {
	case WalletConnected:
		return ev.Attempt
	case NonceRequested:
		return ev.Attempt
	case NonceReceived:
		return ev.Attempt
	case SignRequested:
		return ev.Attempt
	case NonceSigned:
		return ev.Attempt
	case LoginSucceeded:
		return ev.Attempt
	case Cancelled:
		return ev.Attempt
	case Failed:
		return ev.Attempt
	}
	return 0
}
