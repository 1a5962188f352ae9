package core

// Session is the ephemeral state of one login attempt
type Session struct {
	WalletAddress string
	Nonce         string
	Signature     string
	Step          LoginStep
}

// LoginStep is the active step of the login flow
type LoginStep int

const (
	StepNone LoginStep = iota
	StepActivated
	StepConnectingWallet
	StepWalletConnected
	StepFetchingNonce
	StepNonceReceived
	StepSignNonce
	StepNonceSigned
	StepLoggedIn
	StepCancel
	StepError
)

var stepNames = [...]string{
	StepNone:             "None",
	StepActivated:        "Activated",
	StepConnectingWallet: "ConnectingWallet",
	StepWalletConnected:  "WalletConnected",
	StepFetchingNonce:    "FetchingNonce",
	StepNonceReceived:    "NonceReceived",
	StepSignNonce:        "SignNonce",
	StepNonceSigned:      "NonceSigned",
	StepLoggedIn:         "LoggedIn",
	StepCancel:           "Cancel",
	StepError:            "Error",
}

func (s LoginStep) String() string {
	if s < 0 || int(s) >= len(stepNames) {
		return "Unknown"
	}
	return stepNames[s]
}

// Terminal reports whether the step only leaves through an explicit restart
func (s LoginStep) Terminal() bool {
	return s == StepLoggedIn || s == StepCancel || s == StepError
}
