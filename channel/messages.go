package channel

// Message types exchanged with the embedded login document
const (
	TypeReady                 = "slashauth:ready"
	TypeLogin                 = "slashauth:login"
	TypeAuthorizationResponse = "slashauth:authorization_response"
)

// MethodWallet tags a wallet-signature login payload
const MethodWallet = "wallet"

// LoginPayload is posted to the document once it announces readiness
type LoginPayload struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
	DeviceID  string `json:"device_id"`
	Method    string `json:"method"`
}

// AuthorizationResponse carries either a code and state echo or an error
type AuthorizationResponse struct {
	Code             string `json:"code,omitempty"`
	State            string `json:"state,omitempty"`
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}
