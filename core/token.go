package core

// GrantType selects the token endpoint flow
type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantRefreshToken      GrantType = "refresh_token"
)

// TokenRequest is sent to the token endpoint
type TokenRequest struct {
	GrantType    GrantType `json:"grant_type"`
	Code         string    `json:"code,omitempty"`
	CodeVerifier string    `json:"code_verifier,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ClientID     string    `json:"client_id"`
	RedirectURI  string    `json:"redirect_uri,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	Audience     string    `json:"audience,omitempty"`
}

// TokenResponse is the raw token endpoint response
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
}

// NonceRequest asks the auth server for a login nonce
type NonceRequest struct {
	Address  string `json:"address"`
	DeviceID string `json:"device_id"`
	ClientID string `json:"client_id"`
}

// RoleRequest queries role membership or role metadata
type RoleRequest struct {
	ClientID    string `json:"client_id"`
	Role        string `json:"role,omitempty"`
	AccessToken string `json:"-"`
}
