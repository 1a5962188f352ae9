// Package authapi talks to the slashauth HTTP endpoints: token exchange,
// login nonces, role checks and metadata.
package authapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/layer-3/slashauth/core"
	"golang.org/x/oauth2"
)

const (
	tokenPath    = "/oauth/token"
	noncePath    = "/p/login/nonce"
	hasRolePath  = "/p/roles/has_role"
	metadataPath = "/p/roles/metadata"
)

// Client implements ports.TokenEndpoint, ports.NonceAPI and ports.AccountAPI
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an API client for the auth domain at baseURL
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (c *Client) oauthConfig(req core.TokenRequest) *oauth2.Config {
	return &oauth2.Config{
		ClientID:    req.ClientID,
		RedirectURL: req.RedirectURI,
		Scopes:      strings.Fields(req.Scope),
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.baseURL + tokenPath,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// Exchange performs an authorization_code or refresh_token grant
func (c *Client) Exchange(ctx context.Context, req core.TokenRequest) (core.TokenResponse, error) {
	switch req.GrantType {
	case core.GrantAuthorizationCode:
		return c.exchangeCode(ctx, req)
	case core.GrantRefreshToken:
		return c.refresh(ctx, req)
	default:
		return core.TokenResponse{}, fmt.Errorf("unsupported grant type %q", req.GrantType)
	}
}

func (c *Client) exchangeCode(ctx context.Context, req core.TokenRequest) (core.TokenResponse, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	opts := []oauth2.AuthCodeOption{oauth2.VerifierOption(req.CodeVerifier)}
	if req.Audience != "" {
		opts = append(opts, oauth2.SetAuthURLParam("audience", req.Audience))
	}
	tok, err := c.oauthConfig(req).Exchange(ctx, req.Code, opts...)
	if err != nil {
		return core.TokenResponse{}, translateOAuthError(err)
	}
	return tokenResponse(tok), nil
}

// refresh posts the refresh_token grant itself; an oauth2 TokenSource would
// drop the audience and scope of the cache key.
func (c *Client) refresh(ctx context.Context, req core.TokenRequest) (core.TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", string(core.GrantRefreshToken))
	form.Set("refresh_token", req.RefreshToken)
	form.Set("client_id", req.ClientID)
	if req.Scope != "" {
		form.Set("scope", req.Scope)
	}
	if req.Audience != "" {
		form.Set("audience", req.Audience)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return core.TokenResponse{}, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out core.TokenResponse
	if err := c.do(httpReq, tokenPath, &out); err != nil {
		return core.TokenResponse{}, err
	}
	if out.AccessToken == "" {
		return core.TokenResponse{}, errors.New("token endpoint returned no access_token")
	}
	return out, nil
}

func tokenResponse(tok *oauth2.Token) core.TokenResponse {
	resp := core.TokenResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if id, ok := tok.Extra("id_token").(string); ok {
		resp.IDToken = id
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		resp.Scope = scope
	}
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		resp.ExpiresIn = int64(v)
	case string:
		resp.ExpiresIn, _ = strconv.ParseInt(v, 10, 64)
	}
	if resp.ExpiresIn == 0 && !tok.Expiry.IsZero() {
		resp.ExpiresIn = int64(time.Until(tok.Expiry).Round(time.Second).Seconds())
	}
	return resp
}

func translateOAuthError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		authErr := &core.AuthenticationError{Code: re.ErrorCode, Description: re.ErrorDescription}
		if authErr.Code == "" {
			authErr.Code = strconv.Itoa(re.Response.StatusCode)
		}
		return authErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &core.TimeoutError{Op: "token request"}
	}
	return fmt.Errorf("token request failed: %w", err)
}

// FetchNonce requests a login nonce for a wallet address
func (c *Client) FetchNonce(ctx context.Context, req core.NonceRequest) (string, error) {
	q := url.Values{}
	q.Set("address", req.Address)
	q.Set("device_id", req.DeviceID)
	q.Set("client_id", req.ClientID)

	var out struct {
		Nonce string `json:"nonce"`
	}
	if err := c.getJSON(ctx, noncePath, q, "", &out); err != nil {
		return "", err
	}
	if out.Nonce == "" {
		return "", errors.New("nonce endpoint returned an empty nonce")
	}
	return out.Nonce, nil
}

// HasRole asks whether the logged in account holds role
func (c *Client) HasRole(ctx context.Context, req core.RoleRequest) (bool, error) {
	q := url.Values{}
	q.Set("client_id", req.ClientID)
	q.Set("role", req.Role)

	var out struct {
		HasRole bool `json:"hasRole"`
	}
	if err := c.getJSON(ctx, hasRolePath, q, req.AccessToken, &out); err != nil {
		return false, err
	}
	return out.HasRole, nil
}

// Metadata fetches role metadata, or app metadata when req.Role is empty
func (c *Client) Metadata(ctx context.Context, req core.RoleRequest) (map[string]any, error) {
	q := url.Values{}
	q.Set("client_id", req.ClientID)
	if req.Role != "" {
		q.Set("role", req.Role)
	}

	var out struct {
		Metadata map[string]any `json:"metadata"`
	}
	if err := c.getJSON(ctx, metadataPath, q, req.AccessToken, &out); err != nil {
		return nil, err
	}
	return out.Metadata, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, bearer string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+bearer)
	}
	return c.do(httpReq, path, out)
}

// do sends httpReq and decodes a JSON body into out. Error responses become
// *core.AuthenticationError.
func (c *Client) do(httpReq *http.Request, path string, out any) error {
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &core.TimeoutError{Op: path}
		}
		return fmt.Errorf("request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", path, err)
	}

	if resp.StatusCode >= 400 {
		authErr := &core.AuthenticationError{}
		if json.Unmarshal(body, authErr) != nil || authErr.Code == "" {
			authErr.Code = strconv.Itoa(resp.StatusCode)
		}
		return authErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
