package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/slashauth"
	"github.com/layer-3/slashauth/core"
	"github.com/layer-3/slashauth/login"
	"github.com/layer-3/slashauth/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	tokenErr  error
	loginErr  error
	loggedOut bool
	account   *core.Account
	tokenOpts slashauth.TokenOptions
}

func (f *fakeClient) GetTokenSilently(ctx context.Context, opts slashauth.TokenOptions) (*core.CacheEntry, error) {
	f.tokenOpts = opts
	if f.tokenErr != nil {
		return nil, f.tokenErr
	}
	return &core.CacheEntry{AccessToken: "access", Scope: "openid", ExpiresAt: time.Unix(1700000000, 0)}, nil
}

func (f *fakeClient) CheckSession(ctx context.Context) {}

func (f *fakeClient) Login(ctx context.Context) (*core.Account, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return f.account, nil
}

func (f *fakeClient) Logout(ctx context.Context) { f.loggedOut = true }

func (f *fakeClient) HasRole(ctx context.Context, role string) bool { return role == "admin" }

func (f *fakeClient) RoleMetadata(ctx context.Context, role string) map[string]any {
	if role == "admin" {
		return map[string]any{"level": "full"}
	}
	return nil
}

func (f *fakeClient) AppMetadata(ctx context.Context) map[string]any { return nil }

func (f *fakeClient) Account(ctx context.Context) (*core.Account, error) {
	if f.account == nil {
		return nil, &core.NotLoggedInError{}
	}
	return f.account, nil
}

func (f *fakeClient) IsAuthenticated(ctx context.Context) bool { return f.account != nil }

func (f *fakeClient) LoginState() login.State { return login.State{} }

func (f *fakeClient) Subscribe(fn login.Subscriber) func() { return func() {} }

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(t *testing.T, router http.Handler, method, path, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	body := map[string]any{}
	if rec.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestRouter_Token(t *testing.T) {
	client := &fakeClient{}
	router := SetupRouter(client, RouterOptions{Logger: zerolog.Nop()})

	rec, body := serve(t, router, http.MethodGet, "/token?audience=api&scope=openid&ignore_cache=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "access", body["access_token"])
	assert.Equal(t, slashauth.TokenOptions{Audience: "api", Scope: "openid", IgnoreCache: true}, client.tokenOpts)
}

func TestRouter_TokenErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"not logged in", &core.NotLoggedInError{}, http.StatusUnauthorized},
		{"timeout", &core.TimeoutError{Op: "lock"}, http.StatusGatewayTimeout},
		{"rejected", &core.AuthenticationError{Code: "access_denied"}, http.StatusUnauthorized},
		{"other", assert.AnError, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := SetupRouter(&fakeClient{tokenErr: tt.err}, RouterOptions{Logger: zerolog.Nop()})
			rec, _ := serve(t, router, http.MethodGet, "/token", "")
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestRouter_Login(t *testing.T) {
	client := &fakeClient{account: &core.Account{Address: "0xabc", Subject: "user-1"}}
	router := SetupRouter(client, RouterOptions{Logger: zerolog.Nop()})

	rec, body := serve(t, router, http.MethodPost, "/login", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0xabc", body["account"].(map[string]any)["address"])

	client.loginErr = core.ErrUserRejected
	rec, _ = serve(t, router, http.MethodPost, "/login", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	client.loginErr = core.ErrLoginInProgress
	rec, _ = serve(t, router, http.MethodPost, "/login", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRouter_SessionAndLogout(t *testing.T) {
	client := &fakeClient{account: &core.Account{Address: "0xabc"}}
	router := SetupRouter(client, RouterOptions{Logger: zerolog.Nop()})

	rec, body := serve(t, router, http.MethodGet, "/session", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["authenticated"])
	assert.Equal(t, "None", body["login_step"])

	rec, _ = serve(t, router, http.MethodPost, "/logout", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, client.loggedOut)
}

func TestRouter_Roles(t *testing.T) {
	router := SetupRouter(&fakeClient{}, RouterOptions{Logger: zerolog.Nop()})

	_, body := serve(t, router, http.MethodGet, "/roles/admin", "")
	assert.Equal(t, true, body["has_role"])
	_, body = serve(t, router, http.MethodGet, "/roles/guest", "")
	assert.Equal(t, false, body["has_role"])

	_, body = serve(t, router, http.MethodGet, "/roles/admin/metadata", "")
	assert.Equal(t, map[string]any{"level": "full"}, body["metadata"])
	_, body = serve(t, router, http.MethodGet, "/metadata", "")
	assert.Equal(t, map[string]any{}, body["metadata"])
}

func TestRouter_AgentToken(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.New(reg).CacheLookup(true)
	router := SetupRouter(&fakeClient{}, RouterOptions{AgentToken: "secret", Gatherer: reg, Logger: zerolog.Nop()})

	rec, _ := serve(t, router, http.MethodGet, "/session", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, _ = serve(t, router, http.MethodGet, "/session", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, _ = serve(t, router, http.MethodGet, "/session", "secret")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = serve(t, router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "slashauth_cache_lookups_total")
}
