package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/slashauth"
	"github.com/layer-3/slashauth/core"
)

// AgentHandlers expose the session core to local processes
type AgentHandlers struct {
	client slashauth.Client
}

// NewAgentHandlers creates new agent handlers
func NewAgentHandlers(client slashauth.Client) *AgentHandlers {
	return &AgentHandlers{client: client}
}

// Session reports whether a session exists and the state of the login flow
func (h *AgentHandlers) Session(c *gin.Context) {
	ctx := c.Request.Context()
	resp := gin.H{
		"authenticated": h.client.IsAuthenticated(ctx),
		"login_step":    h.client.LoginState().Step.String(),
	}
	if acc, err := h.client.Account(ctx); err == nil {
		resp["account"] = acc
	}
	c.JSON(http.StatusOK, resp)
}

// Token returns an access token, refreshing it when needed
func (h *AgentHandlers) Token(c *gin.Context) {
	var req struct {
		Audience    string `form:"audience"`
		Scope       string `form:"scope"`
		IgnoreCache bool   `form:"ignore_cache"`
	}
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	entry, err := h.client.GetTokenSilently(c.Request.Context(), slashauth.TokenOptions{
		Audience:    req.Audience,
		Scope:       req.Scope,
		IgnoreCache: req.IgnoreCache,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": entry.AccessToken,
		"token_type":   "Bearer",
		"expires_at":   entry.ExpiresAt,
		"scope":        entry.Scope,
		"audience":     entry.Audience,
	})
}

// Login runs the wallet login flow
func (h *AgentHandlers) Login(c *gin.Context) {
	acc, err := h.client.Login(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": acc})
}

// Logout ends the session
func (h *AgentHandlers) Logout(c *gin.Context) {
	h.client.Logout(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// HasRole checks role membership of the logged in account
func (h *AgentHandlers) HasRole(c *gin.Context) {
	role := c.Param("role")
	c.JSON(http.StatusOK, gin.H{
		"role":     role,
		"has_role": h.client.HasRole(c.Request.Context(), role),
	})
}

// RoleMetadata returns the metadata attached to a role
func (h *AgentHandlers) RoleMetadata(c *gin.Context) {
	md := h.client.RoleMetadata(c.Request.Context(), c.Param("role"))
	if md == nil {
		md = map[string]any{}
	}
	c.JSON(http.StatusOK, gin.H{"metadata": md})
}

// AppMetadata returns the metadata of the client application
func (h *AgentHandlers) AppMetadata(c *gin.Context) {
	md := h.client.AppMetadata(c.Request.Context())
	if md == nil {
		md = map[string]any{}
	}
	c.JSON(http.StatusOK, gin.H{"metadata": md})
}

// respondError maps session errors to status codes
func respondError(c *gin.Context, err error) {
	var authErr *core.AuthenticationError

	switch {
	case errors.Is(err, core.ErrNotLoggedIn):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not logged in"})
	case errors.As(err, &authErr):
		c.JSON(http.StatusUnauthorized, authErr)
	case errors.Is(err, core.ErrValidation):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token validation failed"})
	case errors.Is(err, core.ErrUserRejected):
		c.JSON(http.StatusForbidden, gin.H{"error": "Request rejected in wallet"})
	case errors.Is(err, core.ErrLoginInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "Login already in progress"})
	case errors.Is(err, core.ErrTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}
