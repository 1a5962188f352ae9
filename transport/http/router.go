// Package http serves the local agent API of the session core.
package http

import (
	"github.com/gin-gonic/gin"
	"github.com/layer-3/slashauth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RouterOptions configure the agent router
type RouterOptions struct {
	// AgentToken protects every route but /metrics when set
	AgentToken string

	// Gatherer serves /metrics when set
	Gatherer prometheus.Gatherer

	Logger zerolog.Logger
}

// SetupRouter sets up the Gin router
func SetupRouter(client slashauth.Client, opts RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(opts.Logger.With().Str("component", "http").Logger()))

	// Create handlers
	handlers := NewAgentHandlers(client)

	if opts.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/")
	api.Use(AgentAuthMiddleware(opts.AgentToken))
	{
		api.GET("/session", handlers.Session)
		api.GET("/token", handlers.Token)
		api.POST("/login", handlers.Login)
		api.POST("/logout", handlers.Logout)
		api.GET("/roles/:role", handlers.HasRole)
		api.GET("/roles/:role/metadata", handlers.RoleMetadata)
		api.GET("/metadata", handlers.AppMetadata)
	}

	return router
}
