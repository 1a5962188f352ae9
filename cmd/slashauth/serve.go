package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httptransport "github.com/layer-3/slashauth/transport/http"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Keep the session alive and serve it over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := buildAgent(ctx, flagConfig)
		if err != nil {
			return err
		}
		defer a.Close()

		a.sdk.Start(ctx)

		router := httptransport.SetupRouter(a.sdk, httptransport.RouterOptions{
			AgentToken: a.cfg.AgentToken,
			Gatherer:   a.registry,
			Logger:     a.log,
		})
		if a.cfg.AgentToken == "" {
			a.log.Warn().Msg("agent token not set, HTTP API is unauthenticated")
		}

		srv := &http.Server{
			Addr:              a.cfg.ListenAddress,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			a.log.Info().Str("address", srv.Addr).Msg("starting agent")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		a.log.Info().Msg("shutting down agent")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}
