package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/layer-3/slashauth"
)

var (
	flagLoginTimeout time.Duration
	flagAudience     string
	flagScope        string
	flagIgnoreCache  bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in with the configured wallet and print the account",
	RunE: withAgent(func(ctx context.Context, a *agent) error {
		ctx, cancel := context.WithTimeout(ctx, flagLoginTimeout)
		defer cancel()

		account, err := a.sdk.Login(ctx)
		if err != nil {
			return err
		}
		return printJSON(account)
	}),
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print an access token, refreshing it if needed",
	RunE: withAgent(func(ctx context.Context, a *agent) error {
		entry, err := a.sdk.GetTokenSilently(ctx, slashauth.TokenOptions{
			Audience:    flagAudience,
			Scope:       flagScope,
			IgnoreCache: flagIgnoreCache,
		})
		if err != nil {
			return err
		}
		return printJSON(map[string]any{
			"access_token": entry.AccessToken,
			"expires_at":   entry.ExpiresAt,
			"scope":        entry.Scope,
			"audience":     entry.Audience,
		})
	}),
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear the cached session",
	RunE: withAgent(func(ctx context.Context, a *agent) error {
		a.sdk.Logout(ctx)
		return nil
	}),
}

func init() {
	loginCmd.Flags().DurationVar(&flagLoginTimeout, "timeout", 2*time.Minute, "how long to wait for the login to finish")

	tokenCmd.Flags().StringVar(&flagAudience, "audience", "", "audience of the token, defaults to the client audience")
	tokenCmd.Flags().StringVar(&flagScope, "scope", "", "scope of the token, defaults to the client scope")
	tokenCmd.Flags().BoolVar(&flagIgnoreCache, "ignore-cache", false, "always refresh instead of using a cached token")
}

func withAgent(run func(ctx context.Context, a *agent) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		a, err := buildAgent(ctx, flagConfig)
		if err != nil {
			return err
		}
		defer a.Close()

		a.sdk.Start(ctx)
		return run(ctx, a)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
