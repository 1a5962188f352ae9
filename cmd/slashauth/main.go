package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagConfig string

	rootCmd = &cobra.Command{
		Use:   "slashauth",
		Short: "slashauth keeps a wallet-authenticated session and serves its tokens",
		Long: `slashauth logs in with a wallet signature, caches and silently refreshes the
resulting tokens, and logs out as soon as the wallet switches to another account.
Run "slashauth serve" to expose the session to local processes over HTTP.`,
		SilenceUsage: true,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "slashauth.hcl", "path to the HCL configuration file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(logoutCmd)
}
