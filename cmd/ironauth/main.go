package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ironauth",
		Short:   "Run and operate an IronAuth server",
		Version: version,
		Long: `ironauth serves the IronAuth routes over HTTP.

Secrets are read from the environment:

  IRON_AUTH_IRON_PASSWORD        seals session cookies (32+ characters)
  IRON_AUTH_ENCRYPTION_SECRET    encrypts stored account data
  IRON_AUTH_CSRF_SECRET          signs CSRF tokens
  IRON_AUTH_URL                  public URL of the application`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		serveCmd(),
		secretCmd(),
	)
	return cmd
}
