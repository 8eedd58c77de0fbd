// Command consent-manager runs the consent manager: the HTTP API and Gateway
// callbacks, the notification dispatcher and the expiry scheduler.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "consent-manager",
		Short:        "Patient consent manager between HIPs, HIUs and the Gateway",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
