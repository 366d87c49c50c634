package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "botfleet",
	Short: "botfleet supervises a fleet of chat-bot sessions",
	Long: `botfleet is a multi-tenant chat-bot session supervisor. It logs a
fleet of bot accounts into a chat platform (Discord or Telegram), keeps
their sessions alive, dispatches inbound messages to built-in and
operator-defined commands, and exposes an HTTP control-plane for
lifecycle operations, broadcast, and stats.`,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// Add subcommands here
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
