// Package cmd provides the recall CLI.
//
// Commands:
//   - serve: HTTP API server over the retrieval engine
//   - ask: one-shot question from the terminal
//   - migrate: apply database migrations and exit
//   - version: build and configuration info
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "recall",
	Short: "recall answers questions over your personal records",
	Long: `recall retrieves relevant personal records (health logs, location
history, notes, calendar entries) and asks a language model to answer
questions grounded in them.

Run "recall serve" to start the HTTP API, or "recall ask" for a
one-shot question from the terminal.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
