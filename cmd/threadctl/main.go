// Package main provides threadctl, the command-line client for the
// threadpost API server.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const defaultServerURL = "http://localhost:3000"

// globalOptions are the flags shared by every API command.
type globalOptions struct {
	server string
	apiKey string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "threadctl",
		Short:         "threadpost command-line client",
		Long:          "threadctl submits, inspects and cancels reply-chained threads on a threadpost server.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	server := os.Getenv("THREADPOST_SERVER")
	if server == "" {
		server = defaultServerURL
	}
	root.PersistentFlags().StringVar(&opts.server, "server", server, "threadpost server URL (env THREADPOST_SERVER)")
	root.PersistentFlags().StringVar(&opts.apiKey, "api-key", os.Getenv("THREADPOST_API_KEY"), "API key (env THREADPOST_API_KEY)")

	root.AddCommand(
		newPostCmd(opts),
		newScheduleCmd(opts),
		newStatusCmd(opts),
		newListCmd(opts),
		newCancelCmd(opts),
		newHealthCmd(opts),
		newInitEnvCmd(),
		newKeysCmd(),
	)
	return root
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
