package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	apiKey    string
	token     string
	timeout   time.Duration
	noColor   bool
)

var rootCmd = &cobra.Command{
	Use:   "docqa",
	Short: "Grounded question answering over your documents",
	Long: `docqa answers questions from a corpus of uploaded documents. Answers are
generated only from retrieved passages and cite them as [DOCUMENT n].

Example usage:
  docqa serve                                # Start the HTTP and gRPC servers
  docqa ingest resume.txt                    # Upload a plain-text document
  docqa ask "Where did the candidate intern?"
  docqa documents list
  docqa cache stats                          # Requires ADMIN_API_KEY or a token`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("DOCQA_SERVER", "http://localhost:8080"), "docqa server URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("ADMIN_API_KEY"), "admin API key")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("DOCQA_TOKEN"), "admin bearer token")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "request timeout")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newClient() *Client {
	return NewClient(serverURL, apiKey, token, timeout)
}
