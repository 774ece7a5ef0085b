package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/rsclarke/firmcheck/internal/client"
)

// clientConfig selects remote mode: when an API URL is set, commands talk to
// a firmcheck server instead of running the engine locally.
type clientConfig struct {
	apiKey string
	apiURL string
}

func addClientFlags(cmd *cobra.Command, cfg *clientConfig) {
	cmd.Flags().StringVar(&cfg.apiKey, "api-key", os.Getenv("FIRMCHECK_API_KEY"), "API key for a remote server")
	cmd.Flags().StringVar(&cfg.apiURL, "api-url", os.Getenv("FIRMCHECK_API_URL"), "firmcheck server URL (runs locally when empty)")
}

func (cfg *clientConfig) remote() bool { return cfg.apiURL != "" }

func (cfg *clientConfig) newClient() *client.Client {
	return client.NewClient(cfg.apiURL, cfg.apiKey)
}
