package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/flatshare/internal/client"
)

var healthCmd = &cobra.Command{
	Use:   "health [endpoint...]",
	Short: "Check the API health endpoints in order",
	Long:  "Tries each endpoint (or api.health_paths) in order and reports the first healthy one. grpc:// targets use the gRPC health service.",
	Run:   runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	candidates := args
	if len(candidates) == 0 {
		candidates = cfg.API.HealthPaths
	}

	c := client.New(nil, nil,
		client.WithBaseURL(cfg.API.BaseURL),
		client.WithTimeout(cfg.API.Timeout),
	)
	res, err := c.CheckHealth(context.Background(), candidates)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unhealthy: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("healthy: %s (status %d, %s, %d tried)\n", res.Endpoint, res.StatusCode, res.Latency, res.Tried)
}
