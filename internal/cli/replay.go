package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/flatshare/internal/cache"
	"github.com/vietddude/flatshare/internal/client"
	"github.com/vietddude/flatshare/internal/control"
	"github.com/vietddude/flatshare/internal/queue"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay the offline queue once and exit",
	Run:   runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx := context.Background()

	stores, err := control.OpenStores(ctx, control.FromAppConfig(cfg))
	if err != nil {
		slog.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = stores.Close()
	}()

	q, err := queue.New(ctx, stores.Queue)
	if err != nil {
		slog.Error("Failed to open queue", "error", err)
		os.Exit(1)
	}

	opts := []client.Option{
		client.WithBaseURL(cfg.API.BaseURL),
		client.WithTimeout(cfg.API.Timeout),
		client.WithMaxReplayAttempts(cfg.Queue.MaxReplayAttempts),
	}
	if cfg.API.Token != "" {
		opts = append(opts, client.WithTokenSource(client.StaticToken(cfg.API.Token)))
	}
	c := client.New(q, cache.New(cache.WithRepository(stores.Cache)), opts...)

	n, err := c.RetryOfflineRequests(ctx)
	if err != nil {
		slog.Error("Replay failed", "error", err)
		os.Exit(1)
	}
	fmt.Printf("replayed %d, %d remaining\n", n, q.Size())
}
