package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/flatshare/internal/control"
	"github.com/vietddude/flatshare/internal/core/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List requests waiting in the offline queue",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if cfg.Storage.Driver == config.StorageMemory {
		slog.Warn("Memory storage is not shared between processes, the queue will be empty")
	}

	ctx := context.Background()
	stores, err := control.OpenStores(ctx, control.FromAppConfig(cfg))
	if err != nil {
		slog.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = stores.Close()
	}()

	reqs, err := stores.Queue.List(ctx)
	if err != nil {
		slog.Error("Failed to list queued requests", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "SEQ\tMETHOD\tURL\tATTEMPTS\tQUEUED\tLAST ERROR")
	for _, r := range reqs {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n",
			r.Seq, r.Method, r.URL, r.Attempts, r.EnqueuedAt.Format(time.RFC3339), r.LastError)
	}
	_ = w.Flush()
	fmt.Printf("\n%d pending\n", len(reqs))
}
