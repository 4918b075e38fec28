package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/marketindexer/internal/control"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the checkpoint and row counts of the store",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := mustLoadConfig()
	ctx := context.Background()

	store, _, err := control.OpenStore(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = store.Close()
	}()

	stats, err := store.Stats(ctx)
	if err != nil {
		slog.Error("Failed to read stats", "error", err)
		os.Exit(1)
	}

	checkpoint, updated := fmt.Sprintf("%d (genesis)", cfg.GenesisCheckpoint()), "-"
	if stats.Checkpoint != nil {
		checkpoint = fmt.Sprintf("%d", stats.Checkpoint.LastIndexedBlock)
		updated = stats.Checkpoint.UpdatedAt.Format(time.RFC3339)
	}
	latest := "-"
	if stats.LatestTradeAt != nil {
		latest = stats.LatestTradeAt.Format(time.RFC3339)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "CHECKPOINT\tUPDATED\tTRADES\tMARKETS\tSKIPPED\tLAST TRADE")
	_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
		checkpoint, updated, stats.TradeCount, stats.MarketCount, stats.SkippedCount, latest)
	_ = w.Flush()
}
