package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/marketindexer/internal/control"
	"github.com/vietddude/marketindexer/internal/core/checkpoint"
	"github.com/vietddude/marketindexer/internal/infra/storage"
)

var resetCheckpointCmd = &cobra.Command{
	Use:   "reset-checkpoint [block]",
	Short: "Force the checkpoint to a block so the next run re-scans from there",
	Args:  cobra.ExactArgs(1),
	Run:   runResetCheckpoint,
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Truncate all indexed rows and reset the checkpoint to genesis",
	Run:   runReindex,
}

var skippedLimit int

var skippedCmd = &cobra.Command{
	Use:   "skipped",
	Short: "List logs the decoder could not decode",
	Run:   runSkipped,
}

func init() {
	skippedCmd.Flags().IntVar(&skippedLimit, "limit", 50, "maximum number of entries to print")
	rootCmd.AddCommand(resetCheckpointCmd, reindexCmd, skippedCmd)
}

func mustOpenStore(ctx context.Context) storage.Store {
	cfg := mustLoadConfig()
	store, _, err := control.OpenStore(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	return store
}

func runResetCheckpoint(cmd *cobra.Command, args []string) {
	block, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Printf("Invalid block number: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	store := mustOpenStore(ctx)
	defer func() {
		_ = store.Close()
	}()

	if err := checkpoint.NewManager(store, 0).Rewind(ctx, block); err != nil {
		slog.Error("Failed to reset checkpoint", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Checkpoint set to block %d\n", block)
}

func runReindex(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	cfg := mustLoadConfig()
	store, _, err := control.OpenStore(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = store.Close()
	}()

	genesis := cfg.GenesisCheckpoint()
	if err := store.Reset(ctx, genesis); err != nil {
		slog.Error("Failed to reset store", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Store truncated, next run starts at deployment block %d (checkpoint %d)\n",
		cfg.Chain.DeploymentBlock, genesis)
}

func runSkipped(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	store := mustOpenStore(ctx)
	defer func() {
		_ = store.Close()
	}()

	logs, err := store.SkippedLogs(ctx, skippedLimit)
	if err != nil {
		slog.Error("Failed to list skipped logs", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "BLOCK\tLOG\tTX\tEVENT\tREASON\tSKIPPED AT")
	for _, l := range logs {
		_, _ = fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%s\n",
			l.BlockNumber, l.LogIndex, l.TxHash, l.Event, l.Reason, l.SkippedAt.Format(time.RFC3339))
	}
	_ = w.Flush()
}
