package cli

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/marketindexer/internal/control"
)

var runOnceCmd = &cobra.Command{
	Use:   "run-once",
	Short: "Execute a single ingestion run and print its summary",
	Run:   runRunOnce,
}

func init() {
	rootCmd.AddCommand(runOnceCmd)
}

func runRunOnce(cmd *cobra.Command, args []string) {
	cfg := mustLoadConfig()
	ctx := context.Background()

	app, err := control.NewApp(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize indexer", "error", err)
		os.Exit(1)
	}

	summary, runErr := app.RunOnce(ctx)
	if err := app.Close(); err != nil {
		slog.Warn("Failed to close connections", "error", err)
	}
	if summary != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(summary)
	}
	if runErr != nil {
		slog.Error("Run failed", "error", runErr)
		os.Exit(1)
	}
}
