// Command worker runs a single ingestion batch to completion without
// the HTTP server, for operator-driven and bounded demo runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/p-buglewicz/photo-lens/internal/config"
	"github.com/p-buglewicz/photo-lens/internal/events"
	"github.com/p-buglewicz/photo-lens/internal/ingest"
	"github.com/p-buglewicz/photo-lens/internal/photo"
)

func main() {
	cfg := config.Load()

	var (
		takeoutDir = flag.String("takeout", cfg.TakeoutPath, "Directory containing Google Takeout ZIP files")
		limit      = flag.Int("limit", 0, "Maximum number of images to process (0 = unbounded)")
		reprocess  = flag.Bool("reprocess", false, "Overwrite existing records for matching source URIs")
		batchID    = flag.String("batch-id", "", "Batch identifier (generated when empty)")
	)
	flag.Parse()

	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() {
		_ = cleanup()
	}()
	slog.SetDefault(logger)

	if *takeoutDir == "" {
		fmt.Fprintln(os.Stderr, "takeout path not configured: pass --takeout or set TAKEOUT_PATH")
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Error("failed to create db pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	batchRepo := ingest.NewPostgresRepo(pool)
	photoRepo := photo.NewPostgresRepo(pool)
	worker := ingest.NewWorker(batchRepo, photoRepo, events.NewBroker(), logger)

	b := ingest.NewBatch(*batchID)
	if err := batchRepo.Create(ctx, &b); err != nil {
		logger.Error("failed to create batch record", "error", err)
		os.Exit(1)
	}

	source := ingest.NewTakeoutSourceFactory(logger)(*takeoutDir)

	runErr := worker.Run(ctx, b.BatchID, source, ingest.Options{
		Limit:     *limit,
		Reprocess: *reprocess,
	})

	final, err := batchRepo.Get(ctx, b.BatchID)
	if err != nil {
		logger.Error("failed to read final batch state", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Batch %s finished with status %s: %d processed, %d skipped\n",
		final.BatchID, final.Status, final.ProcessedFiles, final.SkippedFiles)
	if runErr != nil {
		os.Exit(1)
	}
}
