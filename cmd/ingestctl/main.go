// Command ingestctl triggers an ingestion batch and tracks it live,
// combining status polling with the WebSocket progress feed.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/p-buglewicz/photo-lens/internal/client"
)

func main() {
	var (
		server    = flag.String("server", "http://localhost:8080", "photo-lens server base URL")
		limit     = flag.Int("limit", 0, "Maximum number of images to process (0 = unbounded)")
		reprocess = flag.Bool("reprocess", false, "Overwrite already-ingested photos")
		poll      = flag.Duration("poll", 2*time.Second, "Status poll interval")
		timeout   = flag.Duration("timeout", 0, "Give up after this long (0 = wait forever)")
		verbose   = flag.Bool("v", false, "Print every processed file")
	)
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx := context.Background()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	ctl := client.New(*server, logger, client.Options{
		Limit:        *limit,
		Reprocess:    *reprocess,
		PollInterval: *poll,
		OnEvent: func(ev client.ProgressEvent) {
			if *verbose {
				fmt.Printf("  %s (%d)\n", ev.Filename, ev.Processed)
			}
		},
		OnStatus: func(st client.BatchStatus) {
			total := "?"
			if st.TotalFiles != nil {
				total = fmt.Sprintf("%d", *st.TotalFiles)
			}
			fmt.Printf("batch %s: %s, %d/%s processed (%d skipped)\n",
				st.BatchID, st.Status, st.ProcessedFiles, total, st.SkippedFiles)
		},
	})

	final, err := ctl.Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ingestion failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Batch %s completed: %d files processed, %d skipped\n",
		final.BatchID, final.ProcessedFiles, final.SkippedFiles)
}
