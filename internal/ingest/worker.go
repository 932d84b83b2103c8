package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/p-buglewicz/photo-lens/internal/events"
	"github.com/p-buglewicz/photo-lens/internal/photo"
	"github.com/p-buglewicz/photo-lens/internal/takeout"
)

// Options configures one worker run.
type Options struct {
	// Limit bounds how many items are processed before the batch stops
	// early and completes normally. Zero means unbounded.
	Limit int
	// Reprocess overwrites photo records whose source URI already
	// exists instead of skipping them.
	Reprocess bool
}

// Worker drives one batch from pending to a terminal state. Item
// processing is sequential in enumeration order; only one worker may
// run per batch.
//
// Item-level failures (one unreadable photo, one failed upsert) are
// logged and counted, never fatal. Batch-level failures (enumeration
// unavailable, record store unreachable) fail the batch immediately.
type Worker struct {
	batches Repository
	photos  photo.Repository
	broker  *events.Broker
	log     *slog.Logger
}

func NewWorker(batches Repository, photos photo.Repository, broker *events.Broker, log *slog.Logger) *Worker {
	return &Worker{batches: batches, photos: photos, broker: broker, log: log}
}

// Run processes the given source against batchID until exhaustion,
// limit truncation, or a fatal error. The batch record is always left
// in a terminal state when Run returns.
func (w *Worker) Run(ctx context.Context, batchID string, source Source, opts Options) error {
	log := w.log.With("batch_id", batchID)

	if err := w.batches.SetRunning(ctx, batchID); err != nil {
		w.fail(ctx, batchID, fmt.Sprintf("mark batch running: %v", err))
		return err
	}

	stream, err := source.Stream(ctx)
	if err != nil {
		log.Error("source enumeration failed", "error", err)
		w.fail(ctx, batchID, err.Error())
		return err
	}
	defer stream.Close()

	processed := 0
	truncated := false
	for {
		if opts.Limit > 0 && processed >= opts.Limit {
			log.Info("reached item limit, stopping early", "limit", opts.Limit)
			truncated = true
			break
		}

		item, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Error("enumeration aborted", "error", err)
			w.fail(ctx, batchID, err.Error())
			return err
		}

		skipped := w.processItem(ctx, batchID, item, opts.Reprocess, log)
		processed++

		if err := w.batches.IncrementProgress(ctx, batchID, skipped); err != nil {
			log.Error("batch store unreachable", "error", err)
			w.fail(ctx, batchID, fmt.Sprintf("update batch progress: %v", err))
			return err
		}

		// Best-effort: a full or absent subscriber never stalls the run.
		w.broker.Publish(events.FileEvent{
			Type:      events.EventTypeFileProcessed,
			BatchID:   batchID,
			Filename:  item.Filename,
			Processed: processed,
			Timestamp: time.Now().UTC(),
		})
	}

	var total *int
	if !truncated {
		total = &processed
	}
	if err := w.batches.Complete(ctx, batchID, total); err != nil {
		log.Error("failed to complete batch", "error", err)
		return err
	}
	log.Info("batch completed", "processed", processed, "truncated", truncated)
	return nil
}

// processItem persists one photo record. It reports whether the item
// was skipped as already ingested; failures count as processed too.
func (w *Worker) processItem(ctx context.Context, batchID string, item takeout.Item, reprocess bool, log *slog.Logger) bool {
	p := &photo.Photo{
		Filename: item.Filename,
		FileSize: item.FileSize,
		MimeType: item.MimeType,
		TakenAt:  item.TakenAt,
		RawMetadata: map[string]any{
			"exif":   item.Exif,
			"google": item.Sidecar,
		},
		BatchID:   batchID,
		SourceURI: item.SourceURI,
	}

	outcome, err := w.photos.Upsert(ctx, p, reprocess)
	if err != nil {
		log.Warn("failed to persist photo, skipping item", "filename", item.Filename, "error", err)
		return false
	}
	switch outcome {
	case photo.OutcomeSkipped:
		log.Debug("photo already ingested", "filename", item.Filename)
		return true
	case photo.OutcomeUpdated:
		log.Debug("photo reprocessed", "filename", item.Filename)
	default:
		log.Debug("photo ingested", "filename", item.Filename, "taken_at", item.TakenAt)
	}
	return false
}

// fail moves the batch to failed unless it already reached a terminal
// state.
func (w *Worker) fail(ctx context.Context, batchID, message string) {
	if err := w.batches.Fail(ctx, batchID, message); err != nil && !errors.Is(err, ErrBatchTerminal) {
		w.log.Error("failed to record batch failure", "batch_id", batchID, "error", err)
	}
}
