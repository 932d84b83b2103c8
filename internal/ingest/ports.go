package ingest

import (
	"context"
	"log/slog"

	"github.com/p-buglewicz/photo-lens/internal/takeout"
)

// Repository is the durable batch record store. All updates are atomic
// with respect to concurrent reads, and terminal batches are never
// modified again.
type Repository interface {
	// Create persists a new batch record. Returns ErrDuplicateBatch
	// when the batch ID is already taken.
	Create(ctx context.Context, b *Batch) error
	// Get returns the batch with the given ID, or ErrNotFound.
	Get(ctx context.Context, batchID string) (Batch, error)
	// SetRunning moves a pending batch to running. Running batches are
	// left as-is; terminal batches return ErrBatchTerminal.
	SetRunning(ctx context.Context, batchID string) error
	// IncrementProgress atomically bumps processed_files (and
	// skipped_files when skipped is set) by one.
	IncrementProgress(ctx context.Context, batchID string, skipped bool) error
	// Complete moves the batch to its completed terminal state.
	// totalFiles stays nil when enumeration was truncated early.
	Complete(ctx context.Context, batchID string, totalFiles *int) error
	// Fail moves the batch to its failed terminal state with a
	// human-readable error message.
	Fail(ctx context.Context, batchID string, message string) error
	// ListRecent returns up to limit batches, most recently started
	// first. Pure read.
	ListRecent(ctx context.Context, limit int) ([]Batch, error)
}

// ItemStream is a lazy, finite, non-restartable item sequence. Next
// returns io.EOF at exhaustion; any other error is batch-level fatal.
type ItemStream interface {
	Next(ctx context.Context) (takeout.Item, error)
	Close() error
}

// Source opens the enumeration for one run. An error here (unreadable
// takeout path) fails the batch before any item is processed.
type Source interface {
	Stream(ctx context.Context) (ItemStream, error)
}

// SourceFactory builds a Source for the takeout directory chosen at
// trigger time.
type SourceFactory func(dir string) Source

// NewTakeoutSourceFactory returns a SourceFactory backed by real
// Takeout ZIP archives on disk.
func NewTakeoutSourceFactory(log *slog.Logger) SourceFactory {
	return func(dir string) Source {
		return takeoutSource{src: takeout.NewSource(dir, log)}
	}
}

type takeoutSource struct {
	src *takeout.Source
}

func (s takeoutSource) Stream(ctx context.Context) (ItemStream, error) {
	st, err := s.src.Stream(ctx)
	if err != nil {
		return nil, err
	}
	return st, nil
}
