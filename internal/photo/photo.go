// Package photo holds the downstream photo-metadata record produced by
// ingestion.
package photo

import (
	"context"
	"time"
)

// Photo is one normalized photo-metadata record. SourceURI is the
// stable dedup key ("zip://<archive>::<member>").
type Photo struct {
	ID          string
	GoogleID    string
	Filename    string
	FileSize    int64
	MimeType    string
	TakenAt     *time.Time
	CreatedAt   time.Time
	RawMetadata map[string]any
	BatchID     string
	SourceURI   string
}

// UpsertOutcome describes what an upsert did with a record.
type UpsertOutcome int

const (
	// OutcomeInserted means a new record was created.
	OutcomeInserted UpsertOutcome = iota
	// OutcomeUpdated means an existing record was overwritten (reprocess mode).
	OutcomeUpdated
	// OutcomeSkipped means an existing record was left untouched.
	OutcomeSkipped
)

// Repository persists photo records keyed by source URI.
type Repository interface {
	// Upsert inserts p, or when a record with the same SourceURI already
	// exists, overwrites it if overwrite is set and skips it otherwise.
	Upsert(ctx context.Context, p *Photo, overwrite bool) (UpsertOutcome, error)
	// CountByBatch returns how many photos belong to the given batch.
	CountByBatch(ctx context.Context, batchID string) (int, error)
}
