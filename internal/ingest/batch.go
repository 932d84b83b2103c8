// Package ingest drives photo-metadata ingestion batches: the durable
// batch record, the worker that processes a Takeout source, and the
// HTTP/WebSocket surface for triggering and observing runs.
package ingest

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a batch. Transitions are forward
// only: pending -> running -> completed | failed.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are permitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var (
	// ErrNotFound is returned when no batch exists for the given ID.
	ErrNotFound = errors.New("batch not found")
	// ErrDuplicateBatch is returned when creating a batch whose ID is
	// already taken. The original batch is unaffected.
	ErrDuplicateBatch = errors.New("batch id already exists")
	// ErrBatchTerminal is returned when an update would modify a batch
	// that already reached completed or failed.
	ErrBatchTerminal = errors.New("batch already in terminal state")
)

// Batch is the durable record of one ingestion run. It persists
// indefinitely as an audit trail; there is no deletion path.
type Batch struct {
	ID             string
	BatchID        string
	Status         Status
	StartedAt      time.Time
	CompletedAt    *time.Time
	TotalFiles     *int
	ProcessedFiles int
	SkippedFiles   int
	ErrorMessage   string
}

// NewBatch builds a pending batch. When batchID is empty a server-side
// identifier of the form "batch-<uuid>" is generated.
func NewBatch(batchID string) Batch {
	if batchID == "" {
		batchID = fmt.Sprintf("batch-%s", uuid.New())
	}
	return Batch{
		BatchID:   batchID,
		Status:    StatusPending,
		StartedAt: time.Now().UTC(),
	}
}
