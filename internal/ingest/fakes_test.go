package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/p-buglewicz/photo-lens/internal/photo"
	"github.com/p-buglewicz/photo-lens/internal/takeout"
)

// memBatchRepo is an in-memory Repository with the same transition
// semantics as the Postgres implementation.
type memBatchRepo struct {
	mu      sync.Mutex
	batches map[string]*Batch
	// incrementErr simulates the record store becoming unreachable
	// mid-run.
	incrementErr error
}

func newMemBatchRepo() *memBatchRepo {
	return &memBatchRepo{batches: make(map[string]*Batch)}
}

func (r *memBatchRepo) Create(_ context.Context, b *Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.batches[b.BatchID]; ok {
		return ErrDuplicateBatch
	}
	b.ID = fmt.Sprintf("mem-%d", len(r.batches)+1)
	stored := *b
	r.batches[b.BatchID] = &stored
	return nil
}

func (r *memBatchRepo) Get(_ context.Context, batchID string) (Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[batchID]
	if !ok {
		return Batch{}, ErrNotFound
	}
	return *b, nil
}

func (r *memBatchRepo) SetRunning(_ context.Context, batchID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[batchID]
	if !ok {
		return ErrNotFound
	}
	if b.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrBatchTerminal, batchID, b.Status)
	}
	if b.Status == StatusPending {
		b.Status = StatusRunning
	}
	return nil
}

func (r *memBatchRepo) IncrementProgress(_ context.Context, batchID string, skipped bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.incrementErr != nil {
		return r.incrementErr
	}
	b, ok := r.batches[batchID]
	if !ok {
		return ErrNotFound
	}
	if b.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrBatchTerminal, batchID, b.Status)
	}
	b.ProcessedFiles++
	if skipped {
		b.SkippedFiles++
	}
	return nil
}

func (r *memBatchRepo) Complete(_ context.Context, batchID string, totalFiles *int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[batchID]
	if !ok {
		return ErrNotFound
	}
	if b.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrBatchTerminal, batchID, b.Status)
	}
	b.Status = StatusCompleted
	b.TotalFiles = totalFiles
	now := time.Now().UTC()
	b.CompletedAt = &now
	return nil
}

func (r *memBatchRepo) Fail(_ context.Context, batchID string, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[batchID]
	if !ok {
		return ErrNotFound
	}
	if b.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrBatchTerminal, batchID, b.Status)
	}
	b.Status = StatusFailed
	b.ErrorMessage = message
	now := time.Now().UTC()
	b.CompletedAt = &now
	return nil
}

func (r *memBatchRepo) ListRecent(_ context.Context, limit int) ([]Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	batches := make([]Batch, 0, len(r.batches))
	for _, b := range r.batches {
		batches = append(batches, *b)
	}
	sort.Slice(batches, func(i, j int) bool {
		return batches[i].StartedAt.After(batches[j].StartedAt)
	})
	if len(batches) > limit {
		batches = batches[:limit]
	}
	return batches, nil
}

// memPhotoRepo is an in-memory photo.Repository keyed by source URI.
type memPhotoRepo struct {
	mu     sync.Mutex
	photos map[string]photo.Photo
	// failURIs makes Upsert fail for specific source URIs, simulating
	// corrupt items.
	failURIs map[string]bool
}

func newMemPhotoRepo() *memPhotoRepo {
	return &memPhotoRepo{
		photos:   make(map[string]photo.Photo),
		failURIs: make(map[string]bool),
	}
}

func (r *memPhotoRepo) Upsert(_ context.Context, p *photo.Photo, overwrite bool) (photo.UpsertOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failURIs[p.SourceURI] {
		return photo.OutcomeSkipped, errors.New("persist failed")
	}
	if existing, ok := r.photos[p.SourceURI]; ok {
		if !overwrite {
			return photo.OutcomeSkipped, nil
		}
		p.ID = existing.ID
		r.photos[p.SourceURI] = *p
		return photo.OutcomeUpdated, nil
	}
	p.ID = fmt.Sprintf("photo-%d", len(r.photos)+1)
	r.photos[p.SourceURI] = *p
	return photo.OutcomeInserted, nil
}

func (r *memPhotoRepo) CountByBatch(_ context.Context, batchID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.photos {
		if p.BatchID == batchID {
			n++
		}
	}
	return n, nil
}

func (r *memPhotoRepo) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.photos)
}

// sliceSource replays a fixed item slice as a Source.
type sliceSource struct {
	items   []takeout.Item
	openErr error
	// errAt injects an enumeration error before yielding item i.
	errAt map[int]error

	mu      sync.Mutex
	yielded int
}

func (s *sliceSource) Stream(context.Context) (ItemStream, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	return &sliceStream{source: s}, nil
}

func (s *sliceSource) yieldedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.yielded
}

type sliceStream struct {
	source *sliceSource
	idx    int
}

func (st *sliceStream) Next(context.Context) (takeout.Item, error) {
	s := st.source
	if err, ok := s.errAt[st.idx]; ok {
		return takeout.Item{}, err
	}
	if st.idx >= len(s.items) {
		return takeout.Item{}, io.EOF
	}
	item := s.items[st.idx]
	st.idx++
	s.mu.Lock()
	s.yielded++
	s.mu.Unlock()
	return item, nil
}

func (st *sliceStream) Close() error { return nil }

func makeItems(n int) []takeout.Item {
	items := make([]takeout.Item, n)
	for i := range items {
		items[i] = takeout.Item{
			Filename:  fmt.Sprintf("IMG_%04d.jpg", i+1),
			SourceURI: fmt.Sprintf("zip://takeout-001.zip::Photos/IMG_%04d.jpg", i+1),
			FileSize:  1024,
			MimeType:  "image/jpeg",
			Exif:      map[string]any{},
			Sidecar:   map[string]any{},
		}
	}
	return items
}
