package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the Postgres error code for duplicate keys.
const uniqueViolation = "23505"

type PostgresRepo struct {
	db *pgxpool.Pool
}

func NewPostgresRepo(db *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Create(ctx context.Context, b *Batch) error {
	const query = `
	INSERT INTO ingest_status (batch_id, status, started_at, processed_files, skipped_files)
	VALUES ($1, $2, $3, 0, 0)
	RETURNING id`

	err := r.db.QueryRow(ctx, query, b.BatchID, b.Status, b.StartedAt).Scan(&b.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateBatch
		}
		return err
	}
	return nil
}

func (r *PostgresRepo) Get(ctx context.Context, batchID string) (Batch, error) {
	const query = `
	SELECT id, batch_id, status, started_at, completed_at, total_files, processed_files, skipped_files, error_message
	FROM ingest_status
	WHERE batch_id = $1`

	return r.scanBatch(r.db.QueryRow(ctx, query, batchID))
}

func (r *PostgresRepo) SetRunning(ctx context.Context, batchID string) error {
	const query = `
	UPDATE ingest_status SET status = 'running'
	WHERE batch_id = $1 AND status = 'pending'`

	tag, err := r.db.Exec(ctx, query, batchID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.resolveNoop(ctx, batchID)
	}
	return nil
}

func (r *PostgresRepo) IncrementProgress(ctx context.Context, batchID string, skipped bool) error {
	const query = `
	UPDATE ingest_status SET
		processed_files = processed_files + 1,
		skipped_files = skipped_files + $2
	WHERE batch_id = $1 AND status NOT IN ('completed', 'failed')`

	bump := 0
	if skipped {
		bump = 1
	}
	tag, err := r.db.Exec(ctx, query, batchID, bump)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.resolveNoop(ctx, batchID)
	}
	return nil
}

func (r *PostgresRepo) Complete(ctx context.Context, batchID string, totalFiles *int) error {
	const query = `
	UPDATE ingest_status SET
		status = 'completed',
		total_files = $2,
		completed_at = now()
	WHERE batch_id = $1 AND status NOT IN ('completed', 'failed')`

	tag, err := r.db.Exec(ctx, query, batchID, totalFiles)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.resolveNoop(ctx, batchID)
	}
	return nil
}

func (r *PostgresRepo) Fail(ctx context.Context, batchID string, message string) error {
	const query = `
	UPDATE ingest_status SET
		status = 'failed',
		error_message = $2,
		completed_at = now()
	WHERE batch_id = $1 AND status NOT IN ('completed', 'failed')`

	tag, err := r.db.Exec(ctx, query, batchID, message)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.resolveNoop(ctx, batchID)
	}
	return nil
}

func (r *PostgresRepo) ListRecent(ctx context.Context, limit int) ([]Batch, error) {
	const query = `
	SELECT id, batch_id, status, started_at, completed_at, total_files, processed_files, skipped_files, error_message
	FROM ingest_status
	ORDER BY started_at DESC
	LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []Batch
	for rows.Next() {
		b, err := r.scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// resolveNoop classifies a guarded UPDATE that touched no row: the
// batch is either absent, terminal, or already past the source state
// (the last case is a benign no-op).
func (r *PostgresRepo) resolveNoop(ctx context.Context, batchID string) error {
	b, err := r.Get(ctx, batchID)
	if err != nil {
		return err
	}
	if b.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrBatchTerminal, batchID, b.Status)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresRepo) scanBatch(row rowScanner) (Batch, error) {
	var (
		b        Batch
		errorMsg *string
	)
	err := row.Scan(
		&b.ID,
		&b.BatchID,
		&b.Status,
		&b.StartedAt,
		&b.CompletedAt,
		&b.TotalFiles,
		&b.ProcessedFiles,
		&b.SkippedFiles,
		&errorMsg,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, ErrNotFound
		}
		return Batch{}, err
	}
	if errorMsg != nil {
		b.ErrorMessage = *errorMsg
	}
	return b, nil
}
