package photo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresRepo struct {
	db *pgxpool.Pool
}

func NewPostgresRepo(db *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Upsert(ctx context.Context, p *Photo, overwrite bool) (UpsertOutcome, error) {
	rawJSON, err := json.Marshal(p.RawMetadata)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("marshal photo metadata: %w", err)
	}

	const existsQuery = `SELECT id FROM photos WHERE source_uri = $1`
	var existingID string
	err = r.db.QueryRow(ctx, existsQuery, p.SourceURI).Scan(&existingID)
	switch {
	case err == nil:
		if !overwrite {
			return OutcomeSkipped, nil
		}
		const updateQuery = `
		UPDATE photos SET
			google_id = $1,
			filename = $2,
			file_size = $3,
			mime_type = $4,
			taken_at = $5,
			exif_metadata = $6,
			batch_id = $7
		WHERE id = $8`
		if _, err := r.db.Exec(ctx, updateQuery,
			nullable(p.GoogleID), p.Filename, p.FileSize, nullable(p.MimeType),
			p.TakenAt, rawJSON, p.BatchID, existingID,
		); err != nil {
			return OutcomeSkipped, err
		}
		p.ID = existingID
		return OutcomeUpdated, nil
	case errors.Is(err, pgx.ErrNoRows):
		const insertQuery = `
		INSERT INTO photos (google_id, filename, file_size, mime_type, taken_at, exif_metadata, batch_id, source_uri)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`
		if err := r.db.QueryRow(ctx, insertQuery,
			nullable(p.GoogleID), p.Filename, p.FileSize, nullable(p.MimeType),
			p.TakenAt, rawJSON, p.BatchID, p.SourceURI,
		).Scan(&p.ID, &p.CreatedAt); err != nil {
			return OutcomeSkipped, err
		}
		return OutcomeInserted, nil
	default:
		return OutcomeSkipped, err
	}
}

func (r *PostgresRepo) CountByBatch(ctx context.Context, batchID string) (int, error) {
	const query = `SELECT count(*) FROM photos WHERE batch_id = $1`
	var n int
	err := r.db.QueryRow(ctx, query, batchID).Scan(&n)
	return n, err
}

// nullable maps the empty string to SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
