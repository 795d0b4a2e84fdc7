package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/artemis/databridge/internal/job"
)

// ImportErrorRepository persists per-record import errors as JSONB rows,
// paged back out in ascending id order.
type ImportErrorRepository struct {
	pool *pgxpool.Pool
}

func NewImportErrorRepository(pool *pgxpool.Pool) *ImportErrorRepository {
	return &ImportErrorRepository{pool: pool}
}

// SaveBatch persists a batch of import errors, one INSERT per error, returning
// the count that failed to persist (counted toward persistenceFailures in
// the job's error summary; a persistence failure is non-fatal to the job).
func (r *ImportErrorRepository) SaveBatch(ctx context.Context, errs []*job.ImportError) (failures int) {
	for _, e := range errs {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		var detailsJSON []byte
		if e.Details != nil {
			var err error
			detailsJSON, err = json.Marshal(e.Details)
			if err != nil {
				failures++
				continue
			}
		}
		const q = `
			INSERT INTO import_errors (id, job_id, record_index, record_id, error_code, error_name, message, field, value, details, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
		_, err := r.pool.Exec(ctx, q, e.ID, e.JobID, e.RecordIndex, e.RecordID, e.ErrorCode, e.ErrorName, e.Message, e.Field, e.Value, detailsJSON, e.CreatedAt)
		if err != nil {
			failures++
		}
	}
	return failures
}

// PageByJobID returns up to pageSize import errors for a job with id
// strictly greater than afterID, in ascending id order — the paged scan
// the error-report generator uses.
func (r *ImportErrorRepository) PageByJobID(ctx context.Context, jobID, afterID string, pageSize int) ([]*job.ImportError, error) {
	const q = `
		SELECT id, job_id, record_index, record_id, error_code, error_name, message, field, value, details, created_at
		FROM import_errors
		WHERE job_id = $1 AND id > $2
		ORDER BY id ASC
		LIMIT $3`
	rows, err := r.pool.Query(ctx, q, jobID, afterID, pageSize)
	if err != nil {
		return nil, fmt.Errorf("page import errors: %w", err)
	}
	defer rows.Close()

	var out []*job.ImportError
	for rows.Next() {
		var e job.ImportError
		var detailsJSON []byte
		if err := rows.Scan(&e.ID, &e.JobID, &e.RecordIndex, &e.RecordID, &e.ErrorCode, &e.ErrorName, &e.Message, &e.Field, &e.Value, &detailsJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(detailsJSON) > 0 {
			_ = json.Unmarshal(detailsJSON, &e.Details)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// CountByJobID returns the number of persisted error rows for a job.
func (r *ImportErrorRepository) CountByJobID(ctx context.Context, jobID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM import_errors WHERE job_id = $1`, jobID).Scan(&n)
	return n, err
}
