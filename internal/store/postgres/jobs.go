package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/artemis/databridge/internal/job"
)

// ErrJobNotFound is returned when a job row does not exist.
var ErrJobNotFound = errors.New("job not found")

// JobRepository persists job rows against pgxpool: a plain INSERT on
// creation, UPDATE-by-id for progress and finalization, plus the atomic
// conditional-UPDATE claim the job lifecycle requires.
type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

// Create inserts a new job row in status 'queued'.
func (r *JobRepository) Create(ctx context.Context, j *job.Job) error {
	filtersJSON, fieldsJSON, err := exportJSON(j.Export)
	if err != nil {
		return fmt.Errorf("marshal export fields: %w", err)
	}

	var sourceType, sourceLocation, fileName *string
	var importFileSize *int64
	var errorSummaryJSON []byte
	if j.Import != nil {
		st := string(j.Import.SourceType)
		sourceType = &st
		sourceLocation = &j.Import.SourceLocation
		fileName = j.Import.FileName
		importFileSize = j.Import.FileSize
		if j.Import.ErrorSummary != nil {
			errorSummaryJSON, err = json.Marshal(j.Import.ErrorSummary)
			if err != nil {
				return fmt.Errorf("marshal error summary: %w", err)
			}
		}
	}

	var outputLocation, downloadURL *string
	var exportFileSize *int64
	var expiresAt *time.Time
	truncated := false
	var truncReason *string
	var recordLimit *int
	if j.Export != nil {
		outputLocation = j.Export.OutputLocation
		downloadURL = j.Export.DownloadURL
		exportFileSize = j.Export.FileSize
		expiresAt = j.Export.ExpiresAt
		truncated = j.Export.Truncated
		truncReason = j.Export.TruncReason
		recordLimit = j.Export.RecordLimit
	}

	fileSize := exportFileSize
	if fileSize == nil {
		fileSize = importFileSize
	}

	const q = `
		INSERT INTO jobs (
			id, owner_id, kind, resource, format, status, created_at,
			total_records, processed_records, success_count, error_count,
			idempotency_key, request_hash,
			filters, fields, output_location, download_url, file_size, expires_at, truncated,
			trunc_reason, record_limit,
			source_type, source_location, file_name, error_summary
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13,
			$14, $15, $16, $17, $18, $19, $20,
			$21, $22,
			$23, $24, $25, $26
		)`

	_, err = r.pool.Exec(ctx, q,
		j.ID, j.OwnerID, string(j.Kind), string(j.Resource), string(j.Format), string(j.Status), j.CreatedAt,
		j.TotalRecords, j.ProcessedRecords, j.SuccessCount, j.ErrorCount,
		j.IdempotencyKey, j.RequestHash,
		filtersJSON, fieldsJSON, outputLocation, downloadURL, fileSize, expiresAt, truncated,
		truncReason, recordLimit,
		sourceType, sourceLocation, fileName, errorSummaryJSON,
	)
	return err
}

// FindByIdempotencyKey looks a job up by its owner-scoped idempotency key.
func (r *JobRepository) FindByIdempotencyKey(ctx context.Context, ownerID, key string, resource job.Resource) (*job.Job, error) {
	const q = selectJobColumns + ` WHERE owner_id = $1 AND idempotency_key = $2 AND resource = $3`
	row := r.pool.QueryRow(ctx, q, ownerID, key, string(resource))
	return scanJob(row)
}

// FindByID loads a job by id, scoped to its owner.
func (r *JobRepository) FindByID(ctx context.Context, ownerID, id string) (*job.Job, error) {
	const q = selectJobColumns + ` WHERE id = $1 AND owner_id = $2`
	row := r.pool.QueryRow(ctx, q, id, ownerID)
	return scanJob(row)
}

// Claim performs the atomic single-writer claim: it sets status=running,
// startedAt=now only if the current status is 'queued', and reports
// whether this call won the claim.
func (r *JobRepository) Claim(ctx context.Context, id string) (claimed bool, current *job.Job, err error) {
	const q = `UPDATE jobs SET status = 'running', started_at = now() WHERE id = $1 AND status = 'queued'`
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return false, nil, err
	}
	claimed = tag.RowsAffected() == 1

	const sel = selectJobColumns + ` WHERE id = $1`
	row := r.pool.QueryRow(ctx, sel, id)
	current, err = scanJob(row)
	return claimed, current, err
}

// ReadStatus re-reads the narrow status field, used by cooperative
// cancellation polling to avoid pulling the whole row every check.
func (r *JobRepository) ReadStatus(ctx context.Context, id string) (job.Status, error) {
	var status string
	err := r.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrJobNotFound
	}
	return job.Status(status), err
}

// RequestCancellation sets status=cancelled on a non-terminal row. Any
// actor may call this, not only the claimant.
func (r *JobRepository) RequestCancellation(ctx context.Context, id string) error {
	const q = `UPDATE jobs SET status = 'cancelled' WHERE id = $1 AND status IN ('queued', 'running')`
	_, err := r.pool.Exec(ctx, q, id)
	return err
}

// UpdateProgress updates only the processed-record counter, used between
// batch flushes so a concurrent status read sees live progress.
func (r *JobRepository) UpdateProgress(ctx context.Context, id string, processedRecords int) error {
	_, err := r.pool.Exec(ctx, `UPDATE jobs SET processed_records = $2 WHERE id = $1`, id, processedRecords)
	return err
}

// FinalizeExport writes terminal export state in one update, covering both
// synchronous finalization and async export completion.
func (r *JobRepository) FinalizeExport(ctx context.Context, id string, status job.Status, finishedAt time.Time, processedRecords int, totalRecords *int, exp *job.ExportFields) error {
	const q = `
		UPDATE jobs SET
			status = $2, finished_at = $3, processed_records = $4, total_records = $5,
			output_location = $6, download_url = $7, file_size = $8, expires_at = $9, truncated = $10,
			trunc_reason = $11, record_limit = $12
		WHERE id = $1`
	var outputLocation, downloadURL *string
	var fileSize *int64
	var expiresAt *time.Time
	truncated := false
	var truncReason *string
	var recordLimit *int
	if exp != nil {
		outputLocation = exp.OutputLocation
		downloadURL = exp.DownloadURL
		fileSize = exp.FileSize
		expiresAt = exp.ExpiresAt
		truncated = exp.Truncated
		truncReason = exp.TruncReason
		recordLimit = exp.RecordLimit
	}
	_, err := r.pool.Exec(ctx, q, id, string(status), finishedAt, processedRecords, totalRecords,
		outputLocation, downloadURL, fileSize, expiresAt, truncated, truncReason, recordLimit)
	return err
}

// FinalizeImport writes terminal import state in one update.
func (r *JobRepository) FinalizeImport(ctx context.Context, id string, status job.Status, finishedAt time.Time, processedRecords, successCount, errorCount int, summary *job.ErrorSummary) error {
	var summaryJSON []byte
	var err error
	if summary != nil {
		summaryJSON, err = json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("marshal error summary: %w", err)
		}
	}
	const q = `
		UPDATE jobs SET
			status = $2, finished_at = $3, processed_records = $4,
			success_count = $5, error_count = $6, error_summary = $7
		WHERE id = $1`
	_, err = r.pool.Exec(ctx, q, id, string(status), finishedAt, processedRecords, successCount, errorCount, summaryJSON)
	return err
}

// MarkFailedBestEffort marks a job failed without requiring a prior claim,
// used when enqueue fails right after job-row creation.
func (r *JobRepository) MarkFailedBestEffort(ctx context.Context, id string) {
	_, _ = r.pool.Exec(ctx, `UPDATE jobs SET status = 'failed', finished_at = now() WHERE id = $1`, id)
}

const selectJobColumns = `
	SELECT id, owner_id, kind, resource, format, status, created_at, started_at, finished_at,
		total_records, processed_records, success_count, error_count,
		idempotency_key, request_hash,
		filters, fields, output_location, download_url, file_size, expires_at, truncated,
		trunc_reason, record_limit,
		source_type, source_location, file_name, error_summary
	FROM jobs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*job.Job, error) {
	var j job.Job
	var kind, resource, format, status string
	var filtersJSON, fieldsJSON, errorSummaryJSON []byte
	var sourceType, sourceLocation, fileName *string
	var outputLocation, downloadURL *string
	var fileSize *int64
	var expiresAt *time.Time
	var truncated bool
	var truncReason *string
	var recordLimit *int

	err := row.Scan(
		&j.ID, &j.OwnerID, &kind, &resource, &format, &status, &j.CreatedAt, &j.StartedAt, &j.FinishedAt,
		&j.TotalRecords, &j.ProcessedRecords, &j.SuccessCount, &j.ErrorCount,
		&j.IdempotencyKey, &j.RequestHash,
		&filtersJSON, &fieldsJSON, &outputLocation, &downloadURL, &fileSize, &expiresAt, &truncated,
		&truncReason, &recordLimit,
		&sourceType, &sourceLocation, &fileName, &errorSummaryJSON,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}

	j.Kind = job.Kind(kind)
	j.Resource = job.Resource(resource)
	j.Format = job.Format(format)
	j.Status = job.Status(status)

	if kind == string(job.KindExport) {
		exp := &job.ExportFields{
			OutputLocation: outputLocation,
			DownloadURL:    downloadURL,
			FileSize:       fileSize,
			ExpiresAt:      expiresAt,
			Truncated:      truncated,
			TruncReason:    truncReason,
			RecordLimit:    recordLimit,
		}
		if len(filtersJSON) > 0 {
			_ = json.Unmarshal(filtersJSON, &exp.Filters)
		}
		if len(fieldsJSON) > 0 {
			_ = json.Unmarshal(fieldsJSON, &exp.Fields)
		}
		j.Export = exp
	}

	if kind == string(job.KindImport) && sourceType != nil {
		imp := &job.ImportFields{
			SourceType: job.SourceType(*sourceType),
			FileName:   fileName,
			FileSize:   fileSize,
		}
		if sourceLocation != nil {
			imp.SourceLocation = *sourceLocation
		}
		if len(errorSummaryJSON) > 0 {
			var s job.ErrorSummary
			if err := json.Unmarshal(errorSummaryJSON, &s); err == nil {
				imp.ErrorSummary = &s
			}
		}
		j.Import = imp
	}

	return &j, nil
}

func exportJSON(exp *job.ExportFields) (filters, fields []byte, err error) {
	if exp == nil {
		return nil, nil, nil
	}
	if exp.Filters != nil {
		filters, err = json.Marshal(exp.Filters)
		if err != nil {
			return nil, nil, err
		}
	}
	if exp.Fields != nil {
		fields, err = json.Marshal(exp.Fields)
		if err != nil {
			return nil, nil, err
		}
	}
	return filters, fields, nil
}

// NewJobID generates a fresh job id.
func NewJobID() string {
	return uuid.NewString()
}
