package job

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/artemis/databridge/internal/observability"
)

// Repository is the persistence surface the engine drives. Implemented by
// internal/store/postgres.JobRepository; defined here so the engine depends
// on a narrow interface instead of the concrete pgx-backed type.
type Repository interface {
	Claim(ctx context.Context, id string) (claimed bool, current *Job, err error)
	ReadStatus(ctx context.Context, id string) (Status, error)
	UpdateProgress(ctx context.Context, id string, processedRecords int) error
	FinalizeExport(ctx context.Context, id string, status Status, finishedAt time.Time, processedRecords int, totalRecords *int, exp *ExportFields) error
	FinalizeImport(ctx context.Context, id string, status Status, finishedAt time.Time, processedRecords, successCount, errorCount int, summary *ErrorSummary) error
	MarkFailedBestEffort(ctx context.Context, id string)
	FindByIdempotencyKey(ctx context.Context, ownerID, key string, resource Resource) (*Job, error)
	Create(ctx context.Context, j *Job) error
}

// Enqueuer submits a newly created, still-queued job for background
// processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, j *Job) error
}

// Engine is the job lifecycle engine. It owns claim, cooperative
// cancellation, and finalization; pipelines (export/import) call back into
// it rather than touching the job row directly, keeping "only the claimant
// mutates status and counters" true by construction.
//
// Claim is a cross-process atomic conditional UPDATE against a Postgres
// row rather than an in-memory, single-process job map, so two workers
// racing the same job ID can never both win it.
type Engine struct {
	repo   Repository
	logger *observability.Logger
	metric *observability.Metrics
	hook   func(event string, j *Job)
}

func NewEngine(repo Repository, logger *observability.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{repo: repo, logger: logger, metric: metrics}
}

// OnEvent registers a callback invoked alongside every job.started/
// job.completed emission, carrying the same event name and job used for
// the structured log line. Used to fan job lifecycle events out to the
// progress websocket without making the engine aware of it directly.
func (e *Engine) OnEvent(hook func(event string, j *Job)) {
	e.hook = hook
}

// ClaimResult reports the outcome of a claim attempt.
type ClaimResult struct {
	Claimed          bool
	AlreadyCancelled bool
	Job              *Job
}

// Claim performs the atomic single-writer claim, then the pre-run
// cancellation check. If the job was already claimed by another
// worker, Claimed is false and Job reflects the observed state, untouched.
// If this call won the claim but the row had already been marked
// cancelled, AlreadyCancelled is true and the engine has already written
// finishedAt and emitted job.completed.
func (e *Engine) Claim(ctx context.Context, jobID string) (ClaimResult, error) {
	claimed, current, err := e.repo.Claim(ctx, jobID)
	if err != nil {
		return ClaimResult{}, fmt.Errorf("claim job %s: %w", jobID, err)
	}
	if !claimed {
		return ClaimResult{Claimed: false, Job: current}, nil
	}

	if current.Status == StatusCancelled {
		now := time.Now()
		if err := e.finalizeCancelled(ctx, current, now); err != nil {
			return ClaimResult{}, err
		}
		return ClaimResult{Claimed: true, AlreadyCancelled: true, Job: current}, nil
	}

	return ClaimResult{Claimed: true, Job: current}, nil
}

func (e *Engine) finalizeCancelled(ctx context.Context, j *Job, finishedAt time.Time) error {
	var err error
	switch j.Kind {
	case KindExport:
		err = e.repo.FinalizeExport(ctx, j.ID, StatusCancelled, finishedAt, j.ProcessedRecords, j.TotalRecords, j.Export)
	default:
		err = e.repo.FinalizeImport(ctx, j.ID, StatusCancelled, finishedAt, j.ProcessedRecords, valueOrZero(j.SuccessCount), valueOrZero(j.ErrorCount), nil)
	}
	if err != nil {
		return fmt.Errorf("finalize cancelled job %s: %w", j.ID, err)
	}
	e.emitCompleted(j, string(StatusCancelled), &finishedAt)
	return nil
}

// FinalizeCancelledImport writes terminal status cancelled with the live
// counters a pipeline observed at the cancellation point, mid-run (as
// opposed to the pre-run check Claim performs, which has no progress to
// report yet).
func (e *Engine) FinalizeCancelledImport(ctx context.Context, j *Job, processedRecords, successCount, errorCount int) error {
	finishedAt := time.Now()
	if err := e.repo.FinalizeImport(ctx, j.ID, StatusCancelled, finishedAt, processedRecords, successCount, errorCount, nil); err != nil {
		return fmt.Errorf("finalize cancelled import job %s: %w", j.ID, err)
	}
	j.ProcessedRecords = processedRecords
	e.emitCompleted(j, string(StatusCancelled), &finishedAt)
	return nil
}

// FinalizeCancelledExport writes terminal status cancelled with the
// processed count observed at the cancellation point. It does not touch
// the export artifact; export.RunToStorage has already deleted any
// partially written file by the time it reports cancellation.
func (e *Engine) FinalizeCancelledExport(ctx context.Context, j *Job, processedRecords int) error {
	finishedAt := time.Now()
	if err := e.repo.FinalizeExport(ctx, j.ID, StatusCancelled, finishedAt, processedRecords, nil, j.Export); err != nil {
		return fmt.Errorf("finalize cancelled export job %s: %w", j.ID, err)
	}
	j.ProcessedRecords = processedRecords
	e.emitCompleted(j, string(StatusCancelled), &finishedAt)
	return nil
}

// CancelPoller tracks the cooperative-cancellation check interval: every K
// processed records, re-read status narrowly. interval=0 disables polling
// entirely.
type CancelPoller struct {
	interval int
	since    int
}

func NewCancelPoller(interval int) *CancelPoller {
	return &CancelPoller{interval: interval}
}

// ShouldCheck reports whether a poll is due given n newly processed
// records, and resets its internal counter if so.
func (p *CancelPoller) ShouldCheck(n int) bool {
	if p.interval <= 0 {
		return false
	}
	p.since += n
	if p.since >= p.interval {
		p.since = 0
		return true
	}
	return false
}

// IsCancelled performs the narrow status read.
func (e *Engine) IsCancelled(ctx context.Context, jobID string) (bool, error) {
	status, err := e.repo.ReadStatus(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("read status for job %s: %w", jobID, err)
	}
	return status == StatusCancelled, nil
}

// UpdateProgress persists the live processed-record counter between batch
// flushes.
func (e *Engine) UpdateProgress(ctx context.Context, jobID string, processedRecords int) error {
	if err := e.repo.UpdateProgress(ctx, jobID, processedRecords); err != nil {
		return fmt.Errorf("update progress for job %s: %w", jobID, err)
	}
	return nil
}

// FinalizeExport derives terminal export status (succeeded unless a fatal
// failure occurred) and writes it, emitting the job.completed event.
func (e *Engine) FinalizeExport(ctx context.Context, j *Job, processedRecords int, totalRecords *int, exp *ExportFields, fatal bool) error {
	status := StatusSucceeded
	if fatal {
		status = StatusFailed
	}
	finishedAt := time.Now()
	if err := e.repo.FinalizeExport(ctx, j.ID, status, finishedAt, processedRecords, totalRecords, exp); err != nil {
		return fmt.Errorf("finalize export job %s: %w", j.ID, err)
	}
	j.ProcessedRecords = processedRecords
	e.emitCompleted(j, string(status), &finishedAt)
	return nil
}

// FinalizeImport derives terminal import status:
//   - succeeded if errorCount = 0
//   - partial if errorCount > 0 and successCount > 0
//   - failed if successCount = 0 and errorCount > 0, or on fatal failure
func (e *Engine) FinalizeImport(ctx context.Context, j *Job, processedRecords, successCount, errorCount int, summary *ErrorSummary, fatal bool) (Status, error) {
	status := deriveImportStatus(successCount, errorCount, fatal)
	finishedAt := time.Now()
	if err := e.repo.FinalizeImport(ctx, j.ID, status, finishedAt, processedRecords, successCount, errorCount, summary); err != nil {
		return "", fmt.Errorf("finalize import job %s: %w", j.ID, err)
	}
	j.ProcessedRecords = processedRecords
	e.emitCompleted(j, string(status), &finishedAt)
	return status, nil
}

func deriveImportStatus(successCount, errorCount int, fatal bool) Status {
	if fatal {
		return StatusFailed
	}
	if errorCount == 0 {
		return StatusSucceeded
	}
	if successCount > 0 {
		return StatusPartial
	}
	return StatusFailed
}

// MarkEnqueueFailed marks a newly created job failed best-effort when the
// enqueue call itself fails.
func (e *Engine) MarkEnqueueFailed(ctx context.Context, j *Job) {
	e.repo.MarkFailedBestEffort(ctx, j.ID)
	e.logger.Warn("enqueue failed, job marked failed",
		zap.String("job_id", j.ID), zap.String("kind", string(j.Kind)))
}

// CreateIdempotent performs the idempotency lookup: on an idempotency-key
// hit it returns the existing job (created=false); on miss it creates a
// new job. build is called only on the miss path.
func (e *Engine) CreateIdempotent(ctx context.Context, ownerID string, resource Resource, idempotencyKey *string, build func() *Job) (j *Job, created bool, err error) {
	if idempotencyKey != nil && *idempotencyKey != "" {
		existing, err := e.repo.FindByIdempotencyKey(ctx, ownerID, *idempotencyKey, resource)
		if err == nil {
			return existing, false, nil
		}
	}

	j = build()
	if err := e.repo.Create(ctx, j); err != nil {
		// Race: another request won the unique constraint first. Look the
		// winner up and return it.
		if idempotencyKey != nil && *idempotencyKey != "" {
			if existing, lookupErr := e.repo.FindByIdempotencyKey(ctx, ownerID, *idempotencyKey, resource); lookupErr == nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("create job: %w", err)
	}

	e.emitStarted(j)
	return j, true, nil
}

func (e *Engine) emitStarted(j *Job) {
	e.logger.JobStarted(j.ID, string(j.Kind), string(j.Resource), observability.JobCounters{
		TotalRecords: j.TotalRecords,
	})
	if e.hook != nil {
		e.hook("job.started", j)
	}
}

func (e *Engine) emitCompleted(j *Job, status string, finishedAt *time.Time) {
	e.logger.JobCompleted(j.ID, string(j.Kind), string(j.Resource), status, j.StartedAt, finishedAt, observability.JobCounters{
		ProcessedRecords: j.ProcessedRecords,
		SuccessCount:     j.SuccessCount,
		ErrorCount:       j.ErrorCount,
	})
	e.metric.RecordJob(string(j.Kind), string(j.Resource), status)
	if j.StartedAt != nil && finishedAt != nil {
		e.metric.RecordJobDuration(string(j.Kind), string(j.Resource), status, finishedAt.Sub(*j.StartedAt).Seconds())
	}
	if e.hook != nil {
		e.hook("job.completed", j)
	}
}

func valueOrZero(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
