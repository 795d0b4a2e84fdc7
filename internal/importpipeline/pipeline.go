// Package importpipeline orchestrates a single import job end to end:
// claim, source open, streaming parse, per-record validation, batched
// upsert, error journaling, cooperative cancellation, and finalization.
package importpipeline

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/artemis/databridge/internal/apierr"
	"github.com/artemis/databridge/internal/job"
	"github.com/artemis/databridge/internal/observability"
	"github.com/artemis/databridge/internal/parse"
	"github.com/artemis/databridge/internal/refcache"
	"github.com/artemis/databridge/internal/storage"
	"github.com/artemis/databridge/internal/store/postgres"
	"github.com/artemis/databridge/internal/upsert"
	"github.com/artemis/databridge/internal/validate"
)

// SourceOpener resolves a job's recorded source to a readable stream.
type SourceOpener interface {
	Open(ctx context.Context, j *job.Job) (io.ReadCloser, error)
}

// StorageOpener reads an import source by its already-resolved storage
// key. Both upload and URL sources end up here: internal/intake resolves
// either one to a storage key at job-creation time, before the job is
// ever enqueued, so the pipeline's only job is to read it back.
type StorageOpener struct {
	Adapter storage.Adapter
}

func (o StorageOpener) Open(_ context.Context, j *job.Job) (io.ReadCloser, error) {
	return o.Adapter.CreateReadStream(j.Import.SourceLocation)
}

// ReportGenerator produces the persisted error report for a finished
// import job. Implemented by internal/errorreport.Generator.
type ReportGenerator interface {
	Generate(ctx context.Context, jobID string) (location string, failed bool, err error)
}

// Options configures one pipeline run.
type Options struct {
	BatchSize      int
	ErrorFlushSize int
	CancelInterval int
	MaxRecords     int
}

// Pipeline drives a single import job.
//
// Claim, then loop over the source in fixed-size batches with periodic
// progress persistence and batch-local error accumulation, then finalize.
type Pipeline struct {
	pool    *pgxpool.Pool
	engine  *job.Engine
	errRepo *postgres.ImportErrorRepository
	openers map[job.SourceType]SourceOpener
	report  ReportGenerator
	logger  *observability.Logger
	metrics *observability.Metrics
	opts    Options
}

func NewPipeline(
	pool *pgxpool.Pool,
	engine *job.Engine,
	errRepo *postgres.ImportErrorRepository,
	openers map[job.SourceType]SourceOpener,
	report ReportGenerator,
	logger *observability.Logger,
	metrics *observability.Metrics,
	opts Options,
) *Pipeline {
	return &Pipeline{
		pool:    pool,
		engine:  engine,
		errRepo: errRepo,
		openers: openers,
		report:  report,
		logger:  logger,
		metrics: metrics,
		opts:    opts,
	}
}

// Run claims jobID and processes it to completion. A nil return means the
// job reached a terminal state (successfully or not); it does not mean
// every record succeeded — partial/failed status is recorded on the job
// row itself, not surfaced as a Go error.
func (p *Pipeline) Run(ctx context.Context, jobID string) error {
	claimed, err := p.engine.Claim(ctx, jobID)
	if err != nil {
		return err
	}
	if !claimed.Claimed || claimed.AlreadyCancelled {
		return nil
	}
	j := claimed.Job

	src, openErr := p.open(ctx, j)
	if openErr != nil {
		return p.finalizeFatal(ctx, j, 0, 0, 1, apierr.Wrap(apierr.ReadWriteFailure, openErr, "failed to open import source"))
	}
	defer src.Close()

	result := p.process(ctx, j, src)

	if result.fatal != nil {
		return p.finalizeFatal(ctx, j, result.processed, result.success, result.errorCount+1, result.fatal)
	}

	if result.cancelled {
		if err := p.engine.FinalizeCancelledImport(ctx, j, result.processed, result.success, result.errorCount); err != nil {
			return err
		}
		p.logger.Info("import job cancelled", zap.String("job_id", j.ID), zap.Int("processed", result.processed))
		return nil
	}

	summary := p.buildSummary(ctx, j, result)
	status, err := p.engine.FinalizeImport(ctx, j, result.processed, result.success, result.errorCount, summary, false)
	if err != nil {
		return err
	}
	p.logger.Info("import job finalized",
		zap.String("job_id", j.ID), zap.String("status", string(status)),
		zap.Int("processed", result.processed), zap.Int("errors", result.errorCount))
	return nil
}

func (p *Pipeline) open(ctx context.Context, j *job.Job) (io.ReadCloser, error) {
	opener, ok := p.openers[j.Import.SourceType]
	if !ok {
		return nil, errors.New("no source opener registered for source type")
	}
	return opener.Open(ctx, j)
}

type runResult struct {
	processed   int
	success     int
	errorCount  int
	persistFail int
	cancelled   bool
	fatal       *apierr.Error
}

// process runs the parse/validate/batch loop. It always returns whatever
// was processed before a fatal error, if any, so callers can still
// finalize with partial progress.
func (p *Pipeline) process(ctx context.Context, j *job.Job, src io.Reader) runResult {
	format := parse.DetectFormat(j.Format, fileNameOf(j))
	parser := parse.New(format, src, p.opts.MaxRecords)

	cache := refcache.New()
	lookups := newStoreLookups(p.pool)
	poller := job.NewCancelPoller(p.opts.CancelInterval)

	var res runResult
	var batch []upsert.Op
	var errBuf []*job.ImportError

	flushErrors := func() {
		if len(errBuf) == 0 {
			return
		}
		res.persistFail += p.errRepo.SaveBatch(ctx, errBuf)
		errBuf = errBuf[:0]
	}

	flushBatch := func() {
		if len(batch) == 0 {
			return
		}
		batchResult := upsert.RunBatch(ctx, p.pool, batch, func(op upsert.Op) string {
			return upsert.LookupField(j.Resource)
		})
		res.success += batchResult.Succeeded
		for _, outcome := range batchResult.Failed {
			res.errorCount++
			errBuf = append(errBuf, errorRow(j.ID, outcome.RecordIndex, outcome.Err))
			if len(errBuf) >= p.opts.ErrorFlushSize {
				flushErrors()
			}
		}
		batch = batch[:0]
		if err := p.engine.UpdateProgress(ctx, j.ID, res.processed); err != nil {
			p.logger.Warn("progress update failed", zap.String("job_id", j.ID), zap.Error(err))
		}
	}

	for {
		rec, err := parser.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if taxErr, ok := apierr.As(err); ok {
				res.fatal = taxErr
			} else {
				res.fatal = apierr.Wrap(apierr.ParseError, err, "failed to parse record stream")
			}
			break
		}

		vr := validate.Record(ctx, j.Resource, rec.Value, rec.Index, cache, lookups)
		res.processed++

		if !vr.Valid {
			res.errorCount++
			for _, e := range vr.Errors {
				errBuf = append(errBuf, errorRow(j.ID, rec.Index, e))
			}
			if len(errBuf) >= p.opts.ErrorFlushSize {
				flushErrors()
			}
		} else if !vr.Skip {
			op, opErr := upsert.BuildOp(ctx, p.pool, j.Resource, rec.Index, vr.Normalized)
			if opErr != nil {
				res.errorCount++
				errBuf = append(errBuf, errorRow(j.ID, rec.Index, opErr))
			} else {
				batch = append(batch, op)
			}
		}

		if len(batch) >= p.opts.BatchSize {
			flushBatch()
		}

		if poller.ShouldCheck(1) {
			cancelled, cErr := p.engine.IsCancelled(ctx, j.ID)
			if cErr == nil && cancelled {
				res.cancelled = true
				break
			}
		}
	}

	flushBatch()
	flushErrors()

	if res.fatal == nil && !res.cancelled && res.processed == 0 {
		res.fatal = apierr.New(apierr.EmptyFile, "import source contained no records")
	}

	if p.metrics != nil {
		p.metrics.RecordRecords(string(j.Kind), string(j.Resource), "success", float64(res.success))
		p.metrics.RecordRecords(string(j.Kind), string(j.Resource), "error", float64(res.errorCount))
	}
	return res
}

// buildSummary generates the error report, when there were any errors,
// and assembles the ErrorSummary to persist on the job row.
func (p *Pipeline) buildSummary(ctx context.Context, j *job.Job, res runResult) *job.ErrorSummary {
	if res.errorCount == 0 {
		return nil
	}
	summary := &job.ErrorSummary{
		PersistedErrorCount: res.errorCount - res.persistFail,
		PersistenceFailures: res.persistFail,
		ReportFormat:        "ndjson",
	}
	if p.report == nil {
		summary.ReportStatus = "unavailable"
		return summary
	}
	location, failed, err := p.report.Generate(ctx, j.ID)
	if err != nil || failed {
		summary.ReportStatus = "failed"
		summary.ReportGenerationFailed = true
		if err != nil {
			p.logger.Warn("error report generation failed", zap.String("job_id", j.ID), zap.Error(err))
		}
		return summary
	}
	summary.ReportStatus = "ready"
	summary.ReportLocation = location
	return summary
}

func (p *Pipeline) finalizeFatal(ctx context.Context, j *job.Job, processed, successCount, errorCount int, cause *apierr.Error) error {
	p.errRepo.SaveBatch(ctx, []*job.ImportError{errorRow(j.ID, -1, cause)})
	summary := &job.ErrorSummary{
		PersistedErrorCount: errorCount,
		ReportStatus:        "unavailable",
	}
	_, err := p.engine.FinalizeImport(ctx, j, processed, successCount, errorCount, summary, true)
	if err != nil {
		return err
	}
	p.logger.Error("import job failed fatally", zap.String("job_id", j.ID), zap.Error(cause))
	return nil
}

func errorRow(jobID string, recordIndex int, e *apierr.Error) *job.ImportError {
	row := &job.ImportError{
		JobID:       jobID,
		RecordIndex: recordIndex,
		ErrorCode:   int(e.Code),
		ErrorName:   e.Name,
		Message:     e.Message,
		Details:     e.Details,
		CreatedAt:   time.Now(),
	}
	if e.Field != "" {
		f := e.Field
		row.Field = &f
	}
	if e.Value != "" {
		v := e.Value
		row.Value = &v
	}
	return row
}

func fileNameOf(j *job.Job) string {
	if j.Import.FileName == nil {
		return ""
	}
	return *j.Import.FileName
}
