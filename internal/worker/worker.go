// Package worker wires the job lifecycle engine, the import pipeline, and
// the streaming export driver into the two asynq task handlers
// internal/queue.Server dispatches to: each handler call claims and
// executes one job, and the consumer runs up to Config.WorkerConcurrency
// such calls at once, off a Redis-backed task queue.
package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/artemis/databridge/internal/apierr"
	"github.com/artemis/databridge/internal/config"
	"github.com/artemis/databridge/internal/export"
	"github.com/artemis/databridge/internal/importpipeline"
	"github.com/artemis/databridge/internal/job"
	"github.com/artemis/databridge/internal/observability"
	"github.com/artemis/databridge/internal/queue"
	"github.com/artemis/databridge/internal/storage"
	"github.com/artemis/databridge/internal/store/postgres"
)

// Handlers bundles everything the two task handlers need.
type Handlers struct {
	Config     *config.Config
	Engine     *job.Engine
	ExportRepo *postgres.ExportRepo
	Pipeline   *importpipeline.Pipeline
	Storage    storage.Adapter // export artifact storage
	Logger     *observability.Logger
}

// ImportHandler adapts Pipeline.Run to queue.HandlerFunc.
func (h *Handlers) ImportHandler(ctx context.Context, jobID string) error {
	if err := h.Pipeline.Run(ctx, jobID); err != nil {
		h.Logger.ErrorRedacted("import job run failed", zap.String("job_id", jobID), zap.Error(err))
		return err
	}
	return nil
}

// ExportHandler claims jobID, drives export.RunToStorage, and finalizes the
// job row. Cooperative cancellation is checked through a CancelPoller the
// same way importpipeline.Pipeline checks it: every cancelCheckInterval
// processed records, a narrow status read.
func (h *Handlers) ExportHandler(ctx context.Context, jobID string) error {
	claimed, err := h.Engine.Claim(ctx, jobID)
	if err != nil {
		return err
	}
	if !claimed.Claimed || claimed.AlreadyCancelled {
		return nil
	}
	j := claimed.Job

	key := fmt.Sprintf("exports/%s.%s", j.ID, extensionFor(j.Format))
	poller := job.NewCancelPoller(h.Config.CancelCheckInterval)

	onProgress := func(processed int) error {
		if err := h.Engine.UpdateProgress(ctx, j.ID, processed); err != nil {
			h.Logger.Warn("export progress update failed", zap.String("job_id", j.ID), zap.Error(err))
		}
		if !poller.ShouldCheck(processed) {
			return nil
		}
		cancelled, cErr := h.Engine.IsCancelled(ctx, j.ID)
		if cErr == nil && cancelled {
			return export.ErrCancelled
		}
		return nil
	}

	exp, processed, totalRecords, cancelled, runErr := export.RunToStorage(
		ctx, h.ExportRepo, h.Storage, h.Logger, key,
		j.Resource, j.Format, j.Export.Filters, j.Export.Fields,
		h.Config.ExportBatchSize, h.Config.ExportMaxRecords,
		h.Config.FileRetention(), h.Config.DownloadBaseURL,
		onProgress,
	)
	if runErr != nil {
		taxErr := apierr.Wrap(apierr.StreamError, runErr, "export run failed")
		return h.finalizeFatal(ctx, j, processed, taxErr)
	}
	if cancelled {
		if err := h.Engine.FinalizeCancelledExport(ctx, j, processed); err != nil {
			return err
		}
		h.Logger.Info("export job cancelled", zap.String("job_id", j.ID), zap.Int("processed", processed))
		return nil
	}

	if err := h.Engine.FinalizeExport(ctx, j, processed, totalRecords, exp, false); err != nil {
		return err
	}
	h.Logger.Info("export job finalized", zap.String("job_id", j.ID), zap.Int("processed", processed))
	return nil
}

func (h *Handlers) finalizeFatal(ctx context.Context, j *job.Job, processed int, taxErr *apierr.Error) error {
	h.Logger.ErrorRedacted("export job failed", zap.String("job_id", j.ID), zap.Error(taxErr))
	return h.Engine.FinalizeExport(ctx, j, processed, nil, j.Export, true)
}

func extensionFor(format job.Format) string {
	if format == job.FormatJSON {
		return "json"
	}
	return "ndjson"
}

// BuildQueueServer wires a consumer that dispatches both task kinds to h.
func BuildQueueServer(cfg *config.Config, h *Handlers) *queue.Server {
	return queue.NewServer(cfg.RedisAddr, cfg.WorkerConcurrency, h.ImportHandler, h.ExportHandler)
}
