package export

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/artemis/databridge/internal/job"
	"github.com/artemis/databridge/internal/observability"
	"github.com/artemis/databridge/internal/storage"
	"github.com/artemis/databridge/internal/store/postgres"
)

// RunToStorage drives a full cursor-paginated export and persists the
// serialized output through a storage adapter, piping the Writer directly
// into the adapter's streaming save so the whole result set is never held
// in memory at once. On success it returns the ExportFields and the
// confirmed totalRecords (non-nil only when the run was truncated) ready to
// finalize the job with. If onProgress reports cancellation (by returning
// ErrCancelled), the partial artifact is deleted and cancelled is true with
// a nil exp and err, so the caller finalizes the job as cancelled rather
// than failed.
//
// A goroutine writes into pw while the caller's goroutine reads pr, with
// pw.CloseWithError propagating a mid-stream failure to the reader side.
func RunToStorage(
	ctx context.Context,
	repo *postgres.ExportRepo,
	adapter storage.Adapter,
	logger *observability.Logger,
	key string,
	resource job.Resource,
	format job.Format,
	filters map[string]any,
	fields []string,
	pageSize, maxRecords int,
	retention time.Duration,
	downloadBaseURL string,
	onProgress func(processed int) error,
) (exp *job.ExportFields, processed int, totalRecords *int, cancelled bool, err error) {
	pr, pw := io.Pipe()
	sw := NewWriter(pw, format)

	var result Result
	var runErr error
	done := make(chan struct{})

	go func() {
		defer close(done)
		result, runErr = Run(ctx, repo, sw, resource, filters, fields, pageSize, maxRecords, onProgress)
		pw.CloseWithError(runErr)
	}()

	saveRes, saveErr := adapter.SaveStream(key, pr)
	<-done

	if runErr != nil {
		adapter.Delete(key)
		return nil, result.ProcessedRecords, nil, false, fmt.Errorf("stream export records: %w", runErr)
	}
	if result.Cancelled {
		adapter.Delete(key)
		return nil, result.ProcessedRecords, nil, true, nil
	}
	if saveErr != nil {
		adapter.Delete(key)
		logger.ErrorRedacted("export save to storage failed", zap.String("key", key), zap.Error(saveErr))
		return nil, result.ProcessedRecords, nil, false, fmt.Errorf("save export to storage: %w", saveErr)
	}

	expiresAt := time.Now().Add(retention)
	location := saveRes.Key
	fileSize := saveRes.Bytes

	var downloadURL *string
	if downloadBaseURL != "" {
		u := downloadBaseURL + "/" + key
		downloadURL = &u
	}

	built := &job.ExportFields{
		Filters:        filters,
		Fields:         fields,
		OutputLocation: &location,
		DownloadURL:    downloadURL,
		FileSize:       &fileSize,
		ExpiresAt:      &expiresAt,
		Truncated:      result.Truncated,
	}
	if result.Truncated {
		reason := "max_records_reached"
		limit := maxRecords
		built.TruncReason = &reason
		built.RecordLimit = &limit
	}
	return built, result.ProcessedRecords, result.TotalRecords, false, nil
}
