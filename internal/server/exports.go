package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/artemis/databridge/internal/apierr"
	"github.com/artemis/databridge/internal/export"
	"github.com/artemis/databridge/internal/job"
	"github.com/artemis/databridge/internal/store/postgres"
	"github.com/artemis/databridge/internal/validate"
)

type createExportRequest struct {
	Resource string `json:"resource"`
	Format   string `json:"format"`
	Filters  map[string]any `json:"filters"`
	Fields   any            `json:"fields"`
}

// CreateExport handles POST /v1/exports: validates filters/fields against
// the resource's canonical schema and enqueues an async export job. The
// artifact itself is produced later by the worker via export.RunToStorage.
func (s *Server) CreateExport(c *gin.Context) {
	owner := ownerID(c)
	ctx := c.Request.Context()

	var req createExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierr.New(apierr.WrongFormat, "invalid request body"))
		return
	}

	resource, ok := parseResource(req.Resource)
	if !ok {
		respondError(c, apierr.New(apierr.UnsupportedResource, "unrecognized resource").WithField("resource"))
		return
	}
	format := parseFormat(req.Format)

	filters, err := validate.Filters(resource, req.Filters)
	if err != nil {
		respondError(c, err)
		return
	}
	fields, err := validate.Fields(resource, req.Fields)
	if err != nil {
		respondError(c, err)
		return
	}

	var idemKey *string
	if v := c.GetHeader("Idempotency-Key"); v != "" {
		idemKey = &v
	}
	requestHash := hashRequest(owner, string(resource), string(format), hashFilters(filters, fields))

	build := func() *job.Job {
		return &job.Job{
			ID:             postgres.NewJobID(),
			OwnerID:        owner,
			Kind:           job.KindExport,
			Resource:       resource,
			Format:         format,
			Status:         job.StatusQueued,
			CreatedAt:      time.Now(),
			IdempotencyKey: idemKey,
			RequestHash:    &requestHash,
			Export: &job.ExportFields{
				Filters: filters,
				Fields:  fields,
			},
		}
	}

	j, created, err := s.engine.CreateIdempotent(ctx, owner, resource, idemKey, build)
	if err != nil {
		respondError(c, apierr.Wrap(apierr.DatabaseError, err, "failed to create export job"))
		return
	}

	if !created {
		c.JSON(http.StatusOK, newJobResponse(j))
		return
	}

	if err := s.queue.Enqueue(ctx, j); err != nil {
		s.engine.MarkEnqueueFailed(ctx, j)
		s.metrics.RecordEnqueue(string(job.KindExport), "failed")
		respondError(c, apierr.Wrap(apierr.QueueError, err, "failed to enqueue export job"))
		return
	}
	s.metrics.RecordEnqueue(string(job.KindExport), "success")

	c.JSON(http.StatusAccepted, newJobResponse(j))
}

// GetExport handles GET /v1/exports/:jobId.
func (s *Server) GetExport(c *gin.Context) {
	j, err := s.jobRepo.FindByID(c.Request.Context(), ownerID(c), c.Param("jobId"))
	if err != nil {
		respondNotFound(c, "export job not found")
		return
	}
	c.JSON(http.StatusOK, newJobResponse(j))
}

// CancelExport handles POST /v1/exports/:jobId/cancel.
func (s *Server) CancelExport(c *gin.Context) {
	s.cancelJob(c)
}

// DownloadExport handles GET /v1/exports/:jobId/download, streaming the
// artifact a finished async export job produced.
func (s *Server) DownloadExport(c *gin.Context) {
	j, err := s.jobRepo.FindByID(c.Request.Context(), ownerID(c), c.Param("jobId"))
	if err != nil {
		respondNotFound(c, "export job not found")
		return
	}
	if j.Export == nil || j.Export.OutputLocation == nil {
		if !j.Status.Terminal() {
			respondError(c, apierr.New(apierr.DownloadNotReady, "export artifact is not ready yet"))
			return
		}
		respondNotFound(c, "no artifact for this job")
		return
	}
	if j.Export.ExpiresAt != nil && time.Now().After(*j.Export.ExpiresAt) {
		respondError(c, apierr.New(apierr.DownloadExpired, "export artifact has expired"))
		return
	}

	rc, err := s.exportStorage.CreateReadStream(*j.Export.OutputLocation)
	if err != nil {
		respondError(c, apierr.Wrap(apierr.StorageError, err, "failed to open export artifact"))
		return
	}
	defer rc.Close()

	c.Header("Content-Type", contentTypeFor(j.Format))
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		s.logger.Warn("export artifact stream interrupted")
	}
}

// StreamExport handles GET /v1/exports: a synchronous, no-job streaming
// read directly over the HTTP response.
func (s *Server) StreamExport(c *gin.Context) {
	ctx := c.Request.Context()

	resource, ok := parseResource(c.Query("resource"))
	if !ok {
		respondError(c, apierr.New(apierr.UnsupportedResource, "unrecognized resource").WithField("resource"))
		return
	}
	format := parseFormat(c.Query("format"))

	var rawFilters map[string]any
	if v := c.Query("filters"); v != "" {
		if err := json.Unmarshal([]byte(v), &rawFilters); err != nil {
			respondError(c, apierr.New(apierr.WrongFormat, "filters must be a JSON object").WithField("filters"))
			return
		}
	}
	filters, err := validate.Filters(resource, rawFilters)
	if err != nil {
		respondError(c, err)
		return
	}
	fields, err := validate.Fields(resource, c.Query("fields"))
	if err != nil {
		respondError(c, err)
		return
	}

	limit := s.cfg.StreamMaxLimit
	if v := c.Query("limit"); v != "" {
		n, perr := strconv.Atoi(v)
		if perr != nil || n < 1 || n > s.cfg.StreamMaxLimit {
			respondError(c, apierr.New(apierr.WrongFormat, "limit must be between 1 and streamMaxLimit").WithField("limit"))
			return
		}
		limit = n
	}

	var afterID int64
	if v := c.Query("cursor"); v != "" {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil || n < 1 {
			respondError(c, apierr.New(apierr.WrongFormat, "cursor must be a positive integer").WithField("cursor"))
			return
		}
		afterID = n
	}

	c.Header("Content-Type", contentTypeFor(format))
	c.Status(http.StatusOK)
	flusher, _ := c.Writer.(http.Flusher)

	writer := export.NewWriter(c.Writer, format)
	pageSize := s.cfg.ExportBatchSize
	if pageSize > limit {
		pageSize = limit
	}

	processed := 0
	for {
		if ctx.Err() != nil {
			break
		}
		remaining := limit - processed
		if remaining <= 0 {
			break
		}
		pageLimit := pageSize
		if pageLimit > remaining {
			pageLimit = remaining
		}

		page, ferr := export.Fetch(ctx, s.exportRepo, resource, afterID, pageLimit, filters, fields)
		if ferr != nil {
			s.logger.Warn("streaming export page failed")
			break
		}
		if werr := writer.WriteRecords(page.Records); werr != nil {
			s.logger.Warn("streaming export write failed")
			break
		}
		processed += len(page.Records)
		if page.NextCursor > afterID {
			afterID = page.NextCursor
		}
		if flusher != nil {
			flusher.Flush()
		}
		if page.Done {
			break
		}
	}

	var nextCursor *int64
	if processed == limit {
		nc := afterID
		nextCursor = &nc
	}
	writer.CloseWithCursor(nextCursor)
}

func contentTypeFor(format job.Format) string {
	if format == job.FormatJSON {
		return "application/json"
	}
	return "application/x-ndjson"
}

func hashFilters(filters map[string]any, fields []string) string {
	b, _ := json.Marshal(struct {
		Filters map[string]any `json:"filters"`
		Fields  []string       `json:"fields"`
	}{filters, fields})
	return string(b)
}
