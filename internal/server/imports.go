package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/gin-gonic/gin"

	"github.com/artemis/databridge/internal/apierr"
	"github.com/artemis/databridge/internal/intake"
	"github.com/artemis/databridge/internal/job"
	"github.com/artemis/databridge/internal/store/postgres"
)

// createImportRequest covers the URL-source path; the upload path is
// read from multipart form fields directly instead.
type createImportRequest struct {
	Resource string `json:"resource"`
	Format   string `json:"format"`
	URL      string `json:"url"`
}

// CreateImport handles POST /v1/imports. The request is either a direct
// multipart upload (field "file" plus form fields "resource"/"format")
// or a JSON body naming a remote URL to fetch; intake resolves either
// one to a storage key before the job row is ever created, so the
// worker's only job later is to read it back.
func (s *Server) CreateImport(c *gin.Context) {
	owner := ownerID(c)
	ctx := c.Request.Context()

	idemKey := c.GetHeader("Idempotency-Key")
	if idemKey == "" {
		respondError(c, apierr.New(apierr.MissingRequiredField, "Idempotency-Key header is required").WithField("Idempotency-Key"))
		return
	}

	jobID := postgres.NewJobID()

	var (
		resourceRaw string
		formatRaw   string
		sourceType  job.SourceType
		fileName    *string
		result      intake.Result
		apiErr      *apierr.Error
	)

	if file, ferr := c.FormFile("file"); ferr == nil {
		resourceRaw = c.PostForm("resource")
		formatRaw = c.PostForm("format")
		sourceType = job.SourceUpload

		f, openErr := file.Open()
		if openErr != nil {
			respondError(c, apierr.Wrap(apierr.ReadWriteFailure, openErr, "failed to read uploaded file"))
			return
		}
		defer f.Close()

		name := file.Filename
		fileName = &name
		key := fmt.Sprintf("imports/%s/%s", jobID, name)
		mimeType := file.Header.Get("Content-Type")
		result, apiErr = intake.Upload(s.importStorage, key, mimeType, file.Size, s.cfg.ImportMaxFileSize, f)
	} else {
		var req createImportRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.URL == "" {
			respondError(c, apierr.New(apierr.MissingRequiredField, "request must include a file upload or a url"))
			return
		}
		resourceRaw = req.Resource
		formatRaw = req.Format
		sourceType = job.SourceURL

		key := fmt.Sprintf("imports/%s/remote", jobID)
		result, apiErr = intake.RemoteFetch(ctx, s.importStorage, key, req.URL, s.cfg.ImportAllowedHosts, s.cfg.ImportMaxFileSize, s.cfg.RemoteFetchTimeout)
	}

	if apiErr != nil {
		respondError(c, apiErr)
		return
	}

	resource, ok := parseResource(resourceRaw)
	if !ok {
		s.importStorage.Delete(result.Location)
		respondError(c, apierr.New(apierr.UnsupportedResource, "unrecognized resource").WithField("resource"))
		return
	}
	format := parseFormat(formatRaw)

	fileSize := result.FileSize
	requestHash := hashRequest(owner, string(resource), string(sourceType), result.Location)

	build := func() *job.Job {
		return &job.Job{
			ID:             jobID,
			OwnerID:        owner,
			Kind:           job.KindImport,
			Resource:       resource,
			Format:         format,
			Status:         job.StatusQueued,
			CreatedAt:      time.Now(),
			IdempotencyKey: &idemKey,
			RequestHash:    &requestHash,
			Import: &job.ImportFields{
				SourceType:     sourceType,
				SourceLocation: result.Location,
				FileName:       fileName,
				FileSize:       &fileSize,
			},
		}
	}

	j, created, err := s.engine.CreateIdempotent(ctx, owner, resource, &idemKey, build)
	if err != nil {
		s.importStorage.Delete(result.Location)
		respondError(c, apierr.Wrap(apierr.DatabaseError, err, "failed to create import job"))
		return
	}

	if !created {
		// Idempotent hit: this request's upload was redundant.
		s.importStorage.Delete(result.Location)
		c.JSON(http.StatusOK, newJobResponse(j))
		return
	}

	if err := s.queue.Enqueue(ctx, j); err != nil {
		s.engine.MarkEnqueueFailed(ctx, j)
		s.metrics.RecordEnqueue(string(job.KindImport), "failed")
		respondError(c, apierr.Wrap(apierr.QueueError, err, "failed to enqueue import job"))
		return
	}
	s.metrics.RecordEnqueue(string(job.KindImport), "success")

	c.JSON(http.StatusAccepted, newJobResponse(j))
}

// GetImport handles GET /v1/imports/:jobId.
func (s *Server) GetImport(c *gin.Context) {
	j, err := s.jobRepo.FindByID(c.Request.Context(), ownerID(c), c.Param("jobId"))
	if err != nil {
		respondNotFound(c, "import job not found")
		return
	}
	c.JSON(http.StatusOK, newJobResponse(j))
}

// CancelImport handles POST /v1/imports/:jobId/cancel, an additive
// surface over postgres.JobRepository.RequestCancellation: any owner-scoped
// caller may request cancellation of their own non-terminal job.
func (s *Server) CancelImport(c *gin.Context) {
	s.cancelJob(c)
}

// DownloadImportErrors handles GET /v1/imports/:jobId/errors/download,
// streaming the generated error-report artifact.
func (s *Server) DownloadImportErrors(c *gin.Context) {
	j, err := s.jobRepo.FindByID(c.Request.Context(), ownerID(c), c.Param("jobId"))
	if err != nil {
		respondNotFound(c, "import job not found")
		return
	}
	if j.Import == nil || j.Import.ErrorSummary == nil || j.Import.ErrorSummary.ReportLocation == "" {
		if !j.Status.Terminal() {
			respondError(c, apierr.New(apierr.DownloadNotReady, "error report is not ready yet"))
			return
		}
		respondNotFound(c, "no error report for this job")
		return
	}

	rc, err := s.errorStorage.CreateReadStream(j.Import.ErrorSummary.ReportLocation)
	if err != nil {
		respondError(c, apierr.Wrap(apierr.StorageError, err, "failed to open error report"))
		return
	}
	defer rc.Close()

	c.Header("Content-Type", "application/x-ndjson")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		s.logger.Warn("error report stream interrupted")
	}
}

func parseResource(raw string) (job.Resource, bool) {
	switch job.Resource(raw) {
	case job.ResourceUsers, job.ResourceArticles, job.ResourceComments:
		return job.Resource(raw), true
	default:
		return "", false
	}
}

func parseFormat(raw string) job.Format {
	switch job.Format(raw) {
	case job.FormatJSON:
		return job.FormatJSON
	case job.FormatNDJSON:
		return job.FormatNDJSON
	default:
		return ""
	}
}

// hashRequest computes the reserved requestHash field: an xxhash64 of
// the canonicalized request essentials. No lookup path consumes it yet;
// it's wired so the column isn't dead weight if one is added later.
func hashRequest(parts ...string) string {
	b, _ := json.Marshal(parts)
	return fmt.Sprintf("%016x", xxhash.Sum64(b))
}
