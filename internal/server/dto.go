package server

import (
	"time"

	"github.com/artemis/databridge/internal/job"
)

// jobResponse is the wire shape returned by every job status/creation
// endpoint. Fields that don't apply to a job's kind are omitted rather
// than sent as null or zero.
type jobResponse struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Resource string `json:"resource"`
	Format   string `json:"format"`
	Status   string `json:"status"`

	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`

	TotalRecords     *int `json:"totalRecords,omitempty"`
	ProcessedRecords int  `json:"processedRecords"`
	SuccessCount     *int `json:"successCount,omitempty"`
	ErrorCount       *int `json:"errorCount,omitempty"`

	// export-only
	Filters     map[string]any `json:"filters,omitempty"`
	Fields      []string       `json:"fields,omitempty"`
	DownloadURL *string        `json:"downloadUrl,omitempty"`
	FileSize    *int64         `json:"fileSize,omitempty"`
	ExpiresAt   *time.Time     `json:"expiresAt,omitempty"`
	Truncated   bool           `json:"truncated,omitempty"`
	TruncReason *string        `json:"truncReason,omitempty"`
	RecordLimit *int           `json:"recordLimit,omitempty"`

	// import-only
	SourceType   string             `json:"sourceType,omitempty"`
	FileName     *string            `json:"fileName,omitempty"`
	ErrorSummary *job.ErrorSummary  `json:"errorSummary,omitempty"`
}

func newJobResponse(j *job.Job) jobResponse {
	resp := jobResponse{
		ID:               j.ID,
		Kind:             string(j.Kind),
		Resource:         string(j.Resource),
		Format:           string(j.Format),
		Status:           string(j.Status),
		CreatedAt:        j.CreatedAt,
		StartedAt:        j.StartedAt,
		FinishedAt:       j.FinishedAt,
		TotalRecords:     j.TotalRecords,
		ProcessedRecords: j.ProcessedRecords,
		SuccessCount:     j.SuccessCount,
		ErrorCount:       j.ErrorCount,
	}

	if j.Export != nil {
		resp.Filters = j.Export.Filters
		resp.Fields = j.Export.Fields
		resp.DownloadURL = j.Export.DownloadURL
		resp.FileSize = j.Export.FileSize
		resp.ExpiresAt = j.Export.ExpiresAt
		resp.Truncated = j.Export.Truncated
		resp.TruncReason = j.Export.TruncReason
		resp.RecordLimit = j.Export.RecordLimit
	}

	if j.Import != nil {
		resp.SourceType = string(j.Import.SourceType)
		resp.FileName = j.Import.FileName
		resp.ErrorSummary = j.Import.ErrorSummary.Sanitized()
	}

	return resp
}
