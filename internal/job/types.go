// Package job implements the job lifecycle engine: claim, cancellation
// polling, finalization, and idempotent creation for import/export job
// rows.
package job

import "time"

// Kind distinguishes an import job from an export job.
type Kind string

const (
	KindImport Kind = "import"
	KindExport Kind = "export"
)

// Resource names one of the three entity families this core moves.
type Resource string

const (
	ResourceUsers    Resource = "users"
	ResourceArticles Resource = "articles"
	ResourceComments Resource = "comments"
)

// Format is the wire shape a job reads or writes.
type Format string

const (
	FormatNDJSON Format = "ndjson"
	FormatJSON   Format = "json"
)

// Status is a job's position in the lifecycle DAG:
// queued -> running -> {succeeded, partial, failed, cancelled}; cancelled
// may also be entered directly from queued.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusPartial   Status = "partial"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether status is one a job never leaves.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusPartial, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// SourceType distinguishes an uploaded import source from a remote URL.
type SourceType string

const (
	SourceUpload SourceType = "upload"
	SourceURL    SourceType = "url"
)

// Job is the common core shared by every job row, regardless of kind.
type Job struct {
	ID      string
	OwnerID string
	Kind    Kind
	Resource Resource
	Format  Format
	Status  Status

	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time

	TotalRecords     *int
	ProcessedRecords int
	SuccessCount     *int // import only
	ErrorCount       *int // import only

	IdempotencyKey *string
	RequestHash    *string

	Export *ExportFields
	Import *ImportFields
}

// ExportFields holds the fields an export job carries in addition to the
// common core.
type ExportFields struct {
	Filters        map[string]any
	Fields         []string
	OutputLocation *string
	DownloadURL    *string
	FileSize       *int64
	ExpiresAt      *time.Time
	Truncated      bool
	TruncReason    *string // set alongside Truncated, e.g. "max_records_reached"
	RecordLimit    *int
}

// ImportFields holds the fields an import job carries in addition to the
// common core.
type ImportFields struct {
	SourceType     SourceType
	SourceLocation string
	FileName       *string
	FileSize       *int64
	ErrorSummary   *ErrorSummary
}

// ErrorSummary is the structured value persisted on an import job.
// ReportLocation is internal-only and MUST be stripped before the summary
// crosses the API boundary (see Sanitized, used by the server's job
// responses).
type ErrorSummary struct {
	ReportStatus           string `json:"reportStatus"`
	PersistedErrorCount    int    `json:"persistedErrorCount"`
	PersistenceFailures    int    `json:"persistenceFailures"`
	ReportLocation         string `json:"reportLocation"`
	ReportFormat           string `json:"reportFormat"`
	ReportGenerationFailed bool   `json:"reportGenerationFailed"`
}

// Sanitized returns a copy of the summary with ReportLocation cleared, for
// any path that crosses the public API.
func (s *ErrorSummary) Sanitized() *ErrorSummary {
	if s == nil {
		return nil
	}
	c := *s
	c.ReportLocation = ""
	return &c
}

// ImportError is a single journaled per-record (or, at index -1,
// whole-job-fatal) error row.
type ImportError struct {
	ID          string
	JobID       string
	RecordIndex int // -1 reserved for fatal non-record-scoped errors
	RecordID    *string
	ErrorCode   int
	ErrorName   string
	Message     string
	Field       *string
	Value       *string
	Details     map[string]any
	CreatedAt   time.Time
}
