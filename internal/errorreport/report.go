// Package errorreport generates the durable, downloadable error report for
// a finished import job: every journaled per-record error, serialized and
// written to storage once the job's error rows are fully scanned.
package errorreport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/artemis/databridge/internal/job"
	"github.com/artemis/databridge/internal/storage"
	"github.com/artemis/databridge/internal/store/postgres"
)

const pageSize = 1000

// Generator scans an import job's error rows in ascending-id pages and
// writes them to storage.
type Generator struct {
	errRepo *postgres.ImportErrorRepository
	adapter storage.Adapter
	prefix  string
}

func NewGenerator(errRepo *postgres.ImportErrorRepository, adapter storage.Adapter, prefix string) *Generator {
	return &Generator{errRepo: errRepo, adapter: adapter, prefix: prefix}
}

// reportRow is the externally-facing shape of one journaled error: the
// internal row id and job id are dropped, only record-scoped detail
// survives to the downloadable report.
type reportRow struct {
	RecordIndex int            `json:"recordIndex"`
	RecordID    *string        `json:"recordId,omitempty"`
	ErrorCode   int            `json:"errorCode"`
	ErrorName   string         `json:"errorName"`
	Message     string         `json:"message"`
	Field       *string        `json:"field,omitempty"`
	Value       *string        `json:"value,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

// Generate writes every ImportError row for jobID to storage as one
// NDJSON object per line. failed is true when the scan or save could not
// complete; a report failure is never fatal to the job it describes, so
// the caller just records it in the job's error summary.
func (g *Generator) Generate(ctx context.Context, jobID string) (location string, failed bool, err error) {
	var buf bytes.Buffer
	afterID := ""
	for {
		rows, pageErr := g.errRepo.PageByJobID(ctx, jobID, afterID, pageSize)
		if pageErr != nil {
			return "", true, fmt.Errorf("page import errors for report: %w", pageErr)
		}
		if len(rows) == 0 {
			break
		}
		for _, r := range rows {
			if encErr := json.NewEncoder(&buf).Encode(toReportRow(r)); encErr != nil {
				return "", true, fmt.Errorf("encode report row: %w", encErr)
			}
		}
		afterID = rows[len(rows)-1].ID
		if len(rows) < pageSize {
			break
		}
	}

	key := fmt.Sprintf("%s/%s.ndjson", g.prefix, jobID)
	if _, err := g.adapter.SaveBuffer(key, buf.Bytes()); err != nil {
		return "", true, fmt.Errorf("save error report: %w", err)
	}
	return key, false, nil
}

func toReportRow(e *job.ImportError) reportRow {
	return reportRow{
		RecordIndex: e.RecordIndex,
		RecordID:    e.RecordID,
		ErrorCode:   e.ErrorCode,
		ErrorName:   e.ErrorName,
		Message:     e.Message,
		Field:       e.Field,
		Value:       e.Value,
		Details:     e.Details,
	}
}
