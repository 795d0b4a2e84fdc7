// Package export drives the cursor-paginated read path shared by the live
// streaming endpoint and the storage-backed full-job export.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/artemis/databridge/internal/job"
	"github.com/artemis/databridge/internal/store/postgres"
)

// ErrCancelled is returned by onProgress to signal cooperative
// cancellation; Run stops cleanly, closes the writer's framing, and
// reports it distinctly from a genuine fetch/write failure.
var ErrCancelled = errors.New("export run cancelled")

// Page is one fetched-and-projected batch plus the cursor to resume from.
type Page struct {
	Records    []map[string]any
	NextCursor int64
	Done       bool
}

// Fetch reads the next page of resource rows after afterID and applies
// field projection. Done is true once a short page signals the cursor has
// reached the end of the table.
func Fetch(ctx context.Context, repo *postgres.ExportRepo, resource job.Resource, afterID int64, limit int, filters map[string]any, fields []string) (Page, error) {
	rows, lastID, err := repo.Page(ctx, resource, afterID, limit, filters)
	if err != nil {
		return Page{}, err
	}
	return Page{
		Records:    project(rows, fields),
		NextCursor: lastID,
		Done:       len(rows) < limit,
	}, nil
}

func project(rows []map[string]any, fields []string) []map[string]any {
	if len(fields) == 0 {
		return rows
	}
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		m := make(map[string]any, len(fields))
		for _, f := range fields {
			if v, ok := r[f]; ok {
				m[f] = v
			}
		}
		out[i] = m
	}
	return out
}

// Writer incrementally serializes export records to an underlying
// io.Writer in NDJSON or JSON-array form, one record at a time, so a page
// of rows never needs to sit fully marshaled in memory.
type Writer struct {
	w      io.Writer
	format job.Format
	opened bool
}

// NewWriter wraps w. format defaults to NDJSON for any value other than
// job.FormatJSON.
func NewWriter(w io.Writer, format job.Format) *Writer {
	return &Writer{w: w, format: format}
}

// WriteRecords writes each record in order, stopping at the first error.
func (sw *Writer) WriteRecords(records []map[string]any) error {
	for _, rec := range records {
		if err := sw.writeOne(rec); err != nil {
			return err
		}
	}
	return nil
}

func (sw *Writer) writeOne(rec map[string]any) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal export record: %w", err)
	}

	if sw.format != job.FormatJSON {
		if _, err := sw.w.Write(data); err != nil {
			return err
		}
		_, err := io.WriteString(sw.w, "\n")
		return err
	}

	if !sw.opened {
		if _, err := io.WriteString(sw.w, `{"data":[`); err != nil {
			return err
		}
		sw.opened = true
	} else {
		if _, err := io.WriteString(sw.w, ","); err != nil {
			return err
		}
	}
	_, err = sw.w.Write(data)
	return err
}

// Close finishes the wire framing for an artifact write (no trailing
// cursor line/key). NDJSON needs no trailer. A JSON object that was
// opened gets its closing "]}"; one that was never opened (zero records
// written, or a failure before the first record) still gets a
// synthesized "{"data":[]}" so the response is valid JSON either way.
func (sw *Writer) Close() error {
	if sw.format != job.FormatJSON {
		return nil
	}
	if !sw.opened {
		_, err := io.WriteString(sw.w, `{"data":[]}`)
		return err
	}
	_, err := io.WriteString(sw.w, "]}")
	return err
}

// CloseWithCursor finishes the wire framing for the live streaming
// endpoint, which carries nextCursor alongside the artifact form: for
// NDJSON a trailing `{"_type":"cursor","nextCursor":...}` line, for JSON
// a "nextCursor" key inside the closing object.
func (sw *Writer) CloseWithCursor(nextCursor *int64) error {
	if sw.format != job.FormatJSON {
		line, err := json.Marshal(cursorLine{Type: "cursor", NextCursor: nextCursor})
		if err != nil {
			return fmt.Errorf("marshal cursor line: %w", err)
		}
		if _, err := sw.w.Write(line); err != nil {
			return err
		}
		_, err = io.WriteString(sw.w, "\n")
		return err
	}

	cursorJSON, err := json.Marshal(nextCursor)
	if err != nil {
		return fmt.Errorf("marshal next cursor: %w", err)
	}
	if !sw.opened {
		_, err := io.WriteString(sw.w, `{"data":[],"nextCursor":`+string(cursorJSON)+"}")
		return err
	}
	_, err = io.WriteString(sw.w, `],"nextCursor":`+string(cursorJSON)+"}")
	return err
}

type cursorLine struct {
	Type       string `json:"_type"`
	NextCursor *int64 `json:"nextCursor"`
}

// Result reports how much of a cursor-paginated run completed.
type Result struct {
	ProcessedRecords int
	LastID           int64
	Truncated        bool
	Cancelled        bool
	// TotalRecords is only set alongside Truncated: true, and only once the
	// lookahead fetch in Run has actually confirmed a record beyond the cap
	// exists. It reports the confirmed lower bound (maxRecords plus the one
	// extra row fetched to prove truncation), not a table-wide count.
	TotalRecords *int
}

// Run drives afterID forward through successive Fetch/WriteRecords calls
// until either a short page signals the cursor is exhausted or maxRecords
// is reached. Once the remaining budget for a page is within reach of the
// cap, Run asks for one record beyond it (remaining+1) so it can tell a
// source that ends exactly at maxRecords apart from one that keeps going:
// only a lookahead page that actually returns that extra row sets
// Truncated, and the unwritten lookahead row is dropped before the writer
// ever sees it. onProgress, if non-nil, is called after every written page
// with the cumulative record count, except the final page of a truncated
// run, after which Run returns straight away; returning an error from it
// aborts the run.
//
// The writer's framing is always closed before Run returns, success or
// failure, so a mid-run fetch or write error still leaves the client with
// parseable output for everything streamed so far.
func Run(ctx context.Context, repo *postgres.ExportRepo, sw *Writer, resource job.Resource, filters map[string]any, fields []string, pageSize, maxRecords int, onProgress func(processed int) error) (Result, error) {
	var afterID int64
	var processed int

	for {
		if err := ctx.Err(); err != nil {
			sw.Close()
			return Result{ProcessedRecords: processed, LastID: afterID}, err
		}

		remaining := maxRecords - processed
		if remaining <= 0 {
			sw.Close()
			return Result{ProcessedRecords: processed, LastID: afterID, Truncated: true}, nil
		}
		limit := pageSize
		lookahead := false
		if limit >= remaining {
			limit = remaining + 1
			lookahead = true
		}

		page, err := Fetch(ctx, repo, resource, afterID, limit, filters, fields)
		if err != nil {
			sw.Close()
			return Result{ProcessedRecords: processed, LastID: afterID}, fmt.Errorf("fetch export page: %w", err)
		}

		if lookahead && len(page.Records) > remaining {
			if err := sw.WriteRecords(page.Records[:remaining]); err != nil {
				sw.Close()
				return Result{ProcessedRecords: processed, LastID: afterID}, fmt.Errorf("write export page: %w", err)
			}
			processed += remaining
			sw.Close()
			total := processed + 1
			return Result{ProcessedRecords: processed, LastID: afterID, Truncated: true, TotalRecords: &total}, nil
		}

		if err := sw.WriteRecords(page.Records); err != nil {
			sw.Close()
			return Result{ProcessedRecords: processed, LastID: afterID}, fmt.Errorf("write export page: %w", err)
		}

		processed += len(page.Records)
		if page.NextCursor > afterID {
			afterID = page.NextCursor
		}

		if onProgress != nil {
			if err := onProgress(processed); err != nil {
				sw.Close()
				if errors.Is(err, ErrCancelled) {
					return Result{ProcessedRecords: processed, LastID: afterID, Cancelled: true}, nil
				}
				return Result{ProcessedRecords: processed, LastID: afterID}, err
			}
		}

		if page.Done {
			break
		}
	}

	if err := sw.Close(); err != nil {
		return Result{}, fmt.Errorf("close export writer: %w", err)
	}
	return Result{ProcessedRecords: processed, LastID: afterID}, nil
}
