// Package parse implements constant-memory record parsers: a
// line-delimited NDJSON reader and an event-driven JSON-array reader, both
// finite, non-restartable lazy sequences producing (record, index) pairs.
package parse

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/artemis/databridge/internal/apierr"
)

// Record is one parsed element: the decoded object and its zero-based
// ordinal position in the source.
type Record struct {
	Value map[string]any
	Index int
}

const maxLineBytes = 16 * 1024 * 1024

// NDJSONParser reads line-delimited JSON, one value per line.
type NDJSONParser struct {
	scanner    *bufio.Scanner
	maxRecords int
	count      int
	line       int
	done       bool
}

// NewNDJSONParser wraps r. maxRecords <= 0 means unbounded.
func NewNDJSONParser(r io.Reader, maxRecords int) *NDJSONParser {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &NDJSONParser{scanner: scanner, maxRecords: maxRecords}
}

// Next returns the next record, or (nil, io.EOF) at end of input. A
// TOO_MANY_RECORDS or PARSE_ERROR apierr.Error aborts the sequence; callers
// MUST NOT call Next again afterward.
func (p *NDJSONParser) Next() (*Record, error) {
	if p.done {
		return nil, io.EOF
	}

	for p.scanner.Scan() {
		p.line++
		raw := strings.TrimRight(p.scanner.Text(), "\r")
		if strings.TrimSpace(raw) == "" {
			continue
		}

		var value map[string]any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			p.done = true
			return nil, apierr.Newf(apierr.ParseError, "invalid JSON at line %d", p.line).WithDetails(map[string]any{"line": p.line})
		}

		if p.maxRecords > 0 && p.count+1 > p.maxRecords {
			p.done = true
			return nil, apierr.Newf(apierr.TooManyRecords, "exceeds maximum of %d records", p.maxRecords)
		}

		rec := &Record{Value: value, Index: p.count}
		p.count++
		return rec, nil
	}

	p.done = true
	if err := p.scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, apierr.Newf(apierr.ParseError, "line %d exceeds maximum line length", p.line)
		}
		return nil, fmt.Errorf("read ndjson input: %w", err)
	}
	return nil, io.EOF
}
