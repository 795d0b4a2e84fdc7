package parse

import (
	"io"
	"strings"

	"github.com/artemis/databridge/internal/job"
)

// Parser is the common shape both concrete parsers satisfy: a finite,
// non-restartable lazy sequence of records.
type Parser interface {
	Next() (*Record, error)
}

// New builds the parser matching format.
func New(format job.Format, r io.Reader, maxRecords int) Parser {
	if format == job.FormatJSON {
		return NewJSONArrayParser(r, maxRecords)
	}
	return NewNDJSONParser(r, maxRecords)
}

// DetectFormat resolves a parse format: persisted format wins; otherwise
// infer from the filename extension
// (.ndjson|.jsonl -> ndjson, .json -> json).
func DetectFormat(persisted job.Format, fileName string) job.Format {
	if persisted != "" {
		return persisted
	}
	lower := strings.ToLower(fileName)
	switch {
	case strings.HasSuffix(lower, ".ndjson"), strings.HasSuffix(lower, ".jsonl"):
		return job.FormatNDJSON
	case strings.HasSuffix(lower, ".json"):
		return job.FormatJSON
	default:
		return job.FormatNDJSON
	}
}
