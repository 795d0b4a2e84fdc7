package parse

import (
	"io"
	"strings"
	"testing"

	"github.com/artemis/databridge/internal/apierr"
	"github.com/artemis/databridge/internal/job"
)

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		name     string
		persisted job.Format
		fileName string
		want     job.Format
	}{
		{"persisted wins", job.FormatJSON, "data.ndjson", job.FormatJSON},
		{"ndjson extension", "", "data.ndjson", job.FormatNDJSON},
		{"jsonl extension", "", "data.jsonl", job.FormatNDJSON},
		{"json extension", "", "data.JSON", job.FormatJSON},
		{"unknown extension defaults ndjson", "", "data.csv", job.FormatNDJSON},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DetectFormat(tc.persisted, tc.fileName)
			if got != tc.want {
				t.Errorf("DetectFormat(%q, %q) = %q, want %q", tc.persisted, tc.fileName, got, tc.want)
			}
		})
	}
}

func TestNDJSONParser(t *testing.T) {
	input := "{\"a\":1}\n\n{\"a\":2}\n"
	p := NewNDJSONParser(strings.NewReader(input), 0)

	rec, err := p.Next()
	if err != nil {
		t.Fatalf("first record: %v", err)
	}
	if rec.Index != 0 || rec.Value["a"].(float64) != 1 {
		t.Errorf("unexpected first record: %+v", rec)
	}

	rec, err = p.Next()
	if err != nil {
		t.Fatalf("second record: %v", err)
	}
	if rec.Index != 1 {
		t.Errorf("expected index 1, got %d", rec.Index)
	}

	if _, err := p.Next(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestNDJSONParserInvalidJSON(t *testing.T) {
	p := NewNDJSONParser(strings.NewReader("{not json}\n"), 0)
	_, err := p.Next()
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Code != apierr.ParseError {
		t.Fatalf("expected ParseError, got %v", err)
	}
}

func TestNDJSONParserMaxRecords(t *testing.T) {
	p := NewNDJSONParser(strings.NewReader("{\"a\":1}\n{\"a\":2}\n"), 1)
	if _, err := p.Next(); err != nil {
		t.Fatalf("first record: %v", err)
	}
	_, err := p.Next()
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Code != apierr.TooManyRecords {
		t.Fatalf("expected TooManyRecords, got %v", err)
	}
}

func TestJSONArrayParser(t *testing.T) {
	p := NewJSONArrayParser(strings.NewReader(`[{"a":1},{"a":2}]`), 0)

	rec, err := p.Next()
	if err != nil {
		t.Fatalf("first record: %v", err)
	}
	if rec.Index != 0 {
		t.Errorf("expected index 0, got %d", rec.Index)
	}

	rec, err = p.Next()
	if err != nil {
		t.Fatalf("second record: %v", err)
	}
	if rec.Index != 1 {
		t.Errorf("expected index 1, got %d", rec.Index)
	}

	if _, err := p.Next(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestJSONArrayParserNotAnArray(t *testing.T) {
	p := NewJSONArrayParser(strings.NewReader(`{"a":1}`), 0)
	_, err := p.Next()
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Code != apierr.ParseError {
		t.Fatalf("expected ParseError, got %v", err)
	}
}

func TestJSONArrayParserEmptyArray(t *testing.T) {
	p := NewJSONArrayParser(strings.NewReader(`[]`), 0)
	if _, err := p.Next(); err != io.EOF {
		t.Errorf("expected io.EOF on empty array, got %v", err)
	}
}
