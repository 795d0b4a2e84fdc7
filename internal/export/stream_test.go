package export

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/artemis/databridge/internal/job"
)

func TestWriterNDJSON(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, job.FormatNDJSON)

	if err := w.WriteRecords([]map[string]any{{"id": float64(1)}, {"id": float64(2)}}); err != nil {
		t.Fatalf("WriteRecords: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
}

func TestWriterNDJSONWithCursor(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, job.FormatNDJSON)
	if err := w.WriteRecords([]map[string]any{{"id": float64(1)}}); err != nil {
		t.Fatalf("WriteRecords: %v", err)
	}
	cursor := int64(42)
	if err := w.CloseWithCursor(&cursor); err != nil {
		t.Fatalf("CloseWithCursor: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	var trailer cursorLine
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &trailer); err != nil {
		t.Fatalf("unmarshal trailer: %v", err)
	}
	if trailer.Type != "cursor" || trailer.NextCursor == nil || *trailer.NextCursor != 42 {
		t.Errorf("unexpected trailer: %+v", trailer)
	}
}

func TestWriterJSONArray(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, job.FormatJSON)

	if err := w.WriteRecords([]map[string]any{{"id": float64(1)}, {"id": float64(2)}}); err != nil {
		t.Fatalf("WriteRecords: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var decoded struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("unmarshal output: %v (%q)", err, buf.String())
	}
	if len(decoded.Data) != 2 {
		t.Errorf("expected 2 records, got %d", len(decoded.Data))
	}
}

func TestWriterJSONArrayEmpty(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, job.FormatJSON)
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if buf.String() != `{"data":[]}` {
		t.Errorf("expected empty data array, got %q", buf.String())
	}
}

func TestWriterJSONArrayWithCursor(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, job.FormatJSON)
	if err := w.WriteRecords([]map[string]any{{"id": float64(1)}}); err != nil {
		t.Fatalf("WriteRecords: %v", err)
	}
	cursor := int64(7)
	if err := w.CloseWithCursor(&cursor); err != nil {
		t.Fatalf("CloseWithCursor: %v", err)
	}

	var decoded struct {
		Data       []map[string]any `json:"data"`
		NextCursor *int64           `json:"nextCursor"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("unmarshal output: %v (%q)", err, buf.String())
	}
	if decoded.NextCursor == nil || *decoded.NextCursor != 7 {
		t.Errorf("expected nextCursor 7, got %+v", decoded.NextCursor)
	}
}

func TestProject(t *testing.T) {
	rows := []map[string]any{{"id": 1, "name": "a", "secret": "x"}}

	all := project(rows, nil)
	if len(all[0]) != 3 {
		t.Errorf("expected all fields passed through, got %+v", all[0])
	}

	projected := project(rows, []string{"id", "name"})
	if len(projected[0]) != 2 {
		t.Errorf("expected 2 projected fields, got %+v", projected[0])
	}
	if _, ok := projected[0]["secret"]; ok {
		t.Error("secret field should have been dropped by projection")
	}
}
