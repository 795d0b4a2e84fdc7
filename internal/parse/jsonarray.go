package parse

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/artemis/databridge/internal/apierr"
)

// JSONArrayParser decodes a top-level JSON array one element at a time via
// encoding/json.Decoder's token stream, never materializing the whole
// document. No pack repo streams a JSON array element-by-element;
// encoding/json.Decoder.Token is the standard library's own tool for this,
// and every pack repo that touches JSON at all reaches for encoding/json,
// so this stays on the standard library rather than importing a
// third-party streaming-JSON decoder.
type JSONArrayParser struct {
	dec        *json.Decoder
	maxRecords int
	count      int
	opened     bool
	done       bool
}

// NewJSONArrayParser wraps r. maxRecords <= 0 means unbounded.
func NewJSONArrayParser(r io.Reader, maxRecords int) *JSONArrayParser {
	return &JSONArrayParser{dec: json.NewDecoder(r), maxRecords: maxRecords}
}

// Next returns the next array element, or (nil, io.EOF) once the closing
// bracket is consumed.
func (p *JSONArrayParser) Next() (*Record, error) {
	if p.done {
		return nil, io.EOF
	}

	if !p.opened {
		tok, err := p.dec.Token()
		if err != nil {
			p.done = true
			return nil, apierr.Wrap(apierr.ParseError, err, "failed to read top-level JSON token")
		}
		delim, ok := tok.(json.Delim)
		if !ok || delim != '[' {
			p.done = true
			return nil, apierr.New(apierr.ParseError, "top-level JSON value is not an array")
		}
		p.opened = true
	}

	if !p.dec.More() {
		p.done = true
		// consume the closing ']'
		if _, err := p.dec.Token(); err != nil && !errors.Is(err, io.EOF) {
			return nil, apierr.Wrap(apierr.ParseError, err, "failed to read closing array token")
		}
		return nil, io.EOF
	}

	var value map[string]any
	if err := p.dec.Decode(&value); err != nil {
		p.done = true
		return nil, apierr.Wrap(apierr.ParseError, err, fmt.Sprintf("invalid JSON at array element %d", p.count))
	}

	if p.maxRecords > 0 && p.count+1 > p.maxRecords {
		p.done = true
		return nil, apierr.Newf(apierr.TooManyRecords, "exceeds maximum of %d records", p.maxRecords)
	}

	rec := &Record{Value: value, Index: p.count}
	p.count++
	return rec, nil
}
