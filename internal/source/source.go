// Package source produces raw records for the ingestion pipeline. A source
// is the consume side of an event channel: a file, a pipe or a broker topic.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/richardliu001/gaming-ingest/internal/model"
)

// Source yields records one at a time. Next returns io.EOF when the input is
// exhausted, a *ParseError for an undecodable record (the run continues), and
// the context's error when ctx expires before a record arrives.
type Source interface {
	Next(ctx context.Context) (model.RawRecord, error)
}

// Committer is implemented by sources that must acknowledge input once the
// records read so far are durably loaded.
type Committer interface {
	Commit(ctx context.Context) error
}

// ParseError is a record that could not be decoded.
type ParseError struct {
	Line int64
	Raw  string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// DecodeJSON turns one JSON object into a RawRecord. Keys are matched
// case-insensitively; numbers keep their textual form.
func DecodeJSON(data []byte) (model.RawRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return model.RawRecord{}, err
	}
	if obj == nil {
		return model.RawRecord{}, fmt.Errorf("not a JSON object")
	}
	if _, err := dec.Token(); err != io.EOF {
		return model.RawRecord{}, fmt.Errorf("trailing data after JSON object")
	}
	fields := make(map[string]string, len(obj))
	for k, v := range obj {
		fields[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(model.Stringify(v))
	}
	return model.RawFromFields(fields), nil
}

func withDefaultSource(raw model.RawRecord, tag string) model.RawRecord {
	if raw.Source == "" {
		raw.Source = tag
	}
	return raw
}
