package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/richardliu001/gaming-ingest/internal/model"
)

// CSVSource reads a header-driven CSV file. Header names are trimmed,
// lower-cased and have spaces replaced by underscores before matching.
type CSVSource struct {
	r      *csv.Reader
	closer io.Closer
	cols   []string
	line   int64
	tag    string
}

// NewCSVSource reads the header row immediately.
func NewCSVSource(rc io.ReadCloser, tag string) (*CSVSource, error) {
	cr := csv.NewReader(rc)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	hdr, err := cr.Read()
	if err != nil {
		rc.Close()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read header: empty input")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make([]string, len(hdr))
	for i, h := range hdr {
		h = strings.TrimSpace(h)
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		cols[i] = strings.ReplaceAll(strings.ToLower(h), " ", "_")
	}
	return &CSVSource{r: cr, closer: rc, cols: cols, line: 1, tag: tag}, nil
}

// Columns returns the normalised header.
func (s *CSVSource) Columns() []string { return s.cols }

func (s *CSVSource) Next(ctx context.Context) (model.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.RawRecord{}, err
	}
	rec, err := s.r.Read()
	s.line++
	if err == io.EOF {
		return model.RawRecord{}, io.EOF
	}
	if err != nil {
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			return model.RawRecord{}, &ParseError{Line: s.line, Raw: strings.Join(rec, ","), Err: err}
		}
		return model.RawRecord{}, err
	}

	fields := make(map[string]string, len(s.cols))
	for i, c := range s.cols {
		if i < len(rec) {
			fields[c] = rec[i]
		}
	}
	raw := withDefaultSource(model.RawFromFields(fields), s.tag)
	raw.Line = s.line
	return raw, nil
}

func (s *CSVSource) Close() error { return s.closer.Close() }
