package source

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/richardliu001/gaming-ingest/internal/model"
)

// maxLineBytes caps one record. Longer lines are skipped and reported as
// unparseable.
var maxLineBytes = 1 << 20

// ErrLineTooLong is the cause of a ParseError for an oversized line.
var ErrLineTooLong = errors.New("line exceeds maximum record size")

type lineResult struct {
	text    string
	tooLong bool
	err     error
}

// LineSource reads one JSON object per line. Reads happen on a background
// goroutine so Next can give up when its context expires and the next call
// picks up the pending line.
type LineSource struct {
	lines chan lineResult
	stop  chan struct{}
	once  sync.Once
	line  int64
	tag   string
}

func NewLineSource(r io.Reader, tag string) *LineSource {
	s := &LineSource{lines: make(chan lineResult), stop: make(chan struct{}), tag: tag}
	go s.scan(r)
	return s
}

func (s *LineSource) scan(r io.Reader) {
	defer close(s.lines)
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		res, err := readLine(br)
		if err != nil && res.text == "" && !res.tooLong {
			if err != io.EOF {
				s.send(lineResult{err: err})
			}
			return
		}
		if !s.send(res) {
			return
		}
		if err != nil {
			if err != io.EOF {
				s.send(lineResult{err: err})
			}
			return
		}
	}
}

func (s *LineSource) send(res lineResult) bool {
	select {
	case s.lines <- res:
		return true
	case <-s.stop:
		return false
	}
}

// readLine returns the next line without its terminator. Bytes past
// maxLineBytes are discarded up to the newline.
func readLine(br *bufio.Reader) (lineResult, error) {
	var buf []byte
	var res lineResult
	for {
		frag, err := br.ReadSlice('\n')
		if !res.tooLong {
			if len(buf)+len(frag) > maxLineBytes+1 {
				res.tooLong = true
				buf = append(buf, frag...)[:min(len(buf)+len(frag), 64)]
			} else {
				buf = append(buf, frag...)
			}
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if res.tooLong {
			res.text = string(buf)
		} else {
			res.text = strings.TrimRight(string(buf), "\r\n")
		}
		return res, err
	}
}

func (s *LineSource) Next(ctx context.Context) (model.RawRecord, error) {
	for {
		select {
		case <-ctx.Done():
			return model.RawRecord{}, ctx.Err()
		case res, ok := <-s.lines:
			if !ok {
				return model.RawRecord{}, io.EOF
			}
			if res.err != nil {
				return model.RawRecord{}, res.err
			}
			s.line++
			if res.tooLong {
				return model.RawRecord{}, &ParseError{Line: s.line, Raw: res.text, Err: ErrLineTooLong}
			}
			text := strings.TrimSpace(res.text)
			if text == "" {
				continue
			}
			raw, err := DecodeJSON([]byte(text))
			if err != nil {
				return model.RawRecord{}, &ParseError{Line: s.line, Raw: text, Err: err}
			}
			raw = withDefaultSource(raw, s.tag)
			raw.Line = s.line
			return raw, nil
		}
	}
}

// Close stops the reader goroutine once its current read returns.
func (s *LineSource) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}
