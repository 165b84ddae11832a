package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/richardliu001/gaming-ingest/internal/model"
)

// Reason records which trigger flushed a batch.
type Reason string

const (
	ReasonSize    Reason = "size"
	ReasonTimeout Reason = "timeout"
	ReasonClose   Reason = "flush_on_close"
)

// State of the accumulator.
type State int

const (
	StateOpen State = iota
	StateFlushing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateFlushing:
		return "FLUSHING"
	case StateClosed:
		return "CLOSED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	// ErrClosed is returned by Add once the accumulator reached CLOSED.
	ErrClosed = errors.New("batch: accumulator closed")
	// ErrFlushing is returned when Add or Tick re-enter during a flush.
	ErrFlushing = errors.New("batch: flush in progress")
)

// Batch is an ordered run of resolved events, flushed exactly once.
type Batch struct {
	Seq      int
	Events   []model.TransactionEvent
	OpenedAt time.Time
	Reason   Reason
}

func (b *Batch) Len() int { return len(b.Events) }

// FlushFunc receives every batch in creation order.
type FlushFunc func(ctx context.Context, b *Batch) error

// Accumulator buffers events and flushes on whichever of size or age is hit
// first. OpenedAt is stamped by the first event of a batch, so an idle empty
// batch never times out. Not safe for concurrent use.
type Accumulator struct {
	maxSize int
	maxWait time.Duration
	flush   FlushFunc
	now     func() time.Time

	state State
	cur   *Batch
	seq   int
}

// Option customises an Accumulator.
type Option func(*Accumulator)

// WithClock replaces time.Now for stamping OpenedAt.
func WithClock(now func() time.Time) Option {
	return func(a *Accumulator) { a.now = now }
}

// NewAccumulator returns an OPEN accumulator.
func NewAccumulator(maxSize int, maxWait time.Duration, flush FlushFunc, opts ...Option) *Accumulator {
	a := &Accumulator{maxSize: maxSize, maxWait: maxWait, flush: flush, now: time.Now}
	for _, o := range opts {
		o(a)
	}
	a.open()
	return a
}

func (a *Accumulator) open() {
	a.seq++
	a.cur = &Batch{Seq: a.seq}
	a.state = StateOpen
}

// State reports the current state.
func (a *Accumulator) State() State { return a.state }

// Pending is the number of events in the open batch.
func (a *Accumulator) Pending() int {
	if a.cur == nil {
		return 0
	}
	return len(a.cur.Events)
}

// Add appends ev and flushes with ReasonSize when the batch is full.
func (a *Accumulator) Add(ctx context.Context, ev model.TransactionEvent) error {
	switch a.state {
	case StateClosed:
		return ErrClosed
	case StateFlushing:
		return ErrFlushing
	}
	if len(a.cur.Events) == 0 {
		a.cur.OpenedAt = a.now()
	}
	a.cur.Events = append(a.cur.Events, ev)
	if len(a.cur.Events) >= a.maxSize {
		return a.doFlush(ctx, ReasonSize)
	}
	return nil
}

// Tick flushes a non-empty batch with ReasonTimeout once it is maxWait old.
// It reports whether a flush happened.
func (a *Accumulator) Tick(ctx context.Context, now time.Time) (bool, error) {
	if a.state != StateOpen || len(a.cur.Events) == 0 {
		return false, nil
	}
	if now.Sub(a.cur.OpenedAt) < a.maxWait {
		return false, nil
	}
	return true, a.doFlush(ctx, ReasonTimeout)
}

// Deadline is when the open batch times out; false while it is empty.
func (a *Accumulator) Deadline() (time.Time, bool) {
	if a.state != StateOpen || len(a.cur.Events) == 0 {
		return time.Time{}, false
	}
	return a.cur.OpenedAt.Add(a.maxWait), true
}

// Close flushes a non-empty batch with ReasonClose and moves to CLOSED.
// Closing twice is a no-op.
func (a *Accumulator) Close(ctx context.Context) error {
	switch a.state {
	case StateClosed:
		return nil
	case StateFlushing:
		return ErrFlushing
	}
	var err error
	if len(a.cur.Events) > 0 {
		err = a.doFlush(ctx, ReasonClose)
	}
	a.state = StateClosed
	a.cur = nil
	return err
}

func (a *Accumulator) doFlush(ctx context.Context, reason Reason) error {
	b := a.cur
	b.Reason = reason
	a.state = StateFlushing
	if err := a.flush(ctx, b); err != nil {
		a.state = StateClosed
		a.cur = nil
		return fmt.Errorf("flush batch %d (%s): %w", b.Seq, reason, err)
	}
	if reason == ReasonClose {
		return nil
	}
	a.open()
	return nil
}
