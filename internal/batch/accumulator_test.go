package batch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/richardliu001/gaming-ingest/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	batches []*Batch
	err     error
}

func (r *recorder) flush(_ context.Context, b *Batch) error {
	if r.err != nil {
		return r.err
	}
	r.batches = append(r.batches, b)
	return nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func ev(id string) model.TransactionEvent { return model.TransactionEvent{EventID: id} }

func ids(b *Batch) []string {
	out := make([]string, 0, len(b.Events))
	for _, e := range b.Events {
		out = append(out, e.EventID)
	}
	return out
}

func TestAdd_SizeTriggerOnThirdEvent(t *testing.T) {
	rec := &recorder{}
	clk := &clock{t: t0}
	a := NewAccumulator(3, 5*time.Second, rec.flush, WithClock(clk.now))
	ctx := context.Background()

	require.NoError(t, a.Add(ctx, ev("a")))
	require.NoError(t, a.Add(ctx, ev("b")))
	assert.Empty(t, rec.batches)

	require.NoError(t, a.Add(ctx, ev("c")))
	require.Len(t, rec.batches, 1)
	assert.Equal(t, ReasonSize, rec.batches[0].Reason)
	assert.Equal(t, []string{"a", "b", "c"}, ids(rec.batches[0]))
	assert.Equal(t, StateOpen, a.State())
	assert.Equal(t, 0, a.Pending())
}

func TestTick_TimeoutTrigger(t *testing.T) {
	rec := &recorder{}
	clk := &clock{t: t0}
	a := NewAccumulator(100, 5*time.Second, rec.flush, WithClock(clk.now))
	ctx := context.Background()

	require.NoError(t, a.Add(ctx, ev("a")))

	flushed, err := a.Tick(ctx, t0.Add(4*time.Second))
	require.NoError(t, err)
	assert.False(t, flushed)

	flushed, err = a.Tick(ctx, t0.Add(6*time.Second))
	require.NoError(t, err)
	assert.True(t, flushed)
	require.Len(t, rec.batches, 1)
	assert.Equal(t, ReasonTimeout, rec.batches[0].Reason)
	assert.Equal(t, t0, rec.batches[0].OpenedAt)
}

func TestTick_EmptyBatchNeverFlushes(t *testing.T) {
	rec := &recorder{}
	a := NewAccumulator(10, time.Second, rec.flush)

	flushed, err := a.Tick(context.Background(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, flushed)
	_, ok := a.Deadline()
	assert.False(t, ok)
}

func TestDeadline_FollowsFirstEvent(t *testing.T) {
	clk := &clock{t: t0}
	a := NewAccumulator(10, 5*time.Second, (&recorder{}).flush, WithClock(clk.now))
	ctx := context.Background()

	require.NoError(t, a.Add(ctx, ev("a")))
	clk.t = t0.Add(3 * time.Second)
	require.NoError(t, a.Add(ctx, ev("b")))

	dl, ok := a.Deadline()
	require.True(t, ok)
	assert.Equal(t, t0.Add(5*time.Second), dl)
}

func TestClose_FlushesOnceAndRejectsAdds(t *testing.T) {
	rec := &recorder{}
	a := NewAccumulator(10, time.Minute, rec.flush)
	ctx := context.Background()

	require.NoError(t, a.Add(ctx, ev("a")))
	require.NoError(t, a.Close(ctx))
	require.Len(t, rec.batches, 1)
	assert.Equal(t, ReasonClose, rec.batches[0].Reason)
	assert.Equal(t, StateClosed, a.State())

	assert.ErrorIs(t, a.Add(ctx, ev("b")), ErrClosed)
	require.NoError(t, a.Close(ctx))
	assert.Len(t, rec.batches, 1, "second close must not flush again")
}

func TestClose_EmptyBatchDoesNotFlush(t *testing.T) {
	rec := &recorder{}
	a := NewAccumulator(2, time.Minute, rec.flush)
	ctx := context.Background()

	require.NoError(t, a.Add(ctx, ev("a")))
	require.NoError(t, a.Add(ctx, ev("b")))
	require.NoError(t, a.Close(ctx))
	require.Len(t, rec.batches, 1)
	assert.Equal(t, ReasonSize, rec.batches[0].Reason)
}

func TestBatchesFlushInCreationOrder(t *testing.T) {
	rec := &recorder{}
	clk := &clock{t: t0}
	a := NewAccumulator(2, 5*time.Second, rec.flush, WithClock(clk.now))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, a.Add(ctx, ev(fmt.Sprint(i))))
	}
	_, err := a.Tick(ctx, t0.Add(10*time.Second))
	require.NoError(t, err)
	require.NoError(t, a.Add(ctx, ev("5")))
	require.NoError(t, a.Close(ctx))

	require.Len(t, rec.batches, 4)
	var got []string
	for i, b := range rec.batches {
		assert.Equal(t, i+1, b.Seq)
		got = append(got, ids(b)...)
	}
	assert.Equal(t, []string{"0", "1", "2", "3", "4", "5"}, got)
	assert.Equal(t, []Reason{ReasonSize, ReasonSize, ReasonTimeout, ReasonClose},
		[]Reason{rec.batches[0].Reason, rec.batches[1].Reason, rec.batches[2].Reason, rec.batches[3].Reason})
}

func TestFlushErrorClosesAccumulator(t *testing.T) {
	boom := errors.New("db down")
	rec := &recorder{err: boom}
	a := NewAccumulator(1, time.Minute, rec.flush)
	ctx := context.Background()

	err := a.Add(ctx, ev("a"))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateClosed, a.State())
	assert.ErrorIs(t, a.Add(ctx, ev("b")), ErrClosed)
}

func TestAdd_DuringFlushIsRejected(t *testing.T) {
	var a *Accumulator
	var inner error
	a = NewAccumulator(1, time.Minute, func(ctx context.Context, b *Batch) error {
		inner = a.Add(ctx, ev("nested"))
		return nil
	})
	require.NoError(t, a.Add(context.Background(), ev("a")))
	assert.ErrorIs(t, inner, ErrFlushing)
}
