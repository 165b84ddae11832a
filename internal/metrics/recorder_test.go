package metrics

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRecorder_Tallies(t *testing.T) {
	r := NewRecorder("run-1", "file")
	start := r.start
	r.now = func() time.Time { return start.Add(3 * time.Second) }

	r.Accept("purchase", "web", decimal.RequireFromString("10.00"))
	r.Accept("purchase", "mobile", decimal.RequireFromString("5.50"))
	r.Accept("in-game", "web", decimal.RequireFromString("0.99"))
	r.Reject("bad_amount")
	r.Reject("bad_amount")
	r.Reject("duplicate_id")
	r.Fallback()
	r.Flushed("size", 2, time.Second)
	r.Flushed("flush_on_close", 1, time.Second)

	s := r.Snapshot()
	assert.Equal(t, int64(3), s.Accepted)
	assert.Equal(t, int64(3), s.Rejected)
	assert.Equal(t, int64(6), s.Total())

	var byReason int64
	for _, n := range s.RejectedByReason {
		byReason += n
	}
	assert.Equal(t, s.Rejected, byReason)

	assert.Equal(t, int64(2), s.BatchesFlushed)
	assert.Equal(t, int64(1), s.BatchesByReason["size"])
	assert.Equal(t, int64(3), s.RowsLoaded)
	assert.Equal(t, 2*time.Second, s.LoadTime)
	assert.Equal(t, 3*time.Second, s.Elapsed)
	assert.Equal(t, "16.49", s.Revenue.StringFixed(2))
	assert.Equal(t, "15.50", s.RevenueByType["purchase"].StringFixed(2))
	assert.Equal(t, "5.50", s.AvgTransaction().StringFixed(2))
	assert.Equal(t, int64(2), s.CountByPlatform["web"])
	assert.Equal(t, int64(1), s.Fallbacks)
}

func TestRecorder_SnapshotIsACopy(t *testing.T) {
	r := NewRecorder("run-1", "stream")
	r.Reject("bad_enum")
	s := r.Snapshot()
	r.Reject("bad_enum")

	assert.Equal(t, int64(1), s.RejectedByReason["bad_enum"])
	assert.Equal(t, int64(2), r.Snapshot().RejectedByReason["bad_enum"])
}

func TestSummary_LogEmptyRun(t *testing.T) {
	s := NewRecorder("run-1", "file").Snapshot()
	assert.True(t, s.AvgTransaction().IsZero())
	assert.NotPanics(t, func() { s.Log(zap.NewNop().Sugar()) })
}
