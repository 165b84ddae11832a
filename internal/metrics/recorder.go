package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Summary is a read-only snapshot of one run.
type Summary struct {
	RunID    string `json:"run_id"`
	Path     string `json:"path"`
	Accepted int64  `json:"accepted"`
	Rejected int64  `json:"rejected"`
	// RejectedByReason sums to Rejected.
	RejectedByReason map[string]int64 `json:"rejected_by_reason"`
	Fallbacks        int64            `json:"resolution_fallbacks"`
	DimensionsAdded  int64            `json:"dimensions_created"`
	BatchesFlushed   int64            `json:"batches_flushed"`
	BatchesByReason  map[string]int64 `json:"batches_by_reason"`
	BatchesFailed    int64            `json:"batches_failed"`
	RowsLoaded       int64            `json:"rows_loaded"`
	LoadTime         time.Duration    `json:"load_time_ns"`
	Elapsed          time.Duration    `json:"elapsed_ns"`

	Revenue         decimal.Decimal            `json:"revenue"`
	RevenueByType   map[string]decimal.Decimal `json:"revenue_by_type"`
	CountByType     map[string]int64           `json:"count_by_type"`
	CountByPlatform map[string]int64           `json:"count_by_platform"`
}

// Total is every record seen: accepted plus rejected.
func (s Summary) Total() int64 { return s.Accepted + s.Rejected }

// AvgTransaction is revenue over accepted records.
func (s Summary) AvgTransaction() decimal.Decimal {
	if s.Accepted == 0 {
		return decimal.Zero
	}
	return s.Revenue.Div(decimal.NewFromInt(s.Accepted))
}

// Recorder tallies one run. Safe for concurrent use so the status endpoint
// can snapshot while the pipeline writes.
type Recorder struct {
	mu    sync.Mutex
	now   func() time.Time
	start time.Time
	s     Summary
}

func NewRecorder(runID, path string) *Recorder {
	r := &Recorder{now: time.Now}
	r.start = r.now()
	r.s = Summary{
		RunID:            runID,
		Path:             path,
		RejectedByReason: map[string]int64{},
		BatchesByReason:  map[string]int64{},
		RevenueByType:    map[string]decimal.Decimal{},
		CountByType:      map[string]int64{},
		CountByPlatform:  map[string]int64{},
	}
	return r
}

// Accept counts an accepted record and its revenue.
func (r *Recorder) Accept(txType, platform string, amount decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.Accepted++
	r.s.Revenue = r.s.Revenue.Add(amount)
	r.s.RevenueByType[txType] = r.s.RevenueByType[txType].Add(amount)
	r.s.CountByType[txType]++
	r.s.CountByPlatform[platform]++
}

func (r *Recorder) Reject(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.Rejected++
	r.s.RejectedByReason[reason]++
}

func (r *Recorder) Fallback() {
	r.mu.Lock()
	r.s.Fallbacks++
	r.mu.Unlock()
}

func (r *Recorder) DimensionCreated() {
	r.mu.Lock()
	r.s.DimensionsAdded++
	r.mu.Unlock()
}

// Flushed records a successfully loaded batch.
func (r *Recorder) Flushed(reason string, rows int64, took time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.BatchesFlushed++
	r.s.BatchesByReason[reason]++
	r.s.RowsLoaded += rows
	r.s.LoadTime += took
}

func (r *Recorder) FlushFailed() {
	r.mu.Lock()
	r.s.BatchesFailed++
	r.mu.Unlock()
}

// Snapshot copies the current tallies.
func (r *Recorder) Snapshot() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.s
	out.Elapsed = r.now().Sub(r.start)
	out.RejectedByReason = copyCounts(r.s.RejectedByReason)
	out.BatchesByReason = copyCounts(r.s.BatchesByReason)
	out.CountByType = copyCounts(r.s.CountByType)
	out.CountByPlatform = copyCounts(r.s.CountByPlatform)
	out.RevenueByType = make(map[string]decimal.Decimal, len(r.s.RevenueByType))
	for k, v := range r.s.RevenueByType {
		out.RevenueByType[k] = v
	}
	return out
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Log writes the run report.
func (s Summary) Log(log *zap.SugaredLogger) {
	log.Infow("ingestion summary",
		"accepted", s.Accepted,
		"rejected", s.Rejected,
		"rejected_by_reason", s.RejectedByReason,
		"resolution_fallbacks", s.Fallbacks,
		"dimensions_created", s.DimensionsAdded,
		"batches_flushed", s.BatchesFlushed,
		"batches_by_reason", s.BatchesByReason,
		"batches_failed", s.BatchesFailed,
		"rows_loaded", s.RowsLoaded,
		"load_time", s.LoadTime.String(),
		"elapsed", s.Elapsed.String(),
	)
	if s.Accepted == 0 {
		return
	}
	log.Infof("total revenue: %s, average transaction: %s",
		s.Revenue.StringFixed(2), s.AvgTransaction().StringFixed(2))
	for _, k := range sortedKeys(s.CountByType) {
		log.Infof("  %s: %d (%.1f%%) revenue %s", k, s.CountByType[k], pct(s.CountByType[k], s.Accepted),
			s.RevenueByType[k].StringFixed(2))
	}
	for _, k := range sortedKeys(s.CountByPlatform) {
		log.Infof("  platform %s: %d (%.1f%%)", k, s.CountByPlatform[k], pct(s.CountByPlatform[k], s.Accepted))
	}
}

func pct(n, total int64) float64 { return float64(n) / float64(total) * 100 }

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
