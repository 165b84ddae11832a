package loader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/richardliu001/gaming-ingest/internal/batch"
	"github.com/richardliu001/gaming-ingest/internal/config"
	"github.com/richardliu001/gaming-ingest/internal/model"
	"go.uber.org/zap"
)

// Writer is the "execute batch write" capability of the fact store.
// InsertFacts must be all-or-nothing.
type Writer interface {
	InsertFacts(ctx context.Context, rows []model.FactTransaction, truncate bool) (int64, error)
	RefreshDailyMetrics(ctx context.Context) error
}

// LoadResult describes one successfully written batch.
type LoadResult struct {
	Inserted int64
	Attempts int
	Duration time.Duration
}

// LoadError is returned once a batch exhausted its attempts. It carries the
// batch so the caller can retry or report it.
type LoadError struct {
	Batch    *batch.Batch
	Attempts int
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load batch %d (%d events) failed after %d attempt(s): %v",
		e.Batch.Seq, e.Batch.Len(), e.Attempts, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Loader writes flushed batches. In truncate mode only the first batch of
// the run clears the fact table, inside its own transaction; later batches
// append. A Loader serves one run.
type Loader struct {
	w     Writer
	mode  config.LoadMode
	retry config.RetryConfig
	log   *zap.SugaredLogger

	truncated bool
	sleep     func(ctx context.Context, d time.Duration) error
}

func New(w Writer, mode config.LoadMode, retry config.RetryConfig, log *zap.SugaredLogger) *Loader {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	return &Loader{w: w, mode: mode, retry: retry, log: log, sleep: sleepCtx}
}

// Load writes b, retrying with exponential backoff.
func (l *Loader) Load(ctx context.Context, b *batch.Batch) (LoadResult, error) {
	rows := make([]model.FactTransaction, 0, b.Len())
	for _, ev := range b.Events {
		rows = append(rows, ev.Fact())
	}
	truncate := l.mode == config.LoadTruncate && !l.truncated

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= l.retry.MaxAttempts; attempt++ {
		n, err := l.w.InsertFacts(ctx, rows, truncate)
		if err == nil {
			if truncate {
				l.truncated = true
			}
			res := LoadResult{Inserted: n, Attempts: attempt, Duration: time.Since(start)}
			l.log.Infow("batch loaded",
				"seq", b.Seq, "reason", b.Reason, "rows", n, "truncated", truncate,
				"attempts", attempt, "took", res.Duration.Truncate(time.Millisecond).String())
			return res, nil
		}
		lastErr = err
		if !retryable(ctx, err) || attempt == l.retry.MaxAttempts {
			return LoadResult{}, &LoadError{Batch: b, Attempts: attempt, Err: lastErr}
		}
		wait := l.backoff(attempt)
		l.log.Warnw("batch load failed, retrying",
			"seq", b.Seq, "attempt", attempt, "backoff", wait.String(), "error", err)
		if err := l.sleep(ctx, wait); err != nil {
			return LoadResult{}, &LoadError{Batch: b, Attempts: attempt, Err: lastErr}
		}
	}
	return LoadResult{}, &LoadError{Batch: b, Attempts: l.retry.MaxAttempts, Err: lastErr}
}

// Refresh rebuilds the daily aggregate. Failures are logged, never returned:
// loaded rows stay loaded.
func (l *Loader) Refresh(ctx context.Context) {
	start := time.Now()
	if err := l.w.RefreshDailyMetrics(ctx); err != nil {
		l.log.Errorw("daily metrics refresh failed", "error", err)
		return
	}
	l.log.Infow("daily metrics refreshed", "took", time.Since(start).Truncate(time.Millisecond).String())
}

func (l *Loader) backoff(attempt int) time.Duration {
	d := l.retry.Backoff << (attempt - 1)
	if l.retry.MaxBackoff > 0 && (d > l.retry.MaxBackoff || d < 0) {
		d = l.retry.MaxBackoff
	}
	return d
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
