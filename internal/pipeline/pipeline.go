// Package pipeline runs one ingestion pass: validate, resolve dimensions,
// accumulate into batches, load, and tally. The file and stream paths share
// it and differ only in their source and a few path-specific rules.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/richardliu001/gaming-ingest/internal/batch"
	"github.com/richardliu001/gaming-ingest/internal/config"
	"github.com/richardliu001/gaming-ingest/internal/dimension"
	"github.com/richardliu001/gaming-ingest/internal/loader"
	"github.com/richardliu001/gaming-ingest/internal/logger"
	"github.com/richardliu001/gaming-ingest/internal/metrics"
	"github.com/richardliu001/gaming-ingest/internal/model"
	"github.com/richardliu001/gaming-ingest/internal/source"
	"github.com/richardliu001/gaming-ingest/internal/validate"
	"go.uber.org/zap"
)

// DeadLetter receives rejected records.
type DeadLetter interface {
	PublishRejection(ctx context.Context, rej *validate.Rejection) error
}

// Deps wires a pipeline. Cache and DeadLetter are optional.
type Deps struct {
	Config     config.Config
	Path       config.Path
	RunID      string
	Store      dimension.Store
	Cache      dimension.Cache
	Writer     loader.Writer
	DeadLetter DeadLetter
	Log        *zap.SugaredLogger
}

// ErrAlreadyRun is returned by a second call to Run.
var ErrAlreadyRun = errors.New("pipeline: already run")

// Pipeline serves exactly one run.
type Pipeline struct {
	cfg  config.BatchConfig
	path config.Path
	log  *zap.SugaredLogger

	validator *validate.Validator
	resolver  *dimension.Resolver
	loader    *loader.Loader
	rec       *metrics.Recorder
	dlq       DeadLetter

	ran    bool
	loaded bool
}

// New checks the configuration for the requested path. A *config.ConfigError
// is returned before any record is read.
func New(d Deps) (*Pipeline, error) {
	if d.Path != config.PathFile && d.Path != config.PathStream {
		return nil, &config.ConfigError{Field: "path", Msg: fmt.Sprintf("unknown ingestion path %q", d.Path)}
	}
	if err := d.Config.Batch.Validate(d.Path); err != nil {
		return nil, err
	}
	if err := d.Config.Retry.Validate(); err != nil {
		return nil, err
	}
	if d.Store == nil || d.Writer == nil {
		return nil, errors.New("pipeline: store and writer are required")
	}
	if d.RunID == "" {
		d.RunID = uuid.NewString()
	}
	log := d.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log = logger.ForRun(log, d.RunID, string(d.Path))

	p := &Pipeline{
		cfg:       d.Config.Batch,
		path:      d.Path,
		log:       log,
		validator: validate.New(),
		resolver:  dimension.NewResolver(d.Store, d.Cache, log),
		loader:    loader.New(d.Writer, d.Config.Batch.LoadMode, d.Config.Retry, log),
		rec:       metrics.NewRecorder(d.RunID, string(d.Path)),
		dlq:       d.DeadLetter,
	}
	p.resolver.OnFallback = func(kind model.DimensionKind, raw string) {
		p.rec.Fallback()
		p.log.Debugw("dimension key mapped to sentinel", "kind", kind, "key", raw)
	}
	p.resolver.OnCreate = func(model.DimensionKind, string, int64) { p.rec.DimensionCreated() }
	p.resolver.SetRetry(d.Config.Retry)
	return p, nil
}

// Snapshot is the live tally; safe to call while Run is in progress.
func (p *Pipeline) Snapshot() metrics.Summary { return p.rec.Snapshot() }

// Run consumes src until it is exhausted or ctx is done, then loads the last
// partial batch. The summary is returned even when err is non-nil.
func (p *Pipeline) Run(ctx context.Context, src source.Source) (metrics.Summary, error) {
	if p.ran {
		return p.rec.Snapshot(), ErrAlreadyRun
	}
	p.ran = true
	p.log.Infow("pipeline started",
		"max_batch_size", p.cfg.MaxBatchSize, "max_wait", p.cfg.MaxWait().String(), "load_mode", p.cfg.LoadMode)

	acc := batch.NewAccumulator(p.cfg.MaxBatchSize, p.cfg.MaxWait(), p.flushFunc(src))
	runErr := p.consume(ctx, src, acc)

	// The final flush must survive a stop signal.
	if err := acc.Close(context.WithoutCancel(ctx)); err != nil && runErr == nil {
		runErr = err
	}
	if p.path == config.PathFile && p.loaded {
		p.loader.Refresh(context.WithoutCancel(ctx))
	}

	sum := p.rec.Snapshot()
	if runErr != nil {
		p.log.Errorw("pipeline stopped", "error", runErr, "rows_loaded", sum.RowsLoaded)
		return sum, runErr
	}
	p.log.Infow("pipeline finished", "records", sum.Total(), "rows_loaded", sum.RowsLoaded)
	return sum, nil
}

func (p *Pipeline) consume(ctx context.Context, src source.Source, acc *batch.Accumulator) error {
	// A stop signal ends reading only. Records already read are resolved and
	// flushed to completion.
	work := context.WithoutCancel(ctx)
	for {
		readCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.path == config.PathStream {
			if dl, ok := acc.Deadline(); ok {
				readCtx, cancel = context.WithDeadline(ctx, dl)
			}
		}
		raw, err := src.Next(readCtx)
		cancel()

		if err != nil {
			var perr *source.ParseError
			switch {
			case errors.Is(err, io.EOF):
				return nil
			case ctx.Err() != nil:
				p.log.Infow("stop requested, draining", "pending", acc.Pending())
				return nil
			case errors.Is(err, context.DeadlineExceeded):
				if _, err := acc.Tick(work, time.Now()); err != nil {
					return err
				}
				continue
			case errors.As(err, &perr):
				p.reject(work, &validate.Rejection{
					Reason: validate.ReasonUnparseable,
					Detail: perr.Err.Error(),
					Record: model.RawRecord{Line: perr.Line},
				})
				continue
			default:
				return fmt.Errorf("read source: %w", err)
			}
		}

		if err := p.handle(work, acc, raw); err != nil {
			return err
		}
		if _, err := acc.Tick(work, time.Now()); err != nil {
			return err
		}
	}
}

func (p *Pipeline) handle(ctx context.Context, acc *batch.Accumulator, raw model.RawRecord) error {
	ev, rej := p.validator.Validate(raw)
	if rej != nil {
		p.reject(ctx, rej)
		return nil
	}
	gameID, locationID, err := p.resolver.Resolve(ctx, ev.GameKey, ev.LocationKey)
	if err != nil {
		return fmt.Errorf("resolve dimensions (line %d): %w", raw.Line, err)
	}
	ev.GameID, ev.LocationID = gameID, locationID
	p.rec.Accept(string(ev.Type), ev.Platform, ev.Amount)
	return acc.Add(ctx, ev)
}

func (p *Pipeline) reject(ctx context.Context, rej *validate.Rejection) {
	p.rec.Reject(string(rej.Reason))
	p.log.Warnw("record rejected", "reason", rej.Reason, "detail", rej.Detail, "line", rej.Record.Line)
	if p.dlq == nil {
		return
	}
	if err := p.dlq.PublishRejection(ctx, rej); err != nil {
		p.log.Errorw("dead-letter publish failed", "reason", rej.Reason, "error", err)
	}
}

func (p *Pipeline) flushFunc(src source.Source) batch.FlushFunc {
	committer, _ := src.(source.Committer)
	return func(ctx context.Context, b *batch.Batch) error {
		res, err := p.loader.Load(ctx, b)
		if err != nil {
			p.rec.FlushFailed()
			return err
		}
		p.loaded = true
		p.rec.Flushed(string(b.Reason), res.Inserted, res.Duration)

		if committer != nil {
			// Uncommitted input is replayed on restart; the next flush retries.
			if err := committer.Commit(ctx); err != nil {
				p.log.Errorw("source commit failed", "seq", b.Seq, "error", err)
			}
		}
		if p.path == config.PathStream {
			p.loader.Refresh(ctx)
		}
		return nil
	}
}
