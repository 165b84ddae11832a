package dimension

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/richardliu001/gaming-ingest/internal/config"
	"github.com/richardliu001/gaming-ingest/internal/model"
	"go.uber.org/zap"
)

// Store is the authoritative dimension table. CreateDimension must be safe
// against a concurrent creator of the same key: on conflict it returns the
// id of the row that won.
type Store interface {
	LookupDimension(ctx context.Context, kind model.DimensionKind, key string) (int64, bool, error)
	CreateDimension(ctx context.Context, kind model.DimensionKind, key string) (int64, error)
}

// Cache is an optional shared tier between the in-process map and the store.
type Cache interface {
	CachedDimension(ctx context.Context, kind model.DimensionKind, key string) (int64, bool, error)
	CacheDimension(ctx context.Context, kind model.DimensionKind, key string, id int64) error
}

const maxKeyLen = 64

// Resolver maps natural keys to surrogate ids. The in-process map is
// authoritative for the resolver's lifetime: once a key is cached its id
// never changes. Not safe for concurrent use.
type Resolver struct {
	store Store
	cache Cache
	log   *zap.SugaredLogger

	ids   map[model.DimensionKind]map[string]int64
	retry config.RetryConfig
	sleep func(ctx context.Context, d time.Duration) error

	// OnFallback, when set, is called each time a key maps to the sentinel.
	OnFallback func(kind model.DimensionKind, raw string)
	// OnCreate, when set, is called after a new dimension row is created.
	OnCreate func(kind model.DimensionKind, key string, id int64)
}

// NewResolver builds a resolver; cache may be nil.
func NewResolver(store Store, cache Cache, log *zap.SugaredLogger) *Resolver {
	return &Resolver{
		store: store,
		cache: cache,
		log:   log,
		retry: config.RetryConfig{MaxAttempts: 1},
		sleep: sleepCtx,
		ids: map[model.DimensionKind]map[string]int64{
			model.DimGame:     {},
			model.DimLocation: {},
		},
	}
}

// SetRetry bounds how often a failing store call is retried before Resolve
// gives up.
func (r *Resolver) SetRetry(rc config.RetryConfig) {
	if rc.MaxAttempts <= 0 {
		rc.MaxAttempts = 1
	}
	r.retry = rc
}

// Resolve returns the surrogate ids for one event's natural keys.
func (r *Resolver) Resolve(ctx context.Context, gameKey, locationKey string) (int64, int64, error) {
	gameID, err := r.resolveOne(ctx, model.DimGame, gameKey)
	if err != nil {
		return 0, 0, err
	}
	locationID, err := r.resolveOne(ctx, model.DimLocation, locationKey)
	if err != nil {
		return 0, 0, err
	}
	return gameID, locationID, nil
}

// Cached reports how many distinct keys of kind are held in process.
func (r *Resolver) Cached(kind model.DimensionKind) int { return len(r.ids[kind]) }

func (r *Resolver) resolveOne(ctx context.Context, kind model.DimensionKind, raw string) (int64, error) {
	key, ok := NormalizeKey(kind, raw)
	if !ok {
		if r.OnFallback != nil {
			r.OnFallback(kind, raw)
		}
		return model.UnknownID, nil
	}
	if id, hit := r.ids[kind][key]; hit {
		return id, nil
	}

	if r.cache != nil {
		id, hit, err := r.cache.CachedDimension(ctx, kind, key)
		if err != nil {
			r.log.Warnw("dimension cache read failed", "kind", kind, "key", key, "error", err)
		} else if hit {
			r.ids[kind][key] = id
			return id, nil
		}
	}

	var (
		id    int64
		found bool
	)
	err := r.withRetry(ctx, "lookup", kind, key, func() (err error) {
		id, found, err = r.store.LookupDimension(ctx, kind, key)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("lookup %s %q: %w", kind, key, err)
	}
	if !found {
		err = r.withRetry(ctx, "create", kind, key, func() (err error) {
			id, err = r.store.CreateDimension(ctx, kind, key)
			return err
		})
		if err != nil {
			return 0, fmt.Errorf("create %s %q: %w", kind, key, err)
		}
		r.log.Debugw("dimension created", "kind", kind, "key", key, "id", id)
		if r.OnCreate != nil {
			r.OnCreate(kind, key, id)
		}
	}

	r.ids[kind][key] = id
	if r.cache != nil {
		if err := r.cache.CacheDimension(ctx, kind, key, id); err != nil {
			r.log.Warnw("dimension cache write failed", "kind", kind, "key", key, "error", err)
		}
	}
	return id, nil
}

func (r *Resolver) withRetry(ctx context.Context, op string, kind model.DimensionKind, key string, fn func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= r.retry.MaxAttempts || ctx.Err() != nil ||
			errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		wait := r.retry.Backoff << (attempt - 1)
		if r.retry.MaxBackoff > 0 && (wait > r.retry.MaxBackoff || wait < 0) {
			wait = r.retry.MaxBackoff
		}
		r.log.Warnw("dimension store call failed, retrying",
			"op", op, "kind", kind, "key", key, "attempt", attempt, "backoff", wait.String(), "error", err)
		if serr := r.sleep(ctx, wait); serr != nil {
			return err
		}
	}
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

// NormalizeKey returns the canonical natural key, or false when the value
// cannot identify a dimension row and must map to the sentinel.
func NormalizeKey(kind model.DimensionKind, raw string) (string, bool) {
	key := strings.Join(strings.Fields(raw), " ")
	if kind == model.DimLocation {
		key = strings.ToUpper(key)
	}
	if key == "" || len(key) > maxKeyLen || strings.EqualFold(key, model.UnknownKey) {
		return "", false
	}
	for _, c := range key {
		if !unicode.IsPrint(c) {
			return "", false
		}
	}
	return key, true
}
