package dimension

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/richardliu001/gaming-ingest/internal/config"
	"github.com/richardliu001/gaming-ingest/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStore struct {
	rows    map[model.DimensionKind]map[string]int64
	next    int64
	lookups int
	creates int
	err     error
	// flaky fails this many lookups before answering.
	flaky int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[model.DimensionKind]map[string]int64{
		model.DimGame:     {},
		model.DimLocation: {},
	}}
}

func (s *fakeStore) LookupDimension(_ context.Context, kind model.DimensionKind, key string) (int64, bool, error) {
	s.lookups++
	if s.err != nil {
		return 0, false, s.err
	}
	if s.flaky > 0 {
		s.flaky--
		return 0, false, errors.New("connection reset")
	}
	id, ok := s.rows[kind][key]
	return id, ok, nil
}

func (s *fakeStore) CreateDimension(_ context.Context, kind model.DimensionKind, key string) (int64, error) {
	s.creates++
	s.next++
	s.rows[kind][key] = s.next
	return s.next, nil
}

type fakeCache struct {
	vals map[string]int64
	err  error
}

func (c *fakeCache) CachedDimension(_ context.Context, kind model.DimensionKind, key string) (int64, bool, error) {
	if c.err != nil {
		return 0, false, c.err
	}
	id, ok := c.vals[string(kind)+":"+key]
	return id, ok, nil
}

func (c *fakeCache) CacheDimension(_ context.Context, kind model.DimensionKind, key string, id int64) error {
	if c.err != nil {
		return c.err
	}
	c.vals[string(kind)+":"+key] = id
	return nil
}

func TestResolve_IdempotentWithinRun(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store, nil, zap.NewNop().Sugar())
	ctx := context.Background()

	g1, l1, err := r.Resolve(ctx, "Star Miners", "de")
	require.NoError(t, err)
	g2, l2, err := r.Resolve(ctx, " Star  Miners ", "DE")
	require.NoError(t, err)

	assert.Equal(t, g1, g2)
	assert.Equal(t, l1, l2)
	assert.Equal(t, 2, store.creates, "one row per distinct natural key")
	assert.Equal(t, 2, store.lookups, "second resolve is served from memory")
}

func TestResolve_StoreHitIsNotRecreated(t *testing.T) {
	store := newFakeStore()
	store.rows[model.DimGame]["Dune Rally"] = 41
	r := NewResolver(store, nil, zap.NewNop().Sugar())

	var created []string
	r.OnCreate = func(kind model.DimensionKind, key string, _ int64) { created = append(created, string(kind)+":"+key) }

	g, _, err := r.Resolve(context.Background(), "Dune Rally", "US")
	require.NoError(t, err)
	assert.Equal(t, int64(41), g)
	assert.Equal(t, []string{"location:US"}, created)
}

func TestResolve_GarbageKeysMapToSentinel(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store, nil, zap.NewNop().Sugar())
	fallbacks := 0
	r.OnFallback = func(model.DimensionKind, string) { fallbacks++ }

	g, l, err := r.Resolve(context.Background(), "   ", "Unknown")
	require.NoError(t, err)
	assert.Equal(t, model.UnknownID, g)
	assert.Equal(t, model.UnknownID, l)

	g, _, err = r.Resolve(context.Background(), "bad\x00key", "FR")
	require.NoError(t, err)
	assert.Equal(t, model.UnknownID, g)

	assert.Equal(t, 3, fallbacks)
	assert.Equal(t, 1, store.creates, "only FR was created")
}

func TestResolve_SharedCacheTier(t *testing.T) {
	store := newFakeStore()
	cache := &fakeCache{vals: map[string]int64{"game:Star Miners": 9}}
	r := NewResolver(store, cache, zap.NewNop().Sugar())

	g, l, err := r.Resolve(context.Background(), "Star Miners", "PL")
	require.NoError(t, err)
	assert.Equal(t, int64(9), g)
	assert.Equal(t, int64(1), l)
	assert.Equal(t, int64(1), cache.vals["location:PL"], "new ids are written back")
	assert.Equal(t, 1, store.lookups)
}

func TestResolve_CacheErrorsFallThroughToStore(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store, &fakeCache{err: errors.New("redis down")}, zap.NewNop().Sugar())

	g, _, err := r.Resolve(context.Background(), "Star Miners", "PL")
	require.NoError(t, err)
	assert.Equal(t, int64(1), g)
	assert.Equal(t, 2, r.Cached(model.DimGame)+r.Cached(model.DimLocation))
}

func TestResolve_StoreErrorIsReturned(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("connection refused")
	r := NewResolver(store, nil, zap.NewNop().Sugar())

	_, _, err := r.Resolve(context.Background(), "Star Miners", "PL")
	assert.ErrorIs(t, err, store.err)
	assert.Equal(t, 0, r.Cached(model.DimGame))
}

func TestNormalizeKey(t *testing.T) {
	k, ok := NormalizeKey(model.DimLocation, " gb ")
	assert.True(t, ok)
	assert.Equal(t, "GB", k)

	k, ok = NormalizeKey(model.DimGame, "Moon\tHarvest")
	assert.True(t, ok)
	assert.Equal(t, "Moon Harvest", k)

	_, ok = NormalizeKey(model.DimGame, string(make([]byte, maxKeyLen+1)))
	assert.False(t, ok)
}

func TestResolve_RetriesTransientStoreErrors(t *testing.T) {
	store := newFakeStore()
	store.flaky = 2
	r := NewResolver(store, nil, zap.NewNop().Sugar())
	r.SetRetry(config.RetryConfig{MaxAttempts: 3, Backoff: 10 * time.Millisecond, MaxBackoff: 15 * time.Millisecond})
	var waits []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	g, _, err := r.Resolve(context.Background(), "Star Miners", "PL")
	require.NoError(t, err)
	assert.Equal(t, int64(1), g)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 15 * time.Millisecond}, waits)
	assert.Equal(t, 4, store.lookups, "three for the game, one for the location")
}

func TestResolve_GivesUpAfterMaxAttempts(t *testing.T) {
	store := newFakeStore()
	store.flaky = 5
	r := NewResolver(store, nil, zap.NewNop().Sugar())
	r.SetRetry(config.RetryConfig{MaxAttempts: 2})
	r.sleep = func(context.Context, time.Duration) error { return nil }

	_, _, err := r.Resolve(context.Background(), "Star Miners", "PL")
	assert.Error(t, err)
	assert.Equal(t, 2, store.lookups)
	assert.Equal(t, 0, store.creates)
}
