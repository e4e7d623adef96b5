package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medquest/study-hub/internal/application/query"
	"github.com/medquest/study-hub/internal/domain/progression"
	"github.com/medquest/study-hub/internal/domain/shared"
	"github.com/medquest/study-hub/internal/infrastructure/messaging"
	"github.com/medquest/study-hub/pkg/circuitbreaker"
)

// fakeStore mimics Cache with JSON round trips held in a map.
type fakeStore struct {
	mu      sync.Mutex
	data     map[string][]byte
	ttls     map[string]time.Duration
	counters map[string]int64
	down     bool
	getHits  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string][]byte{}, ttls: map[string]time.Duration{}, counters: map[string]int64{}}
}

func (s *fakeStore) Get(_ context.Context, key string, dest interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getHits++
	if s.down {
		return ErrCacheConnection
	}
	raw, ok := s.data[key]
	if !ok {
		return ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (s *fakeStore) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return ErrCacheConnection
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.data[key] = raw
	s.ttls[key] = ttl
	return nil
}

func (s *fakeStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

func (s *fakeStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return 0, ErrCacheConnection
	}
	s.counters[key]++
	s.ttls[key] = ttl
	return s.counters[key], nil
}

func (s *fakeStore) GetInt64(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return 0, ErrCacheConnection
	}
	return s.counters[key], nil
}

func (s *fakeStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok
}

func TestReadModelCache_MissThenHit(t *testing.T) {
	store := newFakeStore()
	cache := NewReadModelCache(store, 0, nil)
	ctx := context.Background()
	key := query.CacheKey(query.ModelLevel, "u1", 0)

	var st progression.LevelState
	hit, err := cache.Get(ctx, key, &st)
	require.NoError(t, err)
	assert.False(t, hit)

	want := progression.LevelState{UserID: "u1", CurrentLevel: 2, TotalXP: 128, XPToNextLevel: 119, Version: 3}
	require.NoError(t, cache.Set(ctx, key, want))
	assert.Equal(t, TTLReadModel, store.ttls["study-hub:rm:level:u1:g0"])

	hit, err = cache.Get(ctx, key, &st)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, want.TotalXP, st.TotalXP)
	assert.Equal(t, want.CurrentLevel, st.CurrentLevel)
}

func TestReadModelCache_InvalidateUser(t *testing.T) {
	store := newFakeStore()
	cache := NewReadModelCache(store, time.Minute, nil)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, query.CacheKey(query.ModelLevel, "u1", 0), map[string]int{"a": 1}))
	require.NoError(t, cache.Set(ctx, query.CacheKey(query.ModelStats, "u1", 0), map[string]int{"b": 2}))
	require.NoError(t, cache.Set(ctx, query.CacheKey(query.ModelStats, "u2", 0), map[string]int{"c": 3}))

	require.NoError(t, cache.InvalidateUser(ctx, "u1"))
	assert.False(t, store.has("study-hub:rm:level:u1:g0"))
	assert.False(t, store.has("study-hub:rm:stats:u1:g0"))
	assert.True(t, store.has("study-hub:rm:stats:u2:g0"))

	gen, err := cache.Generation(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)
	assert.Equal(t, 2*time.Minute, store.ttls["study-hub:rm:gen:u1"])

	gen, err = cache.Generation(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(0), gen)
}

func TestReadModelCache_LateSetAfterInvalidationIsNotServed(t *testing.T) {
	store := newFakeStore()
	cache := NewReadModelCache(store, time.Minute, nil)
	ctx := context.Background()

	// A reader picks its generation and loads, then a commit invalidates.
	gen, err := cache.Generation(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, cache.InvalidateUser(ctx, "u1"))
	require.NoError(t, cache.Set(ctx, query.CacheKey(query.ModelLevel, "u1", gen), map[string]int{"total_xp": 0}))

	next, err := cache.Generation(ctx, "u1")
	require.NoError(t, err)
	var v map[string]int
	hit, err := cache.Get(ctx, query.CacheKey(query.ModelLevel, "u1", next), &v)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestReadModelCache_BreakerOpensOnOutage(t *testing.T) {
	store := newFakeStore()
	store.down = true
	cache := NewReadModelCache(store, 0, nil)
	ctx := context.Background()

	var v map[string]int
	for i := 0; i < 3; i++ {
		_, err := cache.Get(ctx, "level:u1", &v)
		assert.ErrorIs(t, err, ErrCacheConnection)
	}

	calls := store.getHits
	_, err := cache.Get(ctx, "level:u1", &v)
	assert.True(t, circuitbreaker.IsRejected(err))
	assert.Equal(t, calls, store.getHits, "open breaker short-circuits")
}

type failingCache struct{ query.ReadModelCache }

func (failingCache) InvalidateUser(context.Context, shared.UserID) error {
	return errors.New("redis gone")
}

func TestSubscribeInvalidation(t *testing.T) {
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{})
	store := newFakeStore()
	cache := NewReadModelCache(store, 0, nil)
	ctx := context.Background()

	require.NoError(t, SubscribeInvalidation(bus, cache, time.Second, nil))
	require.NoError(t, cache.Set(ctx, query.CacheKey(query.ModelLevel, "u1", 0), 1))

	// Only activity_recorded triggers invalidation.
	require.NoError(t, bus.Publish(shared.NewXPGainedEvent("u1", 10, 10, "question_correct", time.Now())))
	assert.True(t, store.has("study-hub:rm:level:u1:g0"))

	require.NoError(t, bus.Publish(shared.NewActivityRecordedEvent("u1", "a1", "question_correct", 10, time.Now())))
	assert.False(t, store.has("study-hub:rm:level:u1:g0"))
}

func TestSubscribeInvalidation_FailureIsContained(t *testing.T) {
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{EnableMetrics: true})
	require.NoError(t, SubscribeInvalidation(bus, failingCache{}, 0, nil))

	require.NoError(t, bus.Publish(shared.NewActivityRecordedEvent("u1", "a1", "daily_login", 5, time.Now())))
	assert.Equal(t, int64(1), bus.Metrics().Snapshot().HandlerFailures)
}
