package messaging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medquest/study-hub/internal/domain/shared"
)

var at = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func syncBus() *InMemoryEventBus {
	return NewInMemoryEventBus(InMemoryEventBusConfig{EnableMetrics: true})
}

func TestInMemoryEventBus_RoutesByType(t *testing.T) {
	bus := syncBus()

	var levelUps, all []shared.EventType
	require.NoError(t, bus.Subscribe(shared.EventLevelUp, func(e shared.Event) error {
		levelUps = append(levelUps, e.EventType())
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		all = append(all, e.EventType())
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewXPGainedEvent("u1", 10, 10, "question_correct", at)))
	require.NoError(t, bus.Publish(shared.NewLevelUpEvent("u1", 1, 2, "Pre-Med", 120, at)))

	assert.Equal(t, []shared.EventType{shared.EventLevelUp}, levelUps)
	assert.Equal(t, []shared.EventType{shared.EventXPGained, shared.EventLevelUp}, all)
	assert.Equal(t, int64(2), bus.Metrics().Snapshot().TotalPublished)
}

func TestInMemoryEventBus_HandlerFailureIsContained(t *testing.T) {
	bus := syncBus()

	var reached bool
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return errors.New("boom") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("worse") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		reached = true
		return nil
	}))

	err := bus.Publish(shared.NewXPGainedEvent("u1", 5, 5, "daily_login", at))
	require.NoError(t, err)
	assert.True(t, reached)

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(3), snap.TotalHandlerExecs)
	assert.Equal(t, int64(2), snap.HandlerFailures)
}

func TestInMemoryEventBus_AsyncCloseDrains(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2})

	var n atomic.Int32
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		time.Sleep(time.Millisecond)
		n.Add(1)
		return nil
	}))

	for i := 0; i < 20; i++ {
		require.NoError(t, bus.Publish(shared.NewXPGainedEvent("u1", 1, shared.XP(i+1), "daily_login", at)))
	}
	require.NoError(t, bus.Close())
	assert.Equal(t, int32(20), n.Load())

	assert.ErrorIs(t, bus.Publish(shared.NewXPGainedEvent("u1", 1, 1, "daily_login", at)), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventXPGained, func(shared.Event) error { return nil }), ErrEventBusClosed)
}

func TestInMemoryEventBus_RejectsNil(t *testing.T) {
	bus := syncBus()
	assert.ErrorIs(t, bus.Subscribe(shared.EventXPGained, nil), ErrNilHandler)
	assert.ErrorIs(t, bus.Publish(nil), ErrNilEvent)
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS BUS
// ══════════════════════════════════════════════════════════════════════════════

// loopbackRedis delivers every published payload to all subscribers.
type loopbackRedis struct {
	mu   sync.Mutex
	subs []chan RedisMessage
}

func (r *loopbackRedis) Publish(_ context.Context, channel string, message []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		s <- RedisMessage{Channel: channel, Payload: string(message)}
	}
	return nil
}

func (r *loopbackRedis) Subscribe(_ context.Context, _ string) (<-chan RedisMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan RedisMessage, 16)
	r.subs = append(r.subs, ch)
	return ch, nil
}

func TestRedisEventBus_FansOutAcrossInstances(t *testing.T) {
	redis := &loopbackRedis{}

	a, err := NewRedisEventBus(RedisEventBusConfig{Client: redis, InstanceID: "a"})
	require.NoError(t, err)
	b, err := NewRedisEventBus(RedisEventBusConfig{Client: redis, InstanceID: "b"})
	require.NoError(t, err)

	var onA, onB atomic.Int32
	received := make(chan shared.Event, 1)
	require.NoError(t, a.Subscribe(shared.EventAchievementUnlocked, func(shared.Event) error {
		onA.Add(1)
		return nil
	}))
	require.NoError(t, b.Subscribe(shared.EventAchievementUnlocked, func(e shared.Event) error {
		onB.Add(1)
		received <- e
		return nil
	}))

	ev := shared.NewAchievementUnlockedEvent("u1", "first_correct", "First Blood", "common", 10, at)
	require.NoError(t, a.Publish(ev))

	select {
	case got := <-received:
		assert.Equal(t, shared.EventAchievementUnlocked, got.EventType())
		assert.Equal(t, "u1", got.AggregateID())
		assert.Equal(t, "first_correct", got.Payload()["achievement_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("remote instance never saw the event")
	}

	require.NoError(t, a.Close())
	require.NoError(t, b.Close())

	// The publisher handles its own event once, locally, and skips the echo.
	assert.Equal(t, int32(1), onA.Load())
	assert.Equal(t, int32(1), onB.Load())
}
