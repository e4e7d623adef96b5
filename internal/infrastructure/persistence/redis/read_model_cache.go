package redis

import (
	"context"
	"errors"
	"time"

	"github.com/medquest/study-hub/internal/application/query"
	"github.com/medquest/study-hub/internal/domain/shared"
	"github.com/medquest/study-hub/pkg/circuitbreaker"
	"github.com/medquest/study-hub/pkg/logger"
)

// valueStore is the part of Cache the read-model cache uses.
type valueStore interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	GetInt64(ctx context.Context, key string) (int64, error)
}

// ReadModelCache implements query.ReadModelCache. Calls go through a
// circuit breaker so a dead Redis costs one fast rejection per query instead
// of a dial timeout.
type ReadModelCache struct {
	store   valueStore
	ttl     time.Duration
	breaker *circuitbreaker.CircuitBreaker
	logger  *logger.Logger
}

var _ query.ReadModelCache = (*ReadModelCache)(nil)

// NewReadModelCache wraps store. A non-positive ttl means TTLReadModel.
func NewReadModelCache(store valueStore, ttl time.Duration, log *logger.Logger) *ReadModelCache {
	if ttl <= 0 {
		ttl = TTLReadModel
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("read-model-cache"))

	return &ReadModelCache{
		store: store,
		ttl:   ttl,
		breaker: circuitbreaker.CacheBreaker(func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		}),
		logger: log,
	}
}

// Generation implements query.ReadModelCache. A user never invalidated is at
// generation 0.
func (c *ReadModelCache) Generation(ctx context.Context, userID shared.UserID) (int64, error) {
	var gen int64
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		n, err := c.store.GetInt64(ctx, GenerationKey(userID.String()))
		gen = n
		return err
	})
	return gen, err
}

// Get implements query.ReadModelCache. A miss is (false, nil).
func (c *ReadModelCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	var hit bool
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		err := c.store.Get(ctx, ReadModelKey(key), dest)
		switch {
		case err == nil:
			hit = true
			return nil
		case errors.Is(err, ErrCacheMiss):
			return nil
		default:
			return err
		}
	})
	return hit, err
}

// Set implements query.ReadModelCache.
func (c *ReadModelCache) Set(ctx context.Context, key string, value any) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.store.Set(ctx, ReadModelKey(key), value, c.ttl)
	})
}

// InvalidateUser advances the user's generation and drops the read models of
// the previous one. It bypasses the breaker: a skipped bump would leave a
// stale entry for a full TTL.
//
// The generation key outlives every read model written under it, so it can
// only expire once no entry of an older generation is left.
func (c *ReadModelCache) InvalidateUser(ctx context.Context, userID shared.UserID) error {
	gen, err := c.store.Incr(ctx, GenerationKey(userID.String()), 2*c.ttl)
	if err != nil {
		return err
	}

	prev := gen - 1
	if err := c.store.Delete(ctx,
		ReadModelKey(query.CacheKey(query.ModelLevel, userID, prev)),
		ReadModelKey(query.CacheKey(query.ModelStats, userID, prev)),
	); err != nil {
		// Unreachable once the generation moved on; they expire with the TTL.
		c.logger.Debug("dropping superseded read models failed", logger.UserID(userID.String()), logger.Err(err))
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// INVALIDATION
// ══════════════════════════════════════════════════════════════════════════════

// SubscribeInvalidation drops a user's cached read models whenever the
// engine commits something for them. Every commit publishes exactly one
// activity_recorded event, keyed by the user as aggregate ID.
func SubscribeInvalidation(bus shared.EventSubscriber, cache query.ReadModelCache, timeout time.Duration, log *logger.Logger) error {
	if log == nil {
		log = logger.Nop()
	}
	if timeout <= 0 {
		timeout = time.Second
	}

	handler := func(event shared.Event) error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		userID := shared.UserID(event.AggregateID())
		if err := cache.InvalidateUser(ctx, userID); err != nil {
			log.Warn("read model invalidation failed",
				logger.UserID(userID.String()),
				logger.String("event_type", string(event.EventType())),
				logger.Err(err),
			)
			return err
		}
		return nil
	}

	return bus.Subscribe(shared.EventActivityRecorded, handler)
}
