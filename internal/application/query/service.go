// Package query contains read operations (CQRS - Queries).
// Nothing here participates in the ledger transaction; reads are
// read-committed and may trail an in-flight RecordActivity call.
package query

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/medquest/study-hub/internal/domain/achievement"
	"github.com/medquest/study-hub/internal/domain/ledger"
	"github.com/medquest/study-hub/internal/domain/progression"
	"github.com/medquest/study-hub/internal/domain/shared"
	"github.com/medquest/study-hub/pkg/logger"
)

// ReadModelCache is an optional look-aside cache for derived read models.
// Get reports a miss as (false, nil). Failures are logged and never fail a query.
//
// Keys carry the user's cache generation. InvalidateUser advances it, so a
// value loaded before a commit but stored after its invalidation lands under
// a key no later read asks for.
type ReadModelCache interface {
	Generation(ctx context.Context, userID shared.UserID) (int64, error)
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	InvalidateUser(ctx context.Context, userID shared.UserID) error
}

// Cache keys are "<model>:<userID>:g<generation>". Implementations add their
// own namespace.
const (
	ModelLevel = "level"
	ModelStats = "stats"
)

// CacheKey builds the key of a per-user read model.
func CacheKey(model string, userID shared.UserID, generation int64) string {
	return model + ":" + userID.String() + ":g" + strconv.FormatInt(generation, 10)
}

// Service serves the dashboard and progress widgets.
type Service struct {
	reader    ledger.Reader
	curve     *progression.Curve
	catalog   *achievement.Catalog
	evaluator *achievement.Evaluator
	cache     ReadModelCache
	logger    *logger.Logger
	loc       *time.Location
}

// ServiceDeps holds the service's collaborators. Cache and Logger are optional.
type ServiceDeps struct {
	Reader    ledger.Reader
	Curve     *progression.Curve
	Catalog   *achievement.Catalog
	Evaluator *achievement.Evaluator
	Cache     ReadModelCache
	Logger    *logger.Logger
}

// NewService creates a new query Service.
func NewService(deps ServiceDeps) (*Service, error) {
	switch {
	case deps.Reader == nil:
		return nil, errors.New("query: reader is required")
	case deps.Curve == nil:
		return nil, errors.New("query: curve is required")
	case deps.Catalog == nil:
		return nil, errors.New("query: catalog is required")
	}

	s := &Service{
		reader:    deps.Reader,
		curve:     deps.Curve,
		catalog:   deps.Catalog,
		evaluator: deps.Evaluator,
		cache:     deps.Cache,
		logger:    deps.Logger,
	}
	if s.evaluator == nil {
		s.evaluator = achievement.NewEvaluator(time.UTC)
	}
	if s.logger == nil {
		s.logger = logger.Nop()
	}
	s.loc = s.evaluator.Location()
	s.logger = s.logger.With(logger.Component("query"))
	return s, nil
}

// Curve exposes the level curve for the level catalogue endpoint.
func (s *Service) Curve() *progression.Curve {
	return s.curve
}

// Catalog exposes the achievement catalogue.
func (s *Service) Catalog() *achievement.Catalog {
	return s.catalog
}

func parseUserID(raw string) (shared.UserID, error) {
	id := shared.UserID(raw)
	if err := id.Validate(); err != nil {
		return "", err
	}
	return id, nil
}

// cached runs load through the cache when one is configured. The generation
// is read before load, never after.
func cached[T any](ctx context.Context, s *Service, model string, userID shared.UserID, load func(context.Context) (T, error)) (T, error) {
	if s.cache == nil {
		return load(ctx)
	}

	gen, err := s.cache.Generation(ctx, userID)
	if err != nil {
		s.logger.Warn("read model cache generation failed", logger.UserID(userID.String()), logger.Err(err))
		return load(ctx)
	}
	key := CacheKey(model, userID, gen)

	var v T
	hit, err := s.cache.Get(ctx, key, &v)
	if err != nil {
		s.logger.Warn("read model cache get failed", logger.String("key", key), logger.Err(err))
	} else if hit {
		return v, nil
	}

	v, err = load(ctx)
	if err != nil {
		return v, err
	}

	if err := s.cache.Set(ctx, key, v); err != nil {
		s.logger.Warn("read model cache set failed", logger.String("key", key), logger.Err(err))
	}
	return v, nil
}
