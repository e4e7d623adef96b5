package query

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/medquest/study-hub/internal/domain/achievement"
	"github.com/medquest/study-hub/internal/domain/activity"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET DASHBOARD QUERY
// ══════════════════════════════════════════════════════════════════════════════

// RecentActivityLimit is how many log entries the dashboard shows.
const RecentActivityLimit = 10

// Dashboard is everything the progress page renders in one call.
type Dashboard struct {
	Level        LevelView                     `json:"level"`
	Stats        Stats                         `json:"stats"`
	Achievements []achievement.UserAchievement `json:"achievements"`
	Recent       []activity.Activity           `json:"recent_activities"`
}

// GetDashboard loads the dashboard read models concurrently. The first
// failing read cancels the others and its error is returned.
func (s *Service) GetDashboard(ctx context.Context, userID string) (*Dashboard, error) {
	if _, err := parseUserID(userID); err != nil {
		return nil, err
	}

	var d Dashboard
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		v, err := s.GetLevelView(gctx, userID)
		d.Level = v
		return err
	})
	g.Go(func() error {
		st, err := s.GetStats(gctx, userID)
		d.Stats = st
		return err
	})
	g.Go(func() error {
		achs, err := s.GetAchievements(gctx, userID)
		d.Achievements = achs
		return err
	})
	g.Go(func() error {
		recent, err := s.GetActivities(gctx, GetActivitiesQuery{UserID: userID, Limit: RecentActivityLimit})
		d.Recent = recent
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &d, nil
}
