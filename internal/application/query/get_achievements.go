package query

import (
	"context"
	"time"

	"github.com/medquest/study-hub/internal/domain/achievement"
	"github.com/medquest/study-hub/internal/domain/activity"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET ACHIEVEMENTS QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetAchievements returns the user's unlocked achievements in unlock order.
func (s *Service) GetAchievements(ctx context.Context, userID string) ([]achievement.UserAchievement, error) {
	uid, err := parseUserID(userID)
	if err != nil {
		return nil, err
	}
	return s.reader.ListAchievements(ctx, uid)
}

// AchievementProgress is one catalogue entry as seen by a user.
type AchievementProgress struct {
	Definition  achievement.Definition `json:"definition"`
	Unlocked    bool                   `json:"unlocked"`
	UnlockedAt  *time.Time             `json:"unlocked_at,omitempty"`
	Progress    int                    `json:"progress"`
	MaxProgress int                    `json:"max_progress"`
}

// GetAchievementProgress lists every catalogue entry with the user's
// progress toward it. Count-based entries show partial progress computed
// from the activity log; unlocked entries always show full progress.
func (s *Service) GetAchievementProgress(ctx context.Context, userID string) ([]AchievementProgress, error) {
	uid, err := parseUserID(userID)
	if err != nil {
		return nil, err
	}

	unlocked, err := s.reader.ListAchievements(ctx, uid)
	if err != nil {
		return nil, err
	}
	history, err := s.reader.ListActivities(ctx, uid, activity.Filter{Limit: -1})
	if err != nil {
		return nil, err
	}
	state, err := s.GetLevel(ctx, userID)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]achievement.UserAchievement, len(unlocked))
	for _, ua := range unlocked {
		byID[ua.AchievementID] = ua
	}

	defs := s.catalog.All()
	out := make([]AchievementProgress, 0, len(defs))
	for _, def := range defs {
		p := AchievementProgress{Definition: def}
		if ua, ok := byID[def.ID]; ok {
			at := ua.UnlockedAt
			p.Unlocked = true
			p.UnlockedAt = &at
			p.Progress, p.MaxProgress = ua.MaxProgress, ua.MaxProgress
		} else {
			p.Progress, p.MaxProgress = s.evaluator.Progress(def, history, state)
		}
		out = append(out, p)
	}
	return out, nil
}
