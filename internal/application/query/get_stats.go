package query

import (
	"context"
	"time"

	"github.com/medquest/study-hub/internal/domain/activity"
	"github.com/medquest/study-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET STATS QUERY
// ══════════════════════════════════════════════════════════════════════════════

// Stats aggregates a user's activity log. Engine bookkeeping entries
// (achievement_unlocked) are not user actions and are left out of the counts.
type Stats struct {
	TotalActivities int                   `json:"total_activities"`
	CountsByType    map[activity.Type]int `json:"counts_by_type"`
	XPBySubject     map[string]shared.XP  `json:"xp_by_subject"`
	CurrentStreak   int                   `json:"current_streak"`
	BestStreak      int                   `json:"best_streak"`
	LastActivityAt  *time.Time            `json:"last_activity_at,omitempty"`
}

// GetStats folds the user's full activity log into Stats. Streaks count
// consecutive calendar days with a daily_login in the configured time zone.
func (s *Service) GetStats(ctx context.Context, userID string) (Stats, error) {
	uid, err := parseUserID(userID)
	if err != nil {
		return Stats{}, err
	}

	return cached(ctx, s, ModelStats, uid, func(ctx context.Context) (Stats, error) {
		history, err := s.reader.ListActivities(ctx, uid, activity.Filter{Limit: -1})
		if err != nil {
			return Stats{}, err
		}
		return computeStats(history, s.loc), nil
	})
}

func computeStats(history []activity.Activity, loc *time.Location) Stats {
	st := Stats{
		CountsByType: make(map[activity.Type]int),
		XPBySubject:  make(map[string]shared.XP),
	}

	for _, a := range history {
		if a.Type.IsBookkeeping() {
			continue
		}
		st.TotalActivities++
		st.CountsByType[a.Type]++
		if subject, ok := a.Context.Normalized(activity.ContextSubject); ok && subject != "" {
			st.XPBySubject[subject] = st.XPBySubject[subject].Add(a.XPGained)
		}
		if st.LastActivityAt == nil || a.CreatedAt.After(*st.LastActivityAt) {
			at := a.CreatedAt
			st.LastActivityAt = &at
		}
	}

	streak := activity.FoldStreak(history, activity.TypeDailyLogin, loc)
	st.CurrentStreak = streak.Current
	st.BestStreak = streak.Best
	return st
}
