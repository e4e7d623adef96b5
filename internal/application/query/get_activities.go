package query

import (
	"context"

	"github.com/medquest/study-hub/internal/domain/activity"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET ACTIVITIES QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetActivitiesQuery contains parameters for an activity history read.
type GetActivitiesQuery struct {
	UserID string

	// Types restricts the result. Empty means every type.
	Types []string

	// Limit caps the page. Zero means activity.DefaultListLimit; values above
	// activity.MaxListLimit are clamped.
	Limit int
}

// GetActivities returns the user's activities newest first. The result is a
// fresh read each time; callers re-query to see new entries.
func (s *Service) GetActivities(ctx context.Context, q GetActivitiesQuery) ([]activity.Activity, error) {
	uid, err := parseUserID(q.UserID)
	if err != nil {
		return nil, err
	}

	filter := activity.Filter{Limit: q.Limit}
	if filter.Limit < 0 {
		filter.Limit = 0
	}
	for _, raw := range q.Types {
		t, err := activity.ParseType(raw)
		if err != nil {
			return nil, err
		}
		filter.Types = append(filter.Types, t)
	}

	return s.reader.ListActivities(ctx, uid, filter)
}
