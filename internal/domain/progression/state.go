package progression

import (
	"time"

	"github.com/medquest/study-hub/internal/domain/shared"
)

// LevelState is the per-user level record. One exists per user once they
// have recorded any activity; readers see NewLevelState for unknown users.
type LevelState struct {
	UserID        shared.UserID `json:"user_id"`
	CurrentLevel  int           `json:"current_level"`
	CurrentXP     shared.XP     `json:"current_xp"`
	TotalXP       shared.XP     `json:"total_xp"`
	XPToNextLevel shared.XP     `json:"xp_to_next_level"`
	LastLevelUpAt *time.Time    `json:"last_level_up_at,omitempty"`
	UpdatedAt     time.Time     `json:"updated_at"`

	// Version is owned by the store and used for compare-and-swap. Zero means
	// the record has never been persisted.
	Version int64 `json:"-"`
}

// NewLevelState returns the level-1, zero-XP sentinel for a user.
func NewLevelState(userID shared.UserID, curve *Curve) LevelState {
	return LevelState{
		UserID:        userID,
		CurrentLevel:  1,
		XPToNextLevel: curve.XPToNextLevel(1, 0),
	}
}

// IsNew reports whether the state has never been persisted.
func (s LevelState) IsNew() bool {
	return s.Version == 0
}

// Apply adds reward to the state and recomputes the derived fields.
// The receiver is not modified. Negative rewards are ignored so totals never
// decrease.
func (s LevelState) Apply(curve *Curve, reward shared.XP, now time.Time) (LevelState, bool) {
	next := s
	next.TotalXP = s.TotalXP.Add(reward)
	next.CurrentXP = next.TotalXP
	next.CurrentLevel = curve.LevelForTotalXP(next.TotalXP)
	next.XPToNextLevel = curve.XPToNextLevel(next.CurrentLevel, next.TotalXP)
	next.UpdatedAt = now

	leveledUp := next.CurrentLevel > s.CurrentLevel
	if leveledUp {
		at := now
		next.LastLevelUpAt = &at
	}
	return next, leveledUp
}

// Consistent reports whether the derived fields agree with curve.
func (s LevelState) Consistent(curve *Curve) bool {
	return s.TotalXP >= 0 &&
		s.CurrentLevel == curve.LevelForTotalXP(s.TotalXP) &&
		s.XPToNextLevel == curve.XPToNextLevel(s.CurrentLevel, s.TotalXP)
}
