// Package achievement defines the static achievement catalogue, the closed set
// of unlock predicates, and a pure evaluator that checks a predicate against a
// user's activity history and post-transaction level state.
package achievement

import (
	"time"

	"github.com/medquest/study-hub/internal/domain/activity"
	"github.com/medquest/study-hub/internal/domain/shared"
)

// Category groups achievements for display.
type Category string

const (
	CategoryLearning    Category = "learning"
	CategoryMastery     Category = "mastery"
	CategoryStreak      Category = "streak"
	CategoryClinical    Category = "clinical"
	CategoryProgression Category = "progression"
	CategorySpecial     Category = "special"
)

// Rarity signals how hard an achievement is to earn.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityUncommon  Rarity = "uncommon"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// IsValid checks the rarity is one of the known values.
func (r Rarity) IsValid() bool {
	switch r {
	case RarityCommon, RarityUncommon, RarityRare, RarityEpic, RarityLegendary:
		return true
	}
	return false
}

// TriggerAny makes a definition a candidate for every recorded activity type.
const TriggerAny activity.Type = "multiple"

// Trigger says when a definition is evaluated and what must hold.
type Trigger struct {
	ActivityType activity.Type `json:"activity_type"`
	Predicate    Predicate     `json:"-"`
}

// Matches reports whether an activity of type t makes the definition a candidate.
func (tr Trigger) Matches(t activity.Type) bool {
	return tr.ActivityType == TriggerAny || tr.ActivityType == t
}

// Definition is one entry of the static catalogue.
type Definition struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	XPReward    shared.XP `json:"xp_reward"`
	Category    Category  `json:"category"`
	Rarity      Rarity    `json:"rarity"`
	Trigger     Trigger   `json:"trigger"`
}

// UserAchievement records that a user unlocked a definition. At most one
// exists per (UserID, AchievementID).
type UserAchievement struct {
	UserID        shared.UserID `json:"user_id"`
	AchievementID string        `json:"achievement_id"`
	UnlockedAt    time.Time     `json:"unlocked_at"`
	Progress      int           `json:"progress"`
	MaxProgress   int           `json:"max_progress"`
}

// NewUserAchievement builds the unlock record for def. Unlocked records carry
// full progress.
func NewUserAchievement(userID shared.UserID, def Definition, at time.Time) UserAchievement {
	max := def.Trigger.Predicate.Target()
	return UserAchievement{
		UserID:        userID,
		AchievementID: def.ID,
		UnlockedAt:    at,
		Progress:      max,
		MaxProgress:   max,
	}
}
