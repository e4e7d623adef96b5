// Package activity contains the immutable activity log entry and the reward
// rules that price each kind of study action in XP.
// This is a pure domain layer with zero external dependencies.
package activity

import (
	"sort"
	"time"

	"github.com/medquest/study-hub/internal/domain/shared"
)

// Type is the closed enumeration of XP-worthy actions.
type Type string

const (
	TypeQuestionCorrect       Type = "question_correct"
	TypeQuestionIncorrect     Type = "question_incorrect"
	TypeDailyLogin            Type = "daily_login"
	TypeStreakMilestone       Type = "streak_milestone"
	TypeQuizCompleted         Type = "quiz_completed"
	TypeStudySession          Type = "study_session"
	TypeClinicalCaseCompleted Type = "clinical_case_completed"

	// TypeAchievementUnlocked is the bookkeeping entry the engine appends when
	// an achievement grants its reward. Callers never record it directly.
	TypeAchievementUnlocked Type = "achievement_unlocked"
)

var knownTypes = map[Type]struct{}{
	TypeQuestionCorrect:       {},
	TypeQuestionIncorrect:     {},
	TypeDailyLogin:            {},
	TypeStreakMilestone:       {},
	TypeQuizCompleted:         {},
	TypeStudySession:          {},
	TypeClinicalCaseCompleted: {},
	TypeAchievementUnlocked:   {},
}

// IsValid reports whether t belongs to the enumeration.
func (t Type) IsValid() bool {
	_, ok := knownTypes[t]
	return ok
}

// IsBookkeeping reports whether t is produced by the engine rather than a user action.
func (t Type) IsBookkeeping() bool {
	return t == TypeAchievementUnlocked
}

// String returns the string representation.
func (t Type) String() string {
	return string(t)
}

// Types returns every known type in a stable order.
func Types() []Type {
	out := make([]Type, 0, len(knownTypes))
	for t := range knownTypes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseType converts raw input into a known Type.
func ParseType(raw string) (Type, error) {
	if raw == "" {
		return "", shared.ErrEmptyActivityType
	}
	t := Type(raw)
	if !t.IsValid() {
		return "", shared.UnknownActivityType("ParseType", raw)
	}
	return t, nil
}

// Activity is an immutable fact: one recorded action and the XP it earned.
// Activities are appended once and never updated or deleted.
type Activity struct {
	ID        string        `json:"id"`
	UserID    shared.UserID `json:"user_id"`
	Type      Type          `json:"type"`
	XPGained  shared.XP     `json:"xp_gained"`
	Context   Context       `json:"context,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// NewActivityParams holds the inputs for NewActivity.
type NewActivityParams struct {
	ID        string
	UserID    shared.UserID
	Type      Type
	XPGained  shared.XP
	Context   Context
	CreatedAt time.Time
}

// NewActivity validates params and builds an Activity with its own copy of Context.
func NewActivity(p NewActivityParams) (Activity, error) {
	if p.ID == "" {
		return Activity{}, shared.NewDomainError("activity", "NewActivity", shared.ErrInvalidID, "activity ID is required")
	}
	if err := p.UserID.Validate(); err != nil {
		return Activity{}, err
	}
	if !p.Type.IsValid() {
		return Activity{}, shared.UnknownActivityType("NewActivity", string(p.Type))
	}
	if p.XPGained < 0 {
		return Activity{}, shared.NewDomainError("activity", "NewActivity", shared.ErrNegativeValue, "XP must be non-negative")
	}
	if p.CreatedAt.IsZero() {
		return Activity{}, shared.NewDomainError("activity", "NewActivity", shared.ErrEmptyValue, "timestamp is required")
	}

	return Activity{
		ID:        p.ID,
		UserID:    p.UserID,
		Type:      p.Type,
		XPGained:  p.XPGained,
		Context:   p.Context.Clone(),
		CreatedAt: p.CreatedAt,
	}, nil
}

// SortNewestFirst orders activities given in append order by CreatedAt
// descending. Among equal timestamps the later append comes first.
func SortNewestFirst(activities []Activity) {
	for i, j := 0, len(activities)-1; i < j; i, j = i+1, j-1 {
		activities[i], activities[j] = activities[j], activities[i]
	}
	sort.SliceStable(activities, func(i, j int) bool {
		return activities[i].CreatedAt.After(activities[j].CreatedAt)
	})
}
