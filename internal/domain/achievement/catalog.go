package achievement

import (
	"github.com/medquest/study-hub/internal/domain/activity"
	"github.com/medquest/study-hub/internal/domain/progression"
	"github.com/medquest/study-hub/internal/domain/shared"
)

// Catalog is the validated, immutable set of achievement definitions.
type Catalog struct {
	defs []Definition
	byID map[string]int
}

// NewCatalog validates defs against curve and returns the catalogue. A nil
// curve skips the level-reachability check. Any error here is a programming
// error in static data and should stop the process at start-up.
func NewCatalog(defs []Definition, curve *progression.Curve) (*Catalog, error) {
	maxLevel := 0
	if curve != nil {
		maxLevel = curve.MaxLevel()
	}

	c := &Catalog{
		defs: make([]Definition, 0, len(defs)),
		byID: make(map[string]int, len(defs)),
	}

	for _, d := range defs {
		if d.ID == "" {
			return nil, shared.InvalidCatalog("achievement", "<empty>", "definition ID is required")
		}
		if _, dup := c.byID[d.ID]; dup {
			return nil, shared.InvalidCatalog("achievement", d.ID, "duplicate definition ID")
		}
		if d.Name == "" {
			return nil, shared.InvalidCatalog("achievement", d.ID, "name is required")
		}
		if d.XPReward < 0 {
			return nil, shared.InvalidCatalog("achievement", d.ID, "reward must be non-negative")
		}
		if !d.Rarity.IsValid() {
			return nil, shared.InvalidCatalog("achievement", d.ID, "unknown rarity "+string(d.Rarity))
		}
		if d.Trigger.ActivityType != TriggerAny {
			if !d.Trigger.ActivityType.IsValid() {
				return nil, shared.InvalidCatalog("achievement", d.ID, "unknown trigger type "+string(d.Trigger.ActivityType))
			}
			if d.Trigger.ActivityType.IsBookkeeping() {
				return nil, shared.InvalidCatalog("achievement", d.ID, "bookkeeping activities cannot trigger achievements")
			}
		}
		if err := validatePredicate(d.Trigger.Predicate, maxLevel); err != nil {
			return nil, shared.InvalidCatalog("achievement", d.ID, err.Error())
		}
		if cc, ok := d.Trigger.Predicate.(ConsecutiveCount); ok && len(cc.BrokenBy) > 0 {
			brokenBy := make([]activity.Type, len(cc.BrokenBy))
			copy(brokenBy, cc.BrokenBy)
			cc.BrokenBy = brokenBy
			d.Trigger.Predicate = cc
		}

		c.byID[d.ID] = len(c.defs)
		c.defs = append(c.defs, d)
	}

	return c, nil
}

// All returns a copy of every definition in catalogue order.
func (c *Catalog) All() []Definition {
	out := make([]Definition, len(c.defs))
	copy(out, c.defs)
	return out
}

// Len returns the number of definitions.
func (c *Catalog) Len() int {
	return len(c.defs)
}

// Get returns the definition with id.
func (c *Catalog) Get(id string) (Definition, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Definition{}, false
	}
	return c.defs[i], true
}

// CandidatesFor returns the definitions evaluated when an activity of type t
// is recorded, in catalogue order.
func (c *Catalog) CandidatesFor(t activity.Type) []Definition {
	var out []Definition
	for _, d := range c.defs {
		if d.Trigger.Matches(t) {
			out = append(out, d)
		}
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// REFERENCE CATALOGUE
// ══════════════════════════════════════════════════════════════════════════════

// Reference achievement IDs.
const (
	IDFirstCorrect     = "first_correct"
	IDHotStreak        = "hot_streak"
	IDQuestionCentury  = "question_century"
	IDWeekWarrior      = "week_warrior"
	IDMonthMaster      = "month_master"
	IDFirstCase        = "first_case"
	IDCaseVeteran      = "case_veteran"
	IDSpeedDemon       = "speed_demon"
	IDPerfectQuiz      = "perfect_quiz"
	IDStudyMarathon    = "study_marathon"
	IDNightOwl         = "night_owl"
	IDEarlyBird        = "early_bird"
	IDScrubbingIn      = "level_5"
	IDChiefResident    = "level_10"
	IDAttendingRounds  = "level_25"
	IDHallOfFame       = "final_level"
	IDDedicatedLearner = "dedicated_learner"
)

// DefaultDefinitions returns the reference catalogue data for the default
// curve.
func DefaultDefinitions() []Definition {
	return DefinitionsFor(progression.DefaultMaxLevel)
}

// DefinitionsFor returns the reference catalogue data for a curve ending at
// maxLevel. Hall of Fame targets maxLevel; level milestones at or past it are
// left out.
func DefinitionsFor(maxLevel int) []Definition {
	all := []Definition{
		{
			ID: IDFirstCorrect, Name: "First Diagnosis", Description: "Answer your first question correctly",
			XPReward: 10, Category: CategoryLearning, Rarity: RarityCommon,
			Trigger: Trigger{ActivityType: activity.TypeQuestionCorrect, Predicate: FirstOccurrence{}},
		},
		{
			ID: IDHotStreak, Name: "On Fire", Description: "Answer 10 questions in a row correctly",
			XPReward: 50, Category: CategoryMastery, Rarity: RarityUncommon,
			Trigger: Trigger{ActivityType: activity.TypeQuestionCorrect, Predicate: ConsecutiveCount{
				N: 10, BrokenBy: []activity.Type{activity.TypeQuestionIncorrect},
			}},
		},
		{
			ID: IDQuestionCentury, Name: "Question Century", Description: "Answer 100 questions correctly",
			XPReward: 200, Category: CategoryMastery, Rarity: RarityRare,
			Trigger: Trigger{ActivityType: activity.TypeQuestionCorrect, Predicate: CumulativeCount{N: 100}},
		},
		{
			ID: IDWeekWarrior, Name: "Week Warrior", Description: "Log in 7 days in a row",
			XPReward: 100, Category: CategoryStreak, Rarity: RarityUncommon,
			Trigger: Trigger{ActivityType: activity.TypeDailyLogin, Predicate: ConsecutiveCount{N: 7, Daily: true}},
		},
		{
			ID: IDMonthMaster, Name: "Month Master", Description: "Log in 30 days in a row",
			XPReward: 500, Category: CategoryStreak, Rarity: RarityEpic,
			Trigger: Trigger{ActivityType: activity.TypeDailyLogin, Predicate: ConsecutiveCount{N: 30, Daily: true}},
		},
		{
			ID: IDFirstCase, Name: "First Patient", Description: "Complete your first clinical case",
			XPReward: 25, Category: CategoryClinical, Rarity: RarityCommon,
			Trigger: Trigger{ActivityType: activity.TypeClinicalCaseCompleted, Predicate: FirstOccurrence{}},
		},
		{
			ID: IDCaseVeteran, Name: "Ward Veteran", Description: "Complete 25 clinical cases",
			XPReward: 300, Category: CategoryClinical, Rarity: RarityRare,
			Trigger: Trigger{ActivityType: activity.TypeClinicalCaseCompleted, Predicate: CumulativeCount{N: 25}},
		},
		{
			ID: IDSpeedDemon, Name: "Rapid Response", Description: "Finish a quiz in 10 minutes or less",
			XPReward: 75, Category: CategorySpecial, Rarity: RarityRare,
			Trigger: Trigger{ActivityType: activity.TypeQuizCompleted, Predicate: ContextBound{
				Field: activity.ContextTimeSpent, Op: OpLE, Value: 10,
			}},
		},
		{
			ID: IDPerfectQuiz, Name: "Textbook Answer", Description: "Score 100% on a quiz",
			XPReward: 100, Category: CategoryMastery, Rarity: RarityRare,
			Trigger: Trigger{ActivityType: activity.TypeQuizCompleted, Predicate: ContextBound{
				Field: activity.ContextScore, Op: OpGE, Value: 100,
			}},
		},
		{
			ID: IDStudyMarathon, Name: "Double Shift", Description: "Log a study session of two hours or more",
			XPReward: 50, Category: CategoryLearning, Rarity: RarityUncommon,
			Trigger: Trigger{ActivityType: activity.TypeStudySession, Predicate: ContextBound{
				Field: activity.ContextTimeSpent, Op: OpGE, Value: 120,
			}},
		},
		{
			ID: IDNightOwl, Name: "Night Shift", Description: "Study between 22:00 and 04:00",
			XPReward: 30, Category: CategorySpecial, Rarity: RarityUncommon,
			Trigger: Trigger{ActivityType: TriggerAny, Predicate: TimeOfDayWindow{StartHour: 22, EndHour: 4}},
		},
		{
			ID: IDEarlyBird, Name: "Morning Rounds", Description: "Study between 05:00 and 07:00",
			XPReward: 30, Category: CategorySpecial, Rarity: RarityUncommon,
			Trigger: Trigger{ActivityType: TriggerAny, Predicate: TimeOfDayWindow{StartHour: 5, EndHour: 7}},
		},
		{
			ID: IDScrubbingIn, Name: "Scrubbing In", Description: "Reach level 5",
			XPReward: 50, Category: CategoryProgression, Rarity: RarityCommon,
			Trigger: Trigger{ActivityType: TriggerAny, Predicate: LevelReached{Level: 5}},
		},
		{
			ID: IDChiefResident, Name: "Making Rounds", Description: "Reach level 10",
			XPReward: 100, Category: CategoryProgression, Rarity: RarityUncommon,
			Trigger: Trigger{ActivityType: TriggerAny, Predicate: LevelReached{Level: 10}},
		},
		{
			ID: IDAttendingRounds, Name: "Attending", Description: "Reach level 25",
			XPReward: 250, Category: CategoryProgression, Rarity: RarityEpic,
			Trigger: Trigger{ActivityType: TriggerAny, Predicate: LevelReached{Level: 25}},
		},
		{
			ID: IDHallOfFame, Name: "Hall of Fame", Description: "Reach the final level",
			XPReward: 1000, Category: CategoryProgression, Rarity: RarityLegendary,
			Trigger: Trigger{ActivityType: TriggerAny, Predicate: LevelReached{Level: maxLevel}},
		},
		{
			ID: IDDedicatedLearner, Name: "Dedicated Learner", Description: "Record 500 study activities",
			XPReward: 250, Category: CategoryLearning, Rarity: RarityEpic,
			Trigger: Trigger{ActivityType: TriggerAny, Predicate: CumulativeCount{N: 500}},
		},
	}

	defs := all[:0]
	for _, d := range all {
		if lr, ok := d.Trigger.Predicate.(LevelReached); ok && d.ID != IDHallOfFame && lr.Level >= maxLevel {
			continue
		}
		defs = append(defs, d)
	}
	return defs
}

// DefaultCatalog validates the reference definitions against curve.
func DefaultCatalog(curve *progression.Curve) (*Catalog, error) {
	return NewCatalog(DefinitionsFor(curve.MaxLevel()), curve)
}
