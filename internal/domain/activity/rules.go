package activity

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/medquest/study-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// MULTIPLIER TABLES
// ══════════════════════════════════════════════════════════════════════════════

// Multipliers scales a base reward using one context field. The set of
// implementations is closed: ByValue and ByThreshold.
type Multipliers interface {
	// Field is the context key the table reads.
	Field() string
	lookup(ctx Context) (float64, bool)
	validate() error
}

// ByValue matches the context field's normalized string value against a table.
type ByValue struct {
	Key   string
	Table map[string]float64
}

// Field implements Multipliers.
func (m ByValue) Field() string { return m.Key }

func (m ByValue) lookup(ctx Context) (float64, bool) {
	v, ok := ctx.Normalized(m.Key)
	if !ok {
		return 0, false
	}
	mult, ok := m.Table[v]
	return mult, ok
}

func (m ByValue) validate() error {
	if m.Key == "" || len(m.Table) == 0 {
		return errors.New("value table needs a field and at least one entry")
	}
	for k, v := range m.Table {
		if k != strings.ToLower(k) {
			return fmt.Errorf("value table key %q must be lower case", k)
		}
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("multiplier for %q must be a finite non-negative number", k)
		}
	}
	return nil
}

// Step is one bucket of a ByThreshold table.
type Step struct {
	AtLeast    float64
	Multiplier float64
}

// ByThreshold picks the multiplier of the highest step whose AtLeast is not
// above the context field's numeric value. Values below the first step fall
// back to the base reward.
type ByThreshold struct {
	Key   string
	Steps []Step
}

// Field implements Multipliers.
func (m ByThreshold) Field() string { return m.Key }

func (m ByThreshold) lookup(ctx Context) (float64, bool) {
	v, ok := ctx.Number(m.Key)
	if !ok {
		return 0, false
	}
	// Steps are ascending; find the first step above v.
	i := sort.Search(len(m.Steps), func(i int) bool { return m.Steps[i].AtLeast > v })
	if i == 0 {
		return 0, false
	}
	return m.Steps[i-1].Multiplier, true
}

func (m ByThreshold) validate() error {
	if m.Key == "" || len(m.Steps) == 0 {
		return errors.New("threshold table needs a field and at least one step")
	}
	for i, s := range m.Steps {
		if s.Multiplier < 0 || math.IsNaN(s.Multiplier) || math.IsInf(s.Multiplier, 0) {
			return fmt.Errorf("step %d multiplier must be a finite non-negative number", i)
		}
		if i > 0 && s.AtLeast <= m.Steps[i-1].AtLeast {
			return errors.New("steps must be strictly ascending")
		}
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RULES
// ══════════════════════════════════════════════════════════════════════════════

// Rule prices one activity type.
type Rule struct {
	Base        shared.XP
	Multipliers Multipliers // optional
}

// Rules is an immutable reward table. Construct it once and share it.
type Rules struct {
	rules map[Type]Rule
}

// NewRules validates and copies table.
func NewRules(table map[Type]Rule) (*Rules, error) {
	rules := make(map[Type]Rule, len(table))
	for t, r := range table {
		if !t.IsValid() {
			return nil, shared.InvalidCatalog("activity", string(t), "rule for unknown activity type")
		}
		if r.Base < 0 {
			return nil, shared.InvalidCatalog("activity", string(t), "base reward must be non-negative")
		}
		if r.Multipliers != nil {
			if err := r.Multipliers.validate(); err != nil {
				return nil, shared.InvalidCatalog("activity", string(t), err.Error())
			}
			switch m := r.Multipliers.(type) {
			case ByThreshold:
				steps := make([]Step, len(m.Steps))
				copy(steps, m.Steps)
				r.Multipliers = ByThreshold{Key: m.Key, Steps: steps}
			case ByValue:
				values := make(map[string]float64, len(m.Table))
				for k, v := range m.Table {
					values[k] = v
				}
				r.Multipliers = ByValue{Key: m.Key, Table: values}
			}
		}
		rules[t] = r
	}
	return &Rules{rules: rules}, nil
}

// DifficultyMultipliers is the reference difficulty table.
func DifficultyMultipliers() ByValue {
	return ByValue{
		Key: ContextDifficulty,
		Table: map[string]float64{
			DifficultyEasy:   1,
			DifficultyMedium: 1.5,
			DifficultyHard:   2,
		},
	}
}

// StreakMultipliers is the reference streak-length table.
func StreakMultipliers() ByThreshold {
	return ByThreshold{
		Key: ContextStreakLength,
		Steps: []Step{
			{AtLeast: 7, Multiplier: 1},
			{AtLeast: 14, Multiplier: 2},
			{AtLeast: 30, Multiplier: 3},
			{AtLeast: 60, Multiplier: 5},
			{AtLeast: 100, Multiplier: 10},
		},
	}
}

// DefaultRuleTable returns the reference reward table. Callers may modify the
// returned map before passing it to NewRules.
func DefaultRuleTable() map[Type]Rule {
	return map[Type]Rule{
		TypeQuestionCorrect:       {Base: 10, Multipliers: DifficultyMultipliers()},
		TypeQuestionIncorrect:     {Base: 2},
		TypeDailyLogin:            {Base: 5},
		TypeStreakMilestone:       {Base: 50, Multipliers: StreakMultipliers()},
		TypeQuizCompleted:         {Base: 50, Multipliers: DifficultyMultipliers()},
		TypeStudySession:          {Base: 20},
		TypeClinicalCaseCompleted: {Base: 100, Multipliers: DifficultyMultipliers()},
		TypeAchievementUnlocked:   {Base: 0},
	}
}

// DefaultRules returns the reference reward rules.
func DefaultRules() *Rules {
	r, err := NewRules(DefaultRuleTable())
	if err != nil {
		panic(err)
	}
	return r
}

// RewardFor prices an activity. It is a pure function of its inputs.
// A type with no rule fails with ErrUnknownActivityType.
func (r *Rules) RewardFor(t Type, ctx Context) (shared.XP, error) {
	rule, ok := r.rules[t]
	if !ok {
		return 0, shared.UnknownActivityType("RewardFor", string(t))
	}

	if rule.Multipliers == nil {
		return rule.Base, nil
	}
	mult, ok := rule.Multipliers.lookup(ctx)
	if !ok {
		return rule.Base, nil
	}
	return shared.XP(math.Floor(float64(rule.Base)*mult + 1e-9)), nil
}

// Knows reports whether t has a rule.
func (r *Rules) Knows(t Type) bool {
	_, ok := r.rules[t]
	return ok
}

// Rule returns the rule for t.
func (r *Rules) Rule(t Type) (Rule, bool) {
	rule, ok := r.rules[t]
	return rule, ok
}
