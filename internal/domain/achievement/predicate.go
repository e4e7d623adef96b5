package achievement

import (
	"encoding/json"
	"fmt"

	"github.com/medquest/study-hub/internal/domain/activity"
)

// PredicateKind names a predicate variant.
type PredicateKind string

const (
	KindFirstOccurrence  PredicateKind = "first_occurrence"
	KindCumulativeCount  PredicateKind = "cumulative_count"
	KindConsecutiveCount PredicateKind = "consecutive_count"
	KindLevelReached     PredicateKind = "level_reached"
	KindContextBound     PredicateKind = "context_bound"
	KindTimeOfDayWindow  PredicateKind = "time_of_day_window"
)

// Predicate is the closed set of unlock conditions. Only the types in this
// file implement it; the evaluator switches over them exhaustively.
type Predicate interface {
	Kind() PredicateKind
	// Target is the MaxProgress shown for the predicate.
	Target() int
	isPredicate()
}

// FirstOccurrence holds as soon as one activity of the trigger type is recorded.
type FirstOccurrence struct{}

// CumulativeCount holds once N activities of the trigger type exist in the log,
// the triggering one included. With TriggerAny every non-bookkeeping activity counts.
type CumulativeCount struct {
	N int `json:"n"`
}

// ConsecutiveCount holds when the most recent N activities of the trigger
// type form an unbroken run: scanning back from the triggering activity, no
// activity whose type is in BrokenBy appears before N matches are found.
//
// When Daily is set the run is measured in calendar days instead: each day
// with at least one matching activity counts once, and a skipped day breaks it.
type ConsecutiveCount struct {
	N        int             `json:"n"`
	BrokenBy []activity.Type `json:"broken_by,omitempty"`
	Daily    bool            `json:"daily,omitempty"`
}

// LevelReached holds when the post-transaction level is at least Level.
type LevelReached struct {
	Level int `json:"level"`
}

// Comparator is a ContextBound operator.
type Comparator string

const (
	OpLT Comparator = "<"
	OpLE Comparator = "<="
	OpEQ Comparator = "=="
	OpNE Comparator = "!="
	OpGE Comparator = ">="
	OpGT Comparator = ">"
)

func (c Comparator) valid() bool {
	switch c {
	case OpLT, OpLE, OpEQ, OpNE, OpGE, OpGT:
		return true
	}
	return false
}

// ContextBound holds when the triggering activity's context field compares
// true against the bound. Numeric bounds use Value. Text bounds (== and !=
// only) use Text and compare case-insensitively. A missing field never holds.
type ContextBound struct {
	Field string     `json:"field"`
	Op    Comparator `json:"op"`
	Value float64    `json:"value,omitempty"`
	Text  string     `json:"text,omitempty"`
}

// TimeOfDayWindow holds when the triggering activity happened in
// [StartHour, EndHour) local time. Windows may wrap midnight.
type TimeOfDayWindow struct {
	StartHour int `json:"start_hour"`
	EndHour   int `json:"end_hour"`
}

func (FirstOccurrence) Kind() PredicateKind  { return KindFirstOccurrence }
func (CumulativeCount) Kind() PredicateKind  { return KindCumulativeCount }
func (ConsecutiveCount) Kind() PredicateKind { return KindConsecutiveCount }
func (LevelReached) Kind() PredicateKind     { return KindLevelReached }
func (ContextBound) Kind() PredicateKind     { return KindContextBound }
func (TimeOfDayWindow) Kind() PredicateKind  { return KindTimeOfDayWindow }

func (FirstOccurrence) Target() int    { return 1 }
func (p CumulativeCount) Target() int  { return p.N }
func (p ConsecutiveCount) Target() int { return p.N }
func (p LevelReached) Target() int     { return p.Level }
func (ContextBound) Target() int       { return 1 }
func (TimeOfDayWindow) Target() int    { return 1 }

func (FirstOccurrence) isPredicate()  {}
func (CumulativeCount) isPredicate()  {}
func (ConsecutiveCount) isPredicate() {}
func (LevelReached) isPredicate()     {}
func (ContextBound) isPredicate()     {}
func (TimeOfDayWindow) isPredicate()  {}

// validatePredicate checks the variant's fields. maxLevel bounds LevelReached.
func validatePredicate(p Predicate, maxLevel int) error {
	switch v := p.(type) {
	case nil:
		return fmt.Errorf("predicate is required")
	case FirstOccurrence:
		return nil
	case CumulativeCount:
		if v.N < 1 {
			return fmt.Errorf("cumulative count must be at least 1, got %d", v.N)
		}
	case ConsecutiveCount:
		if v.N < 1 {
			return fmt.Errorf("consecutive count must be at least 1, got %d", v.N)
		}
		for _, t := range v.BrokenBy {
			if !t.IsValid() {
				return fmt.Errorf("consecutive count broken by unknown type %q", t)
			}
		}
	case LevelReached:
		if v.Level < 2 || (maxLevel > 0 && v.Level > maxLevel) {
			return fmt.Errorf("level %d is not reachable", v.Level)
		}
	case ContextBound:
		if v.Field == "" {
			return fmt.Errorf("context bound needs a field")
		}
		if !v.Op.valid() {
			return fmt.Errorf("unknown comparator %q", v.Op)
		}
		if v.Text != "" && v.Op != OpEQ && v.Op != OpNE {
			return fmt.Errorf("text bound supports only == and !=")
		}
	case TimeOfDayWindow:
		if v.StartHour < 0 || v.StartHour > 23 || v.EndHour < 0 || v.EndHour > 23 {
			return fmt.Errorf("hours must be within 0..23")
		}
		if v.StartHour == v.EndHour {
			return fmt.Errorf("time window must not be empty")
		}
	default:
		return fmt.Errorf("unsupported predicate %T", p)
	}
	return nil
}

// MarshalJSON renders the trigger with its predicate fields tagged by kind.
func (tr Trigger) MarshalJSON() ([]byte, error) {
	var pred map[string]any
	if tr.Predicate != nil {
		raw, err := json.Marshal(tr.Predicate)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &pred); err != nil {
			return nil, err
		}
		if pred == nil {
			pred = map[string]any{}
		}
		pred["kind"] = tr.Predicate.Kind()
	}
	return json.Marshal(struct {
		ActivityType activity.Type  `json:"activity_type"`
		Predicate    map[string]any `json:"predicate,omitempty"`
	}{ActivityType: tr.ActivityType, Predicate: pred})
}
