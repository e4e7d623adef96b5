package achievement

import (
	"strings"
	"time"

	"github.com/medquest/study-hub/internal/domain/activity"
	"github.com/medquest/study-hub/internal/domain/progression"
	"github.com/medquest/study-hub/pkg/timeutil"
)

// Input is everything a predicate may look at. History is newest first and
// includes Trigger. State is the level state after the transaction's XP has
// been applied.
type Input struct {
	Trigger activity.Activity
	History []activity.Activity
	State   progression.LevelState
}

// Evaluator checks predicates. It holds only the time zone used for calendar
// days and wall-clock hours, so it is safe for concurrent use.
type Evaluator struct {
	loc *time.Location
}

// NewEvaluator returns an evaluator that interprets days and hours in loc.
// A nil loc means UTC.
func NewEvaluator(loc *time.Location) *Evaluator {
	if loc == nil {
		loc = time.UTC
	}
	return &Evaluator{loc: loc}
}

// Location returns the evaluator's time zone.
func (e *Evaluator) Location() *time.Location {
	return e.loc
}

// Evaluate reports whether def's trigger type matches the triggering activity
// and its predicate holds. It never mutates its input.
func (e *Evaluator) Evaluate(def Definition, in Input) bool {
	if !def.Trigger.Matches(in.Trigger.Type) {
		return false
	}

	switch p := def.Trigger.Predicate.(type) {
	case FirstOccurrence:
		return true
	case CumulativeCount:
		return e.countMatching(def.Trigger.ActivityType, in.History) >= p.N
	case ConsecutiveCount:
		return e.runLength(def.Trigger.ActivityType, p, in.History, in.Trigger.ID) >= p.N
	case LevelReached:
		return in.State.CurrentLevel >= p.Level
	case ContextBound:
		return compareContext(p, in.Trigger.Context)
	case TimeOfDayWindow:
		hour := timeutil.HourIn(in.Trigger.CreatedAt, e.loc)
		return timeutil.InHourWindow(hour, p.StartHour, p.EndHour)
	default:
		return false
	}
}

// Progress reports how far a user is toward def, capped at the predicate's
// target. It reads only history and state, so it works outside a transaction.
func (e *Evaluator) Progress(def Definition, history []activity.Activity, state progression.LevelState) (int, int) {
	target := def.Trigger.Predicate.Target()
	var current int

	switch p := def.Trigger.Predicate.(type) {
	case FirstOccurrence:
		if e.countMatching(def.Trigger.ActivityType, history) > 0 {
			current = 1
		}
	case CumulativeCount:
		current = e.countMatching(def.Trigger.ActivityType, history)
	case ConsecutiveCount:
		current = e.runLength(def.Trigger.ActivityType, p, history, "")
	case LevelReached:
		current = state.CurrentLevel
	case ContextBound, TimeOfDayWindow:
		// Single-activity conditions have no partial progress.
	}

	if current > target {
		current = target
	}
	return current, target
}

// matchesType reports whether a logged activity counts for trigger type t.
// Bookkeeping entries only count when they are the trigger type themselves.
func matchesType(t activity.Type, a activity.Activity) bool {
	if t == TriggerAny {
		return !a.Type.IsBookkeeping()
	}
	return a.Type == t
}

func (e *Evaluator) countMatching(t activity.Type, history []activity.Activity) int {
	n := 0
	for _, a := range history {
		if matchesType(t, a) {
			n++
		}
	}
	return n
}

// runLength scans history newest first, starting at the activity with
// fromID (or at the head when fromID is empty), and returns the length of
// the unbroken run ending there. It stops as soon as the run reaches p.N.
func (e *Evaluator) runLength(t activity.Type, p ConsecutiveCount, history []activity.Activity, fromID string) int {
	start := 0
	if fromID != "" {
		for i, a := range history {
			if a.ID == fromID {
				start = i
				break
			}
		}
	}

	if p.Daily {
		return e.dailyRun(t, p, history[start:])
	}

	run := 0
	for _, a := range history[start:] {
		switch {
		case matchesType(t, a):
			run++
			if run >= p.N {
				return run
			}
		case breaks(p.BrokenBy, a.Type):
			return run
		}
	}
	return run
}

// dailyRun counts distinct consecutive calendar days with a matching activity.
func (e *Evaluator) dailyRun(t activity.Type, p ConsecutiveCount, history []activity.Activity) int {
	run := 0
	var last timeutil.Day

	for _, a := range history {
		if breaks(p.BrokenBy, a.Type) {
			return run
		}
		if !matchesType(t, a) {
			continue
		}

		day := timeutil.DayOf(a.CreatedAt, e.loc)
		if run == 0 {
			run, last = 1, day
		} else {
			switch gap := last.Sub(day); {
			case gap == 0:
				continue
			case gap == 1:
				run++
				last = day
			default:
				return run
			}
		}
		if run >= p.N {
			return run
		}
	}
	return run
}

func breaks(brokenBy []activity.Type, t activity.Type) bool {
	for _, b := range brokenBy {
		if b == t {
			return true
		}
	}
	return false
}

func compareContext(p ContextBound, ctx activity.Context) bool {
	if p.Text != "" {
		got, ok := ctx.Normalized(p.Field)
		if !ok {
			return false
		}
		eq := got == strings.ToLower(strings.TrimSpace(p.Text))
		if p.Op == OpNE {
			return !eq
		}
		return eq
	}

	v, ok := ctx.Number(p.Field)
	if !ok {
		return false
	}
	switch p.Op {
	case OpLT:
		return v < p.Value
	case OpLE:
		return v <= p.Value
	case OpEQ:
		return v == p.Value
	case OpNE:
		return v != p.Value
	case OpGE:
		return v >= p.Value
	case OpGT:
		return v > p.Value
	default:
		return false
	}
}
