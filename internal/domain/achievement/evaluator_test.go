package achievement

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medquest/study-hub/internal/domain/activity"
	"github.com/medquest/study-hub/internal/domain/progression"
	"github.com/medquest/study-hub/internal/domain/shared"
)

var t0 = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// logOf builds a newest-first history from types given oldest first, one
// minute apart.
func logOf(types ...activity.Type) []activity.Activity {
	out := make([]activity.Activity, len(types))
	for i, typ := range types {
		out[len(types)-1-i] = activity.Activity{
			ID:        fmt.Sprintf("a%d", i),
			UserID:    "u1",
			Type:      typ,
			CreatedAt: t0.Add(time.Duration(i) * time.Minute),
		}
	}
	return out
}

func repeat(typ activity.Type, n int) []activity.Type {
	out := make([]activity.Type, n)
	for i := range out {
		out[i] = typ
	}
	return out
}

func inputFor(history []activity.Activity) Input {
	return Input{
		Trigger: history[0],
		History: history,
		State:   progression.NewLevelState("u1", progression.DefaultCurve()),
	}
}

func def(typ activity.Type, p Predicate) Definition {
	return Definition{ID: "test", Name: "Test", Rarity: RarityCommon, Trigger: Trigger{ActivityType: typ, Predicate: p}}
}

func TestEvaluate_FirstOccurrence(t *testing.T) {
	e := NewEvaluator(nil)
	d := def(activity.TypeQuestionCorrect, FirstOccurrence{})

	assert.True(t, e.Evaluate(d, inputFor(logOf(activity.TypeQuestionCorrect))))
	assert.False(t, e.Evaluate(d, inputFor(logOf(activity.TypeQuestionIncorrect))))
}

func TestEvaluate_CumulativeCount(t *testing.T) {
	e := NewEvaluator(nil)
	d := def(activity.TypeClinicalCaseCompleted, CumulativeCount{N: 3})

	types := []activity.Type{
		activity.TypeClinicalCaseCompleted, activity.TypeQuestionCorrect,
		activity.TypeClinicalCaseCompleted,
	}
	assert.False(t, e.Evaluate(d, inputFor(logOf(types...))))

	types = append(types, activity.TypeClinicalCaseCompleted)
	assert.True(t, e.Evaluate(d, inputFor(logOf(types...))))
}

func TestEvaluate_CumulativeCount_AnyIgnoresBookkeeping(t *testing.T) {
	e := NewEvaluator(nil)
	d := def(TriggerAny, CumulativeCount{N: 3})

	history := logOf(
		activity.TypeDailyLogin,
		activity.TypeAchievementUnlocked,
		activity.TypeAchievementUnlocked,
		activity.TypeQuestionCorrect,
	)
	assert.False(t, e.Evaluate(d, inputFor(history)))

	history = logOf(
		activity.TypeDailyLogin,
		activity.TypeAchievementUnlocked,
		activity.TypeStudySession,
		activity.TypeQuestionCorrect,
	)
	assert.True(t, e.Evaluate(d, inputFor(history)))
}

func TestEvaluate_ConsecutiveCount_BrokenRun(t *testing.T) {
	e := NewEvaluator(nil)
	d := def(activity.TypeQuestionCorrect, ConsecutiveCount{
		N: 3, BrokenBy: []activity.Type{activity.TypeQuestionIncorrect},
	})

	// Scattered matches with breaks in between never add up.
	scattered := logOf(
		activity.TypeQuestionCorrect, activity.TypeQuestionCorrect,
		activity.TypeQuestionIncorrect,
		activity.TypeQuestionCorrect, activity.TypeQuestionCorrect,
	)
	assert.False(t, e.Evaluate(d, inputFor(scattered)))

	// Activities outside BrokenBy do not interrupt the run.
	unbroken := logOf(
		activity.TypeQuestionIncorrect,
		activity.TypeQuestionCorrect, activity.TypeDailyLogin,
		activity.TypeQuestionCorrect, activity.TypeStudySession,
		activity.TypeQuestionCorrect,
	)
	assert.True(t, e.Evaluate(d, inputFor(unbroken)))
}

func TestEvaluate_ConsecutiveCount_StartsAtTrigger(t *testing.T) {
	e := NewEvaluator(nil)
	d := def(activity.TypeQuestionCorrect, ConsecutiveCount{
		N: 2, BrokenBy: []activity.Type{activity.TypeQuestionIncorrect},
	})

	history := logOf(
		activity.TypeQuestionCorrect,
		activity.TypeQuestionIncorrect,
		activity.TypeQuestionCorrect,
	)
	// Bookkeeping appended after the trigger sits ahead of it in the log.
	unlock := activity.Activity{ID: "bk", Type: activity.TypeAchievementUnlocked, CreatedAt: t0.Add(time.Hour)}
	withBookkeeping := append([]activity.Activity{unlock}, history...)

	in := Input{Trigger: history[0], History: withBookkeeping}
	assert.False(t, e.Evaluate(d, in))
}

func TestEvaluate_ConsecutiveCount_Daily(t *testing.T) {
	e := NewEvaluator(nil)
	d := def(activity.TypeDailyLogin, ConsecutiveCount{N: 3, Daily: true})

	login := func(id string, day, hour int) activity.Activity {
		return activity.Activity{
			ID: id, Type: activity.TypeDailyLogin,
			CreatedAt: time.Date(2026, 3, day, hour, 0, 0, 0, time.UTC),
		}
	}

	t.Run("three consecutive days", func(t *testing.T) {
		h := []activity.Activity{login("c", 12, 9), login("b", 11, 9), login("a", 10, 9)}
		assert.True(t, e.Evaluate(d, inputFor(h)))
	})

	t.Run("several logins on the same day count once", func(t *testing.T) {
		h := []activity.Activity{login("d", 12, 20), login("c", 12, 9), login("b", 11, 9), login("a", 11, 8)}
		assert.False(t, e.Evaluate(d, inputFor(h)))
	})

	t.Run("gap resets", func(t *testing.T) {
		h := []activity.Activity{login("c", 13, 9), login("b", 12, 9), login("a", 10, 9)}
		assert.False(t, e.Evaluate(d, inputFor(h)))
	})
}

func TestEvaluate_ConsecutiveCount_DailyUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	d := def(activity.TypeDailyLogin, ConsecutiveCount{N: 2, Daily: true})

	// 20:00 UTC on the 10th is already the 11th at UTC+5.
	h := []activity.Activity{
		{ID: "b", Type: activity.TypeDailyLogin, CreatedAt: time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)},
		{ID: "a", Type: activity.TypeDailyLogin, CreatedAt: time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)},
	}

	assert.False(t, NewEvaluator(nil).Evaluate(d, inputFor(h)))
	assert.True(t, NewEvaluator(loc).Evaluate(d, inputFor(h)))
}

func TestEvaluate_LevelReached_UsesPostUpdateState(t *testing.T) {
	e := NewEvaluator(nil)
	curve := progression.DefaultCurve()
	d := def(TriggerAny, LevelReached{Level: 5})

	before := progression.NewLevelState("u1", curve)
	after, _ := before.Apply(curve, curve.TotalXPRequired(6), t0)
	require.Equal(t, 6, after.CurrentLevel)

	in := inputFor(logOf(activity.TypeClinicalCaseCompleted))
	in.State = before
	assert.False(t, e.Evaluate(d, in))

	in.State = after
	assert.True(t, e.Evaluate(d, in), "a multi-level jump still unlocks")
}

func TestEvaluate_ContextBound(t *testing.T) {
	e := NewEvaluator(nil)

	withCtx := func(ctx activity.Context) Input {
		h := logOf(activity.TypeQuizCompleted)
		h[0].Context = ctx
		return inputFor(h)
	}

	fast := def(activity.TypeQuizCompleted, ContextBound{Field: activity.ContextTimeSpent, Op: OpLE, Value: 10})
	assert.True(t, e.Evaluate(fast, withCtx(activity.Context{activity.ContextTimeSpent: 10})))
	assert.True(t, e.Evaluate(fast, withCtx(activity.Context{activity.ContextTimeSpent: "7.5"})))
	assert.False(t, e.Evaluate(fast, withCtx(activity.Context{activity.ContextTimeSpent: 11})))
	assert.False(t, e.Evaluate(fast, withCtx(nil)), "missing field never holds")

	cardio := def(activity.TypeQuizCompleted, ContextBound{Field: activity.ContextSubject, Op: OpEQ, Text: "Cardiology"})
	assert.True(t, e.Evaluate(cardio, withCtx(activity.Context{activity.ContextSubject: " cardiology "})))
	assert.False(t, e.Evaluate(cardio, withCtx(activity.Context{activity.ContextSubject: "neurology"})))

	notCardio := def(activity.TypeQuizCompleted, ContextBound{Field: activity.ContextSubject, Op: OpNE, Text: "cardiology"})
	assert.True(t, e.Evaluate(notCardio, withCtx(activity.Context{activity.ContextSubject: "neurology"})))
}

func TestEvaluate_TimeOfDayWindow(t *testing.T) {
	e := NewEvaluator(nil)
	night := def(TriggerAny, TimeOfDayWindow{StartHour: 22, EndHour: 4})

	at := func(hour int) Input {
		h := logOf(activity.TypeStudySession)
		h[0].CreatedAt = time.Date(2026, 3, 10, hour, 30, 0, 0, time.UTC)
		return inputFor(h)
	}

	assert.True(t, e.Evaluate(night, at(23)))
	assert.True(t, e.Evaluate(night, at(0)))
	assert.True(t, e.Evaluate(night, at(3)))
	assert.False(t, e.Evaluate(night, at(4)))
	assert.False(t, e.Evaluate(night, at(12)))
	assert.True(t, e.Evaluate(night, at(22)))
}

func TestEvaluate_TriggerTypeMismatch(t *testing.T) {
	e := NewEvaluator(nil)
	d := def(activity.TypeQuizCompleted, FirstOccurrence{})

	assert.False(t, e.Evaluate(d, inputFor(logOf(activity.TypeStudySession))))
}

func TestProgress(t *testing.T) {
	e := NewEvaluator(nil)
	curve := progression.DefaultCurve()
	state, _ := progression.NewLevelState("u1", curve).Apply(curve, curve.TotalXPRequired(3), t0)

	history := logOf(append(repeat(activity.TypeQuestionCorrect, 4), activity.TypeQuestionIncorrect, activity.TypeQuestionCorrect)...)

	cur, max := e.Progress(def(activity.TypeQuestionCorrect, CumulativeCount{N: 100}), history, state)
	assert.Equal(t, 5, cur)
	assert.Equal(t, 100, max)

	cur, max = e.Progress(def(activity.TypeQuestionCorrect, ConsecutiveCount{
		N: 10, BrokenBy: []activity.Type{activity.TypeQuestionIncorrect},
	}), history, state)
	assert.Equal(t, 1, cur)
	assert.Equal(t, 10, max)

	cur, max = e.Progress(def(activity.TypeQuestionCorrect, CumulativeCount{N: 2}), history, state)
	assert.Equal(t, 2, cur, "capped at target")
	assert.Equal(t, 2, max)

	cur, max = e.Progress(def(TriggerAny, LevelReached{Level: 10}), history, state)
	assert.Equal(t, 3, cur)
	assert.Equal(t, 10, max)

	cur, _ = e.Progress(def(activity.TypeQuizCompleted, FirstOccurrence{}), history, state)
	assert.Equal(t, 0, cur)
}

func TestTrigger_MarshalJSON(t *testing.T) {
	d := def(activity.TypeQuizCompleted, ContextBound{Field: "score", Op: OpGE, Value: 100})

	raw, err := json.Marshal(d)
	require.NoError(t, err)

	var out struct {
		Trigger struct {
			ActivityType string         `json:"activity_type"`
			Predicate    map[string]any `json:"predicate"`
		} `json:"trigger"`
		XPReward shared.XP `json:"xp_reward"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "quiz_completed", out.Trigger.ActivityType)
	assert.Equal(t, "context_bound", out.Trigger.Predicate["kind"])
	assert.Equal(t, "score", out.Trigger.Predicate["field"])
	assert.Equal(t, ">=", out.Trigger.Predicate["op"])

	raw, err = json.Marshal(def(activity.TypeQuestionCorrect, FirstOccurrence{}).Trigger)
	require.NoError(t, err)
	assert.JSONEq(t, `{"activity_type":"question_correct","predicate":{"kind":"first_occurrence"}}`, string(raw))
}
