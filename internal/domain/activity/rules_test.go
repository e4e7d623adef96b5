package activity

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medquest/study-hub/internal/domain/shared"
)

func TestRewardFor_DefaultTable(t *testing.T) {
	rules := DefaultRules()

	tests := []struct {
		name string
		typ  Type
		ctx  Context
		want shared.XP
	}{
		{"correct medium", TypeQuestionCorrect, Context{ContextDifficulty: "medium"}, 15},
		{"correct easy", TypeQuestionCorrect, Context{ContextDifficulty: "easy"}, 10},
		{"correct hard", TypeQuestionCorrect, Context{ContextDifficulty: "hard"}, 20},
		{"difficulty is case insensitive", TypeQuestionCorrect, Context{ContextDifficulty: " Hard "}, 20},
		{"unknown difficulty falls back to base", TypeQuestionCorrect, Context{ContextDifficulty: "brutal"}, 10},
		{"missing context falls back to base", TypeQuestionCorrect, nil, 10},
		{"incorrect ignores difficulty", TypeQuestionIncorrect, Context{ContextDifficulty: "hard"}, 2},
		{"daily login", TypeDailyLogin, Context{}, 5},
		{"study session", TypeStudySession, Context{ContextTimeSpent: 30}, 20},
		{"quiz hard", TypeQuizCompleted, Context{ContextDifficulty: "hard"}, 100},
		{"clinical case medium", TypeClinicalCaseCompleted, Context{ContextDifficulty: "medium"}, 150},
		{"streak below first bucket", TypeStreakMilestone, Context{ContextStreakLength: 3}, 50},
		{"streak 7", TypeStreakMilestone, Context{ContextStreakLength: 7}, 50},
		{"streak 14", TypeStreakMilestone, Context{ContextStreakLength: 14}, 100},
		{"streak 20 uses 14 bucket", TypeStreakMilestone, Context{ContextStreakLength: 20}, 100},
		{"streak 30", TypeStreakMilestone, Context{ContextStreakLength: 30.0}, 150},
		{"streak 60 as string", TypeStreakMilestone, Context{ContextStreakLength: "60"}, 250},
		{"streak 100 as json number", TypeStreakMilestone, Context{ContextStreakLength: json.Number("100")}, 500},
		{"achievement bookkeeping", TypeAchievementUnlocked, Context{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rules.RewardFor(tt.typ, tt.ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRewardFor_UnknownType(t *testing.T) {
	_, err := DefaultRules().RewardFor("not_a_real_type", Context{})

	require.Error(t, err)
	assert.True(t, shared.IsUnknownActivityType(err))
	assert.ErrorIs(t, err, shared.ErrUnknownActivityType)
}

func TestRewardFor_Deterministic(t *testing.T) {
	rules := DefaultRules()
	ctx := Context{ContextDifficulty: "medium"}

	first, err := rules.RewardFor(TypeQuestionCorrect, ctx)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		_, _ = rules.RewardFor(TypeStreakMilestone, Context{ContextStreakLength: i})
		got, err := rules.RewardFor(TypeQuestionCorrect, ctx)
		require.NoError(t, err)
		assert.Equal(t, first, got)
	}
}

func TestNewRules_AlternateTableIsIsolated(t *testing.T) {
	table := map[Type]Rule{
		TypeDailyLogin: {Base: 7, Multipliers: ByValue{Key: "platform", Table: map[string]float64{"mobile": 2}}},
	}
	rules, err := NewRules(table)
	require.NoError(t, err)

	table[TypeDailyLogin].Multipliers.(ByValue).Table["mobile"] = 100

	got, err := rules.RewardFor(TypeDailyLogin, Context{"platform": "mobile"})
	require.NoError(t, err)
	assert.Equal(t, shared.XP(14), got)

	_, err = rules.RewardFor(TypeQuestionCorrect, nil)
	assert.True(t, shared.IsUnknownActivityType(err))
}

func TestNewRules_Validation(t *testing.T) {
	tests := []struct {
		name  string
		table map[Type]Rule
	}{
		{"unknown type", map[Type]Rule{"bogus": {Base: 1}}},
		{"negative base", map[Type]Rule{TypeDailyLogin: {Base: -1}}},
		{"negative multiplier", map[Type]Rule{TypeDailyLogin: {Base: 1, Multipliers: ByValue{Key: "k", Table: map[string]float64{"a": -1}}}}},
		{"upper case key", map[Type]Rule{TypeDailyLogin: {Base: 1, Multipliers: ByValue{Key: "k", Table: map[string]float64{"A": 1}}}}},
		{"unsorted steps", map[Type]Rule{TypeDailyLogin: {Base: 1, Multipliers: ByThreshold{Key: "k", Steps: []Step{{10, 1}, {5, 2}}}}}},
		{"empty steps", map[Type]Rule{TypeDailyLogin: {Base: 1, Multipliers: ByThreshold{Key: "k"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRules(tt.table)
			require.Error(t, err)
			assert.ErrorIs(t, err, shared.ErrInvalidCatalog)
		})
	}
}

func TestParseType(t *testing.T) {
	typ, err := ParseType("daily_login")
	require.NoError(t, err)
	assert.Equal(t, TypeDailyLogin, typ)

	_, err = ParseType("")
	assert.True(t, shared.IsValidation(err))

	_, err = ParseType("teleport")
	assert.True(t, shared.IsUnknownActivityType(err))

	assert.Len(t, Types(), 8)
	assert.True(t, TypeAchievementUnlocked.IsBookkeeping())
}

func TestContext(t *testing.T) {
	ctx := Context{
		ContextDifficulty: "Medium",
		ContextTimeSpent:  9,
		ContextScore:      json.Number("87.5"),
		"flag":            true,
		"nothing":         nil,
	}
	require.NoError(t, ctx.Validate())

	s, ok := ctx.Normalized(ContextDifficulty)
	assert.True(t, ok)
	assert.Equal(t, "medium", s)

	n, ok := ctx.Number(ContextTimeSpent)
	assert.True(t, ok)
	assert.Equal(t, 9.0, n)

	n, ok = ctx.Number(ContextScore)
	assert.True(t, ok)
	assert.Equal(t, 87.5, n)

	text, ok := ctx.Text(ContextTimeSpent)
	assert.True(t, ok)
	assert.Equal(t, "9", text)

	assert.False(t, ctx.Has("nothing"))
	_, ok = ctx.Number(ContextDifficulty)
	assert.False(t, ok)

	clone := ctx.Clone()
	clone[ContextDifficulty] = "hard"
	assert.Equal(t, "Medium", ctx[ContextDifficulty])

	assert.Error(t, Context{"nested": map[string]any{"a": 1}}.Validate())
	assert.Error(t, Context{"": 1}.Validate())
}

func TestNewActivity(t *testing.T) {
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	ctx := Context{ContextSubject: "cardiology"}

	a, err := NewActivity(NewActivityParams{
		ID: "a1", UserID: "u1", Type: TypeQuestionCorrect, XPGained: 15, Context: ctx, CreatedAt: now,
	})
	require.NoError(t, err)
	ctx[ContextSubject] = "changed"
	assert.Equal(t, "cardiology", a.Context[ContextSubject])

	_, err = NewActivity(NewActivityParams{ID: "a2", UserID: "", Type: TypeDailyLogin, CreatedAt: now})
	assert.True(t, shared.IsValidation(err))

	_, err = NewActivity(NewActivityParams{ID: "a3", UserID: "u1", Type: "bogus", CreatedAt: now})
	assert.True(t, shared.IsUnknownActivityType(err))

	_, err = NewActivity(NewActivityParams{ID: "a4", UserID: "u1", Type: TypeDailyLogin, XPGained: -1, CreatedAt: now})
	assert.True(t, shared.IsValidation(err))
}

func TestSortNewestFirst(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	acts := []Activity{
		{ID: "1", CreatedAt: base},
		{ID: "2", CreatedAt: base.Add(time.Hour)},
		{ID: "3", CreatedAt: base.Add(time.Hour)},
		{ID: "4", CreatedAt: base.Add(-time.Hour)},
	}

	SortNewestFirst(acts)

	ids := make([]string, len(acts))
	for i, a := range acts {
		ids[i] = a.ID
	}
	assert.Equal(t, []string{"3", "2", "1", "4"}, ids)
}
