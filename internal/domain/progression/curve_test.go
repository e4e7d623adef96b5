package progression

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medquest/study-hub/internal/domain/shared"
)

func TestDefaultCurve_ReferenceValues(t *testing.T) {
	c := DefaultCurve()

	assert.Equal(t, 50, c.MaxLevel())
	assert.Equal(t, shared.XP(0), c.XPRequiredForLevel(1))
	assert.Equal(t, shared.XP(0), c.XPRequiredForLevel(0))
	assert.Equal(t, shared.XP(115), c.XPRequiredForLevel(2))
	assert.Equal(t, shared.XP(132), c.XPRequiredForLevel(3))
	assert.Equal(t, shared.XP(152), c.XPRequiredForLevel(4))
	assert.Equal(t, shared.XP(0), c.XPRequiredForLevel(51))

	assert.Equal(t, shared.XP(0), c.TotalXPRequired(1))
	assert.Equal(t, shared.XP(115), c.TotalXPRequired(2))
	assert.Equal(t, shared.XP(247), c.TotalXPRequired(3))
	assert.Equal(t, c.TotalXPRequired(50), c.TotalXPRequired(60))
}

func TestCurve_BoundaryConsistency(t *testing.T) {
	c := DefaultCurve()

	for level := 1; level <= c.MaxLevel(); level++ {
		total := c.TotalXPRequired(level)
		assert.Equal(t, level, c.LevelForTotalXP(total), "level %d at its own threshold", level)
		if level > 1 {
			assert.Equal(t, level-1, c.LevelForTotalXP(total-1), "level %d one below threshold", level)
		}
	}
}

func TestCurve_PrefixSum(t *testing.T) {
	c := DefaultCurve()

	var sum shared.XP
	for level := 2; level <= c.MaxLevel(); level++ {
		sum += c.XPRequiredForLevel(level)
		assert.Equal(t, sum, c.TotalXPRequired(level))
		assert.Greater(t, c.XPRequiredForLevel(level), shared.XP(0))
	}
}

func TestCurve_LevelForTotalXP_Clamps(t *testing.T) {
	c := DefaultCurve()

	assert.Equal(t, 1, c.LevelForTotalXP(-500))
	assert.Equal(t, 1, c.LevelForTotalXP(0))
	assert.Equal(t, 1, c.LevelForTotalXP(114))
	assert.Equal(t, 2, c.LevelForTotalXP(115))
	assert.Equal(t, 50, c.LevelForTotalXP(c.TotalXPRequired(50)*10))
}

func TestCurve_XPToNextLevel(t *testing.T) {
	c := DefaultCurve()

	assert.Equal(t, shared.XP(115), c.XPToNextLevel(1, 0))
	assert.Equal(t, shared.XP(100), c.XPToNextLevel(1, 15))
	assert.Equal(t, shared.XP(119), c.XPToNextLevel(2, 128))
	assert.Equal(t, shared.XP(0), c.XPToNextLevel(50, c.TotalXPRequired(50)))
	assert.Equal(t, shared.XP(0), c.XPToNextLevel(75, 0))
}

func TestCurve_ProgressFor(t *testing.T) {
	c := DefaultCurve()

	p := c.ProgressFor(128)
	assert.Equal(t, 2, p.Level)
	assert.Equal(t, shared.XP(13), p.XPIntoLevel)
	assert.Equal(t, shared.XP(132), p.XPForLevel)
	assert.Equal(t, shared.XP(119), p.XPToNextLevel)
	assert.Equal(t, 9, p.Percent)
	assert.False(t, p.IsMaxLevel)

	top := c.ProgressFor(c.TotalXPRequired(50) + 1)
	assert.True(t, top.IsMaxLevel)
	assert.Equal(t, 100, top.Percent)
}

func TestCurveConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		config CurveConfig
	}{
		{"base below one", CurveConfig{Base: 0, Growth: 1.1, MaxLevel: 10}},
		{"shrinking curve", CurveConfig{Base: 100, Growth: 0.9, MaxLevel: 10}},
		{"single level", CurveConfig{Base: 100, Growth: 1.1, MaxLevel: 1}},
		{"overflow", CurveConfig{Base: 100, Growth: 10, MaxLevel: 900}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCurve(tt.config)
			require.Error(t, err)
			assert.True(t, shared.IsValidation(err))
		})
	}
}

func TestCurve_Definitions(t *testing.T) {
	c := DefaultCurve()
	defs := c.Definitions()
	require.Len(t, defs, 50)

	assert.Equal(t, "Pre-Med", defs[0].Name)
	assert.Equal(t, "Legend", defs[49].Name)
	assert.True(t, defs[4].IsMilestone())
	assert.False(t, defs[5].IsMilestone())
	assert.Equal(t, c.TotalXPRequired(10), defs[9].TotalXPRequired)

	_, ok := c.Definition(51)
	assert.False(t, ok)
	assert.Equal(t, "Med Student", c.NameFor(6))
}

func TestLevelState_Apply(t *testing.T) {
	c := DefaultCurve()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("first activity stays on level one", func(t *testing.T) {
		s := NewLevelState("u1", c)
		next, up := s.Apply(c, 15, now)

		assert.False(t, up)
		assert.Equal(t, 1, next.CurrentLevel)
		assert.Equal(t, shared.XP(15), next.TotalXP)
		assert.Equal(t, shared.XP(15), next.CurrentXP)
		assert.Nil(t, next.LastLevelUpAt)
		assert.True(t, next.Consistent(c))
		assert.Equal(t, shared.XP(0), s.TotalXP, "receiver is unchanged")
	})

	t.Run("crossing the level two threshold", func(t *testing.T) {
		s := NewLevelState("u1", c)
		s, _ = s.Apply(c, 113, now)
		next, up := s.Apply(c, 15, now)

		assert.True(t, up)
		assert.Equal(t, 2, next.CurrentLevel)
		assert.Equal(t, shared.XP(128), next.TotalXP)
		require.NotNil(t, next.LastLevelUpAt)
		assert.Equal(t, now, *next.LastLevelUpAt)
	})

	t.Run("multi-level jump", func(t *testing.T) {
		s := NewLevelState("u1", c)
		next, up := s.Apply(c, c.TotalXPRequired(7)+3, now)

		assert.True(t, up)
		assert.Equal(t, 7, next.CurrentLevel)
		assert.True(t, next.Consistent(c))
	})

	t.Run("negative reward is ignored", func(t *testing.T) {
		s := NewLevelState("u1", c)
		s, _ = s.Apply(c, 50, now)
		next, up := s.Apply(c, -40, now)

		assert.False(t, up)
		assert.Equal(t, shared.XP(50), next.TotalXP)
	})
}
