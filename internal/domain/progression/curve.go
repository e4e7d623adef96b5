package progression

import (
	"fmt"
	"math"
	"sort"

	"github.com/medquest/study-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CURVE CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

const (
	// DefaultBase is the XP cost of reaching level 2.
	DefaultBase = 100.0
	// DefaultGrowth is the per-level multiplier applied to the cost.
	DefaultGrowth = 1.15
	// DefaultMaxLevel is the last reachable level.
	DefaultMaxLevel = 50

	// floorEpsilon keeps exact decimal products (100 * 1.15 = 115) from
	// flooring one below because of binary rounding.
	floorEpsilon = 1e-9

	maxLevelLimit = 1000
	maxXPPerLevel = 1 << 53
)

// CurveConfig parameterises the exponential curve.
type CurveConfig struct {
	Base     float64
	Growth   float64
	MaxLevel int
}

// DefaultCurveConfig returns the reference curve parameters.
func DefaultCurveConfig() CurveConfig {
	return CurveConfig{
		Base:     DefaultBase,
		Growth:   DefaultGrowth,
		MaxLevel: DefaultMaxLevel,
	}
}

// Validate checks the parameters produce a usable, strictly increasing curve.
func (c CurveConfig) Validate() error {
	if c.Base < 1 {
		return shared.NewDomainError("progression", "Validate", shared.ErrValueOutOfRange, "curve base must be at least 1")
	}
	if c.Growth < 1 {
		return shared.NewDomainError("progression", "Validate", shared.ErrValueOutOfRange, "curve growth must be at least 1")
	}
	if c.MaxLevel < 2 || c.MaxLevel > maxLevelLimit {
		return shared.NewDomainError("progression", "Validate", shared.ErrValueOutOfRange,
			fmt.Sprintf("max level must be between 2 and %d", maxLevelLimit))
	}
	top := c.Base * math.Pow(c.Growth, float64(c.MaxLevel-1))
	if math.IsInf(top, 0) || top > maxXPPerLevel {
		return shared.NewDomainError("progression", "Validate", shared.ErrValueOutOfRange, "curve overflows at max level")
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CURVE
// ══════════════════════════════════════════════════════════════════════════════

// Curve is an immutable, precomputed level table. Safe for concurrent use.
type Curve struct {
	config CurveConfig

	// required[L] is the XP needed to go from L-1 to L; required[0], required[1] are 0.
	required []shared.XP
	// cumulative[L] is the total XP needed to reach L.
	cumulative []shared.XP
	levels     []LevelDefinition
}

// NewCurve validates config and precomputes the tables.
func NewCurve(config CurveConfig) (*Curve, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	n := config.MaxLevel
	c := &Curve{
		config:     config,
		required:   make([]shared.XP, n+1),
		cumulative: make([]shared.XP, n+1),
		levels:     make([]LevelDefinition, 0, n),
	}

	for level := 2; level <= n; level++ {
		raw := config.Base * math.Pow(config.Growth, float64(level-1))
		c.required[level] = shared.XP(math.Floor(raw + floorEpsilon))
		c.cumulative[level] = c.cumulative[level-1] + c.required[level]
	}

	for level := 1; level <= n; level++ {
		c.levels = append(c.levels, newLevelDefinition(level, c.required[level], c.cumulative[level], n))
	}

	return c, nil
}

// DefaultCurve returns the reference curve. It panics only if the reference
// constants are broken, which the package tests guard.
func DefaultCurve() *Curve {
	c, err := NewCurve(DefaultCurveConfig())
	if err != nil {
		panic(err)
	}
	return c
}

// Config returns the parameters the curve was built from.
func (c *Curve) Config() CurveConfig {
	return c.config
}

// MaxLevel returns the highest reachable level.
func (c *Curve) MaxLevel() int {
	return c.config.MaxLevel
}

// XPRequiredForLevel returns the XP needed to advance from level-1 to level.
// It is 0 for level <= 1 and for levels past the maximum.
func (c *Curve) XPRequiredForLevel(level int) shared.XP {
	if level <= 1 || level > c.config.MaxLevel {
		return 0
	}
	return c.required[level]
}

// TotalXPRequired returns the cumulative XP needed to reach level.
// Levels past the maximum cost nothing further.
func (c *Curve) TotalXPRequired(level int) shared.XP {
	switch {
	case level <= 1:
		return 0
	case level > c.config.MaxLevel:
		return c.cumulative[c.config.MaxLevel]
	default:
		return c.cumulative[level]
	}
}

// LevelForTotalXP returns the largest level whose cumulative requirement is
// at most totalXP. Negative totals are treated as zero.
func (c *Curve) LevelForTotalXP(totalXP shared.XP) int {
	totalXP = totalXP.ClampNonNegative()
	n := c.config.MaxLevel

	// First level in 1..n whose requirement exceeds totalXP.
	idx := sort.Search(n, func(i int) bool {
		return c.cumulative[i+1] > totalXP
	})
	// idx is the count of levels in 1..n reachable with totalXP.
	if idx == 0 {
		return 1
	}
	return idx
}

// XPToNextLevel returns how much more XP is needed to leave level, given
// totalXP. It is 0 at or beyond the maximum level.
func (c *Curve) XPToNextLevel(level int, totalXP shared.XP) shared.XP {
	if level >= c.config.MaxLevel {
		return 0
	}
	if level < 1 {
		level = 1
	}
	remaining := c.XPRequiredForLevel(level+1) - (totalXP.ClampNonNegative() - c.TotalXPRequired(level))
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Progress describes where a total sits within its level.
type Progress struct {
	Level         int       `json:"level"`
	XPIntoLevel   shared.XP `json:"xp_into_level"`
	XPForLevel    shared.XP `json:"xp_for_level"`
	XPToNextLevel shared.XP `json:"xp_to_next_level"`
	Percent       int       `json:"percent"`
	IsMaxLevel    bool      `json:"is_max_level"`
}

// ProgressFor computes within-level progress for totalXP.
func (c *Curve) ProgressFor(totalXP shared.XP) Progress {
	totalXP = totalXP.ClampNonNegative()
	level := c.LevelForTotalXP(totalXP)
	p := Progress{
		Level:       level,
		XPIntoLevel: totalXP - c.TotalXPRequired(level),
		IsMaxLevel:  level >= c.config.MaxLevel,
	}

	if p.IsMaxLevel {
		p.Percent = 100
		return p
	}

	p.XPForLevel = c.XPRequiredForLevel(level + 1)
	p.XPToNextLevel = c.XPToNextLevel(level, totalXP)
	if p.XPForLevel > 0 {
		p.Percent = int(p.XPIntoLevel * 100 / p.XPForLevel)
	}
	return p
}

// Definition returns the static definition of level.
func (c *Curve) Definition(level int) (LevelDefinition, bool) {
	if level < 1 || level > c.config.MaxLevel {
		return LevelDefinition{}, false
	}
	return c.levels[level-1], true
}

// Definitions returns a copy of the full level catalogue in ascending order.
func (c *Curve) Definitions() []LevelDefinition {
	out := make([]LevelDefinition, len(c.levels))
	copy(out, c.levels)
	return out
}

// NameFor returns the tier name of level, or "" if out of range.
func (c *Curve) NameFor(level int) string {
	def, ok := c.Definition(level)
	if !ok {
		return ""
	}
	return def.Name
}
