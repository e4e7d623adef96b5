// Package progression maps cumulative XP to levels.
//
// The package defines:
//
//   - Curve: the exponential level curve, precomputed once at start-up
//   - LevelDefinition: the static per-level catalogue (tier name, colour, rewards)
//   - LevelState: the per-user ledger record mutated by the XP engine
//
// # Curve
//
// Reaching level L (L > 1) costs floor(Base * Growth^(L-1)) XP on top of
// the cumulative total for level L-1. With the reference values (Base 100,
// Growth 1.15, 50 levels) level 2 needs 115 XP and level 3 needs 247 in total:
//
//	curve := progression.DefaultCurve()
//	curve.LevelForTotalXP(128)    // 2
//	curve.XPToNextLevel(2, 128)   // 119
//
// Every Curve method is a total function. Negative XP is clamped to zero and
// levels outside [1, MaxLevel] never panic.
//
// # LevelState
//
// LevelState.Apply is the only way the engine changes a user's totals:
//
//	next, leveledUp := state.Apply(curve, reward, now)
//
// totalXP never decreases and currentLevel always equals
// curve.LevelForTotalXP(totalXP).
package progression
