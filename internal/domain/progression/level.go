package progression

import (
	"fmt"

	"github.com/medquest/study-hub/internal/domain/shared"
)

// LevelDefinition is the static description of one level.
type LevelDefinition struct {
	Level           int       `json:"level"`
	Name            string    `json:"name"`
	XPRequired      shared.XP `json:"xp_required"`
	TotalXPRequired shared.XP `json:"total_xp_required"`
	Rewards         []string  `json:"rewards,omitempty"`
	DisplayColor    string    `json:"display_color"`
}

// IsMilestone reports whether the level carries milestone rewards.
func (d LevelDefinition) IsMilestone() bool {
	return len(d.Rewards) > 0
}

// milestoneEvery is the spacing of levels that grant cosmetic rewards.
const milestoneEvery = 5

type tier struct {
	name  string
	upTo  int // last level of the tier on the 50-level scale
	color string
}

// tiers span the reference 50-level curve; other curve lengths are scaled.
var tiers = []tier{
	{name: "Pre-Med", upTo: 5, color: "#9CA3AF"},
	{name: "Med Student", upTo: 10, color: "#60A5FA"},
	{name: "Intern", upTo: 15, color: "#34D399"},
	{name: "Resident", upTo: 20, color: "#10B981"},
	{name: "Fellow", upTo: 25, color: "#FBBF24"},
	{name: "Attending", upTo: 30, color: "#F59E0B"},
	{name: "Chief", upTo: 35, color: "#F97316"},
	{name: "Professor", upTo: 45, color: "#A855F7"},
	{name: "Legend", upTo: 50, color: "#EF4444"},
}

func tierFor(level, maxLevel int) tier {
	// Scale level onto the 50-level reference range.
	scaled := level
	if maxLevel != DefaultMaxLevel {
		scaled = (level*DefaultMaxLevel + maxLevel - 1) / maxLevel
	}
	for _, t := range tiers {
		if scaled <= t.upTo {
			return t
		}
	}
	return tiers[len(tiers)-1]
}

func newLevelDefinition(level int, required, cumulative shared.XP, maxLevel int) LevelDefinition {
	t := tierFor(level, maxLevel)
	def := LevelDefinition{
		Level:           level,
		Name:            t.name,
		XPRequired:      required,
		TotalXPRequired: cumulative,
		DisplayColor:    t.color,
	}

	if level%milestoneEvery == 0 || level == maxLevel {
		def.Rewards = []string{
			fmt.Sprintf("badge:level_%d", level),
			fmt.Sprintf("title:%s", t.name),
		}
	}
	return def
}
