// Package eventhandler reacts to domain events published by the XP engine.
// Handlers run after the transaction has committed and never affect its
// outcome.
package eventhandler

import (
	"fmt"
	"sync"

	"github.com/medquest/study-hub/internal/domain/shared"
	"github.com/medquest/study-hub/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON PROGRESS MILESTONE HANDLER
// Journals level-ups and achievement unlocks.
// ═══════════════════════════════════════════════════════════════════════════

// MilestoneConfig configures the milestone journal.
type MilestoneConfig struct {
	// NotableRarities are logged at info level; other unlocks at debug.
	NotableRarities []string

	// MultiLevelJump marks a level-up that crossed at least this many levels.
	MultiLevelJump int
}

// DefaultMilestoneConfig returns the default configuration.
func DefaultMilestoneConfig() MilestoneConfig {
	return MilestoneConfig{
		NotableRarities: []string{"rare", "epic", "legendary"},
		MultiLevelJump:  2,
	}
}

// MilestoneCounts is a snapshot of what the handler has seen.
type MilestoneCounts struct {
	LevelUps        int64
	Unlocks         int64
	UnlocksByRarity map[string]int64
}

// OnProgressMilestoneHandler logs milestone events and keeps running counts.
type OnProgressMilestoneHandler struct {
	logger  *logger.Logger
	config  MilestoneConfig
	notable map[string]bool

	mu       sync.Mutex
	levelUps int64
	unlocks  map[string]int64
}

// NewOnProgressMilestoneHandler creates the handler.
func NewOnProgressMilestoneHandler(log *logger.Logger, config MilestoneConfig) *OnProgressMilestoneHandler {
	if log == nil {
		log = logger.Nop()
	}
	if config.MultiLevelJump < 1 {
		config.MultiLevelJump = 1
	}

	notable := make(map[string]bool, len(config.NotableRarities))
	for _, r := range config.NotableRarities {
		notable[r] = true
	}

	return &OnProgressMilestoneHandler{
		logger:  log.With(logger.Component("on_progress_milestone")),
		config:  config,
		notable: notable,
		unlocks: make(map[string]int64),
	}
}

// Register subscribes the handler to level-up and unlock events.
func (h *OnProgressMilestoneHandler) Register(sub shared.EventSubscriber) error {
	if err := sub.Subscribe(shared.EventLevelUp, h.Handle); err != nil {
		return fmt.Errorf("subscribe %s: %w", shared.EventLevelUp, err)
	}
	if err := sub.Subscribe(shared.EventAchievementUnlocked, h.Handle); err != nil {
		return fmt.Errorf("subscribe %s: %w", shared.EventAchievementUnlocked, err)
	}
	return nil
}

// Handle implements shared.EventHandler.
func (h *OnProgressMilestoneHandler) Handle(event shared.Event) error {
	switch e := event.(type) {
	case shared.LevelUpEvent:
		h.onLevelUp(e.UserID, e.OldLevel, e.NewLevel, e.LevelName, int64(e.TotalXP))
	case shared.AchievementUnlockedEvent:
		h.onUnlock(e.UserID, e.AchievementID, e.Name, e.Rarity, int64(e.XPReward))
	default:
		// Events relayed from other instances arrive as envelopes.
		p := event.Payload()
		switch event.EventType() {
		case shared.EventLevelUp:
			h.onLevelUp(payloadString(p, "user_id"), payloadInt(p, "old_level"), payloadInt(p, "new_level"),
				payloadString(p, "level_name"), int64(payloadInt(p, "total_xp")))
		case shared.EventAchievementUnlocked:
			h.onUnlock(payloadString(p, "user_id"), payloadString(p, "achievement_id"), payloadString(p, "name"),
				payloadString(p, "rarity"), int64(payloadInt(p, "xp_reward")))
		default:
			h.logger.Warn("unexpected event", logger.String("event_type", string(event.EventType())))
		}
	}
	return nil
}

// Counts returns a snapshot of the running counts.
func (h *OnProgressMilestoneHandler) Counts() MilestoneCounts {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := MilestoneCounts{
		LevelUps:        h.levelUps,
		UnlocksByRarity: make(map[string]int64, len(h.unlocks)),
	}
	for r, n := range h.unlocks {
		c.UnlocksByRarity[r] = n
		c.Unlocks += n
	}
	return c
}

func (h *OnProgressMilestoneHandler) onLevelUp(userID string, oldLevel, newLevel int, name string, totalXP int64) {
	h.mu.Lock()
	h.levelUps++
	h.mu.Unlock()

	fields := []logger.Field{
		logger.UserID(userID),
		logger.Int("old_level", oldLevel),
		logger.LevelNumber(newLevel),
		logger.String("level_name", name),
		logger.Int64("total_xp", totalXP),
	}
	if newLevel-oldLevel >= h.config.MultiLevelJump {
		fields = append(fields, logger.Int("levels_gained", newLevel-oldLevel))
	}
	h.logger.Info("user leveled up", fields...)
}

func (h *OnProgressMilestoneHandler) onUnlock(userID, achievementID, name, rarity string, reward int64) {
	h.mu.Lock()
	h.unlocks[rarity]++
	h.mu.Unlock()

	fields := []logger.Field{
		logger.UserID(userID),
		logger.AchievementID(achievementID),
		logger.String("name", name),
		logger.String("rarity", rarity),
		logger.XPAmount(reward),
	}
	if h.notable[rarity] {
		h.logger.Info("achievement unlocked", fields...)
		return
	}
	h.logger.Debug("achievement unlocked", fields...)
}

func payloadString(p map[string]interface{}, key string) string {
	s, _ := p[key].(string)
	return s
}

// payloadInt accepts both native ints and the float64 produced by JSON.
func payloadInt(p map[string]interface{}, key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
