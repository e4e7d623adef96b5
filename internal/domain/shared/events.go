package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Events are published after the ledger transaction commits.
const (
	// Progress events
	EventActivityRecorded EventType = "progress.activity_recorded"
	EventXPGained         EventType = "progress.xp_gained"
	EventLevelUp          EventType = "progress.level_up"

	// Achievement events
	EventAchievementUnlocked EventType = "achievement.unlocked"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event. The aggregate of every ledger event is the user.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// Correlation returns the correlation ID, if any.
func (e BaseEvent) Correlation() string {
	return e.CorrelationID
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// ActivityRecordedEvent is emitted once per committed RecordActivity call.
type ActivityRecordedEvent struct {
	BaseEvent
	UserID       string `json:"user_id"`
	ActivityID   string `json:"activity_id"`
	ActivityType string `json:"activity_type"`
	XPGained     XP     `json:"xp_gained"`
}

// Payload implements Event interface.
func (e ActivityRecordedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":       e.UserID,
		"activity_id":   e.ActivityID,
		"activity_type": e.ActivityType,
		"xp_gained":     int64(e.XPGained),
	}
}

// NewActivityRecordedEvent creates a new ActivityRecordedEvent.
func NewActivityRecordedEvent(userID, activityID, activityType string, xp XP, at time.Time) ActivityRecordedEvent {
	return ActivityRecordedEvent{
		BaseEvent:    NewBaseEvent(EventActivityRecorded, userID, at),
		UserID:       userID,
		ActivityID:   activityID,
		ActivityType: activityType,
		XPGained:     xp,
	}
}

// XPGainedEvent is emitted when a user's total XP grows.
type XPGainedEvent struct {
	BaseEvent
	UserID   string `json:"user_id"`
	Amount   XP     `json:"amount"`
	NewTotal XP     `json:"new_total"`
	Source   string `json:"source"` // activity type that produced the XP
}

// Payload implements Event interface.
func (e XPGainedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.UserID,
		"amount":    int64(e.Amount),
		"new_total": int64(e.NewTotal),
		"source":    e.Source,
	}
}

// NewXPGainedEvent creates a new XPGainedEvent.
func NewXPGainedEvent(userID string, amount, newTotal XP, source string, at time.Time) XPGainedEvent {
	return XPGainedEvent{
		BaseEvent: NewBaseEvent(EventXPGained, userID, at),
		UserID:    userID,
		Amount:    amount,
		NewTotal:  newTotal,
		Source:    source,
	}
}

// LevelUpEvent is emitted when a transaction moves a user to a higher level.
type LevelUpEvent struct {
	BaseEvent
	UserID    string `json:"user_id"`
	OldLevel  int    `json:"old_level"`
	NewLevel  int    `json:"new_level"`
	LevelName string `json:"level_name"`
	TotalXP   XP     `json:"total_xp"`
}

// Payload implements Event interface.
func (e LevelUpEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":    e.UserID,
		"old_level":  e.OldLevel,
		"new_level":  e.NewLevel,
		"level_name": e.LevelName,
		"total_xp":   int64(e.TotalXP),
	}
}

// LevelsGained returns how many levels were crossed at once.
func (e LevelUpEvent) LevelsGained() int {
	return e.NewLevel - e.OldLevel
}

// NewLevelUpEvent creates a new LevelUpEvent.
func NewLevelUpEvent(userID string, oldLevel, newLevel int, levelName string, totalXP XP, at time.Time) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent: NewBaseEvent(EventLevelUp, userID, at),
		UserID:    userID,
		OldLevel:  oldLevel,
		NewLevel:  newLevel,
		LevelName: levelName,
		TotalXP:   totalXP,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Achievement Events
// ═══════════════════════════════════════════════════════════════════════════

// AchievementUnlockedEvent is emitted once per (user, achievement) pair.
type AchievementUnlockedEvent struct {
	BaseEvent
	UserID        string `json:"user_id"`
	AchievementID string `json:"achievement_id"`
	Name          string `json:"name"`
	Rarity        string `json:"rarity"`
	XPReward      XP     `json:"xp_reward"`
}

// Payload implements Event interface.
func (e AchievementUnlockedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":        e.UserID,
		"achievement_id": e.AchievementID,
		"name":           e.Name,
		"rarity":         e.Rarity,
		"xp_reward":      int64(e.XPReward),
	}
}

// NewAchievementUnlockedEvent creates a new AchievementUnlockedEvent.
func NewAchievementUnlockedEvent(userID, achievementID, name, rarity string, reward XP, at time.Time) AchievementUnlockedEvent {
	return AchievementUnlockedEvent{
		BaseEvent:     NewBaseEvent(EventAchievementUnlocked, userID, at),
		UserID:        userID,
		AchievementID: achievementID,
		Name:          name,
		Rarity:        rarity,
		XPReward:      reward,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport between instances.
type EventEnvelope struct {
	InstanceID    string                 `json:"instance_id,omitempty"`
	Type          EventType              `json:"type"`
	AggregateID   string                 `json:"aggregate_id"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Payload       map[string]interface{} `json:"payload"`
}

// NewEventEnvelope captures an event for serialization.
func NewEventEnvelope(instanceID string, event Event) EventEnvelope {
	env := EventEnvelope{
		InstanceID:  instanceID,
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		Timestamp:   event.OccurredAt(),
		Payload:     event.Payload(),
	}
	if c, ok := event.(interface{ Correlation() string }); ok {
		env.CorrelationID = c.Correlation()
	}
	return env
}

// Marshal encodes the envelope as JSON.
func (e EventEnvelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEventEnvelope decodes an envelope produced by Marshal.
func UnmarshalEventEnvelope(data []byte) (EventEnvelope, error) {
	var env EventEnvelope
	err := json.Unmarshal(data, &env)
	return env, err
}

// Event rebuilds a publishable event from the envelope.
func (e EventEnvelope) Event() Event {
	return envelopeEvent{env: e}
}

type envelopeEvent struct {
	env EventEnvelope
}

func (e envelopeEvent) EventType() EventType            { return e.env.Type }
func (e envelopeEvent) OccurredAt() time.Time           { return e.env.Timestamp }
func (e envelopeEvent) AggregateID() string             { return e.env.AggregateID }
func (e envelopeEvent) Payload() map[string]interface{} { return e.env.Payload }
func (e envelopeEvent) Correlation() string             { return e.env.CorrelationID }

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
