// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/medquest/study-hub/internal/domain/achievement"
	"github.com/medquest/study-hub/internal/domain/activity"
	"github.com/medquest/study-hub/internal/domain/ledger"
	"github.com/medquest/study-hub/internal/domain/progression"
	"github.com/medquest/study-hub/internal/domain/shared"
	"github.com/medquest/study-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD ACTIVITY COMMAND
// Converts one discrete study action into XP, level progress and achievement
// unlocks, all inside a single ledger transaction.
// ══════════════════════════════════════════════════════════════════════════════

// RecordActivityCommand contains the data to record an activity.
type RecordActivityCommand struct {
	// UserID identifies the learner. Supplied by the caller, not generated here.
	UserID string

	// Type is the raw activity type as received from the study flow.
	Type string

	// Context carries difficulty, subject, timeSpent and similar fields.
	Context map[string]any

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command shape. The activity type is checked
// separately so unknown types surface as UnknownActivityType.
func (c RecordActivityCommand) Validate() error {
	if err := shared.UserID(c.UserID).Validate(); err != nil {
		return err
	}
	if c.Type == "" {
		return shared.ErrEmptyActivityType
	}
	return activity.Context(c.Context).Validate()
}

// RecordActivityResult contains the result of recording an activity.
type RecordActivityResult struct {
	ActivityID string        `json:"activity_id"`
	UserID     shared.UserID `json:"user_id"`
	Type       activity.Type `json:"type"`

	// XPGained is the triggering activity's own reward.
	XPGained shared.XP `json:"xp_gained"`

	// BonusXP is the sum of the rewards of achievements unlocked by this call.
	BonusXP shared.XP `json:"bonus_xp"`

	// TotalXP is the user's total after the call, bonuses included.
	TotalXP shared.XP `json:"total_xp"`

	LeveledUp     bool `json:"leveled_up"`
	PreviousLevel int  `json:"previous_level"`
	NewLevel      int  `json:"new_level"`

	AchievementsUnlocked []achievement.Definition `json:"achievements_unlocked"`

	RecordedAt time.Time `json:"recorded_at"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RecordActivityHandler is the XP engine.
type RecordActivityHandler struct {
	store     ledger.Store
	rules     *activity.Rules
	curve     *progression.Curve
	catalog   *achievement.Catalog
	evaluator *achievement.Evaluator
	publisher shared.EventPublisher
	logger    *logger.Logger
	tracer    trace.Tracer

	now   func() time.Time
	newID func() string
}

// RecordActivityDeps holds the handler's collaborators. Store, Rules, Curve
// and Catalog are required.
type RecordActivityDeps struct {
	Store     ledger.Store
	Rules     *activity.Rules
	Curve     *progression.Curve
	Catalog   *achievement.Catalog
	Evaluator *achievement.Evaluator
	Publisher shared.EventPublisher
	Logger    *logger.Logger

	// Clock defaults to time.Now in UTC.
	Clock func() time.Time
	// NewID defaults to random UUIDs.
	NewID func() string
}

// NewRecordActivityHandler creates a new RecordActivityHandler.
func NewRecordActivityHandler(deps RecordActivityDeps) (*RecordActivityHandler, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("record_activity: store is required")
	case deps.Rules == nil:
		return nil, errors.New("record_activity: rules are required")
	case deps.Curve == nil:
		return nil, errors.New("record_activity: curve is required")
	case deps.Catalog == nil:
		return nil, errors.New("record_activity: catalog is required")
	}

	h := &RecordActivityHandler{
		store:     deps.Store,
		rules:     deps.Rules,
		curve:     deps.Curve,
		catalog:   deps.Catalog,
		evaluator: deps.Evaluator,
		publisher: deps.Publisher,
		logger:    deps.Logger,
		tracer:    otel.Tracer("github.com/medquest/study-hub/engine"),
		now:       deps.Clock,
		newID:     deps.NewID,
	}
	if h.evaluator == nil {
		h.evaluator = achievement.NewEvaluator(time.UTC)
	}
	if h.logger == nil {
		h.logger = logger.Nop()
	}
	if h.now == nil {
		h.now = func() time.Time { return time.Now().UTC() }
	}
	if h.newID == nil {
		h.newID = uuid.NewString
	}
	h.logger = h.logger.With(logger.Component("xp-engine"))
	return h, nil
}

// Handle records the activity. Either the full reward, including every
// cascading unlock, is committed, or nothing is.
func (h *RecordActivityHandler) Handle(ctx context.Context, cmd RecordActivityCommand) (*RecordActivityResult, error) {
	ctx, span := h.tracer.Start(ctx, "RecordActivity",
		trace.WithAttributes(
			attribute.String("user.id", cmd.UserID),
			attribute.String("activity.type", cmd.Type),
		),
	)
	defer span.End()

	result, err := h.handle(ctx, cmd)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int64("xp.gained", result.XPGained.Int64()),
		attribute.Int64("xp.bonus", result.BonusXP.Int64()),
		attribute.Int("level.new", result.NewLevel),
		attribute.Int("achievements.unlocked", len(result.AchievementsUnlocked)),
	)
	return result, nil
}

func (h *RecordActivityHandler) handle(ctx context.Context, cmd RecordActivityCommand) (*RecordActivityResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("record_activity: validation failed: %w", err)
	}

	activityType, err := activity.ParseType(cmd.Type)
	if err != nil {
		return nil, err
	}
	if activityType.IsBookkeeping() {
		return nil, shared.NewDomainError("activity", "RecordActivity", shared.ErrInvalidInput,
			fmt.Sprintf("%s is recorded by the engine only", activityType))
	}

	actCtx := activity.Context(cmd.Context).Clone()
	reward, err := h.rules.RewardFor(activityType, actCtx)
	if err != nil {
		return nil, err
	}

	userID := shared.UserID(cmd.UserID)
	now := h.now()
	activityID := h.newID()
	log := h.logger.With(
		logger.UserID(cmd.UserID),
		logger.ActivityType(activityType.String()),
		logger.ActivityID(activityID),
	)

	var result *RecordActivityResult
	err = h.store.RunInTx(ctx, userID, func(ctx context.Context, tx ledger.Tx) error {
		r, err := h.apply(ctx, tx, txInput{
			userID:     userID,
			activityID: activityID,
			typ:        activityType,
			context:    actCtx,
			reward:     reward,
			now:        now,
		})
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		if shared.IsUnavailable(err) {
			log.Error("activity not recorded", logger.Err(err))
		}
		return nil, err
	}

	h.report(log, result, cmd.CorrelationID)
	return result, nil
}

type txInput struct {
	userID     shared.UserID
	activityID string
	typ        activity.Type
	context    activity.Context
	reward     shared.XP
	now        time.Time
}

// apply is the transaction body. It is a function of the ledger contents
// visible through tx and of in, so re-running it after a conflict is safe.
func (h *RecordActivityHandler) apply(ctx context.Context, tx ledger.Tx, in txInput) (*RecordActivityResult, error) {
	state, found, err := tx.LevelState(ctx, in.userID)
	if err != nil {
		return nil, err
	}
	if !found {
		state = progression.NewLevelState(in.userID, h.curve)
	}
	previousLevel := state.CurrentLevel

	primary, err := activity.NewActivity(activity.NewActivityParams{
		ID:        in.activityID,
		UserID:    in.userID,
		Type:      in.typ,
		XPGained:  in.reward,
		Context:   in.context,
		CreatedAt: in.now,
	})
	if err != nil {
		return nil, err
	}
	if err := tx.AppendActivity(ctx, primary); err != nil {
		return nil, err
	}
	state, _ = state.Apply(h.curve, in.reward, in.now)

	history, err := tx.History(ctx, in.userID)
	if err != nil {
		return nil, err
	}

	pending, err := h.pendingCandidates(ctx, tx, in.userID, in.typ)
	if err != nil {
		return nil, err
	}

	var (
		unlocked []achievement.Definition
		bonus    shared.XP
	)
	// Each unlock can raise the level, which can satisfy further
	// level-based definitions, so evaluate until nothing changes.
	for len(pending) > 0 {
		var still []achievement.Definition
		for _, def := range pending {
			if !h.evaluator.Evaluate(def, achievement.Input{Trigger: primary, History: history, State: state}) {
				still = append(still, def)
				continue
			}

			bookkeeping, err := h.unlock(ctx, tx, in, def)
			if err != nil {
				return nil, err
			}
			history = append([]activity.Activity{bookkeeping}, history...)
			state, _ = state.Apply(h.curve, def.XPReward, in.now)
			bonus = bonus.Add(def.XPReward)
			unlocked = append(unlocked, def)
		}
		if len(still) == len(pending) {
			break
		}
		pending = still
	}

	if err := tx.PutLevelState(ctx, state); err != nil {
		return nil, err
	}

	if unlocked == nil {
		unlocked = []achievement.Definition{}
	}
	return &RecordActivityResult{
		ActivityID:           primary.ID,
		UserID:               in.userID,
		Type:                 in.typ,
		XPGained:             in.reward,
		BonusXP:              bonus,
		TotalXP:              state.TotalXP,
		LeveledUp:            state.CurrentLevel > previousLevel,
		PreviousLevel:        previousLevel,
		NewLevel:             state.CurrentLevel,
		AchievementsUnlocked: unlocked,
		RecordedAt:           in.now,
	}, nil
}

// pendingCandidates returns the definitions triggered by t that the user has
// not unlocked yet. The check runs inside the transaction so two racing
// calls cannot both unlock the same pair.
func (h *RecordActivityHandler) pendingCandidates(ctx context.Context, tx ledger.Tx, userID shared.UserID, t activity.Type) ([]achievement.Definition, error) {
	var out []achievement.Definition
	for _, def := range h.catalog.CandidatesFor(t) {
		has, err := tx.HasAchievement(ctx, userID, def.ID)
		if err != nil {
			return nil, err
		}
		if !has {
			out = append(out, def)
		}
	}
	return out, nil
}

// unlock stages the UserAchievement and its bookkeeping activity.
func (h *RecordActivityHandler) unlock(ctx context.Context, tx ledger.Tx, in txInput, def achievement.Definition) (activity.Activity, error) {
	if err := tx.UnlockAchievement(ctx, achievement.NewUserAchievement(in.userID, def, in.now)); err != nil {
		return activity.Activity{}, err
	}

	bookkeeping, err := activity.NewActivity(activity.NewActivityParams{
		ID:        h.newID(),
		UserID:    in.userID,
		Type:      activity.TypeAchievementUnlocked,
		XPGained:  def.XPReward,
		Context:   activity.Context{activity.ContextAchievementID: def.ID},
		CreatedAt: in.now,
	})
	if err != nil {
		return activity.Activity{}, err
	}
	if err := tx.AppendActivity(ctx, bookkeeping); err != nil {
		return activity.Activity{}, err
	}
	return bookkeeping, nil
}

// report logs the committed result and publishes domain events. Publishing
// happens after commit and its failures never undo the recorded activity.
func (h *RecordActivityHandler) report(log *logger.Logger, r *RecordActivityResult, correlationID string) {
	log.Debug("activity recorded",
		logger.XPAmount(r.XPGained.Int64()),
		logger.Int64("bonus_xp", r.BonusXP.Int64()),
		logger.Int64("total_xp", r.TotalXP.Int64()),
	)

	uid := r.UserID.String()
	events := []shared.Event{
		withCorrelation(shared.NewActivityRecordedEvent(uid, r.ActivityID, r.Type.String(), r.XPGained, r.RecordedAt), correlationID),
	}
	if gained := r.XPGained + r.BonusXP; gained > 0 {
		events = append(events, withCorrelation(
			shared.NewXPGainedEvent(uid, gained, r.TotalXP, r.Type.String(), r.RecordedAt), correlationID))
	}
	if r.LeveledUp {
		log.Info("level up",
			logger.Int("previous_level", r.PreviousLevel),
			logger.LevelNumber(r.NewLevel),
		)
		events = append(events, withCorrelation(
			shared.NewLevelUpEvent(uid, r.PreviousLevel, r.NewLevel, h.curve.NameFor(r.NewLevel), r.TotalXP, r.RecordedAt), correlationID))
	}
	for _, def := range r.AchievementsUnlocked {
		log.Info("achievement unlocked",
			logger.AchievementID(def.ID),
			logger.XPAmount(def.XPReward.Int64()),
		)
		events = append(events, withCorrelation(
			shared.NewAchievementUnlockedEvent(uid, def.ID, def.Name, string(def.Rarity), def.XPReward, r.RecordedAt), correlationID))
	}

	if h.publisher == nil {
		return
	}
	for _, event := range events {
		if err := h.publisher.Publish(event); err != nil {
			log.Warn("failed to publish event",
				logger.String("event_type", string(event.EventType())),
				logger.Err(err),
			)
		}
	}
}

func withCorrelation(e shared.Event, id string) shared.Event {
	if id == "" {
		return e
	}
	switch ev := e.(type) {
	case shared.ActivityRecordedEvent:
		ev.BaseEvent = ev.BaseEvent.WithCorrelationID(id)
		return ev
	case shared.XPGainedEvent:
		ev.BaseEvent = ev.BaseEvent.WithCorrelationID(id)
		return ev
	case shared.LevelUpEvent:
		ev.BaseEvent = ev.BaseEvent.WithCorrelationID(id)
		return ev
	case shared.AchievementUnlockedEvent:
		ev.BaseEvent = ev.BaseEvent.WithCorrelationID(id)
		return ev
	default:
		return e
	}
}
