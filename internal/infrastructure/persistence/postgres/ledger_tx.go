package postgres

import (
	"context"

	"github.com/medquest/study-hub/internal/domain/achievement"
	"github.com/medquest/study-hub/internal/domain/activity"
	"github.com/medquest/study-hub/internal/domain/progression"
	"github.com/medquest/study-hub/internal/domain/shared"
)

// pgTx is one attempt of a ledger transaction. Writes go straight to the
// database transaction, so History and HasAchievement see them.
type pgTx struct {
	tx     Querier
	userID shared.UserID

	// written is set once PutLevelState has bumped the row version.
	// baseVersion is the version the caller read before that.
	written     bool
	baseVersion int64
}

func (t *pgTx) checkUser(userID shared.UserID) error {
	if userID != t.userID {
		return shared.NewDomainError("ledger", "Tx", shared.ErrInvalidInput, "transaction is scoped to another user")
	}
	return nil
}

// LevelState reads the user's row with FOR UPDATE. After a write in this
// transaction it reports the pre-write version, which is what a further
// PutLevelState must carry.
func (t *pgTx) LevelState(ctx context.Context, userID shared.UserID) (progression.LevelState, bool, error) {
	if err := t.checkUser(userID); err != nil {
		return progression.LevelState{}, false, err
	}
	st, found, err := selectLevelState(ctx, t.tx, userID, true)
	if err != nil || !found {
		return st, found, err
	}
	if t.written {
		st.Version = t.baseVersion
	}
	return st, true, nil
}

// PutLevelState writes state with compare-and-swap on Version. Version zero
// means the caller saw no row; a concurrent first write then loses the insert.
func (t *pgTx) PutLevelState(ctx context.Context, state progression.LevelState) error {
	if err := t.checkUser(state.UserID); err != nil {
		return err
	}

	if t.written {
		if state.Version != t.baseVersion {
			return shared.ErrLevelStateConflict
		}
		_, err := t.tx.Exec(ctx, `
			UPDATE level_state
			SET current_level = $2, current_xp = $3, total_xp = $4, xp_to_next_level = $5,
			    last_level_up_at = $6, updated_at = $7
			WHERE user_id = $1`,
			string(state.UserID), state.CurrentLevel, int64(state.CurrentXP), int64(state.TotalXP),
			int64(state.XPToNextLevel), timePtrUTC(state.LastLevelUpAt), state.UpdatedAt.UTC(),
		)
		return err
	}

	var affected int64
	if state.Version == 0 {
		tag, err := t.tx.Exec(ctx, `
			INSERT INTO level_state (user_id, current_level, current_xp, total_xp, xp_to_next_level,
			                         last_level_up_at, updated_at, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 1)
			ON CONFLICT (user_id) DO NOTHING`,
			string(state.UserID), state.CurrentLevel, int64(state.CurrentXP), int64(state.TotalXP),
			int64(state.XPToNextLevel), timePtrUTC(state.LastLevelUpAt), state.UpdatedAt.UTC(),
		)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
	} else {
		tag, err := t.tx.Exec(ctx, `
			UPDATE level_state
			SET current_level = $2, current_xp = $3, total_xp = $4, xp_to_next_level = $5,
			    last_level_up_at = $6, updated_at = $7, version = version + 1
			WHERE user_id = $1 AND version = $8`,
			string(state.UserID), state.CurrentLevel, int64(state.CurrentXP), int64(state.TotalXP),
			int64(state.XPToNextLevel), timePtrUTC(state.LastLevelUpAt), state.UpdatedAt.UTC(),
			state.Version,
		)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
	}

	if affected == 0 {
		return shared.ErrLevelStateConflict
	}
	t.written, t.baseVersion = true, state.Version
	return nil
}

func (t *pgTx) AppendActivity(ctx context.Context, a activity.Activity) error {
	if err := t.checkUser(a.UserID); err != nil {
		return err
	}
	return insertActivity(ctx, t.tx, a)
}

// History returns the full log newest first, including rows inserted by
// this transaction.
func (t *pgTx) History(ctx context.Context, userID shared.UserID) ([]activity.Activity, error) {
	if err := t.checkUser(userID); err != nil {
		return nil, err
	}
	return selectActivities(ctx, t.tx, userID, activity.Filter{Limit: -1})
}

func (t *pgTx) HasAchievement(ctx context.Context, userID shared.UserID, achievementID string) (bool, error) {
	if err := t.checkUser(userID); err != nil {
		return false, err
	}
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM user_achievements WHERE user_id = $1 AND achievement_id = $2)`,
		string(userID), achievementID,
	).Scan(&exists)
	return exists, err
}

func (t *pgTx) UnlockAchievement(ctx context.Context, ua achievement.UserAchievement) error {
	if err := t.checkUser(ua.UserID); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO user_achievements (user_id, achievement_id, unlocked_at, progress, max_progress)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, achievement_id) DO NOTHING`,
		string(ua.UserID), ua.AchievementID, ua.UnlockedAt.UTC(), ua.Progress, ua.MaxProgress,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrAchievementExists
	}
	return nil
}
