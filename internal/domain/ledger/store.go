// Package ledger defines the persistence contract behind the XP engine: a
// per-user transactional store holding level state, the append-only
// activity log and the set of unlocked achievements.
package ledger

import (
	"context"

	"github.com/medquest/study-hub/internal/domain/achievement"
	"github.com/medquest/study-hub/internal/domain/activity"
	"github.com/medquest/study-hub/internal/domain/progression"
	"github.com/medquest/study-hub/internal/domain/shared"
)

// TxFunc is the body of a ledger transaction. It may run more than once when
// the store retries a conflict, so it must derive everything from tx and
// its captured inputs and must not leak side effects outside tx.
type TxFunc func(ctx context.Context, tx Tx) error

// Tx is the view of one user's ledger inside a transaction. Writes become
// visible to other callers only when the transaction commits.
type Tx interface {
	// LevelState returns the stored state. found is false for a user with no
	// recorded activity; the returned state is then the zero value.
	LevelState(ctx context.Context, userID shared.UserID) (state progression.LevelState, found bool, err error)

	// PutLevelState stages state. The commit fails with a conflict if another
	// transaction changed the record since it was read.
	PutLevelState(ctx context.Context, state progression.LevelState) error

	// AppendActivity stages a new log entry.
	AppendActivity(ctx context.Context, a activity.Activity) error

	// History returns the user's full log newest first, including entries
	// staged by this transaction.
	History(ctx context.Context, userID shared.UserID) ([]activity.Activity, error)

	// HasAchievement reports whether the pair is already unlocked, including
	// unlocks staged by this transaction.
	HasAchievement(ctx context.Context, userID shared.UserID, achievementID string) (bool, error)

	// UnlockAchievement stages an unlock. Staging a pair that already exists
	// fails with shared.ErrAchievementExists.
	UnlockAchievement(ctx context.Context, ua achievement.UserAchievement) error
}

// Reader serves read models outside any transaction. Reads are
// read-committed and may lag an in-flight transaction.
type Reader interface {
	activity.Log

	// GetLevelState returns the stored state; found is false for unknown users.
	GetLevelState(ctx context.Context, userID shared.UserID) (state progression.LevelState, found bool, err error)

	// ListAchievements returns the user's unlocks ordered by UnlockedAt.
	ListAchievements(ctx context.Context, userID shared.UserID) ([]achievement.UserAchievement, error)
}

// Store is the full ledger contract.
type Store interface {
	Reader

	// RunInTx executes fn atomically for userID. On a conflict the whole body
	// is re-executed against fresh state a bounded number of times; when the
	// budget is exhausted the error satisfies shared.IsUnavailable. Any other
	// error from fn aborts the transaction and is returned unchanged.
	RunInTx(ctx context.Context, userID shared.UserID, fn TxFunc) error

	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}
