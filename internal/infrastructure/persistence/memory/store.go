// Package memory implements the ledger store in process memory. It is the
// reference implementation of the transaction contract and the test double
// for the engine and query service: transactions stage writes privately and
// commit with a per-user version compare-and-swap, so concurrent writers for
// one user conflict and retry exactly as they do against PostgreSQL.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/medquest/study-hub/internal/domain/achievement"
	"github.com/medquest/study-hub/internal/domain/activity"
	"github.com/medquest/study-hub/internal/domain/ledger"
	"github.com/medquest/study-hub/internal/domain/progression"
	"github.com/medquest/study-hub/internal/domain/shared"
	"github.com/medquest/study-hub/internal/infrastructure/persistence"
	"github.com/medquest/study-hub/pkg/logger"
)

// FaultHook is consulted before each commit. A non-nil error aborts the
// attempt with that error; return a shared.StoreConflict to force a retry.
type FaultHook func(ctx context.Context, userID shared.UserID) error

// userLedger is one user's committed data. Activities are kept in append order.
type userLedger struct {
	version      int64
	state        progression.LevelState
	hasState     bool
	activities   []activity.Activity
	achievements map[string]achievement.UserAchievement
	unlockOrder  []string
}

// Store is a goroutine-safe in-memory ledger.
type Store struct {
	mu     sync.RWMutex
	users  map[shared.UserID]*userLedger
	closed bool

	runner *persistence.TxRunner
	fault  FaultHook
}

var _ ledger.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithFaultHook installs a commit fault hook.
func WithFaultHook(h FaultHook) Option {
	return func(s *Store) { s.fault = h }
}

// New creates an empty store.
func New(cfg persistence.RetryConfig, log *logger.Logger, opts ...Option) *Store {
	s := &Store{
		users:  make(map[shared.UserID]*userLedger),
		runner: persistence.NewTxRunner("memory", cfg, log),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSACTIONS
// ══════════════════════════════════════════════════════════════════════════════

// RunInTx runs fn against a private snapshot of the user's ledger and
// commits the staged writes if nobody else committed for that user meanwhile.
func (s *Store) RunInTx(ctx context.Context, userID shared.UserID, fn ledger.TxFunc) error {
	return s.runner.Run(ctx, "RunInTx", userID, func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		tx, err := s.begin(userID)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if s.fault != nil {
			if err := s.fault(ctx, userID); err != nil {
				return err
			}
		}
		return s.commit(tx)
	})
}

func (s *Store) begin(userID shared.UserID) (*memTx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, shared.ErrStoreClosed
	}

	tx := &memTx{userID: userID, unlocked: make(map[string]achievement.UserAchievement)}
	if u, ok := s.users[userID]; ok {
		tx.baseVersion = u.version
		tx.state, tx.hasState = u.state, u.hasState
		// Full slice expression so staged appends never write into the shared array.
		tx.committed = u.activities[:len(u.activities):len(u.activities)]
		for id := range u.achievements {
			tx.unlocked[id] = u.achievements[id]
		}
	}
	return tx, nil
}

func (s *Store) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return shared.ErrStoreClosed
	}

	u, ok := s.users[tx.userID]
	if !ok {
		u = &userLedger{achievements: make(map[string]achievement.UserAchievement)}
	}
	if u.version != tx.baseVersion {
		return shared.ErrLevelStateConflict
	}
	for _, ua := range tx.newUnlocks {
		if _, exists := u.achievements[ua.AchievementID]; exists {
			return shared.ErrAchievementExists
		}
	}

	u.version++
	if tx.stateDirty {
		st := tx.state
		st.Version = u.version
		u.state, u.hasState = st, true
	}
	u.activities = append(u.activities, tx.appended...)
	for _, ua := range tx.newUnlocks {
		u.achievements[ua.AchievementID] = ua
		u.unlockOrder = append(u.unlockOrder, ua.AchievementID)
	}
	s.users[tx.userID] = u
	return nil
}

// memTx stages writes for one attempt.
type memTx struct {
	userID      shared.UserID
	baseVersion int64

	state      progression.LevelState
	hasState   bool
	stateDirty bool

	committed []activity.Activity
	appended  []activity.Activity

	unlocked   map[string]achievement.UserAchievement
	newUnlocks []achievement.UserAchievement
}

func (tx *memTx) checkUser(userID shared.UserID) error {
	if userID != tx.userID {
		return shared.NewDomainError("ledger", "Tx", shared.ErrInvalidInput, "transaction is scoped to another user")
	}
	return nil
}

func (tx *memTx) LevelState(_ context.Context, userID shared.UserID) (progression.LevelState, bool, error) {
	if err := tx.checkUser(userID); err != nil {
		return progression.LevelState{}, false, err
	}
	return tx.state, tx.hasState, nil
}

func (tx *memTx) PutLevelState(_ context.Context, state progression.LevelState) error {
	if err := tx.checkUser(state.UserID); err != nil {
		return err
	}
	if tx.hasState && state.Version != tx.state.Version {
		return shared.ErrLevelStateConflict
	}
	state.Version = tx.state.Version
	tx.state, tx.hasState, tx.stateDirty = state, true, true
	return nil
}

func (tx *memTx) AppendActivity(_ context.Context, a activity.Activity) error {
	if err := tx.checkUser(a.UserID); err != nil {
		return err
	}
	a.Context = a.Context.Clone()
	tx.appended = append(tx.appended, a)
	return nil
}

func (tx *memTx) History(_ context.Context, userID shared.UserID) ([]activity.Activity, error) {
	if err := tx.checkUser(userID); err != nil {
		return nil, err
	}
	out := make([]activity.Activity, 0, len(tx.committed)+len(tx.appended))
	out = append(out, tx.committed...)
	out = append(out, tx.appended...)
	activity.SortNewestFirst(out)
	return out, nil
}

func (tx *memTx) HasAchievement(_ context.Context, userID shared.UserID, achievementID string) (bool, error) {
	if err := tx.checkUser(userID); err != nil {
		return false, err
	}
	_, ok := tx.unlocked[achievementID]
	return ok, nil
}

func (tx *memTx) UnlockAchievement(_ context.Context, ua achievement.UserAchievement) error {
	if err := tx.checkUser(ua.UserID); err != nil {
		return err
	}
	if _, ok := tx.unlocked[ua.AchievementID]; ok {
		return shared.ErrAchievementExists
	}
	tx.unlocked[ua.AchievementID] = ua
	tx.newUnlocks = append(tx.newUnlocks, ua)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// READS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Store) GetLevelState(ctx context.Context, userID shared.UserID) (progression.LevelState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return progression.LevelState{}, false, shared.ErrStoreClosed
	}
	u, ok := s.users[userID]
	if !ok || !u.hasState {
		return progression.LevelState{}, false, nil
	}
	return u.state, true, nil
}

func (s *Store) ListActivities(ctx context.Context, userID shared.UserID, filter activity.Filter) ([]activity.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, shared.ErrStoreClosed
	}
	u, ok := s.users[userID]
	if !ok {
		return []activity.Activity{}, nil
	}

	all := make([]activity.Activity, len(u.activities))
	copy(all, u.activities)
	activity.SortNewestFirst(all)

	limit := filter.EffectiveLimit()
	out := make([]activity.Activity, 0)
	for _, a := range all {
		if limit >= 0 && len(out) >= limit {
			break
		}
		if filter.Matches(a.Type) {
			a.Context = a.Context.Clone()
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) ListAchievements(ctx context.Context, userID shared.UserID) ([]achievement.UserAchievement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, shared.ErrStoreClosed
	}
	u, ok := s.users[userID]
	if !ok {
		return []achievement.UserAchievement{}, nil
	}

	out := make([]achievement.UserAchievement, 0, len(u.unlockOrder))
	for _, id := range u.unlockOrder {
		out = append(out, u.achievements[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UnlockedAt.Before(out[j].UnlockedAt)
	})
	return out, nil
}

// Ping reports whether the store is open.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return shared.ErrStoreClosed
	}
	return nil
}

// Close makes every later call fail with StoreUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
