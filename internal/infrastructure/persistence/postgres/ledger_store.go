package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/medquest/study-hub/internal/domain/achievement"
	"github.com/medquest/study-hub/internal/domain/activity"
	"github.com/medquest/study-hub/internal/domain/ledger"
	"github.com/medquest/study-hub/internal/domain/progression"
	"github.com/medquest/study-hub/internal/domain/shared"
	"github.com/medquest/study-hub/internal/infrastructure/persistence"
	"github.com/medquest/study-hub/pkg/circuitbreaker"
	"github.com/medquest/study-hub/pkg/logger"
)

// LedgerStore implements ledger.Store on PostgreSQL.
type LedgerStore struct {
	conn    *Connection
	runner  *persistence.TxRunner
	breaker *circuitbreaker.CircuitBreaker
	logger  *logger.Logger
}

var _ ledger.Store = (*LedgerStore)(nil)

// NewLedgerStore creates a LedgerStore on conn. Conflicting transactions are
// retried per cfg; a circuit breaker fails calls fast while the database is down.
func NewLedgerStore(conn *Connection, cfg persistence.RetryConfig, log *logger.Logger) *LedgerStore {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("ledger-postgres"))

	return &LedgerStore{
		conn:   conn,
		runner: persistence.NewTxRunner("postgres", cfg, log),
		breaker: circuitbreaker.LedgerStoreBreaker(countsAgainstBackend, func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		}),
		logger: log,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSACTIONS
// ══════════════════════════════════════════════════════════════════════════════

// RunInTx runs fn in one SERIALIZABLE transaction per attempt.
func (s *LedgerStore) RunInTx(ctx context.Context, userID shared.UserID, fn ledger.TxFunc) error {
	return s.runner.Run(ctx, "RunInTx", userID, func(ctx context.Context) error {
		err := s.breaker.Execute(ctx, func(ctx context.Context) error {
			return s.conn.WithTx(ctx, SerializableTxOptions(), func(tx pgx.Tx) error {
				return fn(ctx, &pgTx{tx: tx, userID: userID})
			})
		})
		return mapError("RunInTx", err)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// READS
// ══════════════════════════════════════════════════════════════════════════════

// GetLevelState implements ledger.Reader.
func (s *LedgerStore) GetLevelState(ctx context.Context, userID shared.UserID) (progression.LevelState, bool, error) {
	var (
		st    progression.LevelState
		found bool
	)
	err := s.read(ctx, "GetLevelState", func(ctx context.Context, q Querier) error {
		var err error
		st, found, err = selectLevelState(ctx, q, userID, false)
		return err
	})
	return st, found, err
}

// ListActivities implements activity.Log.
func (s *LedgerStore) ListActivities(ctx context.Context, userID shared.UserID, filter activity.Filter) ([]activity.Activity, error) {
	var out []activity.Activity
	err := s.read(ctx, "ListActivities", func(ctx context.Context, q Querier) error {
		var err error
		out, err = selectActivities(ctx, q, userID, filter)
		return err
	})
	return out, err
}

// ListAchievements implements ledger.Reader.
func (s *LedgerStore) ListAchievements(ctx context.Context, userID shared.UserID) ([]achievement.UserAchievement, error) {
	var out []achievement.UserAchievement
	err := s.read(ctx, "ListAchievements", func(ctx context.Context, q Querier) error {
		rows, err := q.Query(ctx, `
			SELECT user_id, achievement_id, unlocked_at, progress, max_progress
			FROM user_achievements
			WHERE user_id = $1
			ORDER BY unlocked_at, seq`, string(userID))
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (achievement.UserAchievement, error) {
			var (
				ua  achievement.UserAchievement
				uid string
			)
			err := row.Scan(&uid, &ua.AchievementID, &ua.UnlockedAt, &ua.Progress, &ua.MaxProgress)
			ua.UserID = shared.UserID(uid)
			return ua, err
		})
		return err
	})
	if out == nil && err == nil {
		out = []achievement.UserAchievement{}
	}
	return out, err
}

// Ping checks the database through the breaker.
func (s *LedgerStore) Ping(ctx context.Context) error {
	return s.read(ctx, "Ping", func(ctx context.Context, _ Querier) error {
		return s.conn.Ping(ctx)
	})
}

// Close closes the connection pool.
func (s *LedgerStore) Close() error {
	s.conn.Close()
	return nil
}

func (s *LedgerStore) read(ctx context.Context, op string, fn func(context.Context, Querier) error) error {
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		q, err := s.conn.querier()
		if err != nil {
			return err
		}
		return fn(ctx, q)
	})
	return mapError(op, err)
}

// ══════════════════════════════════════════════════════════════════════════════
// SQL
// ══════════════════════════════════════════════════════════════════════════════

func selectLevelState(ctx context.Context, q Querier, userID shared.UserID, forUpdate bool) (progression.LevelState, bool, error) {
	sql := `
		SELECT current_level, current_xp, total_xp, xp_to_next_level,
		       last_level_up_at, updated_at, version
		FROM level_state
		WHERE user_id = $1`
	if forUpdate {
		sql += " FOR UPDATE"
	}

	st := progression.LevelState{UserID: userID}
	var currentXP, totalXP, toNext int64
	err := q.QueryRow(ctx, sql, string(userID)).Scan(
		&st.CurrentLevel, &currentXP, &totalXP, &toNext,
		&st.LastLevelUpAt, &st.UpdatedAt, &st.Version,
	)
	if IsNoRows(err) {
		return progression.LevelState{}, false, nil
	}
	if err != nil {
		return progression.LevelState{}, false, err
	}
	st.CurrentXP, st.TotalXP, st.XPToNextLevel = shared.XP(currentXP), shared.XP(totalXP), shared.XP(toNext)
	return st, true, nil
}

func selectActivities(ctx context.Context, q Querier, userID shared.UserID, filter activity.Filter) ([]activity.Activity, error) {
	sql := `
		SELECT id, type, xp_gained, context, created_at
		FROM activities
		WHERE user_id = $1`
	args := []any{string(userID)}

	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		args = append(args, types)
		sql += fmt.Sprintf(" AND type = ANY($%d)", len(args))
	}
	sql += " ORDER BY created_at DESC, seq DESC"
	if limit := filter.EffectiveLimit(); limit >= 0 {
		args = append(args, limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (activity.Activity, error) {
		a := activity.Activity{UserID: userID}
		var (
			typ string
			xp  int64
			raw []byte
		)
		if err := row.Scan(&a.ID, &typ, &xp, &raw, &a.CreatedAt); err != nil {
			return a, err
		}
		a.Type, a.XPGained = activity.Type(typ), shared.XP(xp)
		ctxMap, err := decodeContext(raw)
		a.Context = ctxMap
		return a, err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []activity.Activity{}
	}
	return out, nil
}

func insertActivity(ctx context.Context, q Querier, a activity.Activity) error {
	raw, err := encodeContext(a.Context)
	if err != nil {
		return shared.WrapError("ledger", "AppendActivity", shared.ErrInvalidInput, "context is not serialisable", err)
	}
	_, err = q.Exec(ctx, `
		INSERT INTO activities (id, user_id, type, xp_gained, context, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, string(a.UserID), string(a.Type), int64(a.XPGained), raw, a.CreatedAt.UTC(),
	)
	return err
}

func encodeContext(c activity.Context) ([]byte, error) {
	if len(c) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(c)
}

// decodeContext returns nil for an empty object so round trips of
// context-free activities stay context-free.
func decodeContext(raw []byte) (activity.Context, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var c activity.Context
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode activity context: %w", err)
	}
	if len(c) == 0 {
		return nil, nil
	}
	return c, nil
}

func timePtrUTC(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
