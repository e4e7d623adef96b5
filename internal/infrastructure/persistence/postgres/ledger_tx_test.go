package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medquest/study-hub/internal/domain/progression"
	"github.com/medquest/study-hub/internal/domain/shared"
)

type execCall struct {
	sql  string
	args []interface{}
}

// scriptedQuerier answers Exec with queued command tags.
type scriptedQuerier struct {
	tags  []string
	err   error
	calls []execCall
}

func (q *scriptedQuerier) Exec(_ context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	q.calls = append(q.calls, execCall{sql: sql, args: args})
	if q.err != nil {
		return pgconn.CommandTag{}, q.err
	}
	if len(q.tags) == 0 {
		return pgconn.CommandTag{}, errors.New("unexpected exec")
	}
	tag := q.tags[0]
	q.tags = q.tags[1:]
	return pgconn.NewCommandTag(tag), nil
}

func (q *scriptedQuerier) Query(context.Context, string, ...interface{}) (pgx.Rows, error) {
	return nil, errors.New("unexpected query")
}

func (q *scriptedQuerier) QueryRow(context.Context, string, ...interface{}) pgx.Row {
	return errRow{err: errors.New("unexpected query")}
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

func levelStateAt(version int64) progression.LevelState {
	return progression.LevelState{
		UserID:        "u1",
		CurrentLevel:  2,
		CurrentXP:     50,
		TotalXP:       150,
		XPToNextLevel: 100,
		UpdatedAt:     time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		Version:       version,
	}
}

func TestPgTx_PutLevelState_FirstWriteInserts(t *testing.T) {
	q := &scriptedQuerier{tags: []string{"INSERT 0 1"}}
	tx := &pgTx{tx: q, userID: "u1"}

	require.NoError(t, tx.PutLevelState(context.Background(), levelStateAt(0)))

	require.Len(t, q.calls, 1)
	assert.Contains(t, q.calls[0].sql, "INSERT INTO level_state")
	assert.Contains(t, q.calls[0].sql, "ON CONFLICT (user_id) DO NOTHING")
	assert.Equal(t, "u1", q.calls[0].args[0])
	assert.True(t, tx.written)
	assert.Equal(t, int64(0), tx.baseVersion)
}

func TestPgTx_PutLevelState_LostInsertIsConflict(t *testing.T) {
	q := &scriptedQuerier{tags: []string{"INSERT 0 0"}}
	tx := &pgTx{tx: q, userID: "u1"}

	err := tx.PutLevelState(context.Background(), levelStateAt(0))

	assert.ErrorIs(t, err, shared.ErrLevelStateConflict)
	assert.True(t, shared.IsConflict(err))
	assert.False(t, tx.written)
}

func TestPgTx_PutLevelState_UpdateChecksVersion(t *testing.T) {
	q := &scriptedQuerier{tags: []string{"UPDATE 1"}}
	tx := &pgTx{tx: q, userID: "u1"}

	require.NoError(t, tx.PutLevelState(context.Background(), levelStateAt(3)))

	require.Len(t, q.calls, 1)
	call := q.calls[0]
	assert.Contains(t, call.sql, "version = version + 1")
	assert.Contains(t, call.sql, "AND version = $8")
	assert.Equal(t, int64(3), call.args[len(call.args)-1])
	assert.True(t, tx.written)
	assert.Equal(t, int64(3), tx.baseVersion)
}

func TestPgTx_PutLevelState_StaleVersionIsConflict(t *testing.T) {
	q := &scriptedQuerier{tags: []string{"UPDATE 0"}}
	tx := &pgTx{tx: q, userID: "u1"}

	err := tx.PutLevelState(context.Background(), levelStateAt(3))

	assert.ErrorIs(t, err, shared.ErrLevelStateConflict)
	assert.False(t, tx.written)
}

func TestPgTx_PutLevelState_SecondWriteInSameTx(t *testing.T) {
	q := &scriptedQuerier{tags: []string{"UPDATE 1", "UPDATE 1"}}
	tx := &pgTx{tx: q, userID: "u1"}
	ctx := context.Background()

	require.NoError(t, tx.PutLevelState(ctx, levelStateAt(3)))

	next := levelStateAt(3)
	next.CurrentLevel = 3
	require.NoError(t, tx.PutLevelState(ctx, next))

	require.Len(t, q.calls, 2)
	assert.NotContains(t, q.calls[1].sql, "version = version + 1")
	assert.NotContains(t, q.calls[1].sql, "AND version")
	assert.Equal(t, 3, q.calls[1].args[1])
	assert.Equal(t, int64(3), tx.baseVersion)
}

func TestPgTx_PutLevelState_SecondWriteWithOtherVersionIsConflict(t *testing.T) {
	q := &scriptedQuerier{tags: []string{"INSERT 0 1"}}
	tx := &pgTx{tx: q, userID: "u1"}
	ctx := context.Background()

	require.NoError(t, tx.PutLevelState(ctx, levelStateAt(0)))

	err := tx.PutLevelState(ctx, levelStateAt(1))

	assert.ErrorIs(t, err, shared.ErrLevelStateConflict)
	assert.Len(t, q.calls, 1)
}

func TestPgTx_PutLevelState_ExecErrorPassesThrough(t *testing.T) {
	boom := pgError("57P01")
	q := &scriptedQuerier{err: boom}
	tx := &pgTx{tx: q, userID: "u1"}

	err := tx.PutLevelState(context.Background(), levelStateAt(2))

	assert.ErrorIs(t, err, boom)
	assert.False(t, tx.written)
}

func TestPgTx_RejectsOtherUser(t *testing.T) {
	q := &scriptedQuerier{}
	tx := &pgTx{tx: q, userID: "u1"}

	state := levelStateAt(0)
	state.UserID = "u2"
	err := tx.PutLevelState(context.Background(), state)

	assert.ErrorIs(t, err, shared.ErrInvalidInput)
	assert.Empty(t, q.calls)
}
