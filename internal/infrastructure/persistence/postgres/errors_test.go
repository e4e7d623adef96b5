package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/medquest/study-hub/internal/domain/shared"
	"github.com/medquest/study-hub/pkg/circuitbreaker"
)

func pgError(code string) error {
	return fmt.Errorf("exec: %w", &pgconn.PgError{Code: code, Message: "sqlstate " + code})
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		conflict    bool
		unavailable bool
		validation  bool
	}{
		{name: "serialization failure", err: pgError("40001"), conflict: true},
		{name: "deadlock", err: pgError("40P01"), conflict: true},
		{name: "lock not available", err: pgError("55P03"), conflict: true},
		{name: "duplicate unlock", err: pgError("23505"), conflict: true},
		{name: "check violation", err: pgError("23514"), validation: true},
		{name: "bad json", err: pgError("22P02"), validation: true},
		{name: "admin shutdown", err: pgError("57P01"), unavailable: true},
		{name: "connection failure", err: pgError("08006"), unavailable: true},
		{name: "pool closed", err: ErrConnectionClosed, unavailable: true},
		{name: "breaker open", err: circuitbreaker.ErrCircuitOpen, unavailable: true},
		{name: "deadline", err: context.DeadlineExceeded, unavailable: true},
		{name: "anything else", err: errors.New("dial tcp: connection refused"), unavailable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError("RunInTx", tt.err)
			assert.Equal(t, tt.conflict, shared.IsConflict(got), "conflict")
			assert.Equal(t, tt.unavailable, shared.IsUnavailable(got), "unavailable")
			assert.Equal(t, tt.validation, shared.IsValidation(got), "validation")
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestMapError_DomainErrorsPassThrough(t *testing.T) {
	assert.Nil(t, mapError("op", nil))
	assert.Same(t, shared.ErrLevelStateConflict, mapError("op", shared.ErrLevelStateConflict))

	unknown := shared.UnknownActivityType("Handle", "bogus")
	assert.Same(t, unknown, mapError("op", unknown))
}

func TestCountsAgainstBackend(t *testing.T) {
	assert.True(t, countsAgainstBackend(pgError("08006")))
	assert.True(t, countsAgainstBackend(errors.New("connection reset")))

	assert.False(t, countsAgainstBackend(pgError("40001")))
	assert.False(t, countsAgainstBackend(pgError("23514")))
	assert.False(t, countsAgainstBackend(shared.ErrAchievementExists))
	assert.False(t, countsAgainstBackend(context.Canceled))
}

func TestRetryableConnectError(t *testing.T) {
	assert.True(t, retryableConnectError(errors.New("dial tcp: connection refused")))
	assert.True(t, retryableConnectError(pgError("57P03")), "database starting up")

	assert.False(t, retryableConnectError(pgError("28P01")), "bad password")
	assert.False(t, retryableConnectError(pgError("3D000")), "unknown database")
	assert.False(t, retryableConnectError(context.DeadlineExceeded))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(pgError("23505")))
	assert.False(t, IsUniqueViolation(pgError("23514")))
	assert.False(t, IsUniqueViolation(errors.New("23505")))
}

func TestMigrations(t *testing.T) {
	migs := GetMigrations()
	for i, m := range migs {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.UpSQL)
		assert.NotEmpty(t, m.DownSQL)
	}

	all := ""
	for _, m := range migs {
		all += m.UpSQL
	}
	assert.Contains(t, all, "PRIMARY KEY (user_id, achievement_id)")
	assert.Contains(t, all, "version BIGINT NOT NULL")
	assert.True(t, strings.Contains(all, "CREATE TABLE IF NOT EXISTS activities"))
}

func TestContextCodec(t *testing.T) {
	raw, err := encodeContext(nil)
	assert.NoError(t, err)
	assert.Equal(t, "{}", string(raw))

	c, err := decodeContext(raw)
	assert.NoError(t, err)
	assert.Nil(t, c)

	c, err = decodeContext([]byte(`{"difficulty":"hard","score":100}`))
	assert.NoError(t, err)
	assert.Equal(t, "hard", c["difficulty"])
	assert.Equal(t, float64(100), c["score"])

	_, err = decodeContext([]byte(`not json`))
	assert.Error(t, err)
}
