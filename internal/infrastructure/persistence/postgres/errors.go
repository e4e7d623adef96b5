package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/medquest/study-hub/internal/domain/shared"
	"github.com/medquest/study-hub/pkg/circuitbreaker"
)

// SQLSTATE codes the store cares about.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

// mapError translates driver errors into ledger error kinds. Domain errors
// raised by the transaction body pass through untouched.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}

	var de *shared.DomainError
	if errors.As(err, &de) {
		return err
	}

	switch {
	case circuitbreaker.IsRejected(err),
		errors.Is(err, ErrConnectionClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return shared.StoreUnavailable(op, err)
	}

	// A duplicate user_achievements row means a concurrent transaction
	// unlocked the same achievement first.
	if IsUniqueViolation(err) {
		return shared.StoreConflict(op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
			return shared.StoreConflict(op, err)
		}
		// Class 22 (data exception) and 23 (integrity) mean the row was rejected.
		if strings.HasPrefix(pgErr.Code, "22") || strings.HasPrefix(pgErr.Code, "23") {
			return shared.WrapError("ledger", op, shared.ErrInvalidInput, pgErr.Message, err)
		}
	}

	return shared.StoreUnavailable(op, err)
}

// countsAgainstBackend reports whether err says something about the health
// of the database. Conflicts, rejected rows and caller cancellations do not.
func countsAgainstBackend(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	mapped := mapError("", err)
	return shared.IsUnavailable(mapped) && !shared.IsConflict(mapped)
}

// retryableConnectError reports whether a failed startup connection is worth
// another attempt. Bad credentials or a missing database will not heal.
func retryableConnectError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 28: invalid authorization. Class 3D: invalid catalog name.
		return !strings.HasPrefix(pgErr.Code, "28") && !strings.HasPrefix(pgErr.Code, "3D")
	}
	return true
}

// IsUniqueViolation checks if the error is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

// IsNoRows checks if the error is a "no rows" error.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
