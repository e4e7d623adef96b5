// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")

	// Activity classification
	ErrUnknownActivityType = errors.New("unknown activity type")

	// Catalog errors. These are programming errors in static data.
	ErrInvalidCatalog = errors.New("invalid catalog")

	// Store errors
	ErrStoreConflict    = errors.New("store conflict")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "activity", "achievement", "ledger"
	Op      string // Operation that failed, e.g., "RewardFor", "RunInTx"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Activity domain errors
var (
	ErrEmptyUserID       = NewDomainError("activity", "Validate", ErrEmptyValue, "user ID is required")
	ErrUserIDTooLong     = NewDomainError("activity", "Validate", ErrValueOutOfRange, "user ID is too long")
	ErrEmptyActivityType = NewDomainError("activity", "Validate", ErrEmptyValue, "activity type is required")
)

// Ledger domain errors
var (
	ErrLevelStateConflict = NewDomainError("ledger", "PutLevelState", ErrStoreConflict, "level state was modified concurrently")
	ErrAchievementExists  = NewDomainError("ledger", "UnlockAchievement", ErrStoreConflict, "achievement already unlocked")
	ErrStoreClosed        = NewDomainError("ledger", "RunInTx", ErrStoreUnavailable, "store is closed")
)

// UnknownActivityType builds the error returned for an activity type with no reward rule.
func UnknownActivityType(op, activityType string) *DomainError {
	return NewDomainError("activity", op, ErrUnknownActivityType, fmt.Sprintf("unknown activity type %q", activityType))
}

// InvalidCatalog builds the error returned when a static definition fails validation.
func InvalidCatalog(domain, id, reason string) *DomainError {
	return NewDomainError(domain, "Validate", ErrInvalidCatalog, fmt.Sprintf("%s: %s", id, reason))
}

// StoreUnavailable wraps a backend failure that ends the call.
func StoreUnavailable(op string, err error) *DomainError {
	return WrapError("ledger", op, ErrStoreUnavailable, "ledger store unavailable", err)
}

// StoreConflict wraps a backend failure that is safe to retry.
func StoreConflict(op string, err error) *DomainError {
	return WrapError("ledger", op, ErrStoreConflict, "concurrent modification", err)
}

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsUnknownActivityType checks if the caller supplied an activity type with no rule.
func IsUnknownActivityType(err error) bool {
	return errors.Is(err, ErrUnknownActivityType)
}

// IsConflict checks if the error is a retryable store conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrStoreConflict)
}

// IsUnavailable checks if the store could not serve the call.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}
