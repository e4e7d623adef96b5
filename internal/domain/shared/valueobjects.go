package shared

import (
	"strings"
	"unicode/utf8"
)

// ═══════════════════════════════════════════════════════════════════════════
// UserID Value Object
// ═══════════════════════════════════════════════════════════════════════════

// MaxUserIDLength bounds caller-supplied identifiers.
const MaxUserIDLength = 128

// UserID identifies the learner whose ledger is being updated. The ID is
// issued by the surrounding platform; this core only requires it be stable.
type UserID string

// String returns the string representation.
func (u UserID) String() string {
	return string(u)
}

// IsEmpty checks if the ID is empty.
func (u UserID) IsEmpty() bool {
	return u == ""
}

// Validate checks the ID is non-empty and within bounds.
func (u UserID) Validate() error {
	if strings.TrimSpace(string(u)) == "" {
		return ErrEmptyUserID
	}
	if utf8.RuneCountInString(string(u)) > MaxUserIDLength {
		return ErrUserIDTooLong
	}
	return nil
}

// NewUserID trims and validates a raw identifier.
func NewUserID(raw string) (UserID, error) {
	id := UserID(strings.TrimSpace(raw))
	if err := id.Validate(); err != nil {
		return "", err
	}
	return id, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// XP Value Object (Experience Points)
// ═══════════════════════════════════════════════════════════════════════════

// XP represents experience points. Ledger totals never decrease.
type XP int64

// Int64 returns the underlying value.
func (x XP) Int64() int64 {
	return int64(x)
}

// Add returns x + amount, ignoring negative amounts.
func (x XP) Add(amount XP) XP {
	if amount < 0 {
		return x
	}
	return x + amount
}

// ClampNonNegative returns 0 for negative values.
func (x XP) ClampNonNegative() XP {
	if x < 0 {
		return 0
	}
	return x
}
