package activity

import (
	"context"

	"github.com/medquest/study-hub/internal/domain/shared"
)

// DefaultListLimit is used when a Filter carries no limit.
const DefaultListLimit = 50

// MaxListLimit caps a single page of history.
const MaxListLimit = 1000

// Filter narrows a history read. A zero Filter returns the newest
// DefaultListLimit activities of every type.
type Filter struct {
	// Types restricts the result to these types. Empty means all.
	Types []Type
	// Limit caps the number of returned activities. Zero means DefaultListLimit,
	// negative means no cap (used by evaluators that need the full log).
	Limit int
}

// Matches reports whether t passes the type restriction.
func (f Filter) Matches(t Type) bool {
	if len(f.Types) == 0 {
		return true
	}
	for _, want := range f.Types {
		if want == t {
			return true
		}
	}
	return false
}

// EffectiveLimit resolves the zero and over-limit cases. It returns -1 for "no cap".
func (f Filter) EffectiveLimit() int {
	switch {
	case f.Limit < 0:
		return -1
	case f.Limit == 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	default:
		return f.Limit
	}
}

// Log is the read side of the append-only activity log.
// This interface is implemented by the infrastructure layer.
type Log interface {
	// ListActivities returns a user's activities newest first. Re-invoking it
	// re-reads current state.
	ListActivities(ctx context.Context, userID shared.UserID, filter Filter) ([]Activity, error)
}
