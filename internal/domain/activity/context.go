package activity

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/medquest/study-hub/internal/domain/shared"
)

// Well-known context keys sent by the study flow.
const (
	ContextDifficulty     = "difficulty"
	ContextSubject        = "subject"
	ContextTimeSpent      = "timeSpent"
	ContextStreakLength   = "streakLength"
	ContextScore          = "score"
	ContextTotalQuestions = "totalQuestions"

	// ContextAchievementID is set on achievement_unlocked bookkeeping entries.
	ContextAchievementID = "achievementId"
)

// Difficulty values understood by the default reward table.
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

const (
	maxContextKeys   = 32
	maxContextKeyLen = 64
	maxContextStrLen = 512
)

// Context is the open key-value bag attached to an activity. Values are
// scalars: strings, booleans, numbers or nil.
type Context map[string]any

// Clone returns a shallow copy. Values are scalars so the copy is independent.
func (c Context) Clone() Context {
	if c == nil {
		return nil
	}
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Validate checks the bag is small and holds only scalar values.
func (c Context) Validate() error {
	if len(c) > maxContextKeys {
		return shared.NewDomainError("activity", "ValidateContext", shared.ErrValueOutOfRange,
			fmt.Sprintf("context has more than %d keys", maxContextKeys))
	}
	for k, v := range c {
		if k == "" || len(k) > maxContextKeyLen {
			return shared.NewDomainError("activity", "ValidateContext", shared.ErrInvalidInput,
				fmt.Sprintf("invalid context key %q", k))
		}
		switch val := v.(type) {
		case nil, bool, int, int32, int64, float32, float64, json.Number:
		case string:
			if len(val) > maxContextStrLen {
				return shared.NewDomainError("activity", "ValidateContext", shared.ErrValueOutOfRange,
					fmt.Sprintf("context value for %q is too long", k))
			}
		default:
			return shared.NewDomainError("activity", "ValidateContext", shared.ErrInvalidInput,
				fmt.Sprintf("context value for %q must be a scalar, got %T", k, v))
		}
	}
	return nil
}

// Has reports whether key is present with a non-nil value.
func (c Context) Has(key string) bool {
	v, ok := c[key]
	return ok && v != nil
}

// Text returns the value at key rendered as a string.
func (c Context) Text(key string) (string, bool) {
	v, ok := c[key]
	if !ok || v == nil {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return val, true
	case json.Number:
		return val.String(), true
	case bool:
		return strconv.FormatBool(val), true
	default:
		if n, ok := toFloat(val); ok {
			return strconv.FormatFloat(n, 'f', -1, 64), true
		}
		return fmt.Sprint(val), true
	}
}

// Normalized returns the string value at key trimmed and lower-cased.
func (c Context) Normalized(key string) (string, bool) {
	s, ok := c.Text(key)
	if !ok {
		return "", false
	}
	return strings.ToLower(strings.TrimSpace(s)), true
}

// Number returns the numeric value at key. Numeric strings are accepted.
func (c Context) Number(key string) (float64, bool) {
	v, ok := c[key]
	if !ok || v == nil {
		return 0, false
	}
	if s, isStr := v.(string); isStr {
		n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return n, err == nil
	}
	return toFloat(v)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
