package query

import (
	"context"

	"github.com/medquest/study-hub/internal/domain/progression"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEVEL QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetLevel returns the user's level state, or the level-1 sentinel for a
// user who has not recorded anything yet.
func (s *Service) GetLevel(ctx context.Context, userID string) (progression.LevelState, error) {
	uid, err := parseUserID(userID)
	if err != nil {
		return progression.LevelState{}, err
	}

	return cached(ctx, s, ModelLevel, uid, func(ctx context.Context) (progression.LevelState, error) {
		st, found, err := s.reader.GetLevelState(ctx, uid)
		if err != nil {
			return progression.LevelState{}, err
		}
		if !found {
			return progression.NewLevelState(uid, s.curve), nil
		}
		return st, nil
	})
}

// LevelView is a level state with its tier name and within-level progress.
type LevelView struct {
	progression.LevelState
	Name     string               `json:"name"`
	Color    string               `json:"color"`
	Progress progression.Progress `json:"progress"`
}

// GetLevelView decorates GetLevel for display.
func (s *Service) GetLevelView(ctx context.Context, userID string) (LevelView, error) {
	st, err := s.GetLevel(ctx, userID)
	if err != nil {
		return LevelView{}, err
	}
	view := LevelView{
		LevelState: st,
		Progress:   s.curve.ProgressFor(st.TotalXP),
	}
	if def, ok := s.curve.Definition(st.CurrentLevel); ok {
		view.Name = def.Name
		view.Color = def.DisplayColor
	}
	return view, nil
}
