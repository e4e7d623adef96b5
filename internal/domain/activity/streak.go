package activity

import (
	"sort"
	"time"

	"github.com/medquest/study-hub/pkg/timeutil"
)

// Streak summarises consecutive calendar days with a qualifying activity.
type Streak struct {
	// Current is the run ending at the most recent qualifying day.
	Current int `json:"current"`
	// Best is the longest run anywhere in the history.
	Best int `json:"best"`
	// LastDay is the most recent qualifying day, zero if there is none.
	LastDay timeutil.Day `json:"-"`
}

// FoldStreak walks activities of type t ordered by timestamp descending and
// tracks day gaps in loc. Input order does not matter. A gap of more than one
// calendar day ends a run; several activities on one day count once.
func FoldStreak(activities []Activity, t Type, loc *time.Location) Streak {
	times := make([]time.Time, 0, len(activities))
	for _, a := range activities {
		if a.Type == t {
			times = append(times, a.CreatedAt)
		}
	}
	if len(times) == 0 {
		return Streak{}
	}
	sort.Slice(times, func(i, j int) bool { return times[i].After(times[j]) })

	var (
		s       Streak
		run     int
		prev    timeutil.Day
		current = true
	)
	for i, ts := range times {
		day := timeutil.DayOf(ts, loc)
		if i == 0 {
			s.LastDay = day
			prev, run = day, 1
			continue
		}

		switch prev.Sub(day) {
		case 0:
			continue
		case 1:
			run++
		default:
			if current {
				s.Current = run
				current = false
			}
			if run > s.Best {
				s.Best = run
			}
			run = 1
		}
		prev = day
	}

	if current {
		s.Current = run
	}
	if run > s.Best {
		s.Best = run
	}
	return s
}
