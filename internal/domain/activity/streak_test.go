package activity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func loginOn(day, hour int) Activity {
	return Activity{Type: TypeDailyLogin, CreatedAt: time.Date(2026, 2, day, hour, 0, 0, 0, time.UTC)}
}

func TestFoldStreak(t *testing.T) {
	tests := []struct {
		name        string
		history     []Activity
		wantCurrent int
		wantBest    int
	}{
		{"empty", nil, 0, 0},
		{"single login", []Activity{loginOn(3, 9)}, 1, 1},
		{
			"gap splits runs",
			[]Activity{loginOn(5, 9), loginOn(4, 9), loginOn(3, 9), loginOn(1, 9)},
			3, 3,
		},
		{
			"best run in the past",
			[]Activity{loginOn(10, 9), loginOn(8, 9), loginOn(7, 9), loginOn(6, 9), loginOn(5, 9)},
			1, 4,
		},
		{
			"same day counts once",
			[]Activity{loginOn(2, 23), loginOn(2, 7), loginOn(1, 8)},
			2, 2,
		},
		{
			"input order is irrelevant",
			[]Activity{loginOn(1, 9), loginOn(3, 9), loginOn(5, 9), loginOn(4, 9)},
			3, 3,
		},
		{
			"other types are ignored",
			[]Activity{
				loginOn(3, 9),
				{Type: TypeQuestionCorrect, CreatedAt: time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)},
				loginOn(1, 9),
			},
			1, 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := FoldStreak(tt.history, TypeDailyLogin, time.UTC)
			assert.Equal(t, tt.wantCurrent, s.Current)
			assert.Equal(t, tt.wantBest, s.Best)
		})
	}
}

func TestFoldStreak_Location(t *testing.T) {
	// 23:30 and 00:30 UTC are the same local day at UTC+2.
	history := []Activity{
		{Type: TypeDailyLogin, CreatedAt: time.Date(2026, 2, 2, 0, 30, 0, 0, time.UTC)},
		{Type: TypeDailyLogin, CreatedAt: time.Date(2026, 2, 1, 23, 30, 0, 0, time.UTC)},
	}

	assert.Equal(t, 2, FoldStreak(history, TypeDailyLogin, time.UTC).Current)
	assert.Equal(t, 1, FoldStreak(history, TypeDailyLogin, time.FixedZone("EET", 2*3600)).Current)
}
