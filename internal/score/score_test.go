package score_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/victornm/triviapot/internal/domain"
	"github.com/victornm/triviapot/internal/score"
)

func TestTuning_Points(t *testing.T) {
	tests := map[string]struct {
		tuning  score.Tuning
		correct bool
		elapsed time.Duration
		want    int64
	}{
		"ranked instant correct answer earns the maximum": {
			tuning:  score.Ranked,
			correct: true,
			elapsed: 0,
			want:    1000,
		},
		"ranked correct answer at half the decay window": {
			tuning:  score.Ranked,
			correct: true,
			elapsed: 3500 * time.Millisecond,
			want:    550,
		},
		"ranked correct answer at the decay window earns base points": {
			tuning:  score.Ranked,
			correct: true,
			elapsed: 7 * time.Second,
			want:    100,
		},
		"ranked correct answer after the decay window earns base points": {
			tuning:  score.Ranked,
			correct: true,
			elapsed: 30 * time.Second,
			want:    100,
		},
		"bonus is floored": {
			tuning:  score.Ranked,
			correct: true,
			elapsed: 1 * time.Second, // 900 * 6/7 = 771.43
			want:    871,
		},
		"negative elapsed is clamped": {
			tuning:  score.Ranked,
			correct: true,
			elapsed: -time.Second,
			want:    1000,
		},
		"incorrect answer earns nothing": {
			tuning:  score.Ranked,
			correct: false,
			elapsed: 0,
			want:    0,
		},
		"practice decays over a longer window": {
			tuning:  score.Practice,
			correct: true,
			elapsed: 7500 * time.Millisecond,
			want:    550,
		},
		"practice incorrect answer earns nothing": {
			tuning:  score.Practice,
			correct: false,
			elapsed: 3 * time.Second,
			want:    0,
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, tt.tuning.Points(tt.correct, tt.elapsed))
		})
	}
}

func TestTuning_Answer(t *testing.T) {
	correct, points := score.Ranked.Answer(score.Outcome{Selected: 2, CorrectIndex: 2, Elapsed: 3500 * time.Millisecond})
	assert.True(t, correct)
	assert.Equal(t, int64(550), points)

	correct, points = score.Ranked.Answer(score.Outcome{Selected: 1, CorrectIndex: 2})
	assert.False(t, correct)
	assert.Zero(t, points)

	// An expired answer never matches, even when Selected happens to equal the correct index.
	correct, points = score.Ranked.Answer(score.Outcome{Selected: 0, CorrectIndex: 0, TimeExpired: true})
	assert.False(t, correct)
	assert.Zero(t, points)
}

func TestFor(t *testing.T) {
	assert.Equal(t, score.Ranked, score.For(domain.ModeRanked))
	assert.Equal(t, score.Practice, score.For(domain.ModeCustom))
	assert.NotEqual(t, score.Ranked.DecayWindow, score.Practice.DecayWindow)
	assert.Equal(t, int64(1000), score.Ranked.Max())
}
