// Package score converts graded answers into points.
package score

import (
	"time"

	"github.com/victornm/triviapot/internal/domain"
)

// Tuning parameterises the points formula:
//
//	points = BasePoints + max(0, floor(MaxSpeedBonus * (1 - elapsed/DecayWindow)))
//
// for a correct answer, 0 otherwise.
type Tuning struct {
	Name          string
	BasePoints    int64
	MaxSpeedBonus int64
	DecayWindow   time.Duration
}

var (
	// Ranked is the only tuning whose points feed settlement.
	Ranked = Tuning{
		Name:          "ranked",
		BasePoints:    100,
		MaxSpeedBonus: 900,
		DecayWindow:   7 * time.Second,
	}

	// Practice is used for custom and unranked games.
	Practice = Tuning{
		Name:          "practice",
		BasePoints:    100,
		MaxSpeedBonus: 900,
		DecayWindow:   15 * time.Second,
	}
)

// For returns the tuning used by a session mode.
func For(m domain.Mode) Tuning {
	if m == domain.ModeRanked {
		return Ranked
	}

	return Practice
}

// Max is the number of points awarded for an instant correct answer.
func (t Tuning) Max() int64 {
	return t.BasePoints + t.MaxSpeedBonus
}

// Points scores a single answer. Negative elapsed is treated as zero.
func (t Tuning) Points(correct bool, elapsed time.Duration) int64 {
	if !correct {
		return 0
	}

	if elapsed < 0 {
		elapsed = 0
	}

	if t.DecayWindow <= 0 || elapsed >= t.DecayWindow {
		return t.BasePoints
	}

	// Integer form of floor(bonus * (1 - elapsed/window)); both operands are non-negative.
	bonus := t.MaxSpeedBonus * int64(t.DecayWindow-elapsed) / int64(t.DecayWindow)
	return t.BasePoints + bonus
}

// Answer scores an answer outcome. A time-expired answer is always incorrect and worth nothing.
func (t Tuning) Answer(o Outcome) (correct bool, points int64) {
	if o.TimeExpired {
		return false, 0
	}

	correct = o.Selected == o.CorrectIndex
	return correct, t.Points(correct, o.Elapsed)
}

// Outcome is the graded input for a single question.
type Outcome struct {
	Selected     int
	CorrectIndex int
	TimeExpired  bool
	Elapsed      time.Duration
}
