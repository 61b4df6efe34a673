package domain

import (
	"time"

	"github.com/victornm/triviapot/internal/roundid"
)

const (
	// RankedQuestions is the size of every ranked question set.
	RankedQuestions = 10
	// CustomBlockSize is the number of questions per round block in custom games.
	CustomBlockSize = 5
	// Winners is the number of paid ranks per round.
	Winners = 5
)

// Mode distinguishes ranked play, which feeds settlement, from custom games.
type Mode string

const (
	ModeRanked Mode = "ranked"
	ModeCustom Mode = "custom"
)

func (m Mode) Valid() bool {
	return m == ModeRanked || m == ModeCustom
}

// RoundStatus moves forward only: open -> closed -> finalized, or open/closed -> refund.
type RoundStatus string

const (
	RoundOpen      RoundStatus = "open"
	RoundClosed    RoundStatus = "closed"
	RoundFinalized RoundStatus = "finalized"
	RoundRefund    RoundStatus = "refund"
)

var roundTransitions = map[RoundStatus][]RoundStatus{
	RoundOpen:   {RoundClosed, RoundRefund},
	RoundClosed: {RoundFinalized, RoundRefund},
}

// CanTransition reports whether s may move to next.
func (s RoundStatus) CanTransition(next RoundStatus) bool {
	for _, to := range roundTransitions[s] {
		if to == next {
			return true
		}
	}

	return false
}

// Settled reports whether the round has reached a terminal status.
func (s RoundStatus) Settled() bool {
	return s == RoundFinalized || s == RoundRefund
}

// Round is a 6-hour competitive window with its own pool.
type Round struct {
	RoundID  uint64
	Key      roundid.Key
	Pool     int64
	Entrants int
	Status   RoundStatus
}

// Question is a multiple-choice question. CorrectIndex must never leave the server before grading.
type Question struct {
	QuestionID   string
	Text         string
	Options      []string
	CorrectIndex int
	Category     string
}

// Public strips the correct index.
func (q Question) Public(index int) PublicQuestion {
	return PublicQuestion{
		Index:      index,
		QuestionID: q.QuestionID,
		Text:       q.Text,
		Options:    q.Options,
	}
}

// PublicQuestion is a question as delivered to a player.
type PublicQuestion struct {
	Index      int
	QuestionID string
	Text       string
	Options    []string
}

// CustomGame is a user-authored question set played unranked.
type CustomGame struct {
	GameID      string
	Author      string
	Title       string
	QuestionIDs []string
}

// SessionState is derived from a session's cursor and completion time.
type SessionState string

const (
	SessionCreated   SessionState = "created"
	SessionActive    SessionState = "active"
	SessionCompleted SessionState = "completed"
)

// Session is one player's attempt at a round or custom game.
type Session struct {
	SessionID    string
	PlayerID     string
	Wallet       string
	Mode         Mode
	RoundID      uint64 // zero for custom games
	GameID       string // empty for ranked sessions
	QuestionIDs  []string
	BlockSize    int
	Cursor       int
	Score        int64
	CorrectCount int
	ElapsedMS    int64
	PaymentProof string
	StartTime    time.Time
	CompleteTime *time.Time
}

func (s *Session) State() SessionState {
	switch {
	case s.CompleteTime != nil:
		return SessionCompleted
	case s.Cursor == 0:
		return SessionCreated
	default:
		return SessionActive
	}
}

func (s *Session) Completed() bool {
	return s.CompleteTime != nil
}

// Exhausted reports whether every question has been answered.
func (s *Session) Exhausted() bool {
	return s.Cursor >= len(s.QuestionIDs)
}

func (s *Session) blockSize() int {
	if s.BlockSize <= 0 {
		return len(s.QuestionIDs)
	}

	return s.BlockSize
}

// TotalBlocks is the number of round blocks in the session.
func (s *Session) TotalBlocks() int {
	n, b := len(s.QuestionIDs), s.blockSize()
	if b == 0 {
		return 0
	}

	return (n + b - 1) / b
}

// BlockOf returns the round block containing the question index.
func (s *Session) BlockOf(index int) int {
	b := s.blockSize()
	if b == 0 {
		return 0
	}

	if last := s.TotalBlocks() - 1; index/b > last {
		return last
	}

	return index / b
}

// BlockRange returns the [from, to) question indexes of a block.
func (s *Session) BlockRange(block int) (from, to int) {
	b := s.blockSize()
	from = block * b
	to = min(from+b, len(s.QuestionIDs))
	return from, to
}

// IsLastInBlock reports whether index is the final question of its block.
func (s *Session) IsLastInBlock(index int) bool {
	_, to := s.BlockRange(s.BlockOf(index))
	return index == to-1
}

// Answer is the stored, graded result for a (session, question index).
type Answer struct {
	SessionID      string
	QuestionIndex  int
	QuestionID     string
	SelectedOption int // -1 when time expired
	TimeExpired    bool
	ElapsedMS      int64
	Correct        bool
	CorrectIndex   int
	Points         int64
	RunningScore   int64
	RunningCorrect int
	SubmitTime     time.Time
}

// Payout is a ranked winner of a finalized round.
type Payout struct {
	RoundID    uint64
	Rank       int
	SessionID  string
	PlayerID   string
	Wallet     string
	Score      int64
	ElapsedMS  int64
	Amount     int64
	Paid       bool
	PaidAmount int64
}

// Period selects the time span aggregated by a leaderboard.
type Period string

const (
	PeriodRound Period = "round"
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodAll   Period = "all"
)

func (p Period) Valid() bool {
	switch p {
	case PeriodRound, PeriodDay, PeriodWeek, PeriodAll:
		return true
	}

	return false
}

// Leaderboard is sorted by score descending, then elapsed time ascending.
type Leaderboard struct {
	RoundID  uint64
	Period   Period
	Pool     int64
	Entrants int
	Entries  []LeaderboardEntry
}

type LeaderboardEntry struct {
	Rank      int
	SessionID string
	PlayerID  string
	Wallet    string
	Score     int64
	ElapsedMS int64
}
