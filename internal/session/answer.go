package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/victornm/triviapot/internal/domain"
	"github.com/victornm/triviapot/internal/errors"
	"github.com/victornm/triviapot/internal/score"
	"github.com/victornm/triviapot/internal/telemetry"
)

type GetQuestionsRequest struct {
	SessionID string
	PlayerID  string
}

// GetQuestionsResponse describes the block containing the cursor. Score, CorrectCount and ElapsedMS
// are the running totals of the answers recorded so far; TimeLimit is the deadline of every question.
type GetQuestionsResponse struct {
	SessionID    string
	Block        int
	TotalBlocks  int
	Cursor       int
	Completed    bool
	Score        int64
	CorrectCount int
	ElapsedMS    int64
	TimeLimit    time.Duration
	Questions    []domain.PublicQuestion
}

// GetQuestions returns the block containing the cursor. Correct answers are never included.
func (s *Service) GetQuestions(ctx context.Context, req GetQuestionsRequest) (*GetQuestionsResponse, error) {
	ss, err := s.load(ctx, req.SessionID, req.PlayerID)
	if err != nil {
		return nil, err
	}

	block := ss.BlockOf(ss.Cursor)
	from, to := ss.BlockRange(block)

	qs, err := s.questions.Questions(ctx, ss.QuestionIDs[from:to])
	if err != nil {
		return nil, err
	}

	resp := &GetQuestionsResponse{
		SessionID:    ss.SessionID,
		Block:        block,
		TotalBlocks:  ss.TotalBlocks(),
		Cursor:       ss.Cursor,
		Completed:    ss.Completed(),
		Score:        ss.Score,
		CorrectCount: ss.CorrectCount,
		ElapsedMS:    ss.ElapsedMS,
		TimeLimit:    score.For(ss.Mode).DecayWindow,
		Questions:    make([]domain.PublicQuestion, 0, len(qs)),
	}

	for i, q := range qs {
		resp.Questions = append(resp.Questions, q.Public(from+i))
	}

	return resp, nil
}

type SubmitAnswerRequest struct {
	SessionID      string
	PlayerID       string
	QuestionIndex  int
	SelectedOption int
	TimeExpired    bool
	ElapsedMS      int64
}

type SubmitAnswerResponse struct {
	Answer domain.Answer
	// Duplicate is set when the answer had already been recorded; Answer is the stored result.
	Duplicate       bool
	IsLastInBlock   bool
	IsLastInSession bool
}

// SubmitAnswer grades the answer to the question at the cursor and advances the cursor.
// Answers are accepted strictly in order. A retry of an accepted answer returns the stored result.
func (s *Service) SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) (*SubmitAnswerResponse, error) {
	ss, err := s.load(ctx, req.SessionID, req.PlayerID)
	if err != nil {
		return nil, err
	}

	if req.QuestionIndex < 0 || req.QuestionIndex >= len(ss.QuestionIDs) {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("question index out of range: got=%d size=%d", req.QuestionIndex, len(ss.QuestionIDs)),
		)
	}

	if req.QuestionIndex < ss.Cursor {
		return s.storedAnswer(ctx, ss, req.QuestionIndex)
	}

	if ss.Completed() {
		return nil, sessionCompleted(ss.SessionID)
	}

	if req.QuestionIndex != ss.Cursor {
		return nil, indexMismatch(req.QuestionIndex, ss.Cursor)
	}

	qs, err := s.questions.Questions(ctx, ss.QuestionIDs[req.QuestionIndex:req.QuestionIndex+1])
	if err != nil {
		return nil, err
	}
	q := qs[0]

	if !req.TimeExpired && (req.SelectedOption < 0 || req.SelectedOption >= len(q.Options)) {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("option out of range: got=%d options=%d", req.SelectedOption, len(q.Options)),
		)
	}

	tuning := score.For(ss.Mode)
	elapsed := clampElapsed(req.ElapsedMS, tuning.DecayWindow)
	selected := req.SelectedOption
	if req.TimeExpired {
		elapsed = tuning.DecayWindow
		selected = -1
	}

	correct, points := tuning.Answer(score.Outcome{
		Selected:     selected,
		CorrectIndex: q.CorrectIndex,
		TimeExpired:  req.TimeExpired,
		Elapsed:      elapsed,
	})

	a := &domain.Answer{
		SessionID:      ss.SessionID,
		QuestionIndex:  req.QuestionIndex,
		QuestionID:     q.QuestionID,
		SelectedOption: selected,
		TimeExpired:    req.TimeExpired,
		ElapsedMS:      elapsed.Milliseconds(),
		Correct:        correct,
		CorrectIndex:   q.CorrectIndex,
		Points:         points,
		SubmitTime:     s.now().UTC(),
	}

	if err := s.repo.RecordAnswer(ctx, a); err != nil {
		if stderrors.Is(err, ErrCursorMoved) {
			return s.afterLostRace(ctx, ss.SessionID, req.QuestionIndex)
		}
		return nil, fmt.Errorf("session: record answer: %w", err)
	}

	outcome := "incorrect"
	switch {
	case a.TimeExpired:
		outcome = "expired"
	case a.Correct:
		outcome = "correct"
	}
	telemetry.AnswersSubmitted.WithLabelValues(string(ss.Mode), outcome).Inc()
	telemetry.AnswerPoints.WithLabelValues(string(ss.Mode)).Observe(float64(a.Points))

	ss.Cursor++
	ss.Score = a.RunningScore
	ss.CorrectCount = a.RunningCorrect
	s.eb.Publish(ctx, domain.EventAnswerSubmitted{
		Session: *ss,
		Answer:  *a,
	})

	return s.answerResponse(ss, a, false), nil
}

// afterLostRace resolves a submission whose conditional cursor update lost against a concurrent one.
func (s *Service) afterLostRace(ctx context.Context, sessionID string, index int) (*SubmitAnswerResponse, error) {
	ss, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if index < ss.Cursor {
		return s.storedAnswer(ctx, ss, index)
	}

	if ss.Completed() {
		return nil, sessionCompleted(sessionID)
	}

	return nil, indexMismatch(index, ss.Cursor)
}

func (s *Service) storedAnswer(ctx context.Context, ss *domain.Session, index int) (*SubmitAnswerResponse, error) {
	a, err := s.repo.GetAnswer(ctx, ss.SessionID, index)
	if err != nil {
		return nil, fmt.Errorf("session: get answer: %w", err)
	}
	if a == nil {
		return nil, errors.Internal(fmt.Errorf("session %s: no answer stored below cursor at index %d", ss.SessionID, index))
	}

	telemetry.AnswersSubmitted.WithLabelValues(string(ss.Mode), "duplicate").Inc()
	return s.answerResponse(ss, a, true), nil
}

func (s *Service) answerResponse(ss *domain.Session, a *domain.Answer, duplicate bool) *SubmitAnswerResponse {
	return &SubmitAnswerResponse{
		Answer:          *a,
		Duplicate:       duplicate,
		IsLastInBlock:   ss.IsLastInBlock(a.QuestionIndex),
		IsLastInSession: a.QuestionIndex == len(ss.QuestionIDs)-1,
	}
}

func clampElapsed(ms int64, window time.Duration) time.Duration {
	d := time.Duration(ms) * time.Millisecond
	return min(max(d, 0), window)
}

func indexMismatch(got, expected int) error {
	telemetry.IndexMismatches.Inc()

	return errors.New(errors.CodeFailedPrecondition,
		errors.WithReason(errors.ReasonQuestionIndexMismatch),
		errors.WithMessagef("question index mismatch: got=%d expected=%d", got, expected),
		errors.WithMetadata("expected_index", strconv.Itoa(expected)),
	)
}

func sessionCompleted(sessionID string) error {
	return errors.New(errors.CodeFailedPrecondition,
		errors.WithReason(errors.ReasonSessionCompleted),
		errors.WithMessagef("session %s is completed", sessionID),
	)
}

type CompleteRequest struct {
	SessionID string
	PlayerID  string
	// Client-side totals, only compared against the server's.
	FinalScore     int64
	FinalCorrect   int
	TotalElapsedMS int64
}

type CompleteResponse struct {
	Session domain.Session
	// Rank is the provisional leaderboard rank, nil when the session is unranked or its round is settled.
	Rank *int
}

// Complete marks the session completed. The result is computed from stored answers only.
// A session may be finalized early; unanswered questions then count for nothing and no further
// answers are accepted. Completing twice returns the same result.
func (s *Service) Complete(ctx context.Context, req CompleteRequest) (*CompleteResponse, error) {
	ss, err := s.load(ctx, req.SessionID, req.PlayerID)
	if err != nil {
		return nil, err
	}

	if !ss.Completed() {
		if !ss.Exhausted() {
			slog.InfoContext(ctx, "session: finalized early",
				"session_id", ss.SessionID,
				"answered", ss.Cursor,
				"total", len(ss.QuestionIDs),
			)
		}

		now := s.now().UTC()
		ok, err := s.repo.CompleteSession(ctx, ss.SessionID, now)
		if err != nil {
			return nil, fmt.Errorf("session: complete: %w", err)
		}

		if ok {
			ss.CompleteTime = &now
			telemetry.SessionsCompleted.WithLabelValues(string(ss.Mode)).Inc()
			s.eb.Publish(ctx, domain.EventSessionCompleted{Session: *ss})
		} else if ss, err = s.repo.GetSession(ctx, ss.SessionID); err != nil {
			return nil, err
		}
	}

	if req.FinalScore != ss.Score || req.FinalCorrect != ss.CorrectCount || req.TotalElapsedMS != ss.ElapsedMS {
		slog.WarnContext(ctx, "session: client totals disagree with server",
			"session_id", ss.SessionID,
			"client_score", req.FinalScore,
			"server_score", ss.Score,
			"client_correct", req.FinalCorrect,
			"server_correct", ss.CorrectCount,
			"client_elapsed_ms", req.TotalElapsedMS,
			"server_elapsed_ms", ss.ElapsedMS,
		)
	}

	rank, err := s.rank(ctx, ss)
	if err != nil {
		return nil, err
	}

	return &CompleteResponse{Session: *ss, Rank: rank}, nil
}

func (s *Service) rank(ctx context.Context, ss *domain.Session) (*int, error) {
	if ss.Mode != domain.ModeRanked || s.ranker == nil {
		return nil, nil
	}

	r, err := s.rounds.Get(ctx, ss.RoundID)
	if err != nil {
		return nil, err
	}

	if r.Status.Settled() {
		return nil, nil
	}

	rank, err := s.ranker.Record(ctx, *ss)
	if err != nil {
		// Completion stands without a rank.
		slog.ErrorContext(ctx, "session: record leaderboard failed", "session_id", ss.SessionID, "error", err)
		return nil, nil
	}

	return &rank, nil
}
