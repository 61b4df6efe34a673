package api

import (
	"time"

	"github.com/victornm/triviapot/internal/domain"
	"github.com/victornm/triviapot/internal/round"
	"github.com/victornm/triviapot/internal/session"
)

type (
	Round struct {
		RoundID  uint64 `json:"round_id"`
		Date     string `json:"date"`
		Slot     int    `json:"slot"`
		Pool     int64  `json:"pool"`
		Entrants int    `json:"entrants"`
		Status   string `json:"status"`
	}

	Question struct {
		Index      int      `json:"index"`
		QuestionID string   `json:"question_id"`
		Text       string   `json:"text"`
		Options    []string `json:"options"`
	}

	Session struct {
		SessionID      string     `json:"session_id"`
		PlayerID       string     `json:"player_id"`
		Wallet         string     `json:"wallet,omitempty"`
		Mode           string     `json:"mode"`
		RoundID        uint64     `json:"round_id,omitempty"`
		GameID         string     `json:"game_id,omitempty"`
		State          string     `json:"state"`
		TotalQuestions int        `json:"total_questions"`
		BlockSize      int        `json:"block_size"`
		Cursor         int        `json:"cursor"`
		Score          int64      `json:"score"`
		CorrectCount   int        `json:"correct_count"`
		ElapsedMS      int64      `json:"elapsed_ms"`
		StartTime      time.Time  `json:"start_time"`
		CompleteTime   *time.Time `json:"complete_time,omitempty"`
	}

	Answer struct {
		QuestionIndex  int    `json:"question_index"`
		QuestionID     string `json:"question_id"`
		SelectedOption int    `json:"selected_option"`
		TimeExpired    bool   `json:"time_expired"`
		ElapsedMS      int64  `json:"elapsed_ms"`
		Correct        bool   `json:"correct"`
		CorrectIndex   int    `json:"correct_index"`
		Points         int64  `json:"points"`
		RunningScore   int64  `json:"running_score"`
		RunningCorrect int    `json:"running_correct"`
	}

	Payout struct {
		RoundID    uint64 `json:"round_id"`
		Rank       int    `json:"rank"`
		SessionID  string `json:"session_id"`
		PlayerID   string `json:"player_id"`
		Wallet     string `json:"wallet"`
		Score      int64  `json:"score"`
		ElapsedMS  int64  `json:"elapsed_ms"`
		Amount     int64  `json:"amount"`
		Paid       bool   `json:"paid"`
		PaidAmount int64  `json:"paid_amount,omitempty"`
	}
)

type (
	StartRequest struct {
		Mode         string `json:"mode"`
		Wallet       string `json:"wallet,omitempty"`
		PaymentProof string `json:"payment_proof,omitempty"`
		RoundID      uint64 `json:"round_id,omitempty"`
		GameID       string `json:"game_id,omitempty"`
	}

	StartResponse struct {
		Session Session `json:"session"`
		Resumed bool    `json:"resumed"`
	}

	GetQuestionsRequest struct {
		SessionID string `json:"session_id"`
	}

	GetQuestionsResponse struct {
		SessionID   string     `json:"session_id"`
		Block       int        `json:"block"`
		TotalBlocks int        `json:"total_blocks"`
		Cursor      int        `json:"cursor"`
		Completed   bool       `json:"completed"`
		Score       int64      `json:"score"`
		Correct     int        `json:"correct"`
		ElapsedMS   int64      `json:"elapsed_ms"`
		TimeLimitMS int64      `json:"time_limit_ms"`
		Questions   []Question `json:"questions"`
	}

	SubmitAnswerRequest struct {
		SessionID      string `json:"session_id"`
		QuestionIndex  int    `json:"question_index"`
		SelectedOption int    `json:"selected_option"`
		TimeExpired    bool   `json:"time_expired"`
		ElapsedMS      int64  `json:"elapsed_ms"`
	}

	SubmitAnswerResponse struct {
		Answer          Answer `json:"answer"`
		Duplicate       bool   `json:"duplicate"`
		IsLastInBlock   bool   `json:"is_last_in_block"`
		IsLastInSession bool   `json:"is_last_in_session"`
	}

	CompleteRequest struct {
		SessionID      string `json:"session_id"`
		FinalScore     int64  `json:"final_score"`
		FinalCorrect   int    `json:"final_correct"`
		TotalElapsedMS int64  `json:"total_elapsed_ms"`
	}

	CompleteResponse struct {
		Session Session `json:"session"`
		Rank    *int    `json:"rank"`
	}

	CheckEntryRequest struct{}

	CheckEntryResponse struct {
		Round       Round `json:"round"`
		EntriesLeft int   `json:"entries_left"`
	}

	CurrentRoundRequest struct{}

	CurrentRoundResponse struct {
		Round           Round     `json:"round"`
		WindowStart     time.Time `json:"window_start"`
		WindowEnd       time.Time `json:"window_end"`
		EntryFee        int64     `json:"entry_fee"`
		RoundAccount    string    `json:"round_account"`
		VaultAccount    string    `json:"vault_account"`
		PreviousRoundID uint64    `json:"previous_round_id"`
		NextRoundID     uint64    `json:"next_round_id"`
	}

	GetLeaderboardRequest struct {
		RoundID uint64 `json:"round_id,omitempty" form:"round_id"`
		// Round selects a round by its key, e.g. "2024-03-01#2".
		Round  string `json:"round,omitempty" form:"round"`
		Period string `json:"period,omitempty" form:"period"`
		Limit  int    `json:"limit,omitempty" form:"limit"`
	}

	GetLeaderboardResponse struct {
		Leaderboard Leaderboard `json:"leaderboard"`
	}

	GetRoundPayoutsRequest struct {
		RoundIDs []uint64 `json:"round_ids"`
	}

	GetRoundPayoutsResponse struct {
		Payouts []Payout `json:"payouts"`
	}
)

func toRound(r domain.Round) Round {
	return Round{
		RoundID:  r.RoundID,
		Date:     r.Key.Date.Format(time.DateOnly),
		Slot:     r.Key.Slot,
		Pool:     r.Pool,
		Entrants: r.Entrants,
		Status:   string(r.Status),
	}
}

func toSession(ss domain.Session) Session {
	return Session{
		SessionID:      ss.SessionID,
		PlayerID:       ss.PlayerID,
		Wallet:         ss.Wallet,
		Mode:           string(ss.Mode),
		RoundID:        ss.RoundID,
		GameID:         ss.GameID,
		State:          string(ss.State()),
		TotalQuestions: len(ss.QuestionIDs),
		BlockSize:      ss.BlockSize,
		Cursor:         ss.Cursor,
		Score:          ss.Score,
		CorrectCount:   ss.CorrectCount,
		ElapsedMS:      ss.ElapsedMS,
		StartTime:      ss.StartTime,
		CompleteTime:   ss.CompleteTime,
	}
}

func toAnswer(a domain.Answer) Answer {
	return Answer{
		QuestionIndex:  a.QuestionIndex,
		QuestionID:     a.QuestionID,
		SelectedOption: a.SelectedOption,
		TimeExpired:    a.TimeExpired,
		ElapsedMS:      a.ElapsedMS,
		Correct:        a.Correct,
		CorrectIndex:   a.CorrectIndex,
		Points:         a.Points,
		RunningScore:   a.RunningScore,
		RunningCorrect: a.RunningCorrect,
	}
}

func toPayouts(ps []domain.Payout) []Payout {
	out := make([]Payout, 0, len(ps))
	for _, p := range ps {
		out = append(out, Payout(p))
	}
	return out
}

func toLeaderboard(l domain.Leaderboard) Leaderboard {
	out := Leaderboard{
		RoundID:  l.RoundID,
		Period:   string(l.Period),
		Pool:     l.Pool,
		Entrants: l.Entrants,
		Entries:  make([]LeaderboardEntry, 0, len(l.Entries)),
	}

	for _, e := range l.Entries {
		out.Entries = append(out.Entries, LeaderboardEntry(e))
	}

	return out
}

func toCurrentRound(info *round.Info) *CurrentRoundResponse {
	return &CurrentRoundResponse{
		Round:           toRound(info.Round),
		WindowStart:     info.WindowStart,
		WindowEnd:       info.WindowEnd,
		EntryFee:        info.EntryFee,
		RoundAccount:    info.RoundAccount,
		VaultAccount:    info.VaultAccount,
		PreviousRoundID: info.PreviousRoundID,
		NextRoundID:     info.NextRoundID,
	}
}

func toGetQuestions(r *session.GetQuestionsResponse) *GetQuestionsResponse {
	out := &GetQuestionsResponse{
		SessionID:   r.SessionID,
		Block:       r.Block,
		TotalBlocks: r.TotalBlocks,
		Cursor:      r.Cursor,
		Completed:   r.Completed,
		Score:       r.Score,
		Correct:     r.CorrectCount,
		ElapsedMS:   r.ElapsedMS,
		TimeLimitMS: r.TimeLimit.Milliseconds(),
		Questions:   make([]Question, 0, len(r.Questions)),
	}

	for _, q := range r.Questions {
		out.Questions = append(out.Questions, Question(q))
	}

	return out
}

func fromGetQuestions(r *GetQuestionsResponse) *session.GetQuestionsResponse {
	out := &session.GetQuestionsResponse{
		SessionID:    r.SessionID,
		Block:        r.Block,
		TotalBlocks:  r.TotalBlocks,
		Cursor:       r.Cursor,
		Completed:    r.Completed,
		Score:        r.Score,
		CorrectCount: r.Correct,
		ElapsedMS:    r.ElapsedMS,
		TimeLimit:    time.Duration(r.TimeLimitMS) * time.Millisecond,
		Questions:    make([]domain.PublicQuestion, 0, len(r.Questions)),
	}

	for _, q := range r.Questions {
		out.Questions = append(out.Questions, domain.PublicQuestion(q))
	}

	return out
}

func fromAnswer(a Answer) domain.Answer {
	return domain.Answer{
		QuestionIndex:  a.QuestionIndex,
		QuestionID:     a.QuestionID,
		SelectedOption: a.SelectedOption,
		TimeExpired:    a.TimeExpired,
		ElapsedMS:      a.ElapsedMS,
		Correct:        a.Correct,
		CorrectIndex:   a.CorrectIndex,
		Points:         a.Points,
		RunningScore:   a.RunningScore,
		RunningCorrect: a.RunningCorrect,
	}
}

func fromSession(s Session) domain.Session {
	return domain.Session{
		SessionID:    s.SessionID,
		PlayerID:     s.PlayerID,
		Wallet:       s.Wallet,
		Mode:         domain.Mode(s.Mode),
		RoundID:      s.RoundID,
		GameID:       s.GameID,
		QuestionIDs:  make([]string, s.TotalQuestions),
		BlockSize:    s.BlockSize,
		Cursor:       s.Cursor,
		Score:        s.Score,
		CorrectCount: s.CorrectCount,
		ElapsedMS:    s.ElapsedMS,
		StartTime:    s.StartTime,
		CompleteTime: s.CompleteTime,
	}
}
