package session_test

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/victornm/triviapot/internal/domain"
	"github.com/victornm/triviapot/internal/errors"
	"github.com/victornm/triviapot/internal/roundid"
	"github.com/victornm/triviapot/internal/session"
	"github.com/victornm/triviapot/internal/vault"
)

type memRepository struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	answers  map[string]map[int]domain.Answer
	pools    map[uint64]int64
	closed   map[uint64]bool
}

func newMemRepository() *memRepository {
	return &memRepository{
		sessions: make(map[string]*domain.Session),
		answers:  make(map[string]map[int]domain.Answer),
		pools:    make(map[uint64]int64),
		closed:   make(map[uint64]bool),
	}
}

func (m *memRepository) CreateSession(_ context.Context, ss *domain.Session, fee int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ss.PaymentProof != "" {
		for _, other := range m.sessions {
			if other.PaymentProof == ss.PaymentProof {
				return session.ErrProofUsed
			}
		}
	}

	if ss.Mode == domain.ModeRanked {
		if m.closed[ss.RoundID] {
			return session.ErrRoundClosed
		}
		m.pools[ss.RoundID] += fee
	}

	cp := *ss
	m.sessions[ss.SessionID] = &cp
	return nil
}

func (m *memRepository) GetSession(_ context.Context, id string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ss, ok := m.sessions[id]
	if !ok {
		return nil, errors.New(errors.CodeNotFound)
	}

	cp := *ss
	return &cp, nil
}

func (m *memRepository) FindByProof(_ context.Context, proof string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ss := range m.sessions {
		if ss.PaymentProof == proof {
			cp := *ss
			return &cp, nil
		}
	}

	return nil, nil
}

func (m *memRepository) FindUnfinished(_ context.Context, player string, roundID uint64, gameID string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ss := range m.sessions {
		if ss.PlayerID == player && ss.RoundID == roundID && ss.GameID == gameID && !ss.Completed() {
			cp := *ss
			return &cp, nil
		}
	}

	return nil, nil
}

func (m *memRepository) GetAnswer(_ context.Context, sessionID string, index int) (*domain.Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.answers[sessionID][index]
	if !ok {
		return nil, nil
	}

	return &a, nil
}

func (m *memRepository) RecordAnswer(_ context.Context, a *domain.Answer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ss := m.sessions[a.SessionID]
	if ss.Cursor != a.QuestionIndex || ss.Completed() {
		return session.ErrCursorMoved
	}

	ss.Cursor++
	ss.Score += a.Points
	ss.ElapsedMS += a.ElapsedMS
	if a.Correct {
		ss.CorrectCount++
	}

	a.RunningScore = ss.Score
	a.RunningCorrect = ss.CorrectCount

	if m.answers[a.SessionID] == nil {
		m.answers[a.SessionID] = make(map[int]domain.Answer)
	}
	m.answers[a.SessionID][a.QuestionIndex] = *a
	return nil
}

func (m *memRepository) CompleteSession(_ context.Context, id string, t time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ss := m.sessions[id]
	if ss.Completed() {
		return false, nil
	}

	ss.CompleteTime = &t
	return true, nil
}

// answerIndexes returns the stored answer indexes of a session, sorted.
func (m *memRepository) answerIndexes(sessionID string) []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var idx []int
	for i := range m.answers[sessionID] {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

type questionBank struct {
	questions map[string]domain.Question
	games     map[string]*domain.CustomGame
}

// newQuestionBank holds q0..q19; the correct option of qN is N%4.
func newQuestionBank() *questionBank {
	b := &questionBank{
		questions: make(map[string]domain.Question),
		games:     make(map[string]*domain.CustomGame),
	}

	var ids []string
	for i := range 20 {
		id := fmt.Sprintf("q%d", i)
		ids = append(ids, id)
		b.questions[id] = domain.Question{
			QuestionID:   id,
			Text:         fmt.Sprintf("question %d", i),
			Options:      []string{"a", "b", "c", "d"},
			CorrectIndex: i % 4,
		}
	}

	b.games["g5"] = &domain.CustomGame{GameID: "g5", QuestionIDs: ids[:5]}
	b.games["g15"] = &domain.CustomGame{GameID: "g15", QuestionIDs: ids[:15]}
	b.games["g7"] = &domain.CustomGame{GameID: "g7", QuestionIDs: ids[:7]}

	return b
}

func (b *questionBank) Assign(_ context.Context, n int) ([]string, error) {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("q%d", i)
	}
	return ids, nil
}

func (b *questionBank) Questions(_ context.Context, ids []string) ([]domain.Question, error) {
	qs := make([]domain.Question, 0, len(ids))
	for _, id := range ids {
		qs = append(qs, b.questions[id])
	}
	return qs, nil
}

func (b *questionBank) CustomGame(_ context.Context, id string) (*domain.CustomGame, error) {
	g, ok := b.games[id]
	if !ok {
		return nil, errors.New(errors.CodeNotFound)
	}
	return g, nil
}

type rounds struct {
	mu     sync.Mutex
	now    func() time.Time
	status map[uint64]domain.RoundStatus
}

func (r *rounds) round(id uint64) *domain.Round {
	st, ok := r.status[id]
	if !ok {
		st = domain.RoundOpen
	}
	return &domain.Round{RoundID: id, Key: roundid.FromID(id), Status: st}
}

func (r *rounds) Current(context.Context) (*domain.Round, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.round(roundid.At(r.now()).ID()), nil
}

func (r *rounds) Get(_ context.Context, id uint64) (*domain.Round, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.round(id), nil
}

func (r *rounds) IsCurrent(rd *domain.Round) bool {
	return rd.Status == domain.RoundOpen && rd.RoundID == roundid.At(r.now()).ID()
}

func (r *rounds) set(id uint64, st domain.RoundStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status[id] = st
}

// payments accepts signatures of the form "sig:<wallet>:<round>".
type payments struct{}

func (payments) VerifyEntry(_ context.Context, roundID uint64, wallet, sig string) error {
	if !strings.HasPrefix(sig+":", proof(wallet, roundID)+":") {
		return vault.ErrEntryNotFound
	}
	return nil
}

func proof(wallet string, roundID uint64) string {
	return fmt.Sprintf("sig:%s:%d", wallet, roundID)
}

// nthProof is another valid entry of the same wallet into the round.
func nthProof(wallet string, roundID uint64, n int) string {
	return fmt.Sprintf("%s:%d", proof(wallet, roundID), n)
}

type limiter struct {
	mu      sync.Mutex
	max     int
	entries map[string]map[string]bool
}

func (l *limiter) Check(_ context.Context, player string, roundID uint64) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.entries[fmt.Sprint(player, roundID)])
	if n >= l.max {
		return 0, errors.ErrEntryLimitExceeded
	}
	return l.max - n, nil
}

func (l *limiter) Record(_ context.Context, player string, roundID uint64, entry string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := fmt.Sprint(player, roundID)
	if l.entries[k] == nil {
		l.entries[k] = make(map[string]bool)
	}
	if !l.entries[k][entry] && len(l.entries[k]) >= l.max {
		return 0, errors.ErrEntryLimitExceeded
	}
	l.entries[k][entry] = true
	return l.max - len(l.entries[k]), nil
}

type ranker struct {
	mu       sync.Mutex
	recorded []domain.Session
}

func (r *ranker) Record(_ context.Context, ss domain.Session) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, s := range r.recorded {
		if s.SessionID == ss.SessionID {
			return i + 1, nil
		}
	}
	r.recorded = append(r.recorded, ss)
	return len(r.recorded), nil
}
