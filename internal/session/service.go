// Package session runs the server-authoritative state machine of a player's attempt:
// start (or resume), fetch the current block of questions, submit answers in order, complete.
package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/victornm/triviapot/internal/domain"
	"github.com/victornm/triviapot/internal/errors"
	"github.com/victornm/triviapot/internal/event"
	"github.com/victornm/triviapot/internal/telemetry"
	"github.com/victornm/triviapot/internal/vault"
)

var (
	// ErrCursorMoved is returned by Repository.RecordAnswer when the cursor is no longer at the answered index.
	ErrCursorMoved = stderrors.New("session: cursor moved")
	// ErrProofUsed is returned by Repository.CreateSession when the payment proof is bound to another session.
	ErrProofUsed = stderrors.New("session: payment proof already used")
	// ErrRoundClosed is returned by Repository.CreateSession when the round stopped accepting entries.
	ErrRoundClosed = stderrors.New("session: round closed")
)

type Repository interface {
	// CreateSession persists ss. A ranked session adds fee to its round pool and entrant count in the same transaction.
	CreateSession(ctx context.Context, ss *domain.Session, fee int64) error
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	// FindByProof returns the session bound to a payment proof, nil when none.
	FindByProof(ctx context.Context, proof string) (*domain.Session, error)
	// FindUnfinished returns the player's latest uncompleted session of a round or custom game, nil when none.
	FindUnfinished(ctx context.Context, playerID string, roundID uint64, gameID string) (*domain.Session, error)
	// GetAnswer returns the stored answer, nil when none.
	GetAnswer(ctx context.Context, sessionID string, index int) (*domain.Answer, error)
	// RecordAnswer stores a and advances the session cursor from a.QuestionIndex, filling the running totals of a.
	RecordAnswer(ctx context.Context, a *domain.Answer) error
	// CompleteSession sets the completion time of an uncompleted session. It reports whether it did.
	CompleteSession(ctx context.Context, sessionID string, t time.Time) (bool, error)
}

type QuestionSource interface {
	Assign(ctx context.Context, n int) ([]string, error)
	Questions(ctx context.Context, ids []string) ([]domain.Question, error)
	CustomGame(ctx context.Context, gameID string) (*domain.CustomGame, error)
}

type RoundSource interface {
	Current(ctx context.Context) (*domain.Round, error)
	Get(ctx context.Context, roundID uint64) (*domain.Round, error)
	IsCurrent(r *domain.Round) bool
}

// PaymentVerifier checks an entry signature against the vault.
type PaymentVerifier interface {
	VerifyEntry(ctx context.Context, roundID uint64, wallet, signature string) error
}

type EntryLimiter interface {
	Check(ctx context.Context, playerID string, roundID uint64) (int, error)
	Record(ctx context.Context, playerID string, roundID uint64, entryID string) (int, error)
}

// Ranker records a completed ranked session on the live leaderboard and returns its provisional rank.
type Ranker interface {
	Record(ctx context.Context, ss domain.Session) (int, error)
}

type Config struct {
	Repository Repository
	Questions  QuestionSource
	Rounds     RoundSource
	Payments   PaymentVerifier
	Limiter    EntryLimiter
	Ranker     Ranker
	EventBus   *event.Bus
	EntryFee   int64
	Now        func() time.Time
}

type Service struct {
	repo      Repository
	questions QuestionSource
	rounds    RoundSource
	payments  PaymentVerifier
	limiter   EntryLimiter
	ranker    Ranker
	eb        *event.Bus
	fee       int64
	now       func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		repo:      c.Repository,
		questions: c.Questions,
		rounds:    c.Rounds,
		payments:  c.Payments,
		limiter:   c.Limiter,
		ranker:    c.Ranker,
		eb:        c.EventBus,
		fee:       c.EntryFee,
		now:       c.Now,
	}

	if s.now == nil {
		s.now = time.Now
	}

	return s
}

// StartRequest starts or resumes a session.
type StartRequest struct {
	PlayerID string
	Wallet   string
	Mode     domain.Mode
	// PaymentProof is the enter_round signature. Required for a new ranked session.
	PaymentProof string
	// RoundID optionally names the round the player paid for. It must be the current round.
	RoundID uint64
	// GameID names the custom game. Custom mode only.
	GameID string
}

type StartResponse struct {
	Session domain.Session
	Resumed bool
}

// Start creates a session, or resumes the player's existing one without consuming a new payment.
func (s *Service) Start(ctx context.Context, req StartRequest) (*StartResponse, error) {
	if req.PlayerID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("player is required"))
	}

	var (
		resp *StartResponse
		err  error
	)

	switch req.Mode {
	case domain.ModeRanked:
		resp, err = s.startRanked(ctx, req)
	case domain.ModeCustom:
		resp, err = s.startCustom(ctx, req)
	default:
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("unknown mode: %q", req.Mode))
	}
	if err != nil {
		return nil, err
	}

	telemetry.SessionsStarted.WithLabelValues(string(resp.Session.Mode), strconv.FormatBool(resp.Resumed)).Inc()
	s.eb.Publish(ctx, domain.EventSessionStarted{
		Session: resp.Session,
		Resumed: resp.Resumed,
	})

	return resp, nil
}

func (s *Service) startRanked(ctx context.Context, req StartRequest) (*StartResponse, error) {
	if req.PaymentProof != "" {
		resp, err := s.resumeByProof(ctx, req)
		if err != nil || resp != nil {
			return resp, err
		}
	}

	r, err := s.openRound(ctx, req.RoundID)
	if err != nil {
		return nil, err
	}

	// Without a proof the player can only pick up where they left off. A fresh proof always pays
	// for a new session so that every verified entry is counted in the pool.
	if req.PaymentProof == "" {
		ss, err := s.repo.FindUnfinished(ctx, req.PlayerID, r.RoundID, "")
		if err != nil {
			return nil, fmt.Errorf("session: find unfinished: %w", err)
		}
		if ss != nil {
			return &StartResponse{Session: *ss, Resumed: true}, nil
		}

		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonPaymentRequired),
			errors.WithMessagef("payment required: enter round %d first", r.RoundID),
		)
	}

	if req.Wallet == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("wallet is required for ranked play"))
	}

	if err := s.verifyPayment(ctx, r.RoundID, req.Wallet, req.PaymentProof); err != nil {
		return nil, err
	}

	if _, err := s.limiter.Record(ctx, req.PlayerID, r.RoundID, req.PaymentProof); err != nil {
		return nil, err
	}

	ids, err := s.questions.Assign(ctx, domain.RankedQuestions)
	if err != nil {
		return nil, err
	}

	ss := &domain.Session{
		PlayerID:     req.PlayerID,
		Wallet:       req.Wallet,
		Mode:         domain.ModeRanked,
		RoundID:      r.RoundID,
		QuestionIDs:  ids,
		BlockSize:    domain.RankedQuestions,
		PaymentProof: req.PaymentProof,
	}

	err = s.create(ctx, ss, s.fee)
	switch {
	case stderrors.Is(err, ErrProofUsed):
		// Lost a race against a concurrent start with the same proof.
		resp, err := s.resumeByProof(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp == nil {
			return nil, fmt.Errorf("session: proof used but not found")
		}
		return resp, nil
	case stderrors.Is(err, ErrRoundClosed):
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonRoundNotOpen),
			errors.WithMessagef("round %d is not open", r.RoundID),
		)
	case err != nil:
		return nil, err
	}

	return &StartResponse{Session: *ss}, nil
}

func (s *Service) resumeByProof(ctx context.Context, req StartRequest) (*StartResponse, error) {
	ss, err := s.repo.FindByProof(ctx, req.PaymentProof)
	if err != nil {
		return nil, fmt.Errorf("session: find by proof: %w", err)
	}

	if ss == nil {
		return nil, nil
	}

	if ss.PlayerID != req.PlayerID {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonPaymentInvalid),
			errors.WithMessagef("payment proof already used"),
		)
	}

	return &StartResponse{Session: *ss, Resumed: true}, nil
}

// openRound returns the current round when it accepts entries and matches roundID (if set).
func (s *Service) openRound(ctx context.Context, roundID uint64) (*domain.Round, error) {
	r, err := s.rounds.Current(ctx)
	if err != nil {
		return nil, err
	}

	if (roundID != 0 && roundID != r.RoundID) || !s.rounds.IsCurrent(r) {
		id := roundID
		if id == 0 {
			id = r.RoundID
		}

		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonRoundNotOpen),
			errors.WithMessagef("round %d is not open", id),
			errors.WithMetadata("current_round_id", strconv.FormatUint(r.RoundID, 10)),
		)
	}

	return r, nil
}

func (s *Service) verifyPayment(ctx context.Context, roundID uint64, wallet, proof string) error {
	err := s.payments.VerifyEntry(ctx, roundID, wallet, proof)
	if err == nil {
		return nil
	}

	var pe *vault.ProgramError
	if stderrors.As(err, &pe) {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonPaymentInvalid),
			errors.WithMessagef("payment proof rejected: %s", pe.Msg),
			errors.WithCause(err),
		)
	}

	slog.ErrorContext(ctx, "session: verify payment failed", "round_id", roundID, "error", err)
	return errors.New(errors.CodeUnavailable, errors.WithMessagef("payment verification unavailable"), errors.WithCause(err))
}

func (s *Service) startCustom(ctx context.Context, req StartRequest) (*StartResponse, error) {
	if req.GameID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("game is required for custom play"))
	}

	g, err := s.questions.CustomGame(ctx, req.GameID)
	if err != nil {
		return nil, err
	}

	if n := len(g.QuestionIDs); n == 0 || n > 3*domain.CustomBlockSize || n%domain.CustomBlockSize != 0 {
		return nil, errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("custom game %s has %d questions", g.GameID, n))
	}

	ss, err := s.repo.FindUnfinished(ctx, req.PlayerID, 0, g.GameID)
	if err != nil {
		return nil, fmt.Errorf("session: find unfinished: %w", err)
	}
	if ss != nil {
		return &StartResponse{Session: *ss, Resumed: true}, nil
	}

	ss = &domain.Session{
		PlayerID:    req.PlayerID,
		Wallet:      req.Wallet,
		Mode:        domain.ModeCustom,
		GameID:      g.GameID,
		QuestionIDs: g.QuestionIDs,
		BlockSize:   domain.CustomBlockSize,
	}

	if err := s.create(ctx, ss, 0); err != nil {
		return nil, err
	}

	return &StartResponse{Session: *ss}, nil
}

func (s *Service) create(ctx context.Context, ss *domain.Session, fee int64) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("session: generate session ID: %w", err)
	}

	ss.SessionID = id.String()
	ss.StartTime = s.now().UTC()

	if err := s.repo.CreateSession(ctx, ss, fee); err != nil {
		return fmt.Errorf("session: create: %w", err)
	}

	return nil
}

type CheckEntryRequest struct {
	PlayerID string
}

type CheckEntryResponse struct {
	Round       domain.Round
	EntriesLeft int
}

// CheckEntry tells a player, before paying, whether a ranked entry into the current round would be accepted.
func (s *Service) CheckEntry(ctx context.Context, req CheckEntryRequest) (*CheckEntryResponse, error) {
	r, err := s.openRound(ctx, 0)
	if err != nil {
		return nil, err
	}

	left, err := s.limiter.Check(ctx, req.PlayerID, r.RoundID)
	if err != nil {
		return nil, err
	}

	return &CheckEntryResponse{Round: *r, EntriesLeft: left}, nil
}

func (s *Service) load(ctx context.Context, sessionID, playerID string) (*domain.Session, error) {
	if sessionID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("session is required"))
	}

	ss, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if ss.PlayerID != playerID {
		return nil, errors.New(errors.CodePermissionDenied, errors.WithMessagef("session %s belongs to another player", sessionID))
	}

	return ss, nil
}
