package settlement

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/victornm/triviapot/internal/domain"
	"github.com/victornm/triviapot/internal/errors"
	"github.com/victornm/triviapot/internal/event"
	"github.com/victornm/triviapot/internal/telemetry"
	"github.com/victornm/triviapot/internal/vault"
)

const defaultGrace = 5 * time.Minute

type Repository interface {
	// ListCompleted returns the ranked sessions of a round completed at or before until.
	ListCompleted(ctx context.Context, roundID uint64, until time.Time) ([]domain.Session, error)
	// InsertPayouts stores payouts. Ranks already stored are left untouched.
	InsertPayouts(ctx context.Context, payouts []domain.Payout) error
	ListPayouts(ctx context.Context, roundIDs []uint64) ([]domain.Payout, error)
	MarkPaid(ctx context.Context, roundID uint64, rank int, amount int64) error
}

type RoundRepository interface {
	GetRound(ctx context.Context, roundID uint64) (*domain.Round, error)
	ListDue(ctx context.Context, end time.Time) ([]domain.Round, error)
	UpdateStatus(ctx context.Context, roundID uint64, from, to domain.RoundStatus) (bool, error)
}

// Escrow is the authority side of the vault.
type Escrow interface {
	PostWinners(ctx context.Context, roundID uint64, payouts []domain.Payout) error
	Refund(ctx context.Context, roundID uint64) ([]string, error)
	Claims(ctx context.Context, roundID uint64) ([]vault.WinnerSlot, error)
}

// Claimer signs claims on behalf of a wallet. Only available on a local ledger.
type Claimer interface {
	ClaimPrize(ctx context.Context, signer vault.Address, roundID uint64) (uint64, error)
}

type Config struct {
	Repository Repository
	Rounds     RoundRepository
	Escrow     Escrow
	Claimer    Claimer
	EventBus   *event.Bus
	// Grace is how long after a window ends sessions may still complete and count.
	Grace time.Duration
	Now   func() time.Time
}

type Service struct {
	repo    Repository
	rounds  RoundRepository
	escrow  Escrow
	claimer Claimer
	eb      *event.Bus
	grace   time.Duration
	now     func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		repo:    c.Repository,
		rounds:  c.Rounds,
		escrow:  c.Escrow,
		claimer: c.Claimer,
		eb:      c.EventBus,
		grace:   c.Grace,
		now:     c.Now,
	}

	if s.grace <= 0 {
		s.grace = defaultGrace
	}
	if s.now == nil {
		s.now = time.Now
	}

	return s
}

func (s *Service) Grace() time.Duration {
	return s.grace
}

type SettleRoundRequest struct {
	RoundID uint64
}

type SettleRoundResponse struct {
	Round    domain.Round
	Payouts  []domain.Payout
	Refunded []string
}

// SettleRound closes a round whose window and grace period have elapsed and settles it.
// Settling a settled round returns the stored outcome.
func (s *Service) SettleRound(ctx context.Context, req SettleRoundRequest) (*SettleRoundResponse, error) {
	r, err := s.rounds.GetRound(ctx, req.RoundID)
	if err != nil {
		return nil, err
	}

	if r.Status.Settled() {
		return s.settled(ctx, r)
	}

	_, end := r.Key.Window()
	deadline := end.Add(s.grace)
	if s.now().Before(deadline) {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonRoundStillOpen),
			errors.WithMessagef("round %d settles after %s", r.RoundID, deadline.Format(time.RFC3339)),
		)
	}

	if r.Status == domain.RoundOpen {
		if r, err = s.close(ctx, r); err != nil {
			return nil, err
		}
		if r.Status.Settled() {
			return s.settled(ctx, r)
		}
	}

	sessions, err := s.repo.ListCompleted(ctx, r.RoundID, deadline)
	if err != nil {
		return nil, fmt.Errorf("settlement: list completed sessions: %w", err)
	}

	res, err := Compute(*r, sessions)
	if stderrors.Is(err, ErrInsufficientEntrants) {
		slog.InfoContext(ctx, "settlement: refunding round", "round_id", r.RoundID, "completed", len(sessions))
		return s.refund(ctx, r)
	}
	if err != nil {
		return nil, err
	}

	return s.finalize(ctx, r, res.Payouts)
}

// close moves an open round to closed and returns the round as stored afterwards.
func (s *Service) close(ctx context.Context, r *domain.Round) (*domain.Round, error) {
	ok, err := s.rounds.UpdateStatus(ctx, r.RoundID, domain.RoundOpen, domain.RoundClosed)
	if err != nil {
		return nil, fmt.Errorf("settlement: close round: %w", err)
	}

	if !ok {
		return s.rounds.GetRound(ctx, r.RoundID)
	}

	r.Status = domain.RoundClosed
	s.eb.Publish(ctx, domain.EventRoundClosed{Round: *r})
	return r, nil
}

func (s *Service) refund(ctx context.Context, r *domain.Round) (*SettleRoundResponse, error) {
	refunded, err := s.escrow.Refund(ctx, r.RoundID)
	switch {
	case stderrors.Is(err, vault.ErrAlreadyRefunded):
		slog.InfoContext(ctx, "settlement: vault already refunded", "round_id", r.RoundID)
	case stderrors.Is(err, vault.ErrRoundNotFound) && r.Entrants == 0:
		// Nobody entered, so the escrow was never used.
	case err != nil:
		return nil, s.vaultError(ctx, "refund", r.RoundID, err)
	}

	if err := s.transition(ctx, r, domain.RoundRefund); err != nil {
		return nil, err
	}

	telemetry.RoundsSettled.WithLabelValues(string(domain.RoundRefund)).Inc()
	s.eb.Publish(ctx, domain.EventRoundSettled{
		Round:    *r,
		Refunded: refunded,
	})

	return &SettleRoundResponse{Round: *r, Refunded: refunded}, nil
}

func (s *Service) finalize(ctx context.Context, r *domain.Round, payouts []domain.Payout) (*SettleRoundResponse, error) {
	if err := s.repo.InsertPayouts(ctx, payouts); err != nil {
		return nil, fmt.Errorf("settlement: insert payouts: %w", err)
	}

	// A previous attempt may have stored payouts already; those are the ones posted.
	stored, err := s.repo.ListPayouts(ctx, []uint64{r.RoundID})
	if err != nil {
		return nil, fmt.Errorf("settlement: list payouts: %w", err)
	}

	err = s.escrow.PostWinners(ctx, r.RoundID, stored)
	switch {
	case stderrors.Is(err, vault.ErrAlreadyFinalized):
		slog.InfoContext(ctx, "settlement: winners already posted", "round_id", r.RoundID)
	case err != nil:
		return nil, s.vaultError(ctx, "post winners", r.RoundID, err)
	}

	if err := s.transition(ctx, r, domain.RoundFinalized); err != nil {
		return nil, err
	}

	telemetry.RoundsSettled.WithLabelValues(string(domain.RoundFinalized)).Inc()
	s.eb.Publish(ctx, domain.EventRoundSettled{
		Round:   *r,
		Payouts: stored,
	})

	return &SettleRoundResponse{Round: *r, Payouts: stored}, nil
}

func (s *Service) transition(ctx context.Context, r *domain.Round, to domain.RoundStatus) error {
	if !r.Status.CanTransition(to) {
		return errors.Internal(fmt.Errorf("settlement: round %d cannot move from %s to %s", r.RoundID, r.Status, to))
	}

	ok, err := s.rounds.UpdateStatus(ctx, r.RoundID, r.Status, to)
	if err != nil {
		return fmt.Errorf("settlement: update round status: %w", err)
	}
	if !ok {
		return errors.New(errors.CodeAborted, errors.WithMessagef("round %d changed status concurrently", r.RoundID))
	}

	r.Status = to
	return nil
}

func (s *Service) settled(ctx context.Context, r *domain.Round) (*SettleRoundResponse, error) {
	resp := &SettleRoundResponse{Round: *r}
	if r.Status != domain.RoundFinalized {
		return resp, nil
	}

	payouts, err := s.repo.ListPayouts(ctx, []uint64{r.RoundID})
	if err != nil {
		return nil, fmt.Errorf("settlement: list payouts: %w", err)
	}

	resp.Payouts = payouts
	return resp, nil
}

// vaultError maps a program error to a failed precondition carrying the program message verbatim.
func (s *Service) vaultError(ctx context.Context, op string, roundID uint64, err error) error {
	slog.ErrorContext(ctx, "settlement: vault instruction failed", "op", op, "round_id", roundID, "error", err)

	var pe *vault.ProgramError
	if !stderrors.As(err, &pe) {
		return errors.New(errors.CodeUnavailable, errors.WithMessagef("vault unavailable: %s", op), errors.WithCause(err))
	}

	reason := errors.ReasonProgramError
	switch {
	case stderrors.Is(pe, vault.ErrAlreadyFinalized):
		reason = errors.ReasonAlreadyFinalized
	case stderrors.Is(pe, vault.ErrNotAWinner):
		reason = errors.ReasonNotAWinner
	case stderrors.Is(pe, vault.ErrAlreadyClaimed):
		reason = errors.ReasonAlreadyClaimed
	}

	return errors.New(errors.CodeFailedPrecondition,
		errors.WithReason(reason),
		errors.WithMessagef("%s", pe.Error()),
		errors.WithCause(err),
	)
}

type GetRoundPayoutsRequest struct {
	RoundIDs []uint64
}

func (s *Service) GetRoundPayouts(ctx context.Context, req GetRoundPayoutsRequest) ([]domain.Payout, error) {
	if len(req.RoundIDs) == 0 {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("round ids are required"))
	}

	return s.repo.ListPayouts(ctx, req.RoundIDs)
}

type ClaimPrizeRequest struct {
	RoundID uint64
	Wallet  string
}

type ClaimPrizeResponse struct {
	Amount uint64
}

// ClaimPrize signs a claim for the wallet and marks the claimed payouts paid.
func (s *Service) ClaimPrize(ctx context.Context, req ClaimPrizeRequest) (*ClaimPrizeResponse, error) {
	if s.claimer == nil {
		return nil, errors.New(errors.CodeUnavailable, errors.WithMessagef("claims are signed by the player's wallet"))
	}

	amount, err := s.claimer.ClaimPrize(ctx, vault.Address(req.Wallet), req.RoundID)
	if err != nil {
		return nil, s.vaultError(ctx, "claim prize", req.RoundID, err)
	}

	if err := s.SyncPayouts(ctx, req.RoundID); err != nil {
		return nil, err
	}

	return &ClaimPrizeResponse{Amount: amount}, nil
}

// SyncPayouts marks payouts paid according to the claimed flags of the vault.
func (s *Service) SyncPayouts(ctx context.Context, roundID uint64) error {
	claims, err := s.escrow.Claims(ctx, roundID)
	if err != nil {
		return s.vaultError(ctx, "claims", roundID, err)
	}

	payouts, err := s.repo.ListPayouts(ctx, []uint64{roundID})
	if err != nil {
		return fmt.Errorf("settlement: list payouts: %w", err)
	}

	for _, p := range payouts {
		i := p.Rank - 1
		if p.Paid || i >= len(claims) || !claims[i].Claimed {
			continue
		}

		if err := s.repo.MarkPaid(ctx, roundID, p.Rank, int64(claims[i].Amount)); err != nil {
			return fmt.Errorf("settlement: mark paid: %w", err)
		}
	}

	return nil
}
