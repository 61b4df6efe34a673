// Package round owns the lifecycle of the 6-hour competition rounds.
package round

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/victornm/triviapot/internal/domain"
	"github.com/victornm/triviapot/internal/errors"
	"github.com/victornm/triviapot/internal/roundid"
	"github.com/victornm/triviapot/internal/vault"
)

type Repository interface {
	// EnsureRound creates the round row for key when missing and returns it.
	EnsureRound(ctx context.Context, key roundid.Key) (*domain.Round, error)
	GetRound(ctx context.Context, roundID uint64) (*domain.Round, error)
	ListRounds(ctx context.Context, roundIDs []uint64) ([]domain.Round, error)
	// ListDue returns unsettled rounds whose window ended at or before end.
	ListDue(ctx context.Context, end time.Time) ([]domain.Round, error)
	// UpdateStatus moves a round from one status to another. It reports false when the round is not in from.
	UpdateStatus(ctx context.Context, roundID uint64, from, to domain.RoundStatus) (bool, error)
}

// Escrow opens the on-chain accounts of a round.
type Escrow interface {
	CreateRound(ctx context.Context, roundID uint64) error
}

type Config struct {
	Repository Repository
	Escrow     Escrow
	EntryFee   int64
	Now        func() time.Time
}

type Service struct {
	repo     Repository
	escrow   Escrow
	entryFee int64
	now      func() time.Time

	// opened caches round IDs whose escrow is known to exist.
	opened sync.Map
}

func NewService(c Config) *Service {
	s := &Service{
		repo:     c.Repository,
		escrow:   c.Escrow,
		entryFee: c.EntryFee,
		now:      c.Now,
	}

	if s.now == nil {
		s.now = time.Now
	}

	return s
}

// Current returns the round whose window contains the current time, creating it and its escrow on first use.
func (s *Service) Current(ctx context.Context) (*domain.Round, error) {
	key := roundid.At(s.now())

	r, err := s.repo.EnsureRound(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("round: ensure %s: %w", key, err)
	}

	if err := s.openEscrow(ctx, r.RoundID); err != nil {
		return nil, err
	}

	return r, nil
}

func (s *Service) openEscrow(ctx context.Context, roundID uint64) error {
	if _, ok := s.opened.Load(roundID); ok || s.escrow == nil {
		return nil
	}

	if err := s.escrow.CreateRound(ctx, roundID); err != nil {
		slog.ErrorContext(ctx, "round: create escrow failed", "round_id", roundID, "error", err)
		return errors.New(errors.CodeUnavailable,
			errors.WithMessagef("round escrow unavailable: round=%d", roundID),
			errors.WithCause(err),
		)
	}

	s.opened.Store(roundID, struct{}{})
	return nil
}

// IsCurrent reports whether r is the round accepting entries right now.
func (s *Service) IsCurrent(r *domain.Round) bool {
	return r.Status == domain.RoundOpen && r.Key.Contains(s.now())
}

func (s *Service) Get(ctx context.Context, roundID uint64) (*domain.Round, error) {
	return s.repo.GetRound(ctx, roundID)
}

func (s *Service) List(ctx context.Context, roundIDs []uint64) ([]domain.Round, error) {
	return s.repo.ListRounds(ctx, roundIDs)
}

// Info describes how to enter a round.
type Info struct {
	Round       domain.Round
	WindowStart time.Time
	WindowEnd   time.Time
	EntryFee    int64
	// RoundAccount and VaultAccount are the derived on-chain accounts of the round.
	RoundAccount string
	VaultAccount string
	// PreviousRoundID is the round that closed when this one opened.
	PreviousRoundID uint64
	NextRoundID     uint64
}

// CurrentInfo returns the current round with its window and escrow accounts.
func (s *Service) CurrentInfo(ctx context.Context) (*Info, error) {
	r, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}

	return s.info(r), nil
}

func (s *Service) info(r *domain.Round) *Info {
	start, end := r.Key.Window()
	return &Info{
		Round:           *r,
		WindowStart:     start,
		WindowEnd:       end,
		EntryFee:        s.entryFee,
		RoundAccount:    string(vault.RoundAddress(r.RoundID)),
		VaultAccount:    string(vault.VaultAddress(r.RoundID)),
		PreviousRoundID: r.Key.Prev().ID(),
		NextRoundID:     r.Key.Next().ID(),
	}
}
