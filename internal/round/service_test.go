package round_test

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/triviapot/internal/domain"
	"github.com/victornm/triviapot/internal/errors"
	"github.com/victornm/triviapot/internal/round"
	"github.com/victornm/triviapot/internal/roundid"
	"github.com/victornm/triviapot/internal/vault"
)

type memRepository struct {
	mu     sync.Mutex
	rounds map[uint64]*domain.Round
}

func (m *memRepository) EnsureRound(_ context.Context, key roundid.Key) (*domain.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rounds == nil {
		m.rounds = make(map[uint64]*domain.Round)
	}
	r, ok := m.rounds[key.ID()]
	if !ok {
		r = &domain.Round{RoundID: key.ID(), Key: key, Status: domain.RoundOpen}
		m.rounds[key.ID()] = r
	}

	cp := *r
	return &cp, nil
}

func (m *memRepository) GetRound(_ context.Context, id uint64) (*domain.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rounds[id]
	if !ok {
		return nil, errors.New(errors.CodeNotFound)
	}

	cp := *r
	return &cp, nil
}

func (m *memRepository) ListRounds(context.Context, []uint64) ([]domain.Round, error) { return nil, nil }

func (m *memRepository) ListDue(context.Context, time.Time) ([]domain.Round, error) { return nil, nil }

func (m *memRepository) UpdateStatus(context.Context, uint64, domain.RoundStatus, domain.RoundStatus) (bool, error) {
	return false, nil
}

type escrow struct {
	calls int
	err   error
}

func (e *escrow) CreateRound(context.Context, uint64) error {
	e.calls++
	return e.err
}

func TestService_Current(t *testing.T) {
	now := time.Date(2024, 3, 1, 5, 59, 58, 0, time.UTC)
	e := new(escrow)
	s := round.NewService(round.Config{
		Repository: new(memRepository),
		Escrow:     e,
		EntryFee:   1_000_000,
		Now:        func() time.Time { return now },
	})

	r, err := s.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, roundid.At(now).ID(), r.RoundID)
	assert.Equal(t, 0, r.Key.Slot)
	assert.True(t, s.IsCurrent(r))

	_, err = s.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, e.calls, "escrow is created once per round")

	now = now.Add(3 * time.Second)
	assert.False(t, s.IsCurrent(r), "round ended at 06:00")

	info, err := s.CurrentInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, info.Round.Key.Slot)
	assert.Equal(t, time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC), info.WindowStart)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), info.WindowEnd)
	assert.Equal(t, int64(1_000_000), info.EntryFee)
	assert.Equal(t, string(vault.VaultAddress(info.Round.RoundID)), info.VaultAccount)
	assert.Equal(t, r.RoundID, info.PreviousRoundID)
	assert.Equal(t, info.Round.RoundID+1, info.NextRoundID)
	assert.Equal(t, 2, e.calls)
}

func TestService_Current_EscrowUnavailable(t *testing.T) {
	e := &escrow{err: stderrors.New("ledger down")}
	s := round.NewService(round.Config{
		Repository: new(memRepository),
		Escrow:     e,
	})

	_, err := s.Current(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.CodeUnavailable, errors.Convert(err).Code)

	e.err = nil
	_, err = s.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, e.calls, "failed escrow creation is retried")
}
