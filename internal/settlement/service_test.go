package settlement_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/triviapot/internal/domain"
	"github.com/victornm/triviapot/internal/errors"
	"github.com/victornm/triviapot/internal/event"
	"github.com/victornm/triviapot/internal/roundid"
	"github.com/victornm/triviapot/internal/settlement"
	"github.com/victornm/triviapot/internal/vault"
)

const (
	authority = vault.Address("authority")
	fee       = 1_000_000
)

var key = roundid.Key{Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Slot: 2}

type memStore struct {
	mu       sync.Mutex
	rounds   map[uint64]*domain.Round
	sessions []domain.Session
	payouts  map[uint64]map[int]domain.Payout
}

func (m *memStore) GetRound(_ context.Context, id uint64) (*domain.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rounds[id]
	if !ok {
		return nil, errors.New(errors.CodeNotFound)
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) ListDue(_ context.Context, end time.Time) ([]domain.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []domain.Round
	for _, r := range m.rounds {
		if _, e := r.Key.Window(); !e.After(end) && !r.Status.Settled() {
			due = append(due, *r)
		}
	}
	return due, nil
}

func (m *memStore) UpdateStatus(_ context.Context, id uint64, from, to domain.RoundStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.rounds[id]
	if r.Status != from {
		return false, nil
	}
	r.Status = to
	return true, nil
}

func (m *memStore) ListCompleted(_ context.Context, roundID uint64, until time.Time) ([]domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Session
	for _, ss := range m.sessions {
		if ss.RoundID == roundID && ss.Completed() && !ss.CompleteTime.After(until) {
			out = append(out, ss)
		}
	}
	return out, nil
}

func (m *memStore) InsertPayouts(_ context.Context, payouts []domain.Payout) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range payouts {
		if m.payouts[p.RoundID] == nil {
			m.payouts[p.RoundID] = make(map[int]domain.Payout)
		}
		if _, ok := m.payouts[p.RoundID][p.Rank]; !ok {
			m.payouts[p.RoundID][p.Rank] = p
		}
	}
	return nil
}

func (m *memStore) ListPayouts(_ context.Context, ids []uint64) ([]domain.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Payout
	for _, id := range ids {
		for _, p := range m.payouts[id] {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RoundID != out[j].RoundID {
			return out[i].RoundID < out[j].RoundID
		}
		return out[i].Rank < out[j].Rank
	})
	return out, nil
}

func (m *memStore) MarkPaid(_ context.Context, id uint64, rank int, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.payouts[id][rank]
	p.Paid, p.PaidAmount = true, amount
	m.payouts[id][rank] = p
	return nil
}

type fixture struct {
	s       *settlement.Service
	store   *memStore
	program *vault.Program
	now     time.Time
	redis   redis.UniversalClient
	wallets []string
}

// makeFixture enters n wallets into the round on the vault and completes one session per wallet.
// Session i scores 1000 - 100*i.
func makeFixture(t *testing.T, n int) *fixture {
	t.Helper()

	ctx := context.Background()
	m := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	program := vault.NewProgram(vault.Config{Ledger: vault.NewRedisLedger(rc, "test")})
	auth := vault.NewAuthority(program, authority)
	_, err := auth.Bootstrap(ctx, fee)
	require.NoError(t, err)
	require.NoError(t, auth.CreateRound(ctx, key.ID()))

	_, end := key.Window()
	f := &fixture{
		store: &memStore{
			rounds: map[uint64]*domain.Round{
				key.ID(): {RoundID: key.ID(), Key: key, Pool: int64(n) * fee, Entrants: n, Status: domain.RoundOpen},
			},
			payouts: make(map[uint64]map[int]domain.Payout),
		},
		program: program,
		now:     end.Add(10 * time.Minute),
		redis:   rc,
	}

	for i := range n {
		w := fmt.Sprintf("wallet-%d", i)
		require.NoError(t, program.Airdrop(ctx, vault.Address(w), fee))
		_, err := program.EnterRound(ctx, vault.Address(w), key.ID())
		require.NoError(t, err)

		done := end.Add(-time.Duration(n-i) * time.Minute)
		f.store.sessions = append(f.store.sessions, domain.Session{
			SessionID:    fmt.Sprintf("s%d", i),
			PlayerID:     fmt.Sprintf("p%d", i),
			Wallet:       w,
			Mode:         domain.ModeRanked,
			RoundID:      key.ID(),
			Score:        int64(1000 - 100*i),
			ElapsedMS:    20_000,
			CompleteTime: &done,
		})
		f.wallets = append(f.wallets, w)
	}

	eb := event.NewBus()
	t.Cleanup(eb.Stop)

	f.s = settlement.NewService(settlement.Config{
		Repository: f.store,
		Rounds:     f.store,
		Escrow:     auth,
		Claimer:    program,
		EventBus:   eb,
		Grace:      5 * time.Minute,
		Now:        func() time.Time { return f.now },
	})

	return f
}

func TestService_SettleRound_Finalize(t *testing.T) {
	f := makeFixture(t, 5)
	ctx := context.Background()

	resp, err := f.s.SettleRound(ctx, settlement.SettleRoundRequest{RoundID: key.ID()})
	require.NoError(t, err)
	assert.Equal(t, domain.RoundFinalized, resp.Round.Status)
	require.Len(t, resp.Payouts, domain.Winners)

	wantAmounts := []int64{2_500_000, 1_000_000, 750_000, 500_000, 250_000}
	for i, p := range resp.Payouts {
		assert.Equal(t, i+1, p.Rank)
		assert.Equal(t, f.wallets[i], p.Wallet)
		assert.Equal(t, wantAmounts[i], p.Amount)
	}

	onchain, err := f.program.Round(ctx, key.ID())
	require.NoError(t, err)
	assert.Equal(t, vault.RoundFinalized, onchain.Status)
	for i, w := range onchain.Winners {
		assert.Equal(t, vault.Address(f.wallets[i]), w.Wallet)
		assert.Equal(t, uint64(wantAmounts[i]), w.Amount)
	}

	again, err := f.s.SettleRound(ctx, settlement.SettleRoundRequest{RoundID: key.ID()})
	require.NoError(t, err)
	assert.Equal(t, resp.Payouts, again.Payouts, "settling twice returns the stored payouts")
}

func TestService_SettleRound_Refund(t *testing.T) {
	f := makeFixture(t, 4)
	ctx := context.Background()

	resp, err := f.s.SettleRound(ctx, settlement.SettleRoundRequest{RoundID: key.ID()})
	require.NoError(t, err)
	assert.Equal(t, domain.RoundRefund, resp.Round.Status)
	assert.Empty(t, resp.Payouts)
	assert.ElementsMatch(t, f.wallets, resp.Refunded)
	assert.Empty(t, f.store.payouts)

	for _, w := range f.wallets {
		b, err := f.program.Balance(ctx, vault.Address(w))
		require.NoError(t, err)
		assert.Equal(t, uint64(fee), b)
	}

	vb, err := f.program.VaultBalance(ctx, key.ID())
	require.NoError(t, err)
	assert.Zero(t, vb)
}

func TestService_SettleRound_StillOpen(t *testing.T) {
	f := makeFixture(t, 5)
	_, end := key.Window()
	f.now = end.Add(time.Minute)

	_, err := f.s.SettleRound(context.Background(), settlement.SettleRoundRequest{RoundID: key.ID()})
	assert.True(t, errors.HasReason(err, errors.ReasonRoundStillOpen))
	assert.Equal(t, domain.RoundOpen, f.store.rounds[key.ID()].Status)
}

func TestService_SettleRound_ExcludesLateSessions(t *testing.T) {
	f := makeFixture(t, 5)
	_, end := key.Window()

	late := end.Add(6 * time.Minute)
	f.store.sessions[0].CompleteTime = &late

	resp, err := f.s.SettleRound(context.Background(), settlement.SettleRoundRequest{RoundID: key.ID()})
	require.NoError(t, err)
	assert.Equal(t, domain.RoundRefund, resp.Round.Status, "4 sessions completed within the grace period")
}

func TestService_SettleRound_ResumesAfterPartialFailure(t *testing.T) {
	f := makeFixture(t, 5)
	ctx := context.Background()

	// A previous attempt posted winners and stopped before updating the round status.
	first, err := f.s.SettleRound(ctx, settlement.SettleRoundRequest{RoundID: key.ID()})
	require.NoError(t, err)
	f.store.rounds[key.ID()].Status = domain.RoundClosed

	resp, err := f.s.SettleRound(ctx, settlement.SettleRoundRequest{RoundID: key.ID()})
	require.NoError(t, err)
	assert.Equal(t, domain.RoundFinalized, resp.Round.Status)
	assert.Equal(t, first.Payouts, resp.Payouts)
}

func TestService_ClaimPrize(t *testing.T) {
	f := makeFixture(t, 6)
	ctx := context.Background()

	_, err := f.s.SettleRound(ctx, settlement.SettleRoundRequest{RoundID: key.ID()})
	require.NoError(t, err)

	resp, err := f.s.ClaimPrize(ctx, settlement.ClaimPrizeRequest{RoundID: key.ID(), Wallet: f.wallets[1]})
	require.NoError(t, err)
	assert.Equal(t, uint64(1_200_000), resp.Amount)

	payouts, err := f.s.GetRoundPayouts(ctx, settlement.GetRoundPayoutsRequest{RoundIDs: []uint64{key.ID()}})
	require.NoError(t, err)
	assert.True(t, payouts[1].Paid)
	assert.Equal(t, int64(1_200_000), payouts[1].PaidAmount)
	assert.False(t, payouts[0].Paid)

	_, err = f.s.ClaimPrize(ctx, settlement.ClaimPrizeRequest{RoundID: key.ID(), Wallet: f.wallets[1]})
	assert.True(t, errors.HasReason(err, errors.ReasonAlreadyClaimed))

	_, err = f.s.ClaimPrize(ctx, settlement.ClaimPrizeRequest{RoundID: key.ID(), Wallet: f.wallets[5]})
	assert.True(t, errors.HasReason(err, errors.ReasonNotAWinner))
	assert.Contains(t, err.Error(), "custom program error: 0x177a")
}

func TestCloser_Tick(t *testing.T) {
	f := makeFixture(t, 5)
	ctx := context.Background()

	c := settlement.NewCloser(settlement.CloserConfig{
		Service: f.s,
		Rounds:  f.store,
		Redis:   f.redis,
		Prefix:  "test",
		Now:     func() time.Time { return f.now },
	})

	// Another instance holds the lock.
	require.NoError(t, f.redis.Set(ctx, fmt.Sprintf("test:settle:%d", key.ID()), 1, time.Minute).Err())
	assert.Zero(t, c.Tick(ctx))
	assert.Equal(t, domain.RoundOpen, f.store.rounds[key.ID()].Status)

	require.NoError(t, f.redis.Del(ctx, fmt.Sprintf("test:settle:%d", key.ID())).Err())
	assert.Equal(t, 1, c.Tick(ctx))
	assert.Equal(t, domain.RoundFinalized, f.store.rounds[key.ID()].Status)

	assert.Zero(t, c.Tick(ctx), "settled rounds are no longer due")
}
