// Package settlement closes rounds, ranks their completed sessions and pays the top five
// through the vault, or refunds every entrant when too few sessions completed.
package settlement

import (
	"cmp"
	"math"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/victornm/triviapot/internal/domain"
	"github.com/victornm/triviapot/internal/errors"
)

// Shares of the pool by rank. The remainder left by truncation stays in the vault.
var Shares = [domain.Winners]decimal.Decimal{
	decimal.RequireFromString("0.50"),
	decimal.RequireFromString("0.20"),
	decimal.RequireFromString("0.15"),
	decimal.RequireFromString("0.10"),
	decimal.RequireFromString("0.05"),
}

var ErrInsufficientEntrants = errors.New(errors.CodeFailedPrecondition, errors.WithReason(errors.ReasonInsufficientEntrants))

// Rank orders completed sessions by score descending, then elapsed time ascending,
// then completion time ascending, then session ID.
func Rank(sessions []domain.Session) []domain.Session {
	ranked := slices.Clone(sessions)

	slices.SortStableFunc(ranked, func(a, b domain.Session) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.ElapsedMS, b.ElapsedMS); c != 0 {
			return c
		}
		if c := cmp.Compare(completeNanos(a), completeNanos(b)); c != 0 {
			return c
		}
		return cmp.Compare(a.SessionID, b.SessionID)
	})

	return ranked
}

func completeNanos(ss domain.Session) int64 {
	if ss.CompleteTime == nil {
		return math.MaxInt64
	}
	return ss.CompleteTime.UnixNano()
}

// Split divides pool among the ranks, truncating each share to the smallest unit.
func Split(pool int64) [domain.Winners]int64 {
	var amounts [domain.Winners]int64

	p := decimal.NewFromInt(pool)
	for i, share := range Shares {
		amounts[i] = p.Mul(share).Truncate(0).IntPart()
	}

	return amounts
}

// Result is the outcome of settling a round.
type Result struct {
	Round   domain.Round
	Ranked  []domain.Session
	Payouts []domain.Payout
}

// Compute ranks the completed sessions of a round and assigns the prizes.
// It returns ErrInsufficientEntrants when fewer sessions than winners completed.
func Compute(r domain.Round, sessions []domain.Session) (*Result, error) {
	completed := make([]domain.Session, 0, len(sessions))
	for _, ss := range sessions {
		if ss.Completed() && ss.Mode == domain.ModeRanked && ss.RoundID == r.RoundID {
			completed = append(completed, ss)
		}
	}

	if len(completed) < domain.Winners {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonInsufficientEntrants),
			errors.WithMessagef("round %d has %d completed sessions, need %d", r.RoundID, len(completed), domain.Winners),
		)
	}

	ranked := Rank(completed)
	amounts := Split(r.Pool)

	payouts := make([]domain.Payout, 0, domain.Winners)
	for i, ss := range ranked[:domain.Winners] {
		payouts = append(payouts, domain.Payout{
			RoundID:   r.RoundID,
			Rank:      i + 1,
			SessionID: ss.SessionID,
			PlayerID:  ss.PlayerID,
			Wallet:    ss.Wallet,
			Score:     ss.Score,
			ElapsedMS: ss.ElapsedMS,
			Amount:    amounts[i],
		})
	}

	return &Result{Round: r, Ranked: ranked, Payouts: payouts}, nil
}
