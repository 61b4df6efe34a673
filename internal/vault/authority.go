package vault

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/victornm/triviapot/internal/domain"
)

// Authority issues instructions signed by the program authority on behalf of the server.
type Authority struct {
	program *Program
	signer  Address
}

func NewAuthority(p *Program, signer Address) *Authority {
	return &Authority{program: p, signer: signer}
}

func (a *Authority) Program() *Program {
	return a.program
}

func (a *Authority) Signer() Address {
	return a.signer
}

// Bootstrap initializes the program config and returns the entry fee the program charges. An already
// initialized config is accepted as long as it names the same authority; its on-chain fee wins over entryFee.
func (a *Authority) Bootstrap(ctx context.Context, entryFee uint64) (uint64, error) {
	err := a.program.Initialize(ctx, a.signer, entryFee)
	if err == nil {
		return entryFee, nil
	}
	if !stderrors.Is(err, ErrAlreadyInitialized) {
		return 0, err
	}

	cfg, err := a.program.Config(ctx)
	if err != nil {
		return 0, err
	}
	if cfg.Authority != a.signer {
		return 0, ErrUnauthorized
	}

	if cfg.EntryFee != entryFee {
		slog.WarnContext(ctx, "vault: configured entry fee differs from program, using program fee",
			"configured", entryFee,
			"program", cfg.EntryFee,
		)
	}

	return cfg.EntryFee, nil
}

// CreateRound opens the round escrow. A round that already exists is not an error.
func (a *Authority) CreateRound(ctx context.Context, roundID uint64) error {
	err := a.program.CreateRound(ctx, a.signer, roundID)
	if stderrors.Is(err, ErrRoundExists) {
		return nil
	}

	return err
}

// PostWinners posts the ranked payouts of a round. Payouts must hold exactly Winners ranks.
func (a *Authority) PostWinners(ctx context.Context, roundID uint64, payouts []domain.Payout) error {
	if len(payouts) != Winners {
		return fmt.Errorf("%w: got %d payouts", ErrInvalidWinners, len(payouts))
	}

	var (
		wallets [Winners]Address
		amounts [Winners]uint64
	)
	for _, p := range payouts {
		if p.Rank < 1 || p.Rank > Winners || p.Amount < 0 {
			return fmt.Errorf("%w: rank %d amount %d", ErrInvalidWinners, p.Rank, p.Amount)
		}
		wallets[p.Rank-1] = Address(p.Wallet)
		amounts[p.Rank-1] = uint64(p.Amount)
	}

	return a.program.PostWinners(ctx, a.signer, roundID, wallets, amounts)
}

// Refund pays back every entrant of the round and returns the refunded wallets.
func (a *Authority) Refund(ctx context.Context, roundID uint64) ([]string, error) {
	addrs, err := a.program.Refund(ctx, a.signer, roundID)
	if err != nil {
		return nil, err
	}

	wallets := make([]string, len(addrs))
	for i, w := range addrs {
		wallets[i] = string(w)
	}

	return wallets, nil
}

// VerifyEntry checks a payment proof: the entry signature must exist in the round for the wallet.
func (a *Authority) VerifyEntry(ctx context.Context, roundID uint64, wallet, signature string) error {
	return a.program.VerifyEntry(ctx, roundID, Address(wallet), signature)
}

// Claims returns the posted winner slots of the round, nil when winners are not posted yet.
func (a *Authority) Claims(ctx context.Context, roundID uint64) ([]WinnerSlot, error) {
	r, err := a.program.Round(ctx, roundID)
	if err != nil {
		return nil, err
	}

	return r.Winners, nil
}
