// Package vault implements the escrow program that holds round entry fees until winners claim
// them or entrants are refunded.
//
// Every round has two derived accounts seeded by its 64-bit round ID: the round-state account
// and the vault account. Instructions run as single ledger transactions.
package vault

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/google/uuid"

	"github.com/victornm/triviapot/internal/roundid"
	"github.com/victornm/triviapot/internal/telemetry"
)

var errAccountsChanged = stderrors.New("vault: declared accounts changed")

type Config struct {
	Ledger Ledger
	Now    func() time.Time
}

type Program struct {
	ledger Ledger
	now    func() time.Time
}

func NewProgram(c Config) *Program {
	p := &Program{
		ledger: c.Ledger,
		now:    c.Now,
	}

	if p.now == nil {
		p.now = time.Now
	}

	return p
}

// Initialize creates the program config account. It can run only once.
func (p *Program) Initialize(ctx context.Context, authority Address, entryFee uint64) error {
	return p.exec(ctx, "initialize", []Address{ConfigAddress()}, func(tx *Tx) error {
		var cfg ConfigAccount
		ok, err := tx.Get(ConfigAddress(), &cfg)
		if err != nil {
			return err
		}
		if ok {
			return ErrAlreadyInitialized
		}

		return tx.Put(ConfigAddress(), ConfigAccount{
			Authority: authority,
			EntryFee:  entryFee,
		})
	})
}

// CreateRound opens the escrow for a round. Authority only.
func (p *Program) CreateRound(ctx context.Context, signer Address, roundID uint64) error {
	ra, va := RoundAddress(roundID), VaultAddress(roundID)

	return p.exec(ctx, "create_round", []Address{ConfigAddress(), ra, va}, func(tx *Tx) error {
		cfg, err := authorize(tx, signer)
		if err != nil {
			return err
		}

		var r RoundAccount
		ok, err := tx.Get(ra, &r)
		if err != nil {
			return err
		}
		if ok {
			return ErrRoundExists
		}

		cfg.Rounds++
		if err := tx.Put(ConfigAddress(), cfg); err != nil {
			return err
		}

		if err := tx.Put(ra, RoundAccount{
			RoundID:  roundID,
			Status:   RoundOpen,
			EntryFee: cfg.EntryFee,
			Vault:    va,
		}); err != nil {
			return err
		}

		return tx.Put(va, VaultAccount{RoundID: roundID})
	})
}

// EnterRound transfers the entry fee from the signer's wallet into the round vault and returns
// the transaction signature, which serves as the payment proof.
func (p *Program) EnterRound(ctx context.Context, signer Address, roundID uint64) (string, error) {
	if err := checkSigner(signer, roundID); err != nil {
		return "", err
	}

	ra, va := RoundAddress(roundID), VaultAddress(roundID)
	sig := p.signature(roundID, signer)

	err := p.exec(ctx, "enter_round", []Address{ra, va, signer}, func(tx *Tx) error {
		r, err := loadRound(tx, ra)
		if err != nil {
			return err
		}
		if r.Status != RoundOpen {
			return ErrRoundNotOpen
		}

		w, err := loadWallet(tx, signer)
		if err != nil {
			return err
		}

		var v VaultAccount
		if _, err := tx.Get(va, &v); err != nil {
			return err
		}

		if w.Balance < r.EntryFee {
			return ErrInsufficientFunds
		}

		w.Balance -= r.EntryFee
		v.Balance += r.EntryFee
		r.Entrants = append(r.Entrants, Entry{
			Wallet:    signer,
			Amount:    r.EntryFee,
			Signature: sig,
			Time:      p.now().Unix(),
		})

		return putAll(tx, ra, r, va, v, signer, w)
	})
	if err != nil {
		return "", err
	}

	return sig, nil
}

// PostWinners writes the ranked winners of a round. It succeeds exactly once per round.
func (p *Program) PostWinners(ctx context.Context, signer Address, roundID uint64, wallets [Winners]Address, amounts [Winners]uint64) error {
	ra, va := RoundAddress(roundID), VaultAddress(roundID)

	return p.exec(ctx, "post_winners", []Address{ConfigAddress(), ra, va}, func(tx *Tx) error {
		if _, err := authorize(tx, signer); err != nil {
			return err
		}

		r, err := loadRound(tx, ra)
		if err != nil {
			return err
		}
		if err := checkUnsettled(r); err != nil {
			return err
		}

		var v VaultAccount
		if _, err := tx.Get(va, &v); err != nil {
			return err
		}

		var total uint64
		slots := make([]WinnerSlot, 0, Winners)
		for i := range wallets {
			if wallets[i] == "" {
				return ErrInvalidWinners
			}
			total += amounts[i]
			slots = append(slots, WinnerSlot{Wallet: wallets[i], Amount: amounts[i]})
		}

		if total > v.Balance {
			return ErrPayoutExceedsVault
		}

		r.Winners = slots
		r.Status = RoundFinalized
		return tx.Put(ra, r)
	})
}

// ClaimPrize pays the signer every unclaimed prize slot it holds in a finalized round.
func (p *Program) ClaimPrize(ctx context.Context, signer Address, roundID uint64) (uint64, error) {
	if err := checkSigner(signer, roundID); err != nil {
		return 0, err
	}

	ra, va := RoundAddress(roundID), VaultAddress(roundID)

	var claimed uint64
	err := p.exec(ctx, "claim_prize", []Address{ra, va, signer}, func(tx *Tx) error {
		r, err := loadRound(tx, ra)
		if err != nil {
			return err
		}
		if r.Status != RoundFinalized {
			return ErrRoundNotFinalized
		}

		var (
			total  uint64
			winner bool
		)
		for i := range r.Winners {
			if r.Winners[i].Wallet != signer {
				continue
			}
			winner = true
			if !r.Winners[i].Claimed {
				total += r.Winners[i].Amount
				r.Winners[i].Claimed = true
			}
		}

		if !winner {
			return ErrNotAWinner
		}
		if total == 0 {
			return ErrAlreadyClaimed
		}

		var v VaultAccount
		if _, err := tx.Get(va, &v); err != nil {
			return err
		}
		w, err := loadWallet(tx, signer)
		if err != nil {
			return err
		}
		if v.Balance < total {
			return ErrInsufficientFunds
		}

		v.Balance -= total
		w.Balance += total
		claimed = total

		return putAll(tx, ra, r, va, v, signer, w)
	})
	if err != nil {
		return 0, err
	}

	return claimed, nil
}

// Refund pays every entrant back its contribution. Authority only, and only before winners are posted.
// It returns the refunded wallets in entry order.
func (p *Program) Refund(ctx context.Context, signer Address, roundID uint64) ([]Address, error) {
	ra, va := RoundAddress(roundID), VaultAddress(roundID)

	for range maxTxAttempts {
		r, err := p.Round(ctx, roundID)
		if err != nil {
			return nil, err
		}

		addrs := []Address{ConfigAddress(), ra, va}
		for _, e := range r.Entrants {
			addrs = append(addrs, e.Wallet)
		}

		var refunded []Address
		err = p.exec(ctx, "refund", addrs, func(tx *Tx) error {
			if _, err := authorize(tx, signer); err != nil {
				return err
			}

			r, err := loadRound(tx, ra)
			if err != nil {
				return err
			}
			if err := checkUnsettled(r); err != nil {
				return err
			}

			var v VaultAccount
			if _, err := tx.Get(va, &v); err != nil {
				return err
			}

			wallets := make(map[Address]*WalletAccount)
			for _, e := range r.Entrants {
				if !tx.Declared(e.Wallet) {
					return errAccountsChanged
				}

				w, ok := wallets[e.Wallet]
				if !ok {
					if w, err = loadWallet(tx, e.Wallet); err != nil {
						return err
					}
					wallets[e.Wallet] = w
				}

				if v.Balance < e.Amount {
					return ErrInsufficientFunds
				}
				v.Balance -= e.Amount
				w.Balance += e.Amount
				refunded = append(refunded, e.Wallet)
			}

			for a, w := range wallets {
				if err := tx.Put(a, w); err != nil {
					return err
				}
			}

			r.Status = RoundRefunded
			return putAll(tx, ra, r, va, v)
		})
		if stderrors.Is(err, errAccountsChanged) {
			continue
		}
		if err != nil {
			return nil, err
		}

		return refunded, nil
	}

	return nil, ErrLedgerBusy
}

// Airdrop credits a wallet. Only meaningful on a local ledger.
func (p *Program) Airdrop(ctx context.Context, wallet Address, amount uint64) error {
	if wallet == "" || wallet == ConfigAddress() {
		return ErrInvalidAccount
	}

	return p.exec(ctx, "airdrop", []Address{wallet}, func(tx *Tx) error {
		w, err := loadWallet(tx, wallet)
		if err != nil {
			return err
		}

		w.Balance += amount
		return tx.Put(wallet, w)
	})
}

// VerifyEntry checks that signature is an entry of wallet into the round.
func (p *Program) VerifyEntry(ctx context.Context, roundID uint64, wallet Address, signature string) error {
	r, err := p.Round(ctx, roundID)
	if err != nil {
		return err
	}

	for _, e := range r.Entrants {
		if e.Signature == signature && e.Wallet == wallet {
			return nil
		}
	}

	return ErrEntryNotFound
}

func (p *Program) Config(ctx context.Context) (*ConfigAccount, error) {
	var cfg ConfigAccount
	err := p.ledger.Transact(ctx, []Address{ConfigAddress()}, func(tx *Tx) error {
		ok, err := tx.Get(ConfigAddress(), &cfg)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotInitialized
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (p *Program) Round(ctx context.Context, roundID uint64) (*RoundAccount, error) {
	var r *RoundAccount
	err := p.ledger.Transact(ctx, []Address{RoundAddress(roundID)}, func(tx *Tx) error {
		var err error
		r, err = loadRound(tx, RoundAddress(roundID))
		return err
	})
	if err != nil {
		return nil, err
	}

	return r, nil
}

func (p *Program) VaultBalance(ctx context.Context, roundID uint64) (uint64, error) {
	var v VaultAccount
	err := p.ledger.Transact(ctx, []Address{VaultAddress(roundID)}, func(tx *Tx) error {
		ok, err := tx.Get(VaultAddress(roundID), &v)
		if err != nil {
			return err
		}
		if !ok {
			return ErrRoundNotFound
		}
		return nil
	})

	return v.Balance, err
}

func (p *Program) Balance(ctx context.Context, wallet Address) (uint64, error) {
	var w WalletAccount
	err := p.ledger.Transact(ctx, []Address{wallet}, func(tx *Tx) error {
		_, err := tx.Get(wallet, &w)
		return err
	})

	return w.Balance, err
}

func (p *Program) exec(ctx context.Context, ix string, addrs []Address, fn func(tx *Tx) error) error {
	err := p.ledger.Transact(ctx, addrs, fn)

	result := "ok"
	var pe *ProgramError
	switch {
	case stderrors.As(err, &pe):
		result = pe.Name
	case err != nil:
		result = "error"
	}
	telemetry.VaultInstructions.WithLabelValues(ix, result).Inc()

	if err != nil && pe == nil && !stderrors.Is(err, errAccountsChanged) {
		return fmt.Errorf("vault: %s: %w", ix, err)
	}

	return err
}

func (p *Program) signature(roundID uint64, signer Address) string {
	id := uuid.New()

	b := append(roundid.Seed(roundID), signer...)
	b = append(b, id[:]...)
	return chainhash.HashH(b).String()
}

func authorize(tx *Tx, signer Address) (ConfigAccount, error) {
	var cfg ConfigAccount
	ok, err := tx.Get(ConfigAddress(), &cfg)
	if err != nil {
		return cfg, err
	}
	if !ok {
		return cfg, ErrNotInitialized
	}
	if cfg.Authority != signer {
		return cfg, ErrUnauthorized
	}

	return cfg, nil
}

// checkSigner rejects a wallet signer that aliases one of the program's own accounts.
func checkSigner(signer Address, roundID uint64) error {
	switch signer {
	case "", ConfigAddress(), RoundAddress(roundID), VaultAddress(roundID):
		return ErrInvalidAccount
	}

	return nil
}

// loadWallet reads a system account. Program-owned accounts do not decode as wallets.
func loadWallet(tx *Tx, addr Address) (*WalletAccount, error) {
	var w WalletAccount
	if _, err := tx.getExact(addr, &w); err != nil {
		return nil, err
	}

	return &w, nil
}

func loadRound(tx *Tx, ra Address) (*RoundAccount, error) {
	var r RoundAccount
	ok, err := tx.Get(ra, &r)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRoundNotFound
	}

	return &r, nil
}

func checkUnsettled(r *RoundAccount) error {
	switch r.Status {
	case RoundFinalized:
		return ErrAlreadyFinalized
	case RoundRefunded:
		return ErrAlreadyRefunded
	}

	return nil
}

// putAll stages (address, value) pairs.
func putAll(tx *Tx, kv ...any) error {
	for i := 0; i+1 < len(kv); i += 2 {
		if err := tx.Put(kv[i].(Address), kv[i+1]); err != nil {
			return err
		}
	}

	return nil
}
