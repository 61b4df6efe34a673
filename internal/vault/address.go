package vault

import (
	"github.com/decred/dcrd/chaincfg/chainhash"

	"github.com/victornm/triviapot/internal/roundid"
)

// ProgramID identifies the vault program. It is mixed into every derived address.
const ProgramID = "TrivPotVau1t111111111111111111111111111111"

const pdaMarker = "ProgramDerivedAddress"

var (
	seedConfig = []byte("config")
	seedRound  = []byte("round")
	seedVault  = []byte("vault")
)

// Address is an account address on the ledger. Wallet addresses are opaque strings.
type Address string

// DeriveAddress computes a program-derived address from seeds. The same seeds always yield the same address.
func DeriveAddress(seeds ...[]byte) Address {
	var b []byte
	for _, s := range seeds {
		b = append(b, s...)
	}
	b = append(b, ProgramID...)
	b = append(b, pdaMarker...)

	return Address(chainhash.HashH(b).String())
}

func ConfigAddress() Address {
	return DeriveAddress(seedConfig)
}

// RoundAddress is the round-state account for a round ID.
func RoundAddress(roundID uint64) Address {
	return DeriveAddress(seedRound, roundid.Seed(roundID))
}

// VaultAddress is the fund account holding a round's entry fees.
func VaultAddress(roundID uint64) Address {
	return DeriveAddress(seedVault, roundid.Seed(roundID))
}
