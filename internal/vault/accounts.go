package vault

// RoundStatus is the on-chain status of a round account.
type RoundStatus string

const (
	RoundOpen      RoundStatus = "open"
	RoundFinalized RoundStatus = "finalized"
	RoundRefunded  RoundStatus = "refunded"
)

// Winners is the number of winner slots posted per round.
const Winners = 5

// ConfigAccount is the program-wide settings account created by Initialize.
type ConfigAccount struct {
	Authority Address `json:"authority"`
	EntryFee  uint64  `json:"entry_fee"`
	Rounds    uint64  `json:"rounds"`
}

// RoundAccount is the round-state account.
type RoundAccount struct {
	RoundID  uint64       `json:"round_id"`
	Status   RoundStatus  `json:"status"`
	EntryFee uint64       `json:"entry_fee"`
	Vault    Address      `json:"vault"`
	Entrants []Entry      `json:"entrants"`
	Winners  []WinnerSlot `json:"winners,omitempty"`
}

// Entry is a paid entry. Signature is the transaction signature returned to the payer.
type Entry struct {
	Wallet    Address `json:"wallet"`
	Amount    uint64  `json:"amount"`
	Signature string  `json:"signature"`
	Time      int64   `json:"time"`
}

// WinnerSlot is a ranked prize posted by the authority.
type WinnerSlot struct {
	Wallet  Address `json:"wallet"`
	Amount  uint64  `json:"amount"`
	Claimed bool    `json:"claimed"`
}

// VaultAccount holds the lamports contributed to a round.
type VaultAccount struct {
	RoundID uint64 `json:"round_id"`
	Balance uint64 `json:"balance"`
}

// WalletAccount is a system account balance.
type WalletAccount struct {
	Balance uint64 `json:"balance"`
}
