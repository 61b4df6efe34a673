package vault

import (
	"fmt"
)

// ProgramError is a custom program error as reported by the ledger when an instruction fails.
type ProgramError struct {
	Code uint32
	Name string
	Msg  string
}

func (e *ProgramError) Error() string {
	return fmt.Sprintf("Error processing Instruction 0: custom program error: 0x%x (%s: %s)", e.Code, e.Name, e.Msg)
}

func (e *ProgramError) Is(target error) bool {
	t, ok := target.(*ProgramError)
	return ok && t.Code == e.Code
}

const errorCodeOffset = 6000

var (
	ErrAlreadyInitialized = newProgramError(0, "AlreadyInitialized", "program config already initialized")
	ErrNotInitialized     = newProgramError(1, "NotInitialized", "program config account not initialized")
	ErrUnauthorized       = newProgramError(2, "Unauthorized", "signer is not the program authority")
	ErrRoundExists        = newProgramError(3, "RoundExists", "round account already in use")
	ErrRoundNotFound      = newProgramError(4, "AccountNotInitialized", "round account not initialized")
	ErrRoundNotOpen       = newProgramError(5, "RoundNotOpen", "round is not accepting entries")
	ErrInsufficientFunds  = newProgramError(6, "InsufficientFunds", "insufficient lamports")
	ErrAlreadyFinalized   = newProgramError(7, "AlreadyFinalized", "winners already posted for round")
	ErrAlreadyRefunded    = newProgramError(8, "AlreadyRefunded", "round already refunded")
	ErrRoundNotFinalized  = newProgramError(9, "RoundNotFinalized", "winners not posted for round")
	ErrNotAWinner         = newProgramError(10, "NotAWinner", "signer is not a winner of round")
	ErrAlreadyClaimed     = newProgramError(11, "AlreadyClaimed", "prize already claimed")
	ErrPayoutExceedsVault = newProgramError(12, "PayoutExceedsVault", "winner amounts exceed vault balance")
	ErrInvalidWinners     = newProgramError(13, "InvalidWinners", "exactly 5 non-empty winner wallets required")
	ErrEntryNotFound      = newProgramError(14, "EntryNotFound", "no entry with signature for wallet in round")
	ErrInvalidAccount     = newProgramError(15, "InvalidAccount", "account is not declared by the instruction")
)

func newProgramError(n uint32, name, msg string) *ProgramError {
	return &ProgramError{Code: errorCodeOffset + n, Name: name, Msg: msg}
}
