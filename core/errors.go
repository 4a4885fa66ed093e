package core

import "errors"

// ErrNotFound is returned when a requested object does not exist in storage.
var ErrNotFound = errors.New("not found")

// Rejection classes shared by every ledger module. Handlers wrap these with
// context; callers classify with errors.Is.
var (
	// ErrUnauthorized: caller is not the owner, approved spender or operator.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInsufficientFunds: available balance or allowance below the amount.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInsufficientFreeze: frozen escrow below the amount.
	ErrInsufficientFreeze = errors.New("insufficient frozen balance")
	// ErrInvalidState: target missing, finished, not yet or no longer eligible.
	ErrInvalidState = errors.New("invalid state")
	// ErrInvalidQuantity: zero, overflowing or over-capacity counts and amounts.
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrOwnershipConflict: duplicate mint, non-transferable asset, occupied slot.
	ErrOwnershipConflict = errors.New("ownership conflict")
)
