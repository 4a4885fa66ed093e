package core

import "github.com/holiman/uint256"

// Account holds a participant's available balance and replay-protection nonce.
// Address is the hex-encoded ed25519 public key, or a component address
// derived from the transaction that created it.
type Account struct {
	Address string       `json:"address"`
	Balance *uint256.Int `json:"balance"`
	Nonce   uint64       `json:"nonce"`
}

// Available returns the account balance, treating a missing value as zero.
func (a *Account) Available() *uint256.Int {
	if a.Balance == nil {
		return new(uint256.Int)
	}
	return a.Balance
}

// State is the world-state interface. Accounts are typed; every other record
// is stored as JSON under a module-owned key. Implementations must be
// snapshot-able so the executor can roll back failed transactions.
type State interface {
	GetAccount(address string) (*Account, error)
	SetAccount(account *Account) error

	// Get decodes the record at key into v. Returns ErrNotFound if absent.
	Get(key string, v any) error
	Set(key string, v any) error
	Has(key string) (bool, error)
	Delete(key string) error

	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	// ComputeRoot returns the deterministic state root from the current write
	// buffer without flushing. Call this before signing a block.
	ComputeRoot() string
	// Commit flushes the write buffer to the underlying DB and clears it.
	Commit() error
	// Discard drops the write buffer, e.g. after a rejected block.
	Discard()
}
