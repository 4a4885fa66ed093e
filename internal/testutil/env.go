package testutil

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/tolelom/dmachain/core"
	"github.com/tolelom/dmachain/crypto"
	"github.com/tolelom/dmachain/storage"
	"github.com/tolelom/dmachain/vm"
)

// Addr returns a stable 32-byte hex address for a test principal.
func Addr(name string) string {
	return crypto.Hash([]byte("principal:" + name))
}

// U is shorthand for uint256.NewInt.
func U(n uint64) *uint256.Int {
	return uint256.NewInt(n)
}

// Env drives ledger components directly, without signatures or fees. Each
// Ctx call simulates a new transaction in the current block.
type Env struct {
	State    *storage.StateDB
	Now      int64 // unix seconds
	Height   int64
	Seed     string
	Proposer string

	txSeq int
}

// NewEnv returns an Env at a fixed clock.
func NewEnv() *Env {
	return &Env{
		State:    NewStateDB(),
		Now:      1_700_000_000,
		Height:   1,
		Seed:     crypto.Hash([]byte("seed")),
		Proposer: Addr("proposer"),
	}
}

// Ctx builds a context whose caller is caller.
func (e *Env) Ctx(caller string) *vm.Context {
	e.txSeq++
	block := &core.Block{Header: core.BlockHeader{
		Height:    e.Height,
		Timestamp: e.Now * int64(time.Second),
		Proposer:  e.Proposer,
		Seed:      e.Seed,
	}}
	tx := &core.Transaction{
		ID:   crypto.Hash([]byte(fmt.Sprintf("tx:%d", e.txSeq))),
		From: caller,
	}
	return vm.NewContext(e.State, block, tx)
}

// Advance moves the clock forward.
func (e *Env) Advance(d time.Duration) {
	e.Now += int64(d / time.Second)
	e.Height++
}

// Fund credits addr directly, bypassing the issuer.
func (e *Env) Fund(addr string, amount uint64) {
	acc, err := e.State.GetAccount(addr)
	if err != nil {
		panic(err)
	}
	acc.Balance = new(uint256.Int).Add(acc.Available(), uint256.NewInt(amount))
	if err := e.State.SetAccount(acc); err != nil {
		panic(err)
	}
}

// Balance returns the available balance of addr as uint64.
func (e *Env) Balance(addr string) uint64 {
	acc, err := e.State.GetAccount(addr)
	if err != nil {
		panic(err)
	}
	return acc.Available().Uint64()
}
