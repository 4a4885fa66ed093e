package vm

import (
	"errors"
	"fmt"
	"math"

	"github.com/holiman/uint256"

	"github.com/tolelom/dmachain/core"
	"github.com/tolelom/dmachain/events"
)

// Executor applies transactions to the state using the global Handler registry.
type Executor struct {
	state   core.State
	emitter *events.Emitter
	chainID string
}

// NewExecutor creates an Executor. Transactions for any other chainID are
// rejected; an empty chainID accepts all.
func NewExecutor(state core.State, emitter *events.Emitter, chainID string) *Executor {
	return &Executor{state: state, emitter: emitter, chainID: chainID}
}

// ExecuteBlock applies all transactions in block sequentially.
// A failing transaction causes the whole block to be rejected.
func (e *Executor) ExecuteBlock(block *core.Block) error {
	for _, tx := range block.Transactions {
		if err := e.ExecuteTx(block, tx); err != nil {
			return fmt.Errorf("tx %s failed: %w", tx.ID, err)
		}
	}
	return nil
}

// ExecuteTx verifies and executes a single transaction. Every state write of
// a failed transaction is reverted, including the fee and nonce.
func (e *Executor) ExecuteTx(block *core.Block, tx *core.Transaction) error {
	if e.chainID != "" && tx.ChainID != e.chainID {
		return fmt.Errorf("chain id mismatch: got %q want %q", tx.ChainID, e.chainID)
	}
	if err := tx.Verify(); err != nil {
		return fmt.Errorf("signature: %w", err)
	}

	snapID, err := e.state.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	ctx := NewContext(e.state, block, tx)
	if err := e.applyTx(ctx); err != nil {
		if revertErr := e.state.RevertToSnapshot(snapID); revertErr != nil {
			return fmt.Errorf("revert snapshot after tx failure: %w (revert: %v)", err, revertErr)
		}
		return err
	}

	if e.emitter != nil {
		for _, ev := range ctx.Events() {
			e.emitter.Emit(ev)
		}
		e.emitter.Emit(events.Event{
			Type:        events.EventTxExecuted,
			TxID:        tx.ID,
			BlockHeight: block.Header.Height,
			Data:        map[string]any{"type": string(tx.Type), "from": tx.From},
		})
	}
	return nil
}

// applyTx moves the fee to the proposer, increments the nonce, then
// dispatches to the handler.
func (e *Executor) applyTx(ctx *Context) error {
	tx := ctx.Tx
	acc, err := e.state.GetAccount(tx.From)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	if acc.Nonce != tx.Nonce {
		return fmt.Errorf("invalid nonce: expected %d got %d", acc.Nonce, tx.Nonce)
	}
	if acc.Nonce == math.MaxUint64 {
		return fmt.Errorf("nonce overflow for account %s", tx.From)
	}
	fee := uint256.NewInt(tx.Fee)
	if acc.Available().Lt(fee) {
		return fmt.Errorf("fee %d: %w", tx.Fee, core.ErrInsufficientFunds)
	}
	acc.Balance = new(uint256.Int).Sub(acc.Available(), fee)
	acc.Nonce++
	if err := e.state.SetAccount(acc); err != nil {
		return err
	}
	if !fee.IsZero() {
		if err := e.creditProposer(ctx.Block, fee); err != nil {
			return err
		}
	}
	return globalRegistry.Execute(tx.Type, ctx, tx.Payload)
}

// creditProposer keeps fees inside the circulating supply.
func (e *Executor) creditProposer(block *core.Block, fee *uint256.Int) error {
	if block == nil || block.Header.Proposer == "" {
		return errors.New("fee charged without a block proposer")
	}
	prop, err := e.state.GetAccount(block.Header.Proposer)
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(prop.Available(), fee)
	if overflow {
		return fmt.Errorf("proposer balance: %w", core.ErrInvalidQuantity)
	}
	prop.Balance = sum
	return e.state.SetAccount(prop)
}
