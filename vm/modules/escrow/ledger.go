// Package escrow implements the fungible credit ledger: available balances,
// spend allowances and a frozen escrow bucket per (owner, spender) pair.
package escrow

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/tolelom/dmachain/core"
	"github.com/tolelom/dmachain/events"
	"github.com/tolelom/dmachain/vm"
)

const (
	keyInfo         = "tok:info"
	prefixFrozen    = "tok:frz:"
	prefixAllowance = "tok:alw:"
)

// TokenInfo describes the credit instrument.
type TokenInfo struct {
	Name        string       `json:"name"`
	Symbol      string       `json:"symbol"`
	Decimals    uint8        `json:"decimals"`
	TotalSupply *uint256.Int `json:"total_supply"`
	Issuer      string       `json:"issuer"`
}

// Ledger is the escrow ledger as seen by ctx.Caller().
type Ledger struct {
	ctx *vm.Context
}

// New binds the ledger to ctx. Sale components pass ctx.As(self).
func New(ctx *vm.Context) *Ledger {
	return &Ledger{ctx: ctx}
}

func pairKey(prefix, owner, spender string) string {
	return prefix + owner + ":" + spender
}

// Genesis records token info and credits the initial allocation. The total
// supply is the sum of alloc.
func Genesis(state core.State, info TokenInfo, alloc map[string]*uint256.Int) error {
	total := new(uint256.Int)
	for addr, amount := range alloc {
		acc, err := state.GetAccount(addr)
		if err != nil {
			return err
		}
		bal, err := core.SafeAdd(acc.Available(), amount)
		if err != nil {
			return err
		}
		acc.Balance = bal
		if err := state.SetAccount(acc); err != nil {
			return err
		}
		if total, err = core.SafeAdd(total, amount); err != nil {
			return err
		}
	}
	info.TotalSupply = total
	return state.Set(keyInfo, &info)
}

// ---- queries ----

// Info returns the token description and current total supply.
func (l *Ledger) Info() (*TokenInfo, error) {
	var info TokenInfo
	if err := l.ctx.State.Get(keyInfo, &info); err != nil {
		return nil, fmt.Errorf("token info: %w", err)
	}
	info.TotalSupply = core.OrZero(info.TotalSupply)
	return &info, nil
}

func (l *Ledger) TotalSupply() (*uint256.Int, error) {
	info, err := l.Info()
	if err != nil {
		return nil, err
	}
	return info.TotalSupply, nil
}

// BalanceOf returns the available (unfrozen) balance of addr.
func (l *Ledger) BalanceOf(addr string) (*uint256.Int, error) {
	acc, err := l.ctx.State.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return acc.Available(), nil
}

func (l *Ledger) Allowance(owner, spender string) (*uint256.Int, error) {
	return l.getPair(prefixAllowance, owner, spender)
}

// FreezeValue returns the amount owner has frozen in favour of spender.
func (l *Ledger) FreezeValue(owner, spender string) (*uint256.Int, error) {
	return l.getPair(prefixFrozen, owner, spender)
}

// ---- mutations ----

// Transfer moves amount from the caller's available balance to to.
func (l *Ledger) Transfer(to string, amount *uint256.Int) error {
	from := l.ctx.Caller()
	if err := checkAmount(amount); err != nil {
		return err
	}
	if err := checkRecipient(to); err != nil {
		return err
	}
	if err := l.debit(from, amount); err != nil {
		return err
	}
	if err := l.credit(to, amount); err != nil {
		return err
	}
	l.emitTransfer(from, to, amount)
	return nil
}

// Approve sets the allowance of spender over the caller's balance. Moving
// from one non-zero allowance to another is refused: the caller must reset
// it to zero first.
func (l *Ledger) Approve(spender string, amount *uint256.Int) error {
	owner := l.ctx.Caller()
	if spender == "" || spender == owner {
		return fmt.Errorf("approve: invalid spender: %w", core.ErrUnauthorized)
	}
	amount = core.OrZero(amount)
	cur, err := l.Allowance(owner, spender)
	if err != nil {
		return err
	}
	if !cur.IsZero() && !amount.IsZero() {
		return fmt.Errorf("approve: allowance of %s must be reset to zero first: %w", cur.Dec(), core.ErrInvalidState)
	}
	if err := l.setPair(prefixAllowance, owner, spender, amount); err != nil {
		return err
	}
	l.ctx.Emit(events.EventApproval, map[string]any{
		"owner": owner, "spender": spender, "amount": amount.Dec(),
	})
	return nil
}

// TransferFrom spends the caller's allowance over owner.
func (l *Ledger) TransferFrom(owner, to string, amount *uint256.Int) error {
	spender := l.ctx.Caller()
	if err := checkAmount(amount); err != nil {
		return err
	}
	if err := checkRecipient(to); err != nil {
		return err
	}
	allowed, err := l.Allowance(owner, spender)
	if err != nil {
		return err
	}
	if allowed.Lt(amount) {
		return fmt.Errorf("allowance %s < %s: %w", allowed.Dec(), amount.Dec(), core.ErrInsufficientFunds)
	}
	if err := l.debit(owner, amount); err != nil {
		return err
	}
	if err := l.credit(to, amount); err != nil {
		return err
	}
	if err := l.setPair(prefixAllowance, owner, spender, new(uint256.Int).Sub(allowed, amount)); err != nil {
		return err
	}
	l.emitTransfer(owner, to, amount)
	return nil
}

// ApproveFreeze moves amount from the caller's available balance into the
// bucket only spender can draw from. Repeated freezes accumulate.
func (l *Ledger) ApproveFreeze(spender string, amount *uint256.Int) error {
	owner := l.ctx.Caller()
	if err := checkAmount(amount); err != nil {
		return err
	}
	if spender == "" || spender == owner {
		return fmt.Errorf("freeze: invalid spender: %w", core.ErrUnauthorized)
	}
	if err := l.debit(owner, amount); err != nil {
		return err
	}
	frozen, err := l.FreezeValue(owner, spender)
	if err != nil {
		return err
	}
	if frozen, err = core.SafeAdd(frozen, amount); err != nil {
		return err
	}
	if err := l.setPair(prefixFrozen, owner, spender, frozen); err != nil {
		return err
	}
	l.ctx.Emit(events.EventApprovalFreeze, map[string]any{
		"owner": owner, "spender": spender, "amount": amount.Dec(), "frozen": frozen.Dec(),
	})
	return nil
}

// TransferFromFreeze pays to out of the bucket owner froze for the caller.
func (l *Ledger) TransferFromFreeze(owner, to string, amount *uint256.Int) error {
	spender := l.ctx.Caller()
	if err := checkAmount(amount); err != nil {
		return err
	}
	if err := checkRecipient(to); err != nil {
		return err
	}
	if err := l.takeFrozen(owner, spender, amount); err != nil {
		return err
	}
	if err := l.credit(to, amount); err != nil {
		return err
	}
	l.emitTransfer(owner, to, amount)
	return nil
}

// RevokeApprove returns amount from the bucket owner froze for the caller
// back to owner's available balance.
func (l *Ledger) RevokeApprove(owner string, amount *uint256.Int) error {
	spender := l.ctx.Caller()
	if err := checkAmount(amount); err != nil {
		return err
	}
	if err := l.takeFrozen(owner, spender, amount); err != nil {
		return err
	}
	if err := l.credit(owner, amount); err != nil {
		return err
	}
	l.ctx.Emit(events.EventRevokeApprove, map[string]any{
		"owner": owner, "spender": spender, "amount": amount.Dec(),
	})
	return nil
}

// AddIssue mints new supply to to. Only the issuer may call it.
func (l *Ledger) AddIssue(to string, amount *uint256.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	info, err := l.Info()
	if err != nil {
		return err
	}
	if l.ctx.Caller() != info.Issuer {
		return fmt.Errorf("add issue: caller is not the issuer: %w", core.ErrUnauthorized)
	}
	if info.TotalSupply, err = core.SafeAdd(info.TotalSupply, amount); err != nil {
		return err
	}
	if err := l.credit(to, amount); err != nil {
		return err
	}
	if err := l.ctx.State.Set(keyInfo, info); err != nil {
		return err
	}
	l.emitTransfer("", to, amount)
	return nil
}

// ---- helpers ----

func checkAmount(amount *uint256.Int) error {
	if core.IsZero(amount) {
		return fmt.Errorf("amount must be > 0: %w", core.ErrInvalidQuantity)
	}
	return nil
}

func checkRecipient(to string) error {
	if to == "" {
		return fmt.Errorf("transfer: empty recipient: %w", core.ErrInvalidState)
	}
	return nil
}

func (l *Ledger) debit(addr string, amount *uint256.Int) error {
	acc, err := l.ctx.State.GetAccount(addr)
	if err != nil {
		return err
	}
	if acc.Available().Lt(amount) {
		return fmt.Errorf("balance %s < %s: %w", acc.Available().Dec(), amount.Dec(), core.ErrInsufficientFunds)
	}
	acc.Balance = new(uint256.Int).Sub(acc.Available(), amount)
	return l.ctx.State.SetAccount(acc)
}

func (l *Ledger) credit(addr string, amount *uint256.Int) error {
	acc, err := l.ctx.State.GetAccount(addr)
	if err != nil {
		return err
	}
	bal, err := core.SafeAdd(acc.Available(), amount)
	if err != nil {
		return err
	}
	acc.Balance = bal
	return l.ctx.State.SetAccount(acc)
}

func (l *Ledger) takeFrozen(owner, spender string, amount *uint256.Int) error {
	frozen, err := l.FreezeValue(owner, spender)
	if err != nil {
		return err
	}
	if frozen.Lt(amount) {
		return fmt.Errorf("frozen %s < %s: %w", frozen.Dec(), amount.Dec(), core.ErrInsufficientFreeze)
	}
	return l.setPair(prefixFrozen, owner, spender, new(uint256.Int).Sub(frozen, amount))
}

func (l *Ledger) getPair(prefix, owner, spender string) (*uint256.Int, error) {
	v := new(uint256.Int)
	err := l.ctx.State.Get(pairKey(prefix, owner, spender), v)
	if errors.Is(err, core.ErrNotFound) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// setPair deletes zero entries so drained buckets leave no state behind.
func (l *Ledger) setPair(prefix, owner, spender string, v *uint256.Int) error {
	key := pairKey(prefix, owner, spender)
	if v.IsZero() {
		return l.ctx.State.Delete(key)
	}
	return l.ctx.State.Set(key, v)
}

func (l *Ledger) emitTransfer(from, to string, amount *uint256.Int) {
	l.ctx.Emit(events.EventTransfer, map[string]any{
		"from": from, "to": to, "amount": amount.Dec(),
	})
}
