// Package sale holds what the marketplace, auction, lottery and pre-sale
// components share: instance addressing, deadline bookkeeping and the
// ledger/registry handles a component uses when acting as itself.
package sale

import (
	"errors"
	"fmt"

	"github.com/tolelom/dmachain/core"
	"github.com/tolelom/dmachain/crypto"
	"github.com/tolelom/dmachain/events"
	"github.com/tolelom/dmachain/vm"
	"github.com/tolelom/dmachain/vm/modules/escrow"
	"github.com/tolelom/dmachain/vm/modules/nft"
)

// Component kinds, also used as the address salt.
const (
	KindMarket  = "market"
	KindAuction = "auction"
	KindLottery = "lottery"
	KindPreSale = "presale"
)

// Deadline is the time box of an auction, lottery or pre-sale, in unix
// seconds.
type Deadline struct {
	Start int64 `json:"start_timestamp"`
	End   int64 `json:"end_timestamp"`
}

// Open reports whether now is before the end.
func (d Deadline) Open(now int64) bool { return now < d.End }

// NewAddress derives the address of a component created by the current
// transaction and makes sure nothing lives there yet.
func NewAddress(ctx *vm.Context, kind, key string) (string, error) {
	if ctx.TxID() == "" {
		return "", fmt.Errorf("create %s outside a transaction: %w", kind, core.ErrInvalidState)
	}
	addr := crypto.ComponentAddress(ctx.TxID(), kind)
	exists, err := ctx.State.Has(key + addr)
	if err != nil {
		return "", err
	}
	if exists {
		return "", fmt.Errorf("%s %s already exists: %w", kind, addr, core.ErrOwnershipConflict)
	}
	return addr, nil
}

// Load reads a component record, mapping a missing record to
// ErrInvalidState.
func Load(ctx *vm.Context, kind, key, addr string, v any) error {
	err := ctx.State.Get(key+addr, v)
	if errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("%s %s does not exist: %w", kind, addr, core.ErrInvalidState)
	}
	return err
}

// Funds is the escrow ledger acting as the component.
func Funds(ctx *vm.Context, addr string) *escrow.Ledger {
	return escrow.New(ctx.As(addr))
}

// Assets is the asset registry acting as the component.
func Assets(ctx *vm.Context, addr string) *nft.Registry {
	return nft.New(ctx.As(addr))
}

// CheckEnd validates a new deadline against the block clock.
func CheckEnd(ctx *vm.Context, end int64) error {
	if end <= ctx.Now() {
		return fmt.Errorf("end timestamp %d not after %d: %w", end, ctx.Now(), core.ErrInvalidState)
	}
	return nil
}

// EmitCreated announces a new component. end is zero for components
// without a deadline.
func EmitCreated(ctx *vm.Context, kind, addr, owner string, end int64) {
	ctx.Emit(events.EventComponentCreated, map[string]any{
		"kind": kind, "address": addr, "owner": owner, "end_timestamp": end,
	})
}

// EmitDeadline announces a deadline override.
func EmitDeadline(ctx *vm.Context, kind, addr string, end int64) {
	ctx.Emit(events.EventDeadlineChanged, map[string]any{
		"kind": kind, "address": addr, "end_timestamp": end,
	})
}

// RequireOwner fails unless the caller is owner.
func RequireOwner(ctx *vm.Context, kind, owner string) error {
	if ctx.Caller() != owner {
		return fmt.Errorf("%s: caller is not the owner: %w", kind, core.ErrUnauthorized)
	}
	return nil
}
