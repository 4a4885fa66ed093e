// Package auction implements the English auction. Bidders freeze escrow
// toward the auction address; only the leading bid stays frozen, every
// outbid amount is released immediately.
package auction

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/tolelom/dmachain/core"
	"github.com/tolelom/dmachain/events"
	"github.com/tolelom/dmachain/vm"
	"github.com/tolelom/dmachain/vm/modules/escrow"
	"github.com/tolelom/dmachain/vm/modules/nft"
	"github.com/tolelom/dmachain/vm/modules/sale"
)

const prefixAuction = "auc:"

// Record is the persisted auction state.
type Record struct {
	Address      string       `json:"address"`
	Owner        string       `json:"owner"`
	AssetID      *uint256.Int `json:"asset_id"`
	LowestValue  *uint256.Int `json:"lowest_value"`
	ClosingValue *uint256.Int `json:"closing_value"`
	CurrentValue *uint256.Int `json:"current_value"`
	Bidder       string       `json:"bidder,omitempty"`
	Finished     bool         `json:"finished"`
	Settled      bool         `json:"settled"`
	sale.Deadline
}

// Auction is a loaded auction bound to a call context.
type Auction struct {
	ctx    *vm.Context
	rec    *Record
	funds  *escrow.Ledger
	assets *nft.Registry
}

// Create opens an auction for assetID, which the caller must own. The
// current value starts at lowest; closing of zero disables the ceiling.
func Create(ctx *vm.Context, assetID, lowest, closing *uint256.Int, end int64) (*Auction, error) {
	lowest, closing = core.OrZero(lowest), core.OrZero(closing)
	if !closing.IsZero() && !lowest.Lt(closing) {
		return nil, fmt.Errorf("closing value %s not above lowest %s: %w", closing.Dec(), lowest.Dec(), core.ErrInvalidQuantity)
	}
	if err := sale.CheckEnd(ctx, end); err != nil {
		return nil, err
	}
	owner, err := nft.New(ctx).OwnerOf(core.OrZero(assetID))
	if err != nil {
		return nil, err
	}
	if owner != ctx.Caller() {
		return nil, fmt.Errorf("auction asset %s: %w", core.IDKey(assetID), core.ErrUnauthorized)
	}
	addr, err := sale.NewAddress(ctx, sale.KindAuction, prefixAuction)
	if err != nil {
		return nil, err
	}
	a := bind(ctx, &Record{
		Address:      addr,
		Owner:        owner,
		AssetID:      core.OrZero(assetID).Clone(),
		LowestValue:  lowest,
		ClosingValue: closing,
		CurrentValue: lowest.Clone(),
		Deadline:     sale.Deadline{Start: ctx.Now(), End: end},
	})
	if err := a.save(); err != nil {
		return nil, err
	}
	sale.EmitCreated(ctx, sale.KindAuction, addr, owner, end)
	return a, nil
}

// Load binds an existing auction to ctx.
func Load(ctx *vm.Context, addr string) (*Auction, error) {
	var rec Record
	if err := sale.Load(ctx, sale.KindAuction, prefixAuction, addr, &rec); err != nil {
		return nil, err
	}
	rec.LowestValue = core.OrZero(rec.LowestValue)
	rec.ClosingValue = core.OrZero(rec.ClosingValue)
	rec.CurrentValue = core.OrZero(rec.CurrentValue)
	return bind(ctx, &rec), nil
}

func bind(ctx *vm.Context, rec *Record) *Auction {
	return &Auction{
		ctx:    ctx,
		rec:    rec,
		funds:  sale.Funds(ctx, rec.Address),
		assets: sale.Assets(ctx, rec.Address),
	}
}

func (a *Auction) Address() string { return a.rec.Address }

func (a *Auction) save() error {
	return a.ctx.State.Set(prefixAuction+a.rec.Address, a.rec)
}

// BidInfo returns a copy of the auction state.
func (a *Auction) BidInfo() Record {
	return *a.rec
}

// EndTimestamp returns the start and end of the bidding window.
func (a *Auction) EndTimestamp() (int64, int64) {
	return a.rec.Start, a.rec.End
}

// Bid raises the leading bid to amount. The caller's freeze toward the
// auction must cover amount; the previous leader gets their bid back.
func (a *Auction) Bid(amount *uint256.Int) error {
	bidder := a.ctx.Caller()
	amount = core.OrZero(amount)
	if a.rec.Finished {
		return fmt.Errorf("auction %s is finished: %w", a.rec.Address, core.ErrInvalidState)
	}
	if !a.rec.Open(a.ctx.Now()) {
		return fmt.Errorf("auction %s closed at %d: %w", a.rec.Address, a.rec.End, core.ErrInvalidState)
	}
	if bidder == a.rec.Owner {
		return fmt.Errorf("owner cannot bid on own auction: %w", core.ErrUnauthorized)
	}
	if !a.rec.CurrentValue.Lt(amount) {
		return fmt.Errorf("bid %s not above %s: %w", amount.Dec(), a.rec.CurrentValue.Dec(), core.ErrInvalidQuantity)
	}
	movable, err := a.canMoveAsset()
	if err != nil {
		return err
	}
	if !movable {
		return fmt.Errorf("auction %s can no longer transfer asset %s: %w",
			a.rec.Address, a.rec.AssetID.Dec(), core.ErrInvalidState)
	}
	frozen, err := a.funds.FreezeValue(bidder, a.rec.Address)
	if err != nil {
		return err
	}
	if frozen.Lt(amount) {
		return fmt.Errorf("frozen %s below bid %s: %w", frozen.Dec(), amount.Dec(), core.ErrInsufficientFreeze)
	}

	if prev := a.rec.Bidder; prev != "" && prev != bidder {
		if err := a.funds.RevokeApprove(prev, a.rec.CurrentValue); err != nil {
			return err
		}
	}
	a.rec.Bidder = bidder
	a.rec.CurrentValue = amount.Clone()
	a.ctx.Emit(events.EventBidPlaced, map[string]any{
		"auction": a.rec.Address, "bidder": bidder, "amount": amount.Dec(),
	})

	if !a.rec.ClosingValue.IsZero() && !amount.Lt(a.rec.ClosingValue) {
		return a.finish()
	}
	return a.save()
}

// Exchange settles the auction once the deadline has passed. Anyone may call
// it. Without a bid the auction just finishes and the asset stays put.
func (a *Auction) Exchange() error {
	if a.rec.Finished {
		return fmt.Errorf("auction %s already settled: %w", a.rec.Address, core.ErrInvalidState)
	}
	if a.rec.Open(a.ctx.Now()) {
		return fmt.Errorf("auction %s runs until %d: %w", a.rec.Address, a.rec.End, core.ErrInvalidState)
	}
	return a.finish()
}

// finish marks the auction finished and, if there is a leader, moves the
// asset from its current owner to the leader and pays that owner. When the
// auction lost the right to move the asset the leader's bid is released
// instead.
func (a *Auction) finish() error {
	a.rec.Finished = true
	movable := true
	if a.rec.Bidder != "" {
		var err error
		if movable, err = a.canMoveAsset(); err != nil {
			return err
		}
	}
	if a.rec.Bidder != "" && !movable {
		if err := a.funds.RevokeApprove(a.rec.Bidder, a.rec.CurrentValue); err != nil {
			return err
		}
	}
	if a.rec.Bidder != "" && movable {
		seller, err := a.assets.OwnerOf(a.rec.AssetID)
		if err != nil {
			return err
		}
		if err := a.assets.TransferFrom(seller, a.rec.Bidder, a.rec.AssetID); err != nil {
			return err
		}
		if err := a.funds.TransferFromFreeze(a.rec.Bidder, seller, a.rec.CurrentValue); err != nil {
			return err
		}
		a.rec.Settled = true
	}
	if err := a.save(); err != nil {
		return err
	}
	a.ctx.Emit(events.EventAuctionFinished, map[string]any{
		"auction": a.rec.Address, "winner": a.rec.Bidder,
		"amount": a.rec.CurrentValue.Dec(), "settled": a.rec.Settled,
	})
	return nil
}

// canMoveAsset reports whether the asset still exists, is transferable and
// the auction holds its approval slot or operator rights over its owner.
func (a *Auction) canMoveAsset() (bool, error) {
	exists, err := a.assets.Exists(a.rec.AssetID)
	if err != nil || !exists {
		return false, err
	}
	tok, err := a.assets.TokenInfo(a.rec.AssetID)
	if err != nil {
		return false, err
	}
	if !tok.Transferable {
		return false, nil
	}
	if tok.Approved == a.rec.Address {
		return true, nil
	}
	return a.assets.IsApprovedForAll(tok.Owner, a.rec.Address)
}

// RevokeToken releases the caller's whole freeze toward the auction. The
// leading bidder cannot withdraw while the auction is still running.
func (a *Auction) RevokeToken() error {
	caller := a.ctx.Caller()
	if !a.rec.Finished && caller == a.rec.Bidder {
		return fmt.Errorf("leading bidder cannot withdraw: %w", core.ErrInvalidState)
	}
	frozen, err := a.funds.FreezeValue(caller, a.rec.Address)
	if err != nil {
		return err
	}
	if frozen.IsZero() {
		return fmt.Errorf("nothing frozen for auction %s: %w", a.rec.Address, core.ErrInsufficientFreeze)
	}
	return a.funds.RevokeApprove(caller, frozen)
}

// SetEndTimestamp overrides the deadline. Owner only.
func (a *Auction) SetEndTimestamp(end int64) error {
	if err := sale.RequireOwner(a.ctx, sale.KindAuction, a.rec.Owner); err != nil {
		return err
	}
	if a.rec.Finished {
		return fmt.Errorf("auction %s is finished: %w", a.rec.Address, core.ErrInvalidState)
	}
	a.rec.End = end
	if err := a.save(); err != nil {
		return err
	}
	sale.EmitDeadline(a.ctx, sale.KindAuction, a.rec.Address, end)
	return nil
}
