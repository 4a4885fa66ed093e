// Package presale implements reservation with deferred minting. Buyers
// reserve quantity against a capped inventory while the sale is open; after
// the deadline each order is minted as a fresh range and paid out of the
// buyer's freeze, either by the buyer or by the platform in FIFO order.
package presale

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/tolelom/dmachain/core"
	"github.com/tolelom/dmachain/crypto"
	"github.com/tolelom/dmachain/events"
	"github.com/tolelom/dmachain/vm"
	"github.com/tolelom/dmachain/vm/modules/escrow"
	"github.com/tolelom/dmachain/vm/modules/nft"
	"github.com/tolelom/dmachain/vm/modules/sale"
)

const prefixPreSale = "pre:"

// Record is the persisted instance.
type Record struct {
	Address string `json:"address"`
	Owner   string `json:"owner"`
	sale.Deadline
}

// Inventory is a registered batch root.
type Inventory struct {
	Seller       string       `json:"seller"`
	BaseID       *uint256.Int `json:"base_id"`
	MaxQuantity  uint64       `json:"max_quantity"`
	UnitPrice    *uint256.Int `json:"unit_price"`
	URI          string       `json:"uri"`
	TotalOrdered uint64       `json:"total_ordered"`
	Minted       uint64       `json:"minted"`
	QueueHead    uint64       `json:"queue_head"`
	QueueLen     uint64       `json:"queue_len"`
}

// Order is one buyer's reservation on a batch root. Repeated orders merge.
type Order struct {
	Buyer    string       `json:"buyer"`
	BaseID   *uint256.Int `json:"base_id"`
	Quantity uint64       `json:"quantity"`
	Receiver string       `json:"receiver"`
	Queued   bool         `json:"queued"`
}

// PreSale is a loaded instance bound to a call context.
type PreSale struct {
	ctx    *vm.Context
	rec    *Record
	funds  *escrow.Ledger
	assets *nft.Registry
}

// Create opens a pre-sale owned by the caller that takes orders until end.
func Create(ctx *vm.Context, end int64) (*PreSale, error) {
	if err := sale.CheckEnd(ctx, end); err != nil {
		return nil, err
	}
	addr, err := sale.NewAddress(ctx, sale.KindPreSale, prefixPreSale)
	if err != nil {
		return nil, err
	}
	ps := bind(ctx, &Record{
		Address:  addr,
		Owner:    ctx.Caller(),
		Deadline: sale.Deadline{Start: ctx.Now(), End: end},
	})
	if err := ps.save(); err != nil {
		return nil, err
	}
	sale.EmitCreated(ctx, sale.KindPreSale, addr, ps.rec.Owner, end)
	return ps, nil
}

// Load binds an existing pre-sale to ctx.
func Load(ctx *vm.Context, addr string) (*PreSale, error) {
	var rec Record
	if err := sale.Load(ctx, sale.KindPreSale, prefixPreSale, addr, &rec); err != nil {
		return nil, err
	}
	return bind(ctx, &rec), nil
}

func bind(ctx *vm.Context, rec *Record) *PreSale {
	return &PreSale{
		ctx:    ctx,
		rec:    rec,
		funds:  sale.Funds(ctx, rec.Address),
		assets: sale.Assets(ctx, rec.Address),
	}
}

func (ps *PreSale) Address() string { return ps.rec.Address }

func (ps *PreSale) save() error {
	return ps.ctx.State.Set(prefixPreSale+ps.rec.Address, ps.rec)
}

func (ps *PreSale) key(parts ...string) string {
	k := prefixPreSale + ps.rec.Address
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (ps *PreSale) inventoryKey(base *uint256.Int) string {
	return ps.key("inv", core.IDKey(base))
}

func (ps *PreSale) orderKey(base *uint256.Int, buyer string) string {
	return ps.key("ord", core.IDKey(base), buyer)
}

func (ps *PreSale) queueKey(base *uint256.Int, i uint64) string {
	return ps.key("q", core.IDKey(base), fmt.Sprint(i))
}

// committedKey holds the part of buyer's freeze already promised to orders
// of this pre-sale, across all batch roots.
func (ps *PreSale) committedKey(buyer string) string {
	return ps.key("cmt", buyer)
}

// ---- queries ----

func (ps *PreSale) EndTimestamp() (int64, int64) {
	return ps.rec.Start, ps.rec.End
}

// RegisterInfo returns the inventory registered for base.
func (ps *PreSale) RegisterInfo(base *uint256.Int) (*Inventory, error) {
	var inv Inventory
	err := ps.ctx.State.Get(ps.inventoryKey(base), &inv)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("base %s is not registered: %w", core.IDKey(base), core.ErrInvalidState)
	}
	if err != nil {
		return nil, err
	}
	inv.BaseID = core.OrZero(inv.BaseID)
	inv.UnitPrice = core.OrZero(inv.UnitPrice)
	return &inv, nil
}

// OrderInfo returns buyer's order on base; a buyer without one gets an empty
// order.
func (ps *PreSale) OrderInfo(buyer string, base *uint256.Int) (*Order, error) {
	var o Order
	err := ps.ctx.State.Get(ps.orderKey(base, buyer), &o)
	if errors.Is(err, core.ErrNotFound) {
		return &Order{Buyer: buyer, BaseID: core.OrZero(base).Clone()}, nil
	}
	if err != nil {
		return nil, err
	}
	o.BaseID = core.OrZero(o.BaseID)
	return &o, nil
}

// OrderCount is the number of units currently reserved or minted on base.
func (ps *PreSale) OrderCount(base *uint256.Int) (uint64, error) {
	inv, err := ps.RegisterInfo(base)
	if err != nil {
		return 0, err
	}
	return inv.TotalOrdered, nil
}

func (ps *PreSale) committed(buyer string) (*uint256.Int, error) {
	v := new(uint256.Int)
	err := ps.ctx.State.Get(ps.committedKey(buyer), v)
	if errors.Is(err, core.ErrNotFound) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (ps *PreSale) setCommitted(buyer string, v *uint256.Int) error {
	if v.IsZero() {
		return ps.ctx.State.Delete(ps.committedKey(buyer))
	}
	return ps.ctx.State.Set(ps.committedKey(buyer), v)
}

// ---- registration ----

// RegistAsset puts base up for pre-sale. The seller must have made the
// pre-sale an operator in the registry so it can mint on their behalf.
func (ps *PreSale) RegistAsset(seller string, base *uint256.Int, maxQuantity uint64, price *uint256.Int, uri string) error {
	caller := ps.ctx.Caller()
	if caller != seller && caller != ps.rec.Owner {
		return fmt.Errorf("register for %s: %w", seller, core.ErrUnauthorized)
	}
	if !ps.rec.Open(ps.ctx.Now()) {
		return fmt.Errorf("pre-sale %s closed at %d: %w", ps.rec.Address, ps.rec.End, core.ErrInvalidState)
	}
	if maxQuantity == 0 {
		return fmt.Errorf("max quantity must be > 0: %w", core.ErrInvalidQuantity)
	}
	if core.IsZero(price) {
		return fmt.Errorf("unit price must be > 0: %w", core.ErrInvalidQuantity)
	}
	if _, err := core.SafeMulU64(price, maxQuantity); err != nil {
		return err
	}
	op, err := ps.assets.IsApprovedForAll(seller, ps.rec.Address)
	if err != nil {
		return err
	}
	if !op {
		return fmt.Errorf("seller %s has not made the pre-sale an operator: %w", seller, core.ErrUnauthorized)
	}
	base = core.OrZero(base)
	exists, err := ps.ctx.State.Has(ps.inventoryKey(base))
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("base %s already registered: %w", base.Dec(), core.ErrOwnershipConflict)
	}
	inv := &Inventory{
		Seller:      seller,
		BaseID:      base.Clone(),
		MaxQuantity: maxQuantity,
		UnitPrice:   price.Clone(),
		URI:         uri,
	}
	if err := ps.ctx.State.Set(ps.inventoryKey(base), inv); err != nil {
		return err
	}
	ps.ctx.Emit(events.EventAssetRegistered, map[string]any{
		"presale": ps.rec.Address, "seller": seller, "base_id": base.Dec(),
		"max_quantity": maxQuantity, "unit_price": price.Dec(),
	})
	return nil
}

// ---- ordering ----

// Order reserves quantity units of base for the caller. An empty receiver
// keeps the order's previous receiver, or the buyer on a first order.
func (ps *PreSale) Order(base *uint256.Int, quantity uint64, receiver string) error {
	buyer := ps.ctx.Caller()
	if !ps.rec.Open(ps.ctx.Now()) {
		return fmt.Errorf("pre-sale %s closed at %d: %w", ps.rec.Address, ps.rec.End, core.ErrInvalidState)
	}
	if quantity == 0 {
		return fmt.Errorf("order quantity must be > 0: %w", core.ErrInvalidQuantity)
	}
	if receiver != "" && !crypto.IsAddress(receiver) {
		return fmt.Errorf("invalid receiver %q: %w", receiver, core.ErrInvalidState)
	}
	inv, err := ps.RegisterInfo(base)
	if err != nil {
		return err
	}
	total := inv.TotalOrdered + quantity
	if total < inv.TotalOrdered || total > inv.MaxQuantity {
		return fmt.Errorf("order of %d exceeds remaining %d: %w",
			quantity, inv.MaxQuantity-inv.TotalOrdered, core.ErrInvalidQuantity)
	}
	cost, err := core.SafeMulU64(inv.UnitPrice, quantity)
	if err != nil {
		return err
	}
	committed, err := ps.committed(buyer)
	if err != nil {
		return err
	}
	need, err := core.SafeAdd(committed, cost)
	if err != nil {
		return err
	}
	frozen, err := ps.funds.FreezeValue(buyer, ps.rec.Address)
	if err != nil {
		return err
	}
	if frozen.Lt(need) {
		return fmt.Errorf("frozen %s below %s: %w", frozen.Dec(), need.Dec(), core.ErrInsufficientFreeze)
	}

	o, err := ps.OrderInfo(buyer, inv.BaseID)
	if err != nil {
		return err
	}
	o.Quantity += quantity
	switch {
	case receiver != "":
		o.Receiver = receiver
	case o.Receiver == "":
		o.Receiver = buyer
	}
	if !o.Queued {
		if err := ps.ctx.State.Set(ps.queueKey(inv.BaseID, inv.QueueLen), buyer); err != nil {
			return err
		}
		inv.QueueLen++
		o.Queued = true
	}
	inv.TotalOrdered = total
	if err := ps.ctx.State.Set(ps.orderKey(inv.BaseID, buyer), o); err != nil {
		return err
	}
	if err := ps.ctx.State.Set(ps.inventoryKey(inv.BaseID), inv); err != nil {
		return err
	}
	if err := ps.setCommitted(buyer, need); err != nil {
		return err
	}
	ps.ctx.Emit(events.EventOrderPlaced, map[string]any{
		"presale": ps.rec.Address, "buyer": buyer, "base_id": inv.BaseID.Dec(),
		"quantity": quantity, "ordered": o.Quantity, "receiver": o.Receiver,
	})
	return nil
}

// Refund gives back amount reserved units and releases their share of the
// caller's freeze. After the deadline it is only allowed while the order can
// no longer be minted.
func (ps *PreSale) Refund(base *uint256.Int, amount uint64) error {
	buyer := ps.ctx.Caller()
	if amount == 0 {
		return fmt.Errorf("refund amount must be > 0: %w", core.ErrInvalidQuantity)
	}
	inv, err := ps.RegisterInfo(base)
	if err != nil {
		return err
	}
	o, err := ps.OrderInfo(buyer, inv.BaseID)
	if err != nil {
		return err
	}
	if amount > o.Quantity {
		return fmt.Errorf("refund of %d exceeds order of %d: %w", amount, o.Quantity, core.ErrInvalidQuantity)
	}
	if !ps.rec.Open(ps.ctx.Now()) {
		stuck, err := ps.settlementBlocked(inv, o.Quantity)
		if err != nil {
			return err
		}
		if !stuck {
			return fmt.Errorf("pre-sale %s closed at %d: %w", ps.rec.Address, ps.rec.End, core.ErrInvalidState)
		}
	}
	release, err := core.SafeMulU64(inv.UnitPrice, amount)
	if err != nil {
		return err
	}
	if err := ps.funds.RevokeApprove(buyer, release); err != nil {
		return err
	}
	committed, err := ps.committed(buyer)
	if err != nil {
		return err
	}
	if committed, err = core.SafeSub(committed, release); err != nil {
		return err
	}
	o.Quantity -= amount
	inv.TotalOrdered -= amount
	if err := ps.ctx.State.Set(ps.orderKey(inv.BaseID, buyer), o); err != nil {
		return err
	}
	if err := ps.ctx.State.Set(ps.inventoryKey(inv.BaseID), inv); err != nil {
		return err
	}
	if err := ps.setCommitted(buyer, committed); err != nil {
		return err
	}
	ps.ctx.Emit(events.EventOrderRefunded, map[string]any{
		"presale": ps.rec.Address, "buyer": buyer, "base_id": inv.BaseID.Dec(),
		"amount": amount, "ordered": o.Quantity,
	})
	return nil
}

// ---- settlement ----

// MintByCustomer settles the caller's own order once the sale has ended.
func (ps *PreSale) MintByCustomer(base *uint256.Int) error {
	if err := ps.checkEnded(); err != nil {
		return err
	}
	inv, err := ps.RegisterInfo(base)
	if err != nil {
		return err
	}
	o, err := ps.OrderInfo(ps.ctx.Caller(), inv.BaseID)
	if err != nil {
		return err
	}
	if o.Quantity == 0 {
		return fmt.Errorf("no open order on %s: %w", inv.BaseID.Dec(), core.ErrInvalidState)
	}
	if err := ps.settle(inv, o); err != nil {
		return err
	}
	return ps.ctx.State.Set(ps.inventoryKey(inv.BaseID), inv)
}

// MintByPlatform settles up to count open orders on base in the order the
// buyers first ordered. Owner only.
func (ps *PreSale) MintByPlatform(base *uint256.Int, count uint64) error {
	if err := sale.RequireOwner(ps.ctx, sale.KindPreSale, ps.rec.Owner); err != nil {
		return err
	}
	if err := ps.checkEnded(); err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("mint count must be > 0: %w", core.ErrInvalidQuantity)
	}
	inv, err := ps.RegisterInfo(base)
	if err != nil {
		return err
	}
	if inv.QueueHead == inv.QueueLen {
		return fmt.Errorf("no queued orders on %s: %w", inv.BaseID.Dec(), core.ErrInvalidState)
	}
	var done uint64
	for done < count && inv.QueueHead < inv.QueueLen {
		var buyer string
		key := ps.queueKey(inv.BaseID, inv.QueueHead)
		if err := ps.ctx.State.Get(key, &buyer); err != nil {
			return err
		}
		if err := ps.ctx.State.Delete(key); err != nil {
			return err
		}
		inv.QueueHead++

		o, err := ps.OrderInfo(buyer, inv.BaseID)
		if err != nil {
			return err
		}
		o.Queued = false
		if o.Quantity == 0 {
			if err := ps.ctx.State.Set(ps.orderKey(inv.BaseID, buyer), o); err != nil {
				return err
			}
			continue
		}
		if err := ps.settle(inv, o); err != nil {
			return err
		}
		done++
	}
	return ps.ctx.State.Set(ps.inventoryKey(inv.BaseID), inv)
}

// settle mints o as a fresh range, hands it to the receiver and pays the
// seller. The caller persists inv.
func (ps *PreSale) settle(inv *Inventory, o *Order) error {
	qty := o.Quantity
	start, err := ps.assets.MintMulti(inv.Seller, inv.BaseID, qty, inv.URI, true, true)
	if err != nil {
		return err
	}
	for i := uint64(0); i < qty; i++ {
		id, err := core.OffsetID(start, i)
		if err != nil {
			return err
		}
		if err := ps.assets.TransferFrom(inv.Seller, o.Receiver, id); err != nil {
			return err
		}
	}
	cost, err := core.SafeMulU64(inv.UnitPrice, qty)
	if err != nil {
		return err
	}
	if err := ps.funds.TransferFromFreeze(o.Buyer, inv.Seller, cost); err != nil {
		return err
	}
	committed, err := ps.committed(o.Buyer)
	if err != nil {
		return err
	}
	if committed, err = core.SafeSub(committed, cost); err != nil {
		return err
	}
	if err := ps.setCommitted(o.Buyer, committed); err != nil {
		return err
	}
	o.Quantity = 0
	inv.Minted += qty
	if err := ps.ctx.State.Set(ps.orderKey(inv.BaseID, o.Buyer), o); err != nil {
		return err
	}
	ps.ctx.Emit(events.EventPreSaleMinted, map[string]any{
		"presale": ps.rec.Address, "buyer": o.Buyer, "receiver": o.Receiver,
		"base_id": inv.BaseID.Dec(), "start_id": start.Dec(), "count": qty,
	})
	return nil
}

// settlementBlocked reports whether minting qty units of inv would fail
// because the seller revoked the pre-sale's operator rights or an id of the
// next range already exists.
func (ps *PreSale) settlementBlocked(inv *Inventory, qty uint64) (bool, error) {
	op, err := ps.assets.IsApprovedForAll(inv.Seller, ps.rec.Address)
	if err != nil || !op {
		return !op, err
	}
	free, err := ps.assets.RangeFree(inv.BaseID, qty)
	if err != nil {
		return false, err
	}
	return !free, nil
}

func (ps *PreSale) checkEnded() error {
	if ps.rec.Open(ps.ctx.Now()) {
		return fmt.Errorf("pre-sale %s runs until %d: %w", ps.rec.Address, ps.rec.End, core.ErrInvalidState)
	}
	return nil
}

// SetEndTimestamp overrides the deadline. Owner only.
func (ps *PreSale) SetEndTimestamp(end int64) error {
	if err := sale.RequireOwner(ps.ctx, sale.KindPreSale, ps.rec.Owner); err != nil {
		return err
	}
	ps.rec.End = end
	if err := ps.save(); err != nil {
		return err
	}
	sale.EmitDeadline(ps.ctx, sale.KindPreSale, ps.rec.Address, end)
	return nil
}
