// Package market implements the fixed-price marketplace. Listings are grouped
// into ranges keyed by a root id; buyers consume a range left to right from
// its sale cursor and pay out of the escrow they froze for the marketplace.
package market

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/tolelom/dmachain/core"
	"github.com/tolelom/dmachain/events"
	"github.com/tolelom/dmachain/vm"
	"github.com/tolelom/dmachain/vm/modules/escrow"
	"github.com/tolelom/dmachain/vm/modules/nft"
	"github.com/tolelom/dmachain/vm/modules/sale"
)

const prefixMarket = "mkt:"

// Market is a marketplace instance.
type Market struct {
	Address string `json:"address"`
	Owner   string `json:"owner"`
}

// Item is one listed id. Once the id is bought the record keeps the buyer
// with a zero price until the id is listed again.
type Item struct {
	Seller    string       `json:"seller"`
	TokenID   *uint256.Int `json:"token_id"`
	BaseID    *uint256.Int `json:"base_id"`
	UnitPrice *uint256.Int `json:"unit_price"`
	Buyer     string       `json:"buyer,omitempty"`
	Sold      bool         `json:"sold,omitempty"`
}

// Range tracks the listed ids [NextSaleID, NextListID) rooted at BaseID.
// Ids inside the window may be missing when they were bought or revoked
// individually.
type Range struct {
	Seller     string       `json:"seller"`
	BaseID     *uint256.Int `json:"base_id"`
	NextListID *uint256.Int `json:"next_list_id"`
	NextSaleID *uint256.Int `json:"next_sale_id"`
}

// Marketplace is a loaded instance bound to a call context.
type Marketplace struct {
	ctx    *vm.Context
	m      Market
	funds  *escrow.Ledger
	assets *nft.Registry
}

// Create registers a new marketplace owned by the caller.
func Create(ctx *vm.Context) (*Marketplace, error) {
	addr, err := sale.NewAddress(ctx, sale.KindMarket, prefixMarket)
	if err != nil {
		return nil, err
	}
	mp := bind(ctx, Market{Address: addr, Owner: ctx.Caller()})
	if err := ctx.State.Set(prefixMarket+addr, &mp.m); err != nil {
		return nil, err
	}
	sale.EmitCreated(ctx, sale.KindMarket, addr, mp.m.Owner, 0)
	return mp, nil
}

// Load binds an existing marketplace to ctx.
func Load(ctx *vm.Context, addr string) (*Marketplace, error) {
	var m Market
	if err := sale.Load(ctx, sale.KindMarket, prefixMarket, addr, &m); err != nil {
		return nil, err
	}
	return bind(ctx, m), nil
}

func bind(ctx *vm.Context, m Market) *Marketplace {
	return &Marketplace{
		ctx:    ctx,
		m:      m,
		funds:  sale.Funds(ctx, m.Address),
		assets: sale.Assets(ctx, m.Address),
	}
}

func (mp *Marketplace) Address() string { return mp.m.Address }
func (mp *Marketplace) Owner() string   { return mp.m.Owner }

func (mp *Marketplace) itemKey(id *uint256.Int) string {
	return prefixMarket + mp.m.Address + ":item:" + core.IDKey(id)
}

func (mp *Marketplace) soldKey(id *uint256.Int) string {
	return prefixMarket + mp.m.Address + ":sold:" + core.IDKey(id)
}

func (mp *Marketplace) rangeKey(base *uint256.Int) string {
	return prefixMarket + mp.m.Address + ":range:" + core.IDKey(base)
}

// tailKey maps a range's NextListID back to its root so the next
// consecutive id joins the range instead of opening a new one.
func (mp *Marketplace) tailKey(next *uint256.Int) string {
	return prefixMarket + mp.m.Address + ":tail:" + core.IDKey(next)
}

func (mp *Marketplace) countKey(seller string) string {
	return prefixMarket + mp.m.Address + ":cnt:" + seller
}

// ---- queries ----

// ApproveInfo returns the listing of id, or the sale record when id was
// bought here and not listed since.
func (mp *Marketplace) ApproveInfo(id *uint256.Int) (*Item, error) {
	item, found, err := mp.item(id)
	if err != nil {
		return nil, err
	}
	if found {
		return item, nil
	}
	var sold Item
	err = mp.ctx.State.Get(mp.soldKey(id), &sold)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("id %s is not listed: %w", core.IDKey(id), core.ErrInvalidState)
	}
	if err != nil {
		return nil, err
	}
	sold.UnitPrice = core.OrZero(sold.UnitPrice)
	return &sold, nil
}

// AssetCount is the number of ids seller currently has listed.
func (mp *Marketplace) AssetCount(seller string) (uint64, error) {
	var n uint64
	err := mp.ctx.State.Get(mp.countKey(seller), &n)
	if errors.Is(err, core.ErrNotFound) {
		return 0, nil
	}
	return n, err
}

// LatestTokenID is the next id the range rooted at base would list, or zero
// when no such range is open.
func (mp *Marketplace) LatestTokenID(base *uint256.Int) (*uint256.Int, error) {
	rng, found, err := mp.getRange(base)
	if err != nil || !found {
		return new(uint256.Int), err
	}
	return rng.NextListID, nil
}

// LatestSalesTokenID is the sale cursor of the range rooted at base, or zero
// when no such range is open.
func (mp *Marketplace) LatestSalesTokenID(base *uint256.Int) (*uint256.Int, error) {
	rng, found, err := mp.getRange(base)
	if err != nil || !found {
		return new(uint256.Int), err
	}
	return rng.NextSaleID, nil
}

// RangeInfo returns the open range rooted at base.
func (mp *Marketplace) RangeInfo(base *uint256.Int) (*Range, error) {
	rng, found, err := mp.getRange(base)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("no listing rooted at %s: %w", core.IDKey(base), core.ErrInvalidState)
	}
	return rng, nil
}

// ---- listing ----

// SaveApprove lists one id for seller at price. When id is already a root
// of seller the range grows by its next id; when id is the next id of one
// of seller's ranges it joins that range; otherwise id opens a new range.
func (mp *Marketplace) SaveApprove(seller string, id, price *uint256.Int) error {
	_, err := mp.list(seller, id, price)
	return err
}

func (mp *Marketplace) SaveApproveWithArray(seller string, ids []*uint256.Int, price *uint256.Int) error {
	if len(ids) == 0 {
		return fmt.Errorf("list: no ids: %w", core.ErrInvalidQuantity)
	}
	for _, id := range ids {
		if err := mp.SaveApprove(seller, id, price); err != nil {
			return err
		}
	}
	return nil
}

// SaveMultiApprove lists count consecutive ids starting with the range base
// lands in.
func (mp *Marketplace) SaveMultiApprove(seller string, base *uint256.Int, count uint64, price *uint256.Int) error {
	if count == 0 {
		return fmt.Errorf("list: count must be > 0: %w", core.ErrInvalidQuantity)
	}
	rng, err := mp.list(seller, base, price)
	if err != nil {
		return err
	}
	for i := uint64(1); i < count; i++ {
		if _, err := mp.list(seller, rng.BaseID, price); err != nil {
			return err
		}
	}
	return nil
}

// list lists one id and returns the range it landed in.
func (mp *Marketplace) list(seller string, id, price *uint256.Int) (*Range, error) {
	if err := mp.checkSeller(seller); err != nil {
		return nil, err
	}
	if core.IsZero(price) {
		return nil, fmt.Errorf("unit price must be > 0: %w", core.ErrInvalidQuantity)
	}
	rng, target, err := mp.placement(seller, core.OrZero(id))
	if err != nil {
		return nil, err
	}
	if err := mp.checkListable(seller, target); err != nil {
		return nil, err
	}
	item := &Item{Seller: seller, TokenID: target, BaseID: rng.BaseID, UnitPrice: price}
	if err := mp.ctx.State.Set(mp.itemKey(target), item); err != nil {
		return nil, err
	}
	if sold, err := mp.ctx.State.Has(mp.soldKey(target)); err != nil {
		return nil, err
	} else if sold {
		if err := mp.ctx.State.Delete(mp.soldKey(target)); err != nil {
			return nil, err
		}
	}
	next, err := core.OffsetID(target, 1)
	if err != nil {
		return nil, err
	}
	if err := mp.dropTail(rng); err != nil {
		return nil, err
	}
	rng.NextListID = next
	if err := mp.ctx.State.Set(mp.tailKey(next), rng.BaseID); err != nil {
		return nil, err
	}
	if err := mp.ctx.State.Set(mp.rangeKey(rng.BaseID), rng); err != nil {
		return nil, err
	}
	if err := mp.addCount(seller, 1); err != nil {
		return nil, err
	}
	mp.ctx.Emit(events.EventListed, map[string]any{
		"market": mp.m.Address, "seller": seller, "id": target.Dec(),
		"base_id": rng.BaseID.Dec(), "unit_price": price.Dec(),
	})
	return rng, nil
}

// placement picks the range id goes into and the id actually listed.
func (mp *Marketplace) placement(seller string, id *uint256.Int) (*Range, *uint256.Int, error) {
	rng, found, err := mp.getRange(id)
	if err != nil {
		return nil, nil, err
	}
	if found {
		if rng.Seller != seller {
			return nil, nil, fmt.Errorf("id %s roots a listing of another seller: %w", id.Dec(), core.ErrOwnershipConflict)
		}
		return rng, rng.NextListID.Clone(), nil
	}

	base := new(uint256.Int)
	err = mp.ctx.State.Get(mp.tailKey(id), base)
	switch {
	case err == nil:
		rng, found, err = mp.getRange(base)
		if err != nil {
			return nil, nil, err
		}
		if found && rng.Seller == seller {
			return rng, id, nil
		}
	case !errors.Is(err, core.ErrNotFound):
		return nil, nil, err
	}

	return &Range{
		Seller:     seller,
		BaseID:     id.Clone(),
		NextListID: id.Clone(),
		NextSaleID: id.Clone(),
	}, id, nil
}

func (mp *Marketplace) checkSeller(seller string) error {
	caller := mp.ctx.Caller()
	if caller == seller {
		return nil
	}
	op, err := mp.assets.IsApprovedForAll(seller, caller)
	if err != nil {
		return err
	}
	if !op {
		return fmt.Errorf("list for %s: %w", seller, core.ErrUnauthorized)
	}
	return nil
}

func (mp *Marketplace) checkListable(seller string, id *uint256.Int) error {
	tok, err := mp.assets.TokenInfo(id)
	if err != nil {
		return err
	}
	if tok.Owner != seller {
		return fmt.Errorf("token %s is not owned by %s: %w", id.Dec(), seller, core.ErrOwnershipConflict)
	}
	if !tok.Transferable {
		return fmt.Errorf("token %s is not transferable: %w", id.Dec(), core.ErrOwnershipConflict)
	}
	if tok.Approved != mp.m.Address {
		op, err := mp.assets.IsApprovedForAll(seller, mp.m.Address)
		if err != nil {
			return err
		}
		if !op {
			return fmt.Errorf("token %s is not approved to the marketplace: %w", id.Dec(), core.ErrUnauthorized)
		}
	}
	listed, err := mp.ctx.State.Has(mp.itemKey(id))
	if err != nil {
		return err
	}
	if listed {
		return fmt.Errorf("token %s is already listed: %w", id.Dec(), core.ErrOwnershipConflict)
	}
	return nil
}

// RevokeApprove delists count ids from the front of the range rooted at
// base. Seller only.
func (mp *Marketplace) RevokeApprove(base *uint256.Int, count uint64) error {
	if count == 0 {
		return fmt.Errorf("revoke: count must be > 0: %w", core.ErrInvalidQuantity)
	}
	rng, err := mp.RangeInfo(base)
	if err != nil {
		return err
	}
	if mp.ctx.Caller() != rng.Seller {
		return fmt.Errorf("revoke: caller is not the seller: %w", core.ErrUnauthorized)
	}
	items, err := mp.front(rng, count)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := mp.ctx.State.Delete(mp.itemKey(item.TokenID)); err != nil {
			return err
		}
		if err := mp.releaseApproval(item.TokenID); err != nil {
			return err
		}
		mp.ctx.Emit(events.EventDelisted, map[string]any{
			"market": mp.m.Address, "seller": rng.Seller, "id": item.TokenID.Dec(),
		})
	}
	if err := mp.addCount(rng.Seller, -int64(len(items))); err != nil {
		return err
	}
	return mp.compact(rng)
}

// releaseApproval clears the registry approval the marketplace holds on id.
// Operator grants are left alone.
func (mp *Marketplace) releaseApproval(id *uint256.Int) error {
	tok, err := mp.assets.TokenInfo(id)
	if errors.Is(err, core.ErrInvalidState) {
		return nil
	}
	if err != nil {
		return err
	}
	if tok.Approved != mp.m.Address {
		return nil
	}
	return mp.assets.ClearApproval(id)
}

// ---- buying ----

// Transfer buys the next count listed ids of the range rooted at base in id
// order, paying totalAmount out of the caller's freeze.
func (mp *Marketplace) Transfer(seller string, base *uint256.Int, count uint64, totalAmount *uint256.Int) error {
	if count == 0 {
		return fmt.Errorf("buy: count must be > 0: %w", core.ErrInvalidQuantity)
	}
	rng, err := mp.RangeInfo(base)
	if err != nil {
		return err
	}
	if rng.Seller != seller {
		return fmt.Errorf("listing %s belongs to another seller: %w", core.IDKey(base), core.ErrInvalidState)
	}
	items, err := mp.front(rng, count)
	if err != nil {
		return err
	}
	if err := mp.settle(seller, items, totalAmount); err != nil {
		return err
	}
	return mp.compact(rng)
}

// TransferWithArray buys the explicitly named ids.
func (mp *Marketplace) TransferWithArray(seller string, ids []*uint256.Int, totalAmount *uint256.Int) error {
	if len(ids) == 0 {
		return fmt.Errorf("buy: no ids: %w", core.ErrInvalidQuantity)
	}
	items := make([]*Item, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		key := core.IDKey(id)
		if seen[key] {
			return fmt.Errorf("buy: id %s named twice: %w", key, core.ErrInvalidQuantity)
		}
		seen[key] = true
		item, found, err := mp.item(id)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("id %s is not listed: %w", key, core.ErrInvalidState)
		}
		if item.Seller != seller {
			return fmt.Errorf("id %s is listed by another seller: %w", key, core.ErrInvalidState)
		}
		items = append(items, item)
	}
	if err := mp.settle(seller, items, totalAmount); err != nil {
		return err
	}
	roots := make(map[string]bool)
	for _, item := range items {
		key := core.IDKey(item.BaseID)
		if roots[key] {
			continue
		}
		roots[key] = true
		rng, found, err := mp.getRange(item.BaseID)
		if err != nil {
			return err
		}
		if found {
			if err := mp.compact(rng); err != nil {
				return err
			}
		}
	}
	return nil
}

func (mp *Marketplace) settle(seller string, items []*Item, totalAmount *uint256.Int) error {
	buyer := mp.ctx.Caller()
	totalAmount = core.OrZero(totalAmount)

	price := new(uint256.Int)
	for _, item := range items {
		var err error
		if price, err = core.SafeAdd(price, item.UnitPrice); err != nil {
			return err
		}
	}
	if totalAmount.Lt(price) {
		return fmt.Errorf("total %s below price %s: %w", totalAmount.Dec(), price.Dec(), core.ErrInsufficientFunds)
	}
	frozen, err := mp.funds.FreezeValue(buyer, mp.m.Address)
	if err != nil {
		return err
	}
	if frozen.Lt(totalAmount) {
		return fmt.Errorf("frozen %s below total %s: %w", frozen.Dec(), totalAmount.Dec(), core.ErrInsufficientFreeze)
	}

	for _, item := range items {
		if err := mp.assets.TransferFrom(seller, buyer, item.TokenID); err != nil {
			return err
		}
		if err := mp.ctx.State.Delete(mp.itemKey(item.TokenID)); err != nil {
			return err
		}
		sold := &Item{
			Seller: seller, TokenID: item.TokenID, BaseID: item.BaseID,
			UnitPrice: new(uint256.Int), Buyer: buyer, Sold: true,
		}
		if err := mp.ctx.State.Set(mp.soldKey(item.TokenID), sold); err != nil {
			return err
		}
		mp.ctx.Emit(events.EventSold, map[string]any{
			"market": mp.m.Address, "seller": seller, "buyer": buyer,
			"id": item.TokenID.Dec(), "unit_price": item.UnitPrice.Dec(),
		})
	}
	if err := mp.addCount(seller, -int64(len(items))); err != nil {
		return err
	}
	return mp.funds.TransferFromFreeze(buyer, seller, totalAmount)
}

// ---- range bookkeeping ----

// front collects the first count listed ids of rng starting at its cursor.
func (mp *Marketplace) front(rng *Range, count uint64) ([]*Item, error) {
	items := make([]*Item, 0, count)
	id := rng.NextSaleID.Clone()
	for uint64(len(items)) < count && id.Lt(rng.NextListID) {
		item, found, err := mp.item(id)
		if err != nil {
			return nil, err
		}
		if found {
			items = append(items, item)
		}
		id = new(uint256.Int).AddUint64(id, 1)
	}
	if uint64(len(items)) < count {
		return nil, fmt.Errorf("only %d of %d ids left in listing %s: %w",
			len(items), count, rng.BaseID.Dec(), core.ErrInvalidQuantity)
	}
	return items, nil
}

// compact moves the cursor past ids that are no longer listed and drops the
// range once it is empty.
func (mp *Marketplace) compact(rng *Range) error {
	for rng.NextSaleID.Lt(rng.NextListID) {
		_, found, err := mp.item(rng.NextSaleID)
		if err != nil {
			return err
		}
		if found {
			break
		}
		rng.NextSaleID = new(uint256.Int).AddUint64(rng.NextSaleID, 1)
	}
	if rng.NextSaleID.Eq(rng.NextListID) {
		if err := mp.dropTail(rng); err != nil {
			return err
		}
		return mp.ctx.State.Delete(mp.rangeKey(rng.BaseID))
	}
	return mp.ctx.State.Set(mp.rangeKey(rng.BaseID), rng)
}

// dropTail removes the tail entry of rng unless another range took it over.
func (mp *Marketplace) dropTail(rng *Range) error {
	base := new(uint256.Int)
	err := mp.ctx.State.Get(mp.tailKey(rng.NextListID), base)
	if errors.Is(err, core.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !base.Eq(rng.BaseID) {
		return nil
	}
	return mp.ctx.State.Delete(mp.tailKey(rng.NextListID))
}

func (mp *Marketplace) item(id *uint256.Int) (*Item, bool, error) {
	var item Item
	err := mp.ctx.State.Get(mp.itemKey(id), &item)
	if errors.Is(err, core.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &item, true, nil
}

func (mp *Marketplace) getRange(base *uint256.Int) (*Range, bool, error) {
	var rng Range
	err := mp.ctx.State.Get(mp.rangeKey(base), &rng)
	if errors.Is(err, core.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	rng.BaseID = core.OrZero(rng.BaseID)
	rng.NextListID = core.OrZero(rng.NextListID)
	rng.NextSaleID = core.OrZero(rng.NextSaleID)
	return &rng, true, nil
}

func (mp *Marketplace) addCount(seller string, delta int64) error {
	n, err := mp.AssetCount(seller)
	if err != nil {
		return err
	}
	switch {
	case delta < 0 && uint64(-delta) > n:
		return fmt.Errorf("listing count of %s below zero: %w", seller, core.ErrInvalidQuantity)
	case delta < 0:
		n -= uint64(-delta)
	default:
		n += uint64(delta)
	}
	if n == 0 {
		return mp.ctx.State.Delete(mp.countKey(seller))
	}
	return mp.ctx.State.Set(mp.countKey(seller), n)
}
