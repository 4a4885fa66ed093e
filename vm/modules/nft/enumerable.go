package nft

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/tolelom/dmachain/core"
)

// Enumeration keeps two dense index lists (all live ids, ids per owner) with
// swap-and-pop removal, so every query is a direct key lookup.
const (
	keyAllCount    = "nft:all:n"
	prefixAllAt    = "nft:all:i:"
	prefixAllPos   = "nft:all:p:"
	prefixOwnCount = "nft:own:n:"
	prefixOwnAt    = "nft:own:i:"
	prefixOwnPos   = "nft:own:p:"
)

type indexList struct {
	countKey string
	atPrefix string
	posKey   func(id *uint256.Int) string
}

func allList() indexList {
	return indexList{
		countKey: keyAllCount,
		atPrefix: prefixAllAt,
		posKey:   func(id *uint256.Int) string { return prefixAllPos + core.IDKey(id) },
	}
}

func ownerList(owner string) indexList {
	return indexList{
		countKey: prefixOwnCount + owner,
		atPrefix: prefixOwnAt + owner + ":",
		posKey:   func(id *uint256.Int) string { return prefixOwnPos + core.IDKey(id) },
	}
}

// TotalSupply is the number of live ids.
func (r *Registry) TotalSupply() (uint64, error) {
	return r.count(allList())
}

// BalanceOf is the number of live ids owned by owner.
func (r *Registry) BalanceOf(owner string) (uint64, error) {
	return r.count(ownerList(owner))
}

func (r *Registry) TokenByIndex(index uint64) (*uint256.Int, error) {
	return r.at(allList(), index)
}

func (r *Registry) TokenOfOwnerByIndex(owner string, index uint64) (*uint256.Int, error) {
	return r.at(ownerList(owner), index)
}

// TokensOfOwner lists every id owned by owner in index order.
func (r *Registry) TokensOfOwner(owner string) ([]*uint256.Int, error) {
	n, err := r.BalanceOf(owner)
	if err != nil {
		return nil, err
	}
	out := make([]*uint256.Int, 0, n)
	for i := uint64(0); i < n; i++ {
		id, err := r.TokenOfOwnerByIndex(owner, i)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func (r *Registry) enumAdd(tok *Token) error {
	if err := r.push(allList(), tok.ID); err != nil {
		return err
	}
	return r.push(ownerList(tok.Owner), tok.ID)
}

func (r *Registry) enumRemove(tok *Token) error {
	if err := r.remove(allList(), tok.ID); err != nil {
		return err
	}
	return r.remove(ownerList(tok.Owner), tok.ID)
}

func (r *Registry) count(l indexList) (uint64, error) {
	var n uint64
	err := r.ctx.State.Get(l.countKey, &n)
	if errors.Is(err, core.ErrNotFound) {
		return 0, nil
	}
	return n, err
}

func (r *Registry) at(l indexList, index uint64) (*uint256.Int, error) {
	n, err := r.count(l)
	if err != nil {
		return nil, err
	}
	if index >= n {
		return nil, fmt.Errorf("index %d out of range (%d): %w", index, n, core.ErrInvalidQuantity)
	}
	id := new(uint256.Int)
	if err := r.ctx.State.Get(atKey(l, index), id); err != nil {
		return nil, err
	}
	return id, nil
}

func atKey(l indexList, index uint64) string {
	return fmt.Sprintf("%s%d", l.atPrefix, index)
}

func (r *Registry) push(l indexList, id *uint256.Int) error {
	n, err := r.count(l)
	if err != nil {
		return err
	}
	if err := r.ctx.State.Set(atKey(l, n), id); err != nil {
		return err
	}
	if err := r.ctx.State.Set(l.posKey(id), n); err != nil {
		return err
	}
	return r.ctx.State.Set(l.countKey, n+1)
}

// remove moves the last entry into the removed slot.
func (r *Registry) remove(l indexList, id *uint256.Int) error {
	n, err := r.count(l)
	if err != nil {
		return err
	}
	var pos uint64
	if err := r.ctx.State.Get(l.posKey(id), &pos); err != nil {
		return fmt.Errorf("index position of %s: %w", id.Dec(), err)
	}
	last := n - 1
	if pos != last {
		moved := new(uint256.Int)
		if err := r.ctx.State.Get(atKey(l, last), moved); err != nil {
			return err
		}
		if err := r.ctx.State.Set(atKey(l, pos), moved); err != nil {
			return err
		}
		if err := r.ctx.State.Set(l.posKey(moved), pos); err != nil {
			return err
		}
	}
	if err := r.ctx.State.Delete(atKey(l, last)); err != nil {
		return err
	}
	if err := r.ctx.State.Delete(l.posKey(id)); err != nil {
		return err
	}
	if last == 0 {
		return r.ctx.State.Delete(l.countKey)
	}
	return r.ctx.State.Set(l.countKey, last)
}
