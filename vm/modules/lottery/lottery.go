// Package lottery implements the fixed-size raffle. Each bet moves the unit
// price from the bettor's freeze into the pool's own balance; the bet that
// fills the pool draws the winner, hands over the asset and pays the pot to
// the asset's owner.
package lottery

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"github.com/tolelom/dmachain/core"
	"github.com/tolelom/dmachain/crypto"
	"github.com/tolelom/dmachain/events"
	"github.com/tolelom/dmachain/vm"
	"github.com/tolelom/dmachain/vm/modules/escrow"
	"github.com/tolelom/dmachain/vm/modules/nft"
	"github.com/tolelom/dmachain/vm/modules/sale"
)

const prefixLottery = "lot:"

// Record is the persisted pool state.
type Record struct {
	Address       string       `json:"address"`
	Owner         string       `json:"owner"`
	AssetID       *uint256.Int `json:"asset_id"`
	RequiredCount uint64       `json:"required_count"`
	UnitPrice     *uint256.Int `json:"unit_price"`
	Participants  []string     `json:"participants"`
	Pot           *uint256.Int `json:"pot"`
	Finished      bool         `json:"finished"`
	Failed        bool         `json:"failed"`
	Winner        string       `json:"winner,omitempty"`
	Refunded      uint64       `json:"refunded"` // refund cursor into Participants
	sale.Deadline
}

// Pool is a loaded lottery bound to a call context.
type Pool struct {
	ctx    *vm.Context
	rec    *Record
	funds  *escrow.Ledger
	assets *nft.Registry
}

// Create opens a pool for assetID, which the caller must own.
func Create(ctx *vm.Context, assetID *uint256.Int, required uint64, price *uint256.Int, end int64) (*Pool, error) {
	if required == 0 {
		return nil, fmt.Errorf("required count must be > 0: %w", core.ErrInvalidQuantity)
	}
	if core.IsZero(price) {
		return nil, fmt.Errorf("unit price must be > 0: %w", core.ErrInvalidQuantity)
	}
	if _, err := core.SafeMulU64(price, required); err != nil {
		return nil, err
	}
	if err := sale.CheckEnd(ctx, end); err != nil {
		return nil, err
	}
	owner, err := nft.New(ctx).OwnerOf(core.OrZero(assetID))
	if err != nil {
		return nil, err
	}
	if owner != ctx.Caller() {
		return nil, fmt.Errorf("lottery asset %s: %w", core.IDKey(assetID), core.ErrUnauthorized)
	}
	addr, err := sale.NewAddress(ctx, sale.KindLottery, prefixLottery)
	if err != nil {
		return nil, err
	}
	p := bind(ctx, &Record{
		Address:       addr,
		Owner:         owner,
		AssetID:       core.OrZero(assetID).Clone(),
		RequiredCount: required,
		UnitPrice:     price.Clone(),
		Participants:  []string{},
		Pot:           new(uint256.Int),
		Deadline:      sale.Deadline{Start: ctx.Now(), End: end},
	})
	if err := p.save(); err != nil {
		return nil, err
	}
	sale.EmitCreated(ctx, sale.KindLottery, addr, owner, end)
	return p, nil
}

// Load binds an existing pool to ctx.
func Load(ctx *vm.Context, addr string) (*Pool, error) {
	var rec Record
	if err := sale.Load(ctx, sale.KindLottery, prefixLottery, addr, &rec); err != nil {
		return nil, err
	}
	rec.UnitPrice = core.OrZero(rec.UnitPrice)
	rec.Pot = core.OrZero(rec.Pot)
	return bind(ctx, &rec), nil
}

func bind(ctx *vm.Context, rec *Record) *Pool {
	return &Pool{
		ctx:    ctx,
		rec:    rec,
		funds:  sale.Funds(ctx, rec.Address),
		assets: sale.Assets(ctx, rec.Address),
	}
}

func (p *Pool) Address() string { return p.rec.Address }

func (p *Pool) save() error {
	return p.ctx.State.Set(prefixLottery+p.rec.Address, p.rec)
}

// BetInfo returns a copy of the pool state.
func (p *Pool) BetInfo() Record {
	rec := *p.rec
	rec.Participants = append([]string(nil), p.rec.Participants...)
	return rec
}

func (p *Pool) EndTimestamp() (int64, int64) {
	return p.rec.Start, p.rec.End
}

// Bet enters the caller once. The same principal may enter repeatedly.
func (p *Pool) Bet() error {
	bettor := p.ctx.Caller()
	if p.rec.Finished {
		return fmt.Errorf("lottery %s is finished: %w", p.rec.Address, core.ErrInvalidState)
	}
	if !p.rec.Open(p.ctx.Now()) {
		return fmt.Errorf("lottery %s closed at %d: %w", p.rec.Address, p.rec.End, core.ErrInvalidState)
	}
	if err := p.checkNotRefunding(); err != nil {
		return err
	}
	if err := p.funds.TransferFromFreeze(bettor, p.rec.Address, p.rec.UnitPrice); err != nil {
		return err
	}
	pot, err := core.SafeAdd(p.rec.Pot, p.rec.UnitPrice)
	if err != nil {
		return err
	}
	p.rec.Pot = pot
	p.rec.Participants = append(p.rec.Participants, bettor)
	p.ctx.Emit(events.EventBetPlaced, map[string]any{
		"lottery": p.rec.Address, "bettor": bettor,
		"count": len(p.rec.Participants), "required": p.rec.RequiredCount,
	})
	if uint64(len(p.rec.Participants)) == p.rec.RequiredCount {
		return p.draw()
	}
	return p.save()
}

// draw picks the winner from the block seed, which the proposer commits to
// by signing the parent hash and which no bettor knows when signing a bet.
func (p *Pool) draw() error {
	idx, err := drawIndex(p.seed(), p.rec.Address, p.rec.Participants)
	if err != nil {
		return err
	}
	winner := p.rec.Participants[idx]
	seller, err := p.assets.OwnerOf(p.rec.AssetID)
	if err != nil {
		return err
	}
	if err := p.assets.TransferFrom(seller, winner, p.rec.AssetID); err != nil {
		return err
	}
	if err := p.funds.Transfer(seller, p.rec.Pot); err != nil {
		return err
	}
	p.rec.Winner = winner
	p.rec.Finished = true
	if err := p.save(); err != nil {
		return err
	}
	p.ctx.Emit(events.EventLotteryFinished, map[string]any{
		"lottery": p.rec.Address, "winner": winner, "seller": seller, "pot": p.rec.Pot.Dec(),
	})
	return nil
}

func (p *Pool) seed() string {
	if p.ctx.Block == nil {
		return ""
	}
	return p.ctx.Block.Header.Seed
}

// drawIndex maps seed, pool and entrants to an index in [0, len(entrants)).
func drawIndex(seed, pool string, entrants []string) (uint64, error) {
	if len(entrants) == 0 {
		return 0, fmt.Errorf("draw without entrants: %w", core.ErrInvalidState)
	}
	digest := crypto.HashBytes([]byte(seed + "|" + pool + "|" + strings.Join(entrants, ",")))
	n := uint256.NewInt(uint64(len(entrants)))
	return new(uint256.Int).Mod(new(uint256.Int).SetBytes(digest), n).Uint64(), nil
}

// Fails refunds up to limit entrants of a pool that missed its deadline.
// Refunds resume where the previous call stopped; the call that refunds the
// last entrant closes the pool as failed.
func (p *Pool) Fails(limit uint64) error {
	if limit == 0 {
		return fmt.Errorf("refund limit must be > 0: %w", core.ErrInvalidQuantity)
	}
	if p.rec.Finished {
		return fmt.Errorf("lottery %s is finished: %w", p.rec.Address, core.ErrInvalidState)
	}
	if p.rec.Open(p.ctx.Now()) {
		return fmt.Errorf("lottery %s runs until %d: %w", p.rec.Address, p.rec.End, core.ErrInvalidState)
	}
	total := uint64(len(p.rec.Participants))
	stop := p.rec.Refunded + limit
	if stop > total || stop < p.rec.Refunded {
		stop = total
	}
	for i := p.rec.Refunded; i < stop; i++ {
		if err := p.funds.Transfer(p.rec.Participants[i], p.rec.UnitPrice); err != nil {
			return err
		}
		pot, err := core.SafeSub(p.rec.Pot, p.rec.UnitPrice)
		if err != nil {
			return err
		}
		p.rec.Pot = pot
	}
	p.rec.Refunded = stop
	if stop == total {
		p.rec.Finished = true
		p.rec.Failed = true
		p.ctx.Emit(events.EventLotteryFailed, map[string]any{
			"lottery": p.rec.Address, "refunded": total,
		})
	}
	return p.save()
}

// SetEndTimestamp overrides the deadline. Owner only.
func (p *Pool) SetEndTimestamp(end int64) error {
	if err := sale.RequireOwner(p.ctx, sale.KindLottery, p.rec.Owner); err != nil {
		return err
	}
	if p.rec.Finished {
		return fmt.Errorf("lottery %s is finished: %w", p.rec.Address, core.ErrInvalidState)
	}
	if err := p.checkNotRefunding(); err != nil {
		return err
	}
	p.rec.End = end
	if err := p.save(); err != nil {
		return err
	}
	sale.EmitDeadline(p.ctx, sale.KindLottery, p.rec.Address, end)
	return nil
}

// checkNotRefunding refuses to reopen a pool once Fails has paid anyone back.
func (p *Pool) checkNotRefunding() error {
	if p.rec.Refunded > 0 {
		return fmt.Errorf("lottery %s refunded %d entrants: %w", p.rec.Address, p.rec.Refunded, core.ErrInvalidState)
	}
	return nil
}
