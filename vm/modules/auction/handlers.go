package auction

import (
	"encoding/json"

	"github.com/tolelom/dmachain/core"
	"github.com/tolelom/dmachain/vm"
)

func init() {
	vm.Register(core.TxAuctionCreate, handleCreate)
	vm.Register(core.TxAuctionBid, handleBid)
	vm.Register(core.TxAuctionExchange, handleExchange)
	vm.Register(core.TxAuctionRevoke, handleRevoke)
	vm.Register(core.TxAuctionSetEnd, handleSetEnd)
}

func handleCreate(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.AuctionCreatePayload](core.TxAuctionCreate, payload)
	if err != nil {
		return err
	}
	_, err = Create(ctx, p.AssetID, p.LowestValue, p.ClosingValue, p.EndTimestamp)
	return err
}

func handleBid(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.AuctionBidPayload](core.TxAuctionBid, payload)
	if err != nil {
		return err
	}
	a, err := Load(ctx, p.Auction)
	if err != nil {
		return err
	}
	return a.Bid(p.Amount)
}

func handleExchange(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.TargetPayload](core.TxAuctionExchange, payload)
	if err != nil {
		return err
	}
	a, err := Load(ctx, p.Target)
	if err != nil {
		return err
	}
	return a.Exchange()
}

func handleRevoke(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.TargetPayload](core.TxAuctionRevoke, payload)
	if err != nil {
		return err
	}
	a, err := Load(ctx, p.Target)
	if err != nil {
		return err
	}
	return a.RevokeToken()
}

func handleSetEnd(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.SetEndPayload](core.TxAuctionSetEnd, payload)
	if err != nil {
		return err
	}
	a, err := Load(ctx, p.Target)
	if err != nil {
		return err
	}
	return a.SetEndTimestamp(p.EndTimestamp)
}
