package market

import (
	"encoding/json"

	"github.com/tolelom/dmachain/core"
	"github.com/tolelom/dmachain/vm"
)

func init() {
	vm.Register(core.TxMarketCreate, handleCreate)
	vm.Register(core.TxMarketList, handleList)
	vm.Register(core.TxMarketListArray, handleListArray)
	vm.Register(core.TxMarketListMulti, handleListMulti)
	vm.Register(core.TxMarketRevoke, handleRevoke)
	vm.Register(core.TxMarketBuy, handleBuy)
	vm.Register(core.TxMarketBuyArray, handleBuyArray)
}

func handleCreate(ctx *vm.Context, _ json.RawMessage) error {
	_, err := Create(ctx)
	return err
}

func handleList(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.MarketListPayload](core.TxMarketList, payload)
	if err != nil {
		return err
	}
	mp, err := Load(ctx, p.Market)
	if err != nil {
		return err
	}
	return mp.SaveApprove(p.Seller, p.ID, p.UnitPrice)
}

func handleListArray(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.MarketListArrayPayload](core.TxMarketListArray, payload)
	if err != nil {
		return err
	}
	mp, err := Load(ctx, p.Market)
	if err != nil {
		return err
	}
	return mp.SaveApproveWithArray(p.Seller, p.IDs, p.UnitPrice)
}

func handleListMulti(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.MarketListMultiPayload](core.TxMarketListMulti, payload)
	if err != nil {
		return err
	}
	mp, err := Load(ctx, p.Market)
	if err != nil {
		return err
	}
	return mp.SaveMultiApprove(p.Seller, p.BaseID, p.Count, p.UnitPrice)
}

func handleRevoke(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.MarketRevokePayload](core.TxMarketRevoke, payload)
	if err != nil {
		return err
	}
	mp, err := Load(ctx, p.Market)
	if err != nil {
		return err
	}
	return mp.RevokeApprove(p.BaseID, p.Count)
}

func handleBuy(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.MarketBuyPayload](core.TxMarketBuy, payload)
	if err != nil {
		return err
	}
	mp, err := Load(ctx, p.Market)
	if err != nil {
		return err
	}
	return mp.Transfer(p.Seller, p.BaseID, p.Count, p.TotalAmount)
}

func handleBuyArray(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.MarketBuyArrayPayload](core.TxMarketBuyArray, payload)
	if err != nil {
		return err
	}
	mp, err := Load(ctx, p.Market)
	if err != nil {
		return err
	}
	return mp.TransferWithArray(p.Seller, p.IDs, p.TotalAmount)
}
