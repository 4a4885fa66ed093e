package presale

import (
	"encoding/json"

	"github.com/tolelom/dmachain/core"
	"github.com/tolelom/dmachain/vm"
)

func init() {
	vm.Register(core.TxPreSaleCreate, handleCreate)
	vm.Register(core.TxPreSaleRegister, handleRegister)
	vm.Register(core.TxPreSaleOrder, handleOrder)
	vm.Register(core.TxPreSaleRefund, handleRefund)
	vm.Register(core.TxPreSaleMintCustomer, handleMintCustomer)
	vm.Register(core.TxPreSaleMintPlatform, handleMintPlatform)
	vm.Register(core.TxPreSaleSetEnd, handleSetEnd)
}

func handleCreate(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.PreSaleCreatePayload](core.TxPreSaleCreate, payload)
	if err != nil {
		return err
	}
	_, err = Create(ctx, p.EndTimestamp)
	return err
}

func handleRegister(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.PreSaleRegisterPayload](core.TxPreSaleRegister, payload)
	if err != nil {
		return err
	}
	ps, err := Load(ctx, p.PreSale)
	if err != nil {
		return err
	}
	return ps.RegistAsset(p.Seller, p.BaseID, p.MaxQuantity, p.UnitPrice, p.URI)
}

func handleOrder(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.PreSaleOrderPayload](core.TxPreSaleOrder, payload)
	if err != nil {
		return err
	}
	ps, err := Load(ctx, p.PreSale)
	if err != nil {
		return err
	}
	return ps.Order(p.BaseID, p.Quantity, p.Receiver)
}

func handleRefund(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.PreSaleRefundPayload](core.TxPreSaleRefund, payload)
	if err != nil {
		return err
	}
	ps, err := Load(ctx, p.PreSale)
	if err != nil {
		return err
	}
	return ps.Refund(p.BaseID, p.Amount)
}

func handleMintCustomer(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.PreSaleMintPayload](core.TxPreSaleMintCustomer, payload)
	if err != nil {
		return err
	}
	ps, err := Load(ctx, p.PreSale)
	if err != nil {
		return err
	}
	return ps.MintByCustomer(p.BaseID)
}

func handleMintPlatform(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.PreSaleMintPayload](core.TxPreSaleMintPlatform, payload)
	if err != nil {
		return err
	}
	ps, err := Load(ctx, p.PreSale)
	if err != nil {
		return err
	}
	return ps.MintByPlatform(p.BaseID, p.Count)
}

func handleSetEnd(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.SetEndPayload](core.TxPreSaleSetEnd, payload)
	if err != nil {
		return err
	}
	ps, err := Load(ctx, p.Target)
	if err != nil {
		return err
	}
	return ps.SetEndTimestamp(p.EndTimestamp)
}
