package escrow

import (
	"encoding/json"

	"github.com/tolelom/dmachain/core"
	"github.com/tolelom/dmachain/vm"
)

func init() {
	vm.Register(core.TxTransfer, handleTransfer)
	vm.Register(core.TxApprove, handleApprove)
	vm.Register(core.TxTransferFrom, handleTransferFrom)
	vm.Register(core.TxApproveFreeze, handleApproveFreeze)
	vm.Register(core.TxTransferFromFreeze, handleTransferFromFreeze)
	vm.Register(core.TxRevokeFreeze, handleRevokeFreeze)
	vm.Register(core.TxAddIssue, handleAddIssue)
}

func handleTransfer(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.TransferPayload](core.TxTransfer, payload)
	if err != nil {
		return err
	}
	return New(ctx).Transfer(p.To, p.Amount)
}

func handleApprove(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.ApprovePayload](core.TxApprove, payload)
	if err != nil {
		return err
	}
	return New(ctx).Approve(p.Spender, p.Amount)
}

func handleTransferFrom(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.TransferFromPayload](core.TxTransferFrom, payload)
	if err != nil {
		return err
	}
	return New(ctx).TransferFrom(p.Owner, p.To, p.Amount)
}

func handleApproveFreeze(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.ApprovePayload](core.TxApproveFreeze, payload)
	if err != nil {
		return err
	}
	return New(ctx).ApproveFreeze(p.Spender, p.Amount)
}

func handleTransferFromFreeze(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.TransferFromPayload](core.TxTransferFromFreeze, payload)
	if err != nil {
		return err
	}
	return New(ctx).TransferFromFreeze(p.Owner, p.To, p.Amount)
}

func handleRevokeFreeze(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.RevokeFreezePayload](core.TxRevokeFreeze, payload)
	if err != nil {
		return err
	}
	return New(ctx).RevokeApprove(p.Owner, p.Amount)
}

func handleAddIssue(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.AddIssuePayload](core.TxAddIssue, payload)
	if err != nil {
		return err
	}
	return New(ctx).AddIssue(p.To, p.Amount)
}
