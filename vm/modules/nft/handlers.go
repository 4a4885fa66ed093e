package nft

import (
	"encoding/json"

	"github.com/tolelom/dmachain/core"
	"github.com/tolelom/dmachain/vm"
)

func init() {
	vm.Register(core.TxNFTMint, handleMint)
	vm.Register(core.TxNFTMintMulti, handleMintMulti)
	vm.Register(core.TxNFTApprove, handleApprove)
	vm.Register(core.TxNFTApproveArray, handleApproveArray)
	vm.Register(core.TxNFTApproveMulti, handleApproveMulti)
	vm.Register(core.TxNFTClearApproval, handleClearApproval)
	vm.Register(core.TxNFTSetOperator, handleSetOperator)
	vm.Register(core.TxNFTTransfer, handleTransfer)
	vm.Register(core.TxNFTSafeTransfer, handleSafeTransfer)
	vm.Register(core.TxNFTBurn, handleBurn)
	vm.Register(core.TxNFTSetStatus, handleSetStatus)
	vm.Register(core.TxNFTSetUser, handleSetUser)
	vm.Register(core.TxNFTSetTransferable, handleSetTransferable)
	vm.Register(core.TxNFTSetMetadata, handleSetMetadata)
}

func handleMint(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.NFTMintPayload](core.TxNFTMint, payload)
	if err != nil {
		return err
	}
	return New(ctx).Mint(p.To, p.ID, p.URI, p.Transferable, p.Burnable)
}

func handleMintMulti(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.NFTMintMultiPayload](core.TxNFTMintMulti, payload)
	if err != nil {
		return err
	}
	_, err = New(ctx).MintMulti(p.To, p.BaseID, p.Count, p.URI, p.Transferable, p.Burnable)
	return err
}

func handleApprove(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.NFTApprovePayload](core.TxNFTApprove, payload)
	if err != nil {
		return err
	}
	return New(ctx).Approve(p.Spender, p.ID)
}

func handleApproveArray(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.NFTApproveArrayPayload](core.TxNFTApproveArray, payload)
	if err != nil {
		return err
	}
	return New(ctx).ApproveWithArray(p.Spender, p.IDs)
}

func handleApproveMulti(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.NFTApproveMultiPayload](core.TxNFTApproveMulti, payload)
	if err != nil {
		return err
	}
	return New(ctx).ApproveMulti(p.Spender, p.BaseID, p.Count)
}

func handleClearApproval(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.NFTIDPayload](core.TxNFTClearApproval, payload)
	if err != nil {
		return err
	}
	return New(ctx).ClearApproval(p.ID)
}

func handleSetOperator(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.NFTSetOperatorPayload](core.TxNFTSetOperator, payload)
	if err != nil {
		return err
	}
	return New(ctx).SetApprovalForAll(p.Operator, p.Approved)
}

func handleTransfer(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.NFTTransferPayload](core.TxNFTTransfer, payload)
	if err != nil {
		return err
	}
	return New(ctx).TransferFrom(p.From, p.To, p.ID)
}

func handleSafeTransfer(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.NFTTransferPayload](core.TxNFTSafeTransfer, payload)
	if err != nil {
		return err
	}
	return New(ctx).SafeTransferFrom(p.From, p.To, p.ID)
}

func handleBurn(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.NFTBurnPayload](core.TxNFTBurn, payload)
	if err != nil {
		return err
	}
	return New(ctx).Burn(p.Owner, p.ID)
}

func handleSetStatus(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.NFTSetStatusPayload](core.TxNFTSetStatus, payload)
	if err != nil {
		return err
	}
	return New(ctx).SetStatus(p.ID, p.Status)
}

func handleSetUser(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.NFTSetUserPayload](core.TxNFTSetUser, payload)
	if err != nil {
		return err
	}
	return New(ctx).SetUser(p.ID, p.User)
}

func handleSetTransferable(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.NFTSetTransferablePayload](core.TxNFTSetTransferable, payload)
	if err != nil {
		return err
	}
	return New(ctx).SetTransferable(p.ID, p.Transferable)
}

func handleSetMetadata(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.NFTSetMetadataPayload](core.TxNFTSetMetadata, payload)
	if err != nil {
		return err
	}
	return New(ctx).SetMetadata(p.Metadata)
}
