package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/tolelom/dmachain/core"
	"github.com/tolelom/dmachain/indexer"
	"github.com/tolelom/dmachain/vm"
	"github.com/tolelom/dmachain/vm/modules/auction"
	"github.com/tolelom/dmachain/vm/modules/escrow"
	"github.com/tolelom/dmachain/vm/modules/lottery"
	"github.com/tolelom/dmachain/vm/modules/market"
	"github.com/tolelom/dmachain/vm/modules/nft"
	"github.com/tolelom/dmachain/vm/modules/presale"
)

// Engine gives read access to committed state and imports blocks produced
// elsewhere. consensus.PoA satisfies it.
type Engine interface {
	View(fn func(core.State) error) error
	ApplyBlock(block *core.Block) error
}

type method func(params json.RawMessage) (any, error)

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	bc      *core.Blockchain
	mempool *core.Mempool
	state   Engine
	indexer *indexer.Indexer
	chainID string

	methods map[string]method
}

// NewHandler creates an RPC Handler. idx may be nil, in which case the
// index-backed methods report an internal error.
func NewHandler(bc *core.Blockchain, mempool *core.Mempool, state Engine, idx *indexer.Indexer, chainID string) *Handler {
	h := &Handler{bc: bc, mempool: mempool, state: state, indexer: idx, chainID: chainID}
	h.methods = map[string]method{
		"getBlockHeight": func(json.RawMessage) (any, error) { return h.bc.Height(), nil },
		"getBlock":       h.getBlock,
		"getBlocks":      h.getBlocks,
		"getMempoolSize": func(json.RawMessage) (any, error) { return h.mempool.Size(), nil },
		"sendTx":         h.sendTx,
		"submitBlock":    h.submitBlock,

		"getTokenInfo": h.getTokenInfo,
		"getBalance":   h.getBalance,
		"getAllowance": h.getAllowance,

		"getRegistryInfo":  h.getRegistryInfo,
		"getNFT":           h.getNFT,
		"getTokensByOwner": h.getTokensByOwner,

		"getMarket":  h.getMarket,
		"getAuction": h.getAuction,
		"getLottery": h.getLottery,
		"getPreSale": h.getPreSale,

		"getSale":         h.getSale,
		"getSalesByOwner": h.getSalesByOwner,
		"getDueSales":     h.getDueSales,
	}
	return h
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	m, ok := h.methods[req.Method]
	if !ok {
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
	result, err := m(req.Params)
	if err != nil {
		return errResponse(req.ID, codeFor(err), err.Error())
	}
	return okResponse(req.ID, result)
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return invalidParams("params: " + err.Error())
	}
	return nil
}

func requireField(field, value string) error {
	if value == "" {
		return invalidParams(field + " is required")
	}
	return nil
}

// query runs fn against committed state with a read-only context pinned to
// the chain tip.
func (h *Handler) query(fn func(ctx *vm.Context) (any, error)) (any, error) {
	var out any
	err := h.state.View(func(s core.State) error {
		var err error
		out, err = fn(vm.NewContext(s, h.bc.Tip(), nil))
		return err
	})
	return out, err
}

func (h *Handler) decimals(ctx *vm.Context) uint8 {
	info, err := escrow.New(ctx).Info()
	if err != nil {
		return escrow.DefaultDecimals
	}
	return info.Decimals
}

// ---- chain ----

func (h *Handler) getBlock(raw json.RawMessage) (any, error) {
	var params struct {
		Hash   string `json:"hash"`
		Height *int64 `json:"height"`
	}
	if err := decode(raw, &params); err != nil {
		return nil, err
	}
	var block *core.Block
	var err error
	switch {
	case params.Hash != "":
		block, err = h.bc.GetBlock(params.Hash)
	case params.Height != nil:
		block, err = h.bc.GetBlockByHeight(*params.Height)
	default:
		block = h.bc.Tip()
	}
	if err != nil {
		return nil, err
	}
	if block == nil {
		return nil, fmt.Errorf("block: %w", core.ErrNotFound)
	}
	return block, nil
}

const maxBlocksPerCall = 100

var errEnough = errors.New("enough blocks")

// getBlocks returns up to limit consecutive blocks starting at from.
func (h *Handler) getBlocks(raw json.RawMessage) (any, error) {
	var params struct {
		From  int64 `json:"from"`
		Limit int   `json:"limit"`
	}
	if err := decode(raw, &params); err != nil {
		return nil, err
	}
	if params.From < 0 {
		return nil, invalidParams("from must not be negative")
	}
	if params.Limit <= 0 || params.Limit > maxBlocksPerCall {
		params.Limit = maxBlocksPerCall
	}
	out := []*core.Block{}
	err := h.bc.Walk(params.From, func(b *core.Block) error {
		out = append(out, b)
		if len(out) == params.Limit {
			return errEnough
		}
		return nil
	})
	if err != nil && !errors.Is(err, errEnough) {
		return nil, err
	}
	return out, nil
}

func (h *Handler) sendTx(raw json.RawMessage) (any, error) {
	var tx core.Transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, invalidParams(err.Error())
	}
	if tx.ChainID != h.chainID {
		return nil, invalidParams(fmt.Sprintf("chain ID mismatch: got %q want %q", tx.ChainID, h.chainID))
	}
	// The id is a hash of the signed fields; never trust the client's copy.
	tx.ID = tx.Hash()
	if err := h.mempool.Add(&tx); err != nil {
		return nil, err
	}
	return map[string]string{"tx_id": tx.ID}, nil
}

// submitBlock imports a block produced by another validator. Relays use it
// to keep follower nodes in step.
func (h *Handler) submitBlock(raw json.RawMessage) (any, error) {
	var block core.Block
	if err := json.Unmarshal(raw, &block); err != nil {
		return nil, invalidParams(err.Error())
	}
	if err := h.state.ApplyBlock(&block); err != nil {
		return nil, fmt.Errorf("%w: %v", errBlockRejected, err)
	}
	return map[string]any{"hash": block.Hash, "height": block.Header.Height}, nil
}

// ---- escrow ledger ----

type tokenInfoResult struct {
	*escrow.TokenInfo
	TotalSupplyDisplay string `json:"total_supply_display"`
}

func (h *Handler) getTokenInfo(json.RawMessage) (any, error) {
	return h.query(func(ctx *vm.Context) (any, error) {
		info, err := escrow.New(ctx).Info()
		if err != nil {
			return nil, err
		}
		return tokenInfoResult{TokenInfo: info, TotalSupplyDisplay: escrow.FormatAmount(info.TotalSupply, info.Decimals)}, nil
	})
}

type balanceResult struct {
	Address string       `json:"address"`
	Balance *uint256.Int `json:"balance"`
	Display string       `json:"display"`
	Nonce   uint64       `json:"nonce"`
}

func (h *Handler) getBalance(raw json.RawMessage) (any, error) {
	var params struct {
		Address string `json:"address"`
	}
	if err := decode(raw, &params); err != nil {
		return nil, err
	}
	if err := requireField("address", params.Address); err != nil {
		return nil, err
	}
	return h.query(func(ctx *vm.Context) (any, error) {
		acc, err := ctx.State.GetAccount(params.Address)
		if err != nil {
			return nil, err
		}
		bal := acc.Available()
		return balanceResult{
			Address: params.Address,
			Balance: bal,
			Display: escrow.FormatAmount(bal, h.decimals(ctx)),
			Nonce:   acc.Nonce,
		}, nil
	})
}

type allowanceResult struct {
	Owner     string       `json:"owner"`
	Spender   string       `json:"spender"`
	Allowance *uint256.Int `json:"allowance"`
	Frozen    *uint256.Int `json:"frozen"`
	// Human-readable forms of Allowance and Frozen.
	AllowanceDisplay string `json:"allowance_display"`
	FrozenDisplay    string `json:"frozen_display"`
}

func (h *Handler) getAllowance(raw json.RawMessage) (any, error) {
	var params struct {
		Owner   string `json:"owner"`
		Spender string `json:"spender"`
	}
	if err := decode(raw, &params); err != nil {
		return nil, err
	}
	if err := requireField("owner", params.Owner); err != nil {
		return nil, err
	}
	if err := requireField("spender", params.Spender); err != nil {
		return nil, err
	}
	return h.query(func(ctx *vm.Context) (any, error) {
		l := escrow.New(ctx)
		allowance, err := l.Allowance(params.Owner, params.Spender)
		if err != nil {
			return nil, err
		}
		frozen, err := l.FreezeValue(params.Owner, params.Spender)
		if err != nil {
			return nil, err
		}
		dec := h.decimals(ctx)
		return allowanceResult{
			Owner:            params.Owner,
			Spender:          params.Spender,
			Allowance:        allowance,
			Frozen:           frozen,
			AllowanceDisplay: escrow.FormatAmount(allowance, dec),
			FrozenDisplay:    escrow.FormatAmount(frozen, dec),
		}, nil
	})
}

// ---- asset registry ----

func (h *Handler) getRegistryInfo(json.RawMessage) (any, error) {
	return h.query(func(ctx *vm.Context) (any, error) {
		return nft.New(ctx).Info()
	})
}

type nftParams struct {
	ID *uint256.Int `json:"id"`
}

func (h *Handler) getNFT(raw json.RawMessage) (any, error) {
	var params nftParams
	if err := decode(raw, &params); err != nil {
		return nil, err
	}
	if params.ID == nil {
		return nil, invalidParams("id is required")
	}
	return h.query(func(ctx *vm.Context) (any, error) {
		return nft.New(ctx).TokenInfo(params.ID)
	})
}

func (h *Handler) getTokensByOwner(raw json.RawMessage) (any, error) {
	var params struct {
		Owner string `json:"owner"`
	}
	if err := decode(raw, &params); err != nil {
		return nil, err
	}
	if err := requireField("owner", params.Owner); err != nil {
		return nil, err
	}
	if h.indexer == nil {
		return nil, errNoIndexer
	}
	ids, err := h.indexer.TokensByOwner(params.Owner)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// ---- sale components ----

type saleParams struct {
	Address string       `json:"address"`
	ID      *uint256.Int `json:"id"`      // market: listed token
	Seller  string       `json:"seller"`  // market: listed count
	BaseID  *uint256.Int `json:"base_id"` // pre-sale: batch root
	Buyer   string       `json:"buyer"`   // pre-sale: order owner
}

func (h *Handler) saleParams(raw json.RawMessage) (saleParams, error) {
	var params saleParams
	if err := decode(raw, &params); err != nil {
		return params, err
	}
	return params, requireField("address", params.Address)
}

type marketResult struct {
	Address string       `json:"address"`
	Owner   string       `json:"owner"`
	Item    *market.Item `json:"item,omitempty"`
	Listed  *uint64      `json:"listed,omitempty"`
}

func (h *Handler) getMarket(raw json.RawMessage) (any, error) {
	params, err := h.saleParams(raw)
	if err != nil {
		return nil, err
	}
	return h.query(func(ctx *vm.Context) (any, error) {
		mp, err := market.Load(ctx, params.Address)
		if err != nil {
			return nil, err
		}
		res := marketResult{Address: mp.Address(), Owner: mp.Owner()}
		if params.ID != nil {
			if res.Item, err = mp.ApproveInfo(params.ID); err != nil {
				return nil, err
			}
		}
		if params.Seller != "" {
			n, err := mp.AssetCount(params.Seller)
			if err != nil {
				return nil, err
			}
			res.Listed = &n
		}
		return res, nil
	})
}

func (h *Handler) getAuction(raw json.RawMessage) (any, error) {
	params, err := h.saleParams(raw)
	if err != nil {
		return nil, err
	}
	return h.query(func(ctx *vm.Context) (any, error) {
		a, err := auction.Load(ctx, params.Address)
		if err != nil {
			return nil, err
		}
		return a.BidInfo(), nil
	})
}

func (h *Handler) getLottery(raw json.RawMessage) (any, error) {
	params, err := h.saleParams(raw)
	if err != nil {
		return nil, err
	}
	return h.query(func(ctx *vm.Context) (any, error) {
		p, err := lottery.Load(ctx, params.Address)
		if err != nil {
			return nil, err
		}
		return p.BetInfo(), nil
	})
}

type preSaleResult struct {
	Address    string             `json:"address"`
	Start      int64              `json:"start_timestamp"`
	End        int64              `json:"end_timestamp"`
	Inventory  *presale.Inventory `json:"inventory,omitempty"`
	OrderCount *uint64            `json:"order_count,omitempty"`
	Order      *presale.Order     `json:"order,omitempty"`
}

func (h *Handler) getPreSale(raw json.RawMessage) (any, error) {
	params, err := h.saleParams(raw)
	if err != nil {
		return nil, err
	}
	return h.query(func(ctx *vm.Context) (any, error) {
		ps, err := presale.Load(ctx, params.Address)
		if err != nil {
			return nil, err
		}
		res := preSaleResult{Address: ps.Address()}
		res.Start, res.End = ps.EndTimestamp()
		if params.BaseID == nil {
			return res, nil
		}
		if res.Inventory, err = ps.RegisterInfo(params.BaseID); err != nil {
			return nil, err
		}
		n, err := ps.OrderCount(params.BaseID)
		if err != nil {
			return nil, err
		}
		res.OrderCount = &n
		if params.Buyer != "" {
			if res.Order, err = ps.OrderInfo(params.Buyer, params.BaseID); err != nil {
				return nil, err
			}
		}
		return res, nil
	})
}

// ---- index ----

var (
	errNoIndexer     = errors.New("indexer disabled")
	errBlockRejected = errors.New("block rejected")
)

func (h *Handler) getSale(raw json.RawMessage) (any, error) {
	params, err := h.saleParams(raw)
	if err != nil {
		return nil, err
	}
	if h.indexer == nil {
		return nil, errNoIndexer
	}
	return h.indexer.Sale(params.Address)
}

func (h *Handler) getSalesByOwner(raw json.RawMessage) (any, error) {
	var params struct {
		Owner string `json:"owner"`
	}
	if err := decode(raw, &params); err != nil {
		return nil, err
	}
	if err := requireField("owner", params.Owner); err != nil {
		return nil, err
	}
	if h.indexer == nil {
		return nil, errNoIndexer
	}
	addrs, err := h.indexer.SalesByOwner(params.Owner)
	if err != nil {
		return nil, err
	}
	if addrs == nil {
		addrs = []string{}
	}
	return addrs, nil
}

// getDueSales lists sales that can be settled at now (unix seconds,
// defaulting to the wall clock).
func (h *Handler) getDueSales(raw json.RawMessage) (any, error) {
	var params struct {
		Now int64 `json:"now"`
	}
	if err := decode(raw, &params); err != nil {
		return nil, err
	}
	if params.Now == 0 {
		params.Now = time.Now().Unix()
	}
	if h.indexer == nil {
		return nil, errNoIndexer
	}
	recs, err := h.indexer.DueSales(params.Now)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []indexer.SaleRecord{}
	}
	return recs, nil
}
