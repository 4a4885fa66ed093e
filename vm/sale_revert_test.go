package vm_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/dmachain/core"
	"github.com/tolelom/dmachain/crypto"
	"github.com/tolelom/dmachain/internal/testutil"
	"github.com/tolelom/dmachain/vm"
	"github.com/tolelom/dmachain/vm/modules/escrow"
	"github.com/tolelom/dmachain/vm/modules/market"
	"github.com/tolelom/dmachain/vm/modules/nft"
	"github.com/tolelom/dmachain/vm/modules/presale"
)

// setup runs fn as caller directly against the state, in a block an hour
// before the executed ones.
func (h *harness) setup(t *testing.T, caller string, fn func(ctx *vm.Context) error) {
	t.Helper()
	h.setups++
	block := &core.Block{Header: core.BlockHeader{Height: 1, Timestamp: time.Now().Add(-time.Hour).UnixNano()}}
	tx := &core.Transaction{ID: crypto.Hash([]byte(fmt.Sprintf("setup:%d", h.setups))), From: caller}
	require.NoError(t, fn(vm.NewContext(h.state, block, tx)))
}

func (h *harness) view() *vm.Context {
	return vm.NewContext(h.state, nil, nil)
}

func (h *harness) owner(t *testing.T, id uint64) string {
	t.Helper()
	owner, err := nft.New(h.view()).OwnerOf(uint256.NewInt(id))
	require.NoError(t, err)
	return owner
}

func (h *harness) withRegistry(t *testing.T) {
	t.Helper()
	require.NoError(t, nft.Genesis(h.state, nft.Info{Name: "Cards", Symbol: "CRD", Owner: h.proposer.Address()}))
}

func TestFailedMarketBuyLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	h.withRegistry(t)
	seller := h.bob.Address()

	h.setup(t, h.proposer.Address(), func(ctx *vm.Context) error {
		_, err := nft.New(ctx).MintMulti(seller, uint256.NewInt(20), 2, "", true, false)
		return err
	})
	var addr string
	h.setup(t, h.alice.Address(), func(ctx *vm.Context) error {
		mp, err := market.Create(ctx)
		if err == nil {
			addr = mp.Address()
		}
		return err
	})
	h.setup(t, seller, func(ctx *vm.Context) error {
		return nft.New(ctx).ApproveMulti(addr, uint256.NewInt(20), 2)
	})
	h.setup(t, seller, func(ctx *vm.Context) error {
		mp, err := market.Load(ctx, addr)
		if err != nil {
			return err
		}
		if err := mp.SaveMultiApprove(seller, uint256.NewInt(20), 2, uint256.NewInt(10)); err != nil {
			return err
		}
		// the second id can no longer move, so the buy fails after the first
		return nft.New(ctx).SetTransferable(uint256.NewInt(21), false)
	})
	h.setup(t, h.alice.Address(), func(ctx *vm.Context) error {
		return escrow.New(ctx).ApproveFreeze(addr, uint256.NewInt(20))
	})

	tx, err := h.alice.Session(chainID, 0, 1).Tx(core.TxMarketBuy, core.MarketBuyPayload{
		Market: addr, Seller: seller, BaseID: uint256.NewInt(20), Count: 2, TotalAmount: uint256.NewInt(20),
	})
	require.NoError(t, err)
	err = h.exec.ExecuteTx(h.block(tx), tx)
	assert.ErrorIs(t, err, core.ErrOwnershipConflict)

	assert.Equal(t, seller, h.owner(t, 20), "first id handed back")
	assert.Equal(t, seller, h.owner(t, 21))
	assert.Equal(t, uint64(80), h.balance(t, h.alice))
	assert.Zero(t, h.balance(t, h.bob))
	assert.Zero(t, h.balance(t, h.proposer), "fee reverted")
	assert.Zero(t, h.nonce(t, h.alice))
	assert.Empty(t, h.seen)

	frozen, err := escrow.New(h.view()).FreezeValue(h.alice.Address(), addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), frozen.Uint64())

	mp, err := market.Load(h.view(), addr)
	require.NoError(t, err)
	n, err := mp.AssetCount(seller)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
	item, err := mp.ApproveInfo(uint256.NewInt(20))
	require.NoError(t, err)
	assert.False(t, item.Sold)
	cursor, err := mp.LatestSalesTokenID(uint256.NewInt(20))
	require.NoError(t, err)
	assert.Equal(t, uint64(20), cursor.Uint64())
}

func TestFailedPlatformMintLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	h.withRegistry(t)
	seller := h.bob.Address()
	b1, b2 := testutil.Addr("b1"), testutil.Addr("b2")
	const base = 1000

	var addr string
	h.setup(t, h.alice.Address(), func(ctx *vm.Context) error {
		ps, err := presale.Create(ctx, ctx.Now()+1800)
		if err == nil {
			addr = ps.Address()
		}
		return err
	})
	h.setup(t, seller, func(ctx *vm.Context) error {
		return nft.New(ctx).SetApprovalForAll(addr, true)
	})
	h.setup(t, seller, func(ctx *vm.Context) error {
		ps, err := presale.Load(ctx, addr)
		if err != nil {
			return err
		}
		return ps.RegistAsset(seller, uint256.NewInt(base), 10, uint256.NewInt(1), "")
	})
	for _, b := range []string{b1, b2} {
		h.setup(t, h.alice.Address(), func(ctx *vm.Context) error {
			return escrow.New(ctx).Transfer(b, uint256.NewInt(10))
		})
		h.setup(t, b, func(ctx *vm.Context) error {
			return escrow.New(ctx).ApproveFreeze(addr, uint256.NewInt(5))
		})
	}
	h.setup(t, b1, func(ctx *vm.Context) error {
		ps, err := presale.Load(ctx, addr)
		if err != nil {
			return err
		}
		return ps.Order(uint256.NewInt(base), 2, "")
	})
	h.setup(t, b2, func(ctx *vm.Context) error {
		ps, err := presale.Load(ctx, addr)
		if err != nil {
			return err
		}
		return ps.Order(uint256.NewInt(base), 1, "")
	})
	// b2's unit would land on an id that already exists
	h.setup(t, h.proposer.Address(), func(ctx *vm.Context) error {
		return nft.New(ctx).Mint(testutil.Addr("holder"), uint256.NewInt(base+2), "", true, false)
	})

	tx, err := h.alice.Session(chainID, 0, 1).Tx(core.TxPreSaleMintPlatform, core.PreSaleMintPayload{
		PreSale: addr, BaseID: uint256.NewInt(base), Count: 2,
	})
	require.NoError(t, err)
	err = h.exec.ExecuteTx(h.block(tx), tx)
	assert.ErrorIs(t, err, core.ErrOwnershipConflict)

	exists, err := nft.New(h.view()).Exists(uint256.NewInt(base))
	require.NoError(t, err)
	assert.False(t, exists, "b1's range was not kept")
	assert.Zero(t, h.balance(t, h.bob))
	assert.Equal(t, uint64(80), h.balance(t, h.alice))
	assert.Zero(t, h.nonce(t, h.alice))
	assert.Empty(t, h.seen)

	frozen, err := escrow.New(h.view()).FreezeValue(b1, addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), frozen.Uint64())

	ps, err := presale.Load(h.view(), addr)
	require.NoError(t, err)
	inv, err := ps.RegisterInfo(uint256.NewInt(base))
	require.NoError(t, err)
	assert.Zero(t, inv.Minted)
	assert.Zero(t, inv.QueueHead)
	o, err := ps.OrderInfo(b1, uint256.NewInt(base))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), o.Quantity)
	assert.True(t, o.Queued)
}
