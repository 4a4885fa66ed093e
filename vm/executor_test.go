package vm_test

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/dmachain/core"
	"github.com/tolelom/dmachain/events"
	"github.com/tolelom/dmachain/internal/testutil"
	"github.com/tolelom/dmachain/storage"
	"github.com/tolelom/dmachain/vm"
	"github.com/tolelom/dmachain/vm/modules/escrow"
	"github.com/tolelom/dmachain/wallet"

	_ "github.com/tolelom/dmachain/vm/modules/auction"
	_ "github.com/tolelom/dmachain/vm/modules/lottery"
	_ "github.com/tolelom/dmachain/vm/modules/market"
	_ "github.com/tolelom/dmachain/vm/modules/nft"
	_ "github.com/tolelom/dmachain/vm/modules/presale"
)

const chainID = "dma-test"

type harness struct {
	state    *storage.StateDB
	exec     *vm.Executor
	seen     []events.Event
	alice    *wallet.Wallet
	bob      *wallet.Wallet
	proposer *wallet.Wallet
	setups   int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{state: testutil.NewStateDB()}
	var err error
	h.alice, err = wallet.Generate()
	require.NoError(t, err)
	h.bob, err = wallet.Generate()
	require.NoError(t, err)
	h.proposer, err = wallet.Generate()
	require.NoError(t, err)

	require.NoError(t, escrow.Genesis(h.state,
		escrow.TokenInfo{Name: "DMA Token", Symbol: "DMA", Decimals: 18, Issuer: h.proposer.Address()},
		map[string]*uint256.Int{h.alice.Address(): uint256.NewInt(100)}))

	em := events.NewEmitter()
	em.SubscribeAll(func(ev events.Event) { h.seen = append(h.seen, ev) })
	h.exec = vm.NewExecutor(h.state, em, chainID)
	return h
}

func (h *harness) block(txs ...*core.Transaction) *core.Block {
	return core.NewBlock(1, "genesis", h.proposer.Address(), txs)
}

func (h *harness) balance(t *testing.T, w *wallet.Wallet) uint64 {
	t.Helper()
	acc, err := h.state.GetAccount(w.Address())
	require.NoError(t, err)
	return acc.Available().Uint64()
}

func (h *harness) nonce(t *testing.T, w *wallet.Wallet) uint64 {
	t.Helper()
	acc, err := h.state.GetAccount(w.Address())
	require.NoError(t, err)
	return acc.Nonce
}

func TestTransferPaysFeeToProposer(t *testing.T) {
	h := newHarness(t)
	tx, err := h.alice.Session(chainID, 0, 2).Transfer(h.bob.Address(), uint256.NewInt(30))
	require.NoError(t, err)

	require.NoError(t, h.exec.ExecuteTx(h.block(tx), tx))

	assert.Equal(t, uint64(68), h.balance(t, h.alice))
	assert.Equal(t, uint64(30), h.balance(t, h.bob))
	assert.Equal(t, uint64(2), h.balance(t, h.proposer))
	assert.Equal(t, uint64(1), h.nonce(t, h.alice))
}

func TestFailedTxRevertsEverything(t *testing.T) {
	h := newHarness(t)
	tx, err := h.alice.Session(chainID, 0, 2).Transfer(h.bob.Address(), uint256.NewInt(500))
	require.NoError(t, err)

	err = h.exec.ExecuteTx(h.block(tx), tx)
	assert.ErrorIs(t, err, core.ErrInsufficientFunds)

	assert.Equal(t, uint64(100), h.balance(t, h.alice))
	assert.Zero(t, h.balance(t, h.proposer), "fee reverted")
	assert.Zero(t, h.nonce(t, h.alice), "nonce reverted")
	assert.Empty(t, h.seen, "no events for a reverted tx")
}

func TestEventsDeliveredAfterSuccess(t *testing.T) {
	h := newHarness(t)
	tx, err := h.alice.Session(chainID, 0, 0).Transfer(h.bob.Address(), uint256.NewInt(1))
	require.NoError(t, err)
	require.NoError(t, h.exec.ExecuteTx(h.block(tx), tx))

	require.Len(t, h.seen, 2)
	assert.Equal(t, events.EventTransfer, h.seen[0].Type)
	assert.Equal(t, tx.ID, h.seen[0].TxID)
	assert.Equal(t, events.EventTxExecuted, h.seen[1].Type)
	assert.Equal(t, string(core.TxTransfer), h.seen[1].Data["type"])
}

func TestNonceReplayRejected(t *testing.T) {
	h := newHarness(t)
	tx, err := h.alice.Session(chainID, 0, 0).Transfer(h.bob.Address(), uint256.NewInt(5))
	require.NoError(t, err)
	require.NoError(t, h.exec.ExecuteTx(h.block(tx), tx))

	err = h.exec.ExecuteTx(h.block(tx), tx)
	assert.ErrorContains(t, err, "invalid nonce")
	assert.Equal(t, uint64(5), h.balance(t, h.bob))
}

func TestChainIDMismatch(t *testing.T) {
	h := newHarness(t)
	tx, err := h.alice.Session("other-chain", 0, 0).Transfer(h.bob.Address(), uint256.NewInt(5))
	require.NoError(t, err)

	err = h.exec.ExecuteTx(h.block(tx), tx)
	assert.ErrorContains(t, err, "chain id mismatch")
}

func TestBadSignatureRejected(t *testing.T) {
	h := newHarness(t)
	tx, err := h.alice.Session(chainID, 0, 0).Transfer(h.bob.Address(), uint256.NewInt(5))
	require.NoError(t, err)
	tx.From = h.bob.Address()

	err = h.exec.ExecuteTx(h.block(tx), tx)
	assert.ErrorContains(t, err, "signature")
}

func TestUnknownTxType(t *testing.T) {
	h := newHarness(t)
	tx, err := h.alice.NewTx(chainID, core.TxType("warp_drive"), 0, 1, map[string]string{})
	require.NoError(t, err)

	assert.Error(t, h.exec.ExecuteTx(h.block(tx), tx))
	assert.Zero(t, h.nonce(t, h.alice))
}

func TestExecuteBlockStopsAtFirstFailure(t *testing.T) {
	h := newHarness(t)
	s := h.alice.Session(chainID, 0, 0)
	ok, err := s.Transfer(h.bob.Address(), uint256.NewInt(10))
	require.NoError(t, err)
	bad, err := s.Transfer(h.bob.Address(), uint256.NewInt(1000))
	require.NoError(t, err)

	err = h.exec.ExecuteBlock(h.block(ok, bad))
	assert.ErrorContains(t, err, bad.ID)
	assert.Equal(t, uint64(10), h.balance(t, h.bob), "first tx kept until the caller discards state")
}

func TestRegisteredCoversAllModules(t *testing.T) {
	types := vm.Registered()
	for _, want := range []core.TxType{
		core.TxTransfer, core.TxNFTMintMulti, core.TxMarketBuy,
		core.TxAuctionBid, core.TxLotteryBet, core.TxPreSaleOrder,
	} {
		assert.Contains(t, types, want)
	}
}
