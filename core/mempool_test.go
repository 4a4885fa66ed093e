package core_test

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/dmachain/core"
	"github.com/tolelom/dmachain/wallet"
)

const chainID = "dma-test"

func transfer(t *testing.T, w *wallet.Wallet, nonce uint64) *core.Transaction {
	t.Helper()
	tx, err := w.NewTx(chainID, core.TxTransfer, nonce, 0, core.TransferPayload{To: w.Address(), Amount: uint256.NewInt(1)})
	require.NoError(t, err)
	return tx
}

func newWallet(t *testing.T) *wallet.Wallet {
	t.Helper()
	w, err := wallet.Generate()
	require.NoError(t, err)
	return w
}

func TestMempoolOrdersNoncesPerSender(t *testing.T) {
	mp := core.NewMempool(chainID)
	a, b := newWallet(t), newWallet(t)

	a2, a0, b0, a1 := transfer(t, a, 2), transfer(t, a, 0), transfer(t, b, 0), transfer(t, a, 1)
	for _, tx := range []*core.Transaction{a2, a0, b0, a1} {
		require.NoError(t, mp.Add(tx))
	}

	got := mp.Pending(10)
	require.Len(t, got, 4)
	assert.Equal(t, []string{a0.ID, a1.ID, a2.ID, b0.ID}, ids(got))
	assert.Len(t, mp.Pending(2), 2)
}

func TestMempoolRejects(t *testing.T) {
	mp := core.NewMempool(chainID)
	w := newWallet(t)
	tx := transfer(t, w, 0)
	require.NoError(t, mp.Add(tx))

	assert.ErrorIs(t, mp.Add(tx), core.ErrTxKnown)

	sameNonce, err := w.NewTx(chainID, core.TxTransfer, 0, 5, core.TransferPayload{To: w.Address(), Amount: uint256.NewInt(2)})
	require.NoError(t, err)
	assert.ErrorIs(t, mp.Add(sameNonce), core.ErrNonceTaken)

	foreign, err := w.NewTx("other", core.TxTransfer, 1, 0, core.TransferPayload{})
	require.NoError(t, err)
	assert.ErrorContains(t, mp.Add(foreign), "chain id mismatch")

	stale := transfer(t, w, 1)
	stale.Timestamp = time.Now().Add(-2 * time.Hour).UnixNano()
	stale.Sign(w.PrivKey())
	assert.ErrorIs(t, mp.Add(stale), core.ErrTxOutOfRange)

	forged := transfer(t, w, 2)
	forged.Nonce = 3
	assert.ErrorContains(t, mp.Add(forged), "signature")
}

func TestMempoolRemoveAndPrune(t *testing.T) {
	mp := core.NewMempool(chainID)
	a, b := newWallet(t), newWallet(t)
	a0, a1, b0 := transfer(t, a, 0), transfer(t, a, 1), transfer(t, b, 0)
	for _, tx := range []*core.Transaction{a0, a1, b0} {
		require.NoError(t, mp.Add(tx))
	}

	mp.Remove([]string{b0.ID})
	assert.Equal(t, 2, mp.Size())
	_, ok := mp.Get(b0.ID)
	assert.False(t, ok)

	dropped := mp.Prune(func(addr string) uint64 {
		if addr == a.Address() {
			return 1
		}
		return 0
	})
	assert.Equal(t, 1, dropped)
	assert.Equal(t, []string{a1.ID}, ids(mp.Pending(10)))

	// the freed slot can be reused
	require.NoError(t, mp.Add(transfer(t, b, 0)))
}

func ids(txs []*core.Transaction) []string {
	out := make([]string, len(txs))
	for i, tx := range txs {
		out[i] = tx.ID
	}
	return out
}
