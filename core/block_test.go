package core_test

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/dmachain/core"
	"github.com/tolelom/dmachain/crypto"
	"github.com/tolelom/dmachain/internal/testutil"
)

func signedBlock(t *testing.T, priv crypto.PrivateKey, height int64, prev string) *core.Block {
	t.Helper()
	b := core.NewBlock(height, prev, priv.Public().Hex(), nil)
	b.SetSeed(priv)
	b.Sign(priv)
	return b
}

func TestBlockSignAndSeed(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	b := signedBlock(t, priv, 1, "prev")
	assert.Equal(t, b.ComputeHash(), b.Hash)
	assert.NoError(t, b.Verify(pub))
	assert.NoError(t, b.VerifySeed(pub))

	b.Header.PrevHash = "other"
	assert.Error(t, b.Verify(pub), "header changed after signing")
	assert.Error(t, b.VerifySeed(pub), "seed bound to prev hash")
}

func TestTransactionTamperDetected(t *testing.T) {
	w := newWallet(t)
	tx, err := w.NewTx(chainID, core.TxTransfer, 0, 0, core.TransferPayload{To: w.Address(), Amount: uint256.NewInt(100)})
	require.NoError(t, err)
	assert.Equal(t, tx.Hash(), tx.ID)
	require.NoError(t, tx.Verify())

	tx.Fee = 999
	assert.Error(t, tx.Verify())
}

func TestBlockchainLinkage(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	bc := core.NewBlockchain(testutil.NewBlockStore())

	assert.ErrorContains(t, bc.AddBlock(signedBlock(t, priv, 1, "x")), "genesis")

	g := signedBlock(t, priv, 0, "")
	require.NoError(t, bc.AddBlock(g))
	assert.ErrorContains(t, bc.AddBlock(signedBlock(t, priv, 1, "wrong")), "prev_hash")
	assert.ErrorContains(t, bc.AddBlock(signedBlock(t, priv, 2, g.Hash)), "height")

	unsigned := core.NewBlock(1, g.Hash, priv.Public().Hex(), nil)
	assert.ErrorContains(t, bc.AddBlock(unsigned), "hash")

	b1 := signedBlock(t, priv, 1, g.Hash)
	require.NoError(t, bc.AddBlock(b1))
	assert.Equal(t, int64(1), bc.Height())

	var seen []int64
	require.NoError(t, bc.Walk(0, func(b *core.Block) error {
		seen = append(seen, b.Header.Height)
		return nil
	}))
	assert.Equal(t, []int64{0, 1}, seen)

	reopened := core.NewBlockchain(testutil.NewBlockStore())
	require.NoError(t, reopened.Init())
	assert.Nil(t, reopened.Tip(), "fresh store")
}

func TestSafeArithmetic(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	_, err := core.SafeAdd(max, uint256.NewInt(1))
	assert.ErrorIs(t, err, core.ErrInvalidQuantity)
	_, err = core.SafeSub(uint256.NewInt(1), uint256.NewInt(2))
	assert.ErrorIs(t, err, core.ErrInvalidQuantity)
	_, err = core.SafeMulU64(max, 2)
	assert.ErrorIs(t, err, core.ErrInvalidQuantity)

	id, err := core.OffsetID(uint256.NewInt(1000), 5)
	require.NoError(t, err)
	assert.Equal(t, "1005", core.IDKey(id))
	assert.True(t, core.IsZero(nil))
	assert.Equal(t, "0", core.IDKey(nil))
}
