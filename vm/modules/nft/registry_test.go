package nft

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/dmachain/core"
	"github.com/tolelom/dmachain/internal/testutil"
)

var (
	admin  = testutil.Addr("admin")
	seller = testutil.Addr("seller")
	buyer  = testutil.Addr("buyer")
	market = testutil.Addr("market")
	u      = testutil.U
)

func newRegistryEnv(t *testing.T, burn bool) *testutil.Env {
	t.Helper()
	env := testutil.NewEnv()
	require.NoError(t, Genesis(env.State, Info{Name: "Cards", Symbol: "CRD", Owner: admin, BurnEnabled: burn}))
	return env
}

func ids(list []*uint256.Int) []uint64 {
	out := make([]uint64, len(list))
	for i, id := range list {
		out[i] = id.Uint64()
	}
	return out
}

func TestMintMultiGrowsRange(t *testing.T) {
	env := newRegistryEnv(t, false)
	r := New(env.Ctx(admin))

	start, err := r.MintMulti(seller, u(100), 5, "ipfs://a", true, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), start.Uint64())

	start, err = r.MintMulti(seller, u(100), 3, "ipfs://a", true, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(105), start.Uint64())

	latest, err := r.LatestTokenID(u(100))
	require.NoError(t, err)
	assert.Equal(t, uint64(108), latest.Uint64())

	for id := uint64(100); id < 108; id++ {
		owner, err := r.OwnerOf(u(id))
		require.NoError(t, err)
		assert.Equal(t, seller, owner)
	}
	n, err := r.BalanceOf(seller)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), n)

	unused, err := r.LatestTokenID(u(999))
	require.NoError(t, err)
	assert.True(t, unused.IsZero())
}

func TestMintRejectsDuplicatesAndStrangers(t *testing.T) {
	env := newRegistryEnv(t, false)

	require.NoError(t, New(env.Ctx(admin)).Mint(seller, u(7), "", true, false))
	err := New(env.Ctx(admin)).Mint(seller, u(7), "", true, false)
	assert.ErrorIs(t, err, core.ErrOwnershipConflict)

	// a batch overlapping a single mint fails as a whole id collision
	_, err = New(env.Ctx(admin)).MintMulti(seller, u(5), 3, "", true, false)
	assert.ErrorIs(t, err, core.ErrOwnershipConflict)

	err = New(env.Ctx(buyer)).Mint(seller, u(8), "", true, false)
	assert.ErrorIs(t, err, core.ErrUnauthorized)
	err = New(env.Ctx(buyer)).Mint(buyer, u(8), "", true, false)
	assert.ErrorIs(t, err, core.ErrUnauthorized, "minting to yourself needs the registry owner")
	_, err = New(env.Ctx(buyer)).MintMulti(buyer, u(500), 2, "", true, false)
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	require.NoError(t, New(env.Ctx(seller)).SetApprovalForAll(buyer, true))
	require.NoError(t, New(env.Ctx(buyer)).Mint(seller, u(8), "", true, false))
}

func TestApproveSlotIsSingleUse(t *testing.T) {
	env := newRegistryEnv(t, false)
	require.NoError(t, New(env.Ctx(admin)).Mint(seller, u(1), "", true, false))

	require.NoError(t, New(env.Ctx(seller)).Approve(market, u(1)))
	err := New(env.Ctx(seller)).Approve(buyer, u(1))
	assert.ErrorIs(t, err, core.ErrOwnershipConflict)

	err = New(env.Ctx(buyer)).Approve(buyer, u(1))
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	// the approved spender moves the token and the slot is cleared
	require.NoError(t, New(env.Ctx(market)).TransferFrom(seller, buyer, u(1)))
	approved, err := New(env.Ctx(buyer)).GetApproved(u(1))
	require.NoError(t, err)
	assert.Empty(t, approved)

	err = New(env.Ctx(market)).TransferFrom(buyer, seller, u(1))
	assert.ErrorIs(t, err, core.ErrUnauthorized)
}

func TestApproveMultiAdvancesCursor(t *testing.T) {
	env := newRegistryEnv(t, false)
	_, err := New(env.Ctx(admin)).MintMulti(seller, u(50), 4, "", true, false)
	require.NoError(t, err)

	require.NoError(t, New(env.Ctx(seller)).ApproveMulti(market, u(50), 2))
	require.NoError(t, New(env.Ctx(seller)).ApproveMulti(market, u(50), 2))

	for id := uint64(50); id < 54; id++ {
		approved, err := New(env.Ctx(seller)).GetApproved(u(id))
		require.NoError(t, err)
		assert.Equal(t, market, approved, "id %d", id)
	}

	// cursor now points past the minted range
	err = New(env.Ctx(seller)).ApproveMulti(market, u(50), 1)
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

func TestClearApproval(t *testing.T) {
	env := newRegistryEnv(t, false)
	require.NoError(t, New(env.Ctx(admin)).Mint(seller, u(3), "", true, false))
	require.NoError(t, New(env.Ctx(seller)).Approve(market, u(3)))

	err := New(env.Ctx(buyer)).ClearApproval(u(3))
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	require.NoError(t, New(env.Ctx(market)).ClearApproval(u(3)))
	require.NoError(t, New(env.Ctx(seller)).Approve(buyer, u(3)))
}

func TestTransferRules(t *testing.T) {
	env := newRegistryEnv(t, false)
	require.NoError(t, New(env.Ctx(admin)).Mint(seller, u(1), "", false, false))
	require.NoError(t, New(env.Ctx(admin)).Mint(seller, u(2), "", true, false))

	err := New(env.Ctx(seller)).TransferFrom(seller, buyer, u(1))
	assert.ErrorIs(t, err, core.ErrOwnershipConflict)

	err = New(env.Ctx(seller)).TransferFrom(buyer, seller, u(2))
	assert.ErrorIs(t, err, core.ErrOwnershipConflict)

	err = New(env.Ctx(seller)).SafeTransferFrom(seller, "not-an-address", u(2))
	assert.ErrorIs(t, err, core.ErrInvalidState)

	require.NoError(t, New(env.Ctx(seller)).SetTransferable(u(1), true))
	require.NoError(t, New(env.Ctx(seller)).SafeTransferFrom(seller, buyer, u(1)))

	owned, err := New(env.Ctx(buyer)).TokensOfOwner(buyer)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, ids(owned))
	owned, err = New(env.Ctx(seller)).TokensOfOwner(seller)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, ids(owned))
}

func TestOperatorTransfers(t *testing.T) {
	env := newRegistryEnv(t, false)
	require.NoError(t, New(env.Ctx(admin)).Mint(seller, u(9), "", true, false))
	require.NoError(t, New(env.Ctx(seller)).SetApprovalForAll(market, true))

	ok, err := New(env.Ctx(buyer)).IsApprovedForAll(seller, market)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, New(env.Ctx(market)).TransferFrom(seller, buyer, u(9)))

	require.NoError(t, New(env.Ctx(seller)).SetApprovalForAll(market, false))
	ok, err = New(env.Ctx(buyer)).IsApprovedForAll(seller, market)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBurnRemovesFromEnumeration(t *testing.T) {
	env := newRegistryEnv(t, true)
	_, err := New(env.Ctx(admin)).MintMulti(seller, u(10), 3, "uri", true, true)
	require.NoError(t, err)
	require.NoError(t, New(env.Ctx(admin)).Mint(seller, u(20), "keep", true, false))

	err = New(env.Ctx(seller)).Burn(seller, u(20))
	assert.ErrorIs(t, err, core.ErrOwnershipConflict)

	require.NoError(t, New(env.Ctx(seller)).Burn(seller, u(10)))

	r := New(env.Ctx(seller))
	total, err := r.TotalSupply()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), total)

	var live []uint64
	for i := uint64(0); i < total; i++ {
		id, err := r.TokenByIndex(i)
		require.NoError(t, err)
		live = append(live, id.Uint64())
	}
	assert.ElementsMatch(t, []uint64{11, 12, 20}, live)

	owned, err := r.TokensOfOwner(seller)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint64{11, 12, 20}, ids(owned))

	_, err = r.OwnerOf(u(10))
	assert.ErrorIs(t, err, core.ErrInvalidState)
	assert.Equal(t, "", r.CheckURI(u(10)))
	assert.Equal(t, "uri", r.CheckURI(u(11)))

	_, err = r.TokenByIndex(3)
	assert.ErrorIs(t, err, core.ErrInvalidQuantity)
}

func TestBurnDisabledRegistry(t *testing.T) {
	env := newRegistryEnv(t, false)
	require.NoError(t, New(env.Ctx(admin)).Mint(seller, u(1), "", true, true))
	err := New(env.Ctx(seller)).Burn(seller, u(1))
	assert.ErrorIs(t, err, core.ErrOwnershipConflict)
}

func TestOwnerOnlyAttributes(t *testing.T) {
	env := newRegistryEnv(t, false)
	require.NoError(t, New(env.Ctx(admin)).Mint(seller, u(4), "", true, false))

	require.NoError(t, New(env.Ctx(seller)).SetStatus(u(4), 2))
	require.NoError(t, New(env.Ctx(seller)).SetUser(u(4), "renter-1"))
	err := New(env.Ctx(buyer)).SetStatus(u(4), 3)
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	tok, err := New(env.Ctx(buyer)).TokenInfo(u(4))
	require.NoError(t, err)
	assert.Equal(t, uint8(2), tok.Status)
	assert.Equal(t, "renter-1", tok.User)
	assert.Equal(t, seller, tok.Owner)

	err = New(env.Ctx(seller)).SetMetadata("x")
	assert.ErrorIs(t, err, core.ErrUnauthorized)
	require.NoError(t, New(env.Ctx(admin)).SetMetadata("x"))
	meta, err := New(env.Ctx(buyer)).Metadata()
	require.NoError(t, err)
	assert.Equal(t, "x", meta)
}

func TestMintEventsAreBuffered(t *testing.T) {
	env := newRegistryEnv(t, false)
	ctx := env.Ctx(admin)
	_, err := New(ctx).MintMulti(seller, u(1), 2, "", true, false)
	require.NoError(t, err)

	evs := ctx.Events()
	require.Len(t, evs, 2)
	assert.Equal(t, "", evs[0].Data["from"])
	assert.Equal(t, "1", evs[0].Data["id"])
	assert.Equal(t, "2", evs[1].Data["id"])
}

func TestRangeFreeFollowsCursor(t *testing.T) {
	env := newRegistryEnv(t, false)
	r := New(env.Ctx(admin))

	free, err := r.RangeFree(u(30), 3)
	require.NoError(t, err)
	assert.True(t, free)

	_, err = r.MintMulti(seller, u(30), 2, "", true, false)
	require.NoError(t, err)
	// the next batch on root 30 starts at 32
	free, err = r.RangeFree(u(30), 3)
	require.NoError(t, err)
	assert.True(t, free)

	require.NoError(t, r.Mint(buyer, u(33), "", true, false))
	free, err = r.RangeFree(u(30), 1)
	require.NoError(t, err)
	assert.True(t, free)
	free, err = r.RangeFree(u(30), 2)
	require.NoError(t, err)
	assert.False(t, free)
}
