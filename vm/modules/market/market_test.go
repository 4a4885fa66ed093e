package market

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/dmachain/core"
	"github.com/tolelom/dmachain/internal/testutil"
	"github.com/tolelom/dmachain/vm/modules/escrow"
	"github.com/tolelom/dmachain/vm/modules/nft"
)

var (
	admin  = testutil.Addr("admin")
	seller = testutil.Addr("seller")
	buyer  = testutil.Addr("buyer")
	other  = testutil.Addr("other")
	u      = testutil.U
)

type fixture struct {
	env  *testutil.Env
	addr string
}

// newFixture mints ids 20..22 to seller, opens a marketplace and funds buyer
// with 100.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	env := testutil.NewEnv()
	require.NoError(t, escrow.Genesis(env.State, escrow.TokenInfo{Name: "DMA Token", Symbol: "DMA", Decimals: 18, Issuer: admin},
		map[string]*uint256.Int{buyer: u(100)}))
	require.NoError(t, nft.Genesis(env.State, nft.Info{Name: "Cards", Symbol: "CRD", Owner: admin}))

	_, err := nft.New(env.Ctx(admin)).MintMulti(seller, u(20), 3, "ipfs://card", true, false)
	require.NoError(t, err)

	mp, err := Create(env.Ctx(admin))
	require.NoError(t, err)
	return &fixture{env: env, addr: mp.Address()}
}

func (f *fixture) market(t *testing.T, caller string) *Marketplace {
	t.Helper()
	mp, err := Load(f.env.Ctx(caller), f.addr)
	require.NoError(t, err)
	return mp
}

func (f *fixture) listAll(t *testing.T, price uint64) {
	t.Helper()
	require.NoError(t, nft.New(f.env.Ctx(seller)).ApproveMulti(f.addr, u(20), 3))
	require.NoError(t, f.market(t, seller).SaveMultiApprove(seller, u(20), 3, u(price)))
}

func (f *fixture) freeze(t *testing.T, who string, amount uint64) {
	t.Helper()
	require.NoError(t, escrow.New(f.env.Ctx(who)).ApproveFreeze(f.addr, u(amount)))
}

func (f *fixture) owner(t *testing.T, id uint64) string {
	t.Helper()
	owner, err := nft.New(f.env.Ctx(other)).OwnerOf(u(id))
	require.NoError(t, err)
	return owner
}

func TestPartialFillAdvancesCursor(t *testing.T) {
	f := newFixture(t)
	f.listAll(t, 10)

	n, err := f.market(t, other).AssetCount(seller)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)

	f.freeze(t, buyer, 25)
	require.NoError(t, f.market(t, buyer).Transfer(seller, u(20), 2, u(20)))

	assert.Equal(t, buyer, f.owner(t, 20))
	assert.Equal(t, buyer, f.owner(t, 21))
	assert.Equal(t, seller, f.owner(t, 22))

	mp := f.market(t, other)
	n, err = mp.AssetCount(seller)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	cursor, err := mp.LatestSalesTokenID(u(20))
	require.NoError(t, err)
	assert.Equal(t, uint64(22), cursor.Uint64())

	frozen, err := escrow.New(f.env.Ctx(other)).FreezeValue(buyer, f.addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), frozen.Uint64())
	assert.Equal(t, uint64(20), f.env.Balance(seller))

	err = f.market(t, buyer).Transfer(seller, u(20), 2, u(20))
	assert.ErrorIs(t, err, core.ErrInvalidQuantity)

	sold, err := mp.ApproveInfo(u(20))
	require.NoError(t, err)
	assert.True(t, sold.Sold)
	assert.Equal(t, buyer, sold.Buyer)
	assert.Equal(t, uint64(20), sold.TokenID.Uint64())
	assert.True(t, sold.UnitPrice.IsZero())

	listed, err := mp.ApproveInfo(u(22))
	require.NoError(t, err)
	assert.False(t, listed.Sold)
	assert.Equal(t, uint64(10), listed.UnitPrice.Uint64())

	err = f.market(t, buyer).TransferWithArray(seller, []*uint256.Int{u(21)}, u(10))
	assert.ErrorIs(t, err, core.ErrInvalidState, "sold ids cannot be bought again")
}

func TestSellingOutDropsRange(t *testing.T) {
	f := newFixture(t)
	f.listAll(t, 10)
	f.freeze(t, buyer, 30)

	require.NoError(t, f.market(t, buyer).Transfer(seller, u(20), 3, u(30)))

	mp := f.market(t, other)
	_, err := mp.RangeInfo(u(20))
	assert.ErrorIs(t, err, core.ErrInvalidState)
	cursor, err := mp.LatestSalesTokenID(u(20))
	require.NoError(t, err)
	assert.True(t, cursor.IsZero())

	n, err := mp.AssetCount(seller)
	require.NoError(t, err)
	assert.Zero(t, n)

	// the buyer lists a bought id again and the sale record is replaced
	require.NoError(t, nft.New(f.env.Ctx(buyer)).Approve(f.addr, u(20)))
	require.NoError(t, f.market(t, buyer).SaveApprove(buyer, u(20), u(4)))
	item, err := f.market(t, other).ApproveInfo(u(20))
	require.NoError(t, err)
	assert.False(t, item.Sold)
	assert.Equal(t, buyer, item.Seller)
	assert.Equal(t, uint64(4), item.UnitPrice.Uint64())
}

func TestListingArrayJoinsOneRange(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, nft.New(f.env.Ctx(seller)).SetApprovalForAll(f.addr, true))

	ids := []*uint256.Int{u(20), u(21), u(22)}
	require.NoError(t, f.market(t, seller).SaveApproveWithArray(seller, ids, u(7)))

	mp := f.market(t, other)
	rng, err := mp.RangeInfo(u(20))
	require.NoError(t, err)
	assert.Equal(t, uint64(23), rng.NextListID.Uint64())
	assert.Equal(t, uint64(20), rng.NextSaleID.Uint64())

	item, err := mp.ApproveInfo(u(22))
	require.NoError(t, err)
	assert.Equal(t, uint64(20), item.BaseID.Uint64())
	assert.Equal(t, uint64(7), item.UnitPrice.Uint64())

	latest, err := mp.LatestTokenID(u(20))
	require.NoError(t, err)
	assert.Equal(t, uint64(23), latest.Uint64())
}

func TestListingRequirements(t *testing.T) {
	f := newFixture(t)

	err := f.market(t, seller).SaveApprove(seller, u(20), u(5))
	assert.ErrorIs(t, err, core.ErrUnauthorized, "not approved to the marketplace")

	require.NoError(t, nft.New(f.env.Ctx(seller)).Approve(f.addr, u(20)))

	err = f.market(t, other).SaveApprove(seller, u(20), u(5))
	assert.ErrorIs(t, err, core.ErrUnauthorized, "stranger listing for the seller")

	err = f.market(t, seller).SaveApprove(seller, u(20), u(0))
	assert.ErrorIs(t, err, core.ErrInvalidQuantity)

	require.NoError(t, f.market(t, seller).SaveApprove(seller, u(20), u(5)))

	// 20 is now a root, so listing it again extends the range with 21
	err = f.market(t, seller).SaveApprove(seller, u(20), u(5))
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	err = f.market(t, other).SaveApprove(other, u(20), u(5))
	assert.ErrorIs(t, err, core.ErrOwnershipConflict)
}

func TestPaymentChecks(t *testing.T) {
	f := newFixture(t)
	f.listAll(t, 10)

	f.freeze(t, buyer, 15)
	err := f.market(t, buyer).Transfer(seller, u(20), 2, u(15))
	assert.ErrorIs(t, err, core.ErrInsufficientFunds)

	err = f.market(t, buyer).Transfer(seller, u(20), 2, u(20))
	assert.ErrorIs(t, err, core.ErrInsufficientFreeze)

	err = f.market(t, buyer).Transfer(other, u(20), 1, u(10))
	assert.ErrorIs(t, err, core.ErrInvalidState)

	assert.Equal(t, seller, f.owner(t, 20))
}

func TestRevokeFromFront(t *testing.T) {
	f := newFixture(t)
	f.listAll(t, 10)

	err := f.market(t, buyer).RevokeApprove(u(20), 1)
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	err = f.market(t, seller).RevokeApprove(u(20), 4)
	assert.ErrorIs(t, err, core.ErrInvalidQuantity)

	require.NoError(t, f.market(t, seller).RevokeApprove(u(20), 2))

	mp := f.market(t, other)
	n, err := mp.AssetCount(seller)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	_, err = mp.ApproveInfo(u(20))
	assert.ErrorIs(t, err, core.ErrInvalidState)
	cursor, err := mp.LatestSalesTokenID(u(20))
	require.NoError(t, err)
	assert.Equal(t, uint64(22), cursor.Uint64())

	approved, err := nft.New(f.env.Ctx(other)).GetApproved(u(21))
	require.NoError(t, err)
	assert.Empty(t, approved)
	approved, err = nft.New(f.env.Ctx(other)).GetApproved(u(22))
	require.NoError(t, err)
	assert.Equal(t, f.addr, approved)
}

func TestBuyByIDsLeavesHole(t *testing.T) {
	f := newFixture(t)
	f.listAll(t, 10)
	f.freeze(t, buyer, 40)

	require.NoError(t, f.market(t, buyer).TransferWithArray(seller, []*uint256.Int{u(21)}, u(10)))
	assert.Equal(t, buyer, f.owner(t, 21))

	// the cursor skips the hole at 21
	require.NoError(t, f.market(t, buyer).Transfer(seller, u(20), 2, u(20)))
	assert.Equal(t, buyer, f.owner(t, 20))
	assert.Equal(t, buyer, f.owner(t, 22))

	_, err := f.market(t, other).RangeInfo(u(20))
	assert.ErrorIs(t, err, core.ErrInvalidState)
	assert.Equal(t, uint64(30), f.env.Balance(seller))

	err = f.market(t, buyer).TransferWithArray(seller, []*uint256.Int{u(21)}, u(10))
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

func TestRelistAfterSellOut(t *testing.T) {
	f := newFixture(t)
	f.listAll(t, 10)
	f.freeze(t, buyer, 30)
	require.NoError(t, f.market(t, buyer).Transfer(seller, u(20), 3, u(30)))

	// the buyer can put the same ids back on sale under their own root
	require.NoError(t, nft.New(f.env.Ctx(buyer)).SetApprovalForAll(f.addr, true))
	require.NoError(t, f.market(t, buyer).SaveMultiApprove(buyer, u(20), 2, u(12)))

	rng, err := f.market(t, other).RangeInfo(u(20))
	require.NoError(t, err)
	assert.Equal(t, buyer, rng.Seller)
	assert.Equal(t, uint64(22), rng.NextListID.Uint64())
}

func TestLoadUnknownMarket(t *testing.T) {
	f := newFixture(t)
	_, err := Load(f.env.Ctx(other), testutil.Addr("nowhere"))
	assert.ErrorIs(t, err, core.ErrInvalidState)
}
