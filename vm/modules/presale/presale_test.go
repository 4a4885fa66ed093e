package presale

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/dmachain/core"
	"github.com/tolelom/dmachain/internal/testutil"
	"github.com/tolelom/dmachain/vm/modules/escrow"
	"github.com/tolelom/dmachain/vm/modules/nft"
)

var (
	admin    = testutil.Addr("admin")
	platform = testutil.Addr("platform")
	seller   = testutil.Addr("seller")
	b1       = testutil.Addr("b1")
	b2       = testutil.Addr("b2")
	b3       = testutil.Addr("b3")
	wallet   = testutil.Addr("wallet")
	u        = testutil.U
)

const base = 1000

type fixture struct {
	env  *testutil.Env
	addr string
}

// newFixture opens a pre-sale ending in an hour and registers base with 100
// units at price 1.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	env := testutil.NewEnv()
	require.NoError(t, escrow.Genesis(env.State, escrow.TokenInfo{Name: "DMA Token", Symbol: "DMA", Decimals: 18, Issuer: admin},
		map[string]*uint256.Int{b1: u(50), b2: u(50), b3: u(50)}))
	require.NoError(t, nft.Genesis(env.State, nft.Info{Name: "Cards", Symbol: "CRD", Owner: admin}))

	ps, err := Create(env.Ctx(platform), env.Now+3600)
	require.NoError(t, err)
	f := &fixture{env: env, addr: ps.Address()}

	require.NoError(t, nft.New(env.Ctx(seller)).SetApprovalForAll(f.addr, true))
	require.NoError(t, f.presale(t, seller).RegistAsset(seller, u(base), 100, u(1), "ipfs://drop"))
	return f
}

func (f *fixture) presale(t *testing.T, caller string) *PreSale {
	t.Helper()
	ps, err := Load(f.env.Ctx(caller), f.addr)
	require.NoError(t, err)
	return ps
}

func (f *fixture) freeze(t *testing.T, who string, amount uint64) {
	t.Helper()
	require.NoError(t, escrow.New(f.env.Ctx(who)).ApproveFreeze(f.addr, u(amount)))
}

func (f *fixture) frozen(t *testing.T, who string) uint64 {
	t.Helper()
	v, err := escrow.New(f.env.Ctx(who)).FreezeValue(who, f.addr)
	require.NoError(t, err)
	return v.Uint64()
}

func (f *fixture) owner(t *testing.T, id uint64) string {
	t.Helper()
	owner, err := nft.New(f.env.Ctx(admin)).OwnerOf(u(id))
	require.NoError(t, err)
	return owner
}

func TestOrderRefundThenMint(t *testing.T) {
	f := newFixture(t)
	f.freeze(t, b1, 5)

	require.NoError(t, f.presale(t, b1).Order(u(base), 5, wallet))
	require.NoError(t, f.presale(t, b1).Refund(u(base), 3))

	o, err := f.presale(t, admin).OrderInfo(b1, u(base))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), o.Quantity)
	assert.Equal(t, wallet, o.Receiver)
	assert.Equal(t, uint64(2), f.frozen(t, b1))
	assert.Equal(t, uint64(48), f.env.Balance(b1))

	n, err := f.presale(t, admin).OrderCount(u(base))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	err = f.presale(t, b1).MintByCustomer(u(base))
	assert.ErrorIs(t, err, core.ErrInvalidState, "sale still running")

	f.env.Advance(time.Hour)
	require.NoError(t, f.presale(t, b1).MintByCustomer(u(base)))

	assert.Equal(t, wallet, f.owner(t, base))
	assert.Equal(t, wallet, f.owner(t, base+1))
	exists, err := nft.New(f.env.Ctx(admin)).Exists(u(base + 2))
	require.NoError(t, err)
	assert.False(t, exists)

	assert.Equal(t, uint64(2), f.env.Balance(seller))
	assert.Zero(t, f.frozen(t, b1))

	inv, err := f.presale(t, admin).RegisterInfo(u(base))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), inv.Minted)

	err = f.presale(t, b1).MintByCustomer(u(base))
	assert.ErrorIs(t, err, core.ErrInvalidState, "order already settled")
}

func TestOrderLimits(t *testing.T) {
	f := newFixture(t)
	f.freeze(t, b1, 3)

	err := f.presale(t, b1).Order(u(base), 101, "")
	assert.ErrorIs(t, err, core.ErrInvalidQuantity)

	err = f.presale(t, b1).Order(u(base), 4, "")
	assert.ErrorIs(t, err, core.ErrInsufficientFreeze)

	require.NoError(t, f.presale(t, b1).Order(u(base), 3, ""))
	o, err := f.presale(t, admin).OrderInfo(b1, u(base))
	require.NoError(t, err)
	assert.Equal(t, b1, o.Receiver)

	// the freeze is already fully promised to the first order
	err = f.presale(t, b1).Order(u(base), 1, "")
	assert.ErrorIs(t, err, core.ErrInsufficientFreeze)

	err = f.presale(t, b1).Refund(u(base), 4)
	assert.ErrorIs(t, err, core.ErrInvalidQuantity)

	err = f.presale(t, b1).Order(u(base+1), 1, "")
	assert.ErrorIs(t, err, core.ErrInvalidState, "unregistered base")

	f.env.Advance(time.Hour)
	err = f.presale(t, b1).Order(u(base), 1, "")
	assert.ErrorIs(t, err, core.ErrInvalidState)
	err = f.presale(t, b1).Refund(u(base), 1)
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

func TestOrdersMergePerBuyer(t *testing.T) {
	f := newFixture(t)
	f.freeze(t, b1, 10)

	require.NoError(t, f.presale(t, b1).Order(u(base), 2, ""))
	require.NoError(t, f.presale(t, b1).Order(u(base), 3, wallet))

	o, err := f.presale(t, admin).OrderInfo(b1, u(base))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), o.Quantity)
	assert.Equal(t, wallet, o.Receiver)

	inv, err := f.presale(t, admin).RegisterInfo(u(base))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), inv.QueueLen)
}

func TestMintByPlatformIsFIFO(t *testing.T) {
	f := newFixture(t)
	f.freeze(t, b1, 3)
	f.freeze(t, b2, 3)
	f.freeze(t, b3, 1)

	require.NoError(t, f.presale(t, b1).Order(u(base), 2, ""))
	require.NoError(t, f.presale(t, b2).Order(u(base), 3, ""))
	require.NoError(t, f.presale(t, b3).Order(u(base), 1, ""))
	require.NoError(t, f.presale(t, b1).Order(u(base), 1, ""))
	require.NoError(t, f.presale(t, b3).Refund(u(base), 1))

	f.env.Advance(time.Hour)

	err := f.presale(t, b1).MintByPlatform(u(base), 1)
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	require.NoError(t, f.presale(t, platform).MintByPlatform(u(base), 1))
	for id := uint64(base); id < base+3; id++ {
		assert.Equal(t, b1, f.owner(t, id))
	}
	o, err := f.presale(t, admin).OrderInfo(b2, u(base))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), o.Quantity, "second buyer still waiting")

	// b3 refunded everything, so only b2 is left to settle
	require.NoError(t, f.presale(t, platform).MintByPlatform(u(base), 5))
	for id := uint64(base + 3); id < base+6; id++ {
		assert.Equal(t, b2, f.owner(t, id))
	}
	assert.Equal(t, uint64(6), f.env.Balance(seller))

	err = f.presale(t, platform).MintByPlatform(u(base), 1)
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

func TestRegisterRules(t *testing.T) {
	f := newFixture(t)
	other := testutil.Addr("other-seller")

	err := f.presale(t, other).RegistAsset(other, u(5), 10, u(1), "")
	assert.ErrorIs(t, err, core.ErrUnauthorized, "pre-sale is not an operator")

	err = f.presale(t, b1).RegistAsset(seller, u(5), 10, u(1), "")
	assert.ErrorIs(t, err, core.ErrUnauthorized, "stranger registering for seller")

	err = f.presale(t, seller).RegistAsset(seller, u(base), 10, u(1), "")
	assert.ErrorIs(t, err, core.ErrOwnershipConflict)

	err = f.presale(t, seller).RegistAsset(seller, u(5), 0, u(1), "")
	assert.ErrorIs(t, err, core.ErrInvalidQuantity)

	// the platform may register on the seller's behalf
	require.NoError(t, f.presale(t, platform).RegistAsset(seller, u(5), 10, u(2), ""))
}

func TestSetEndTimestamp(t *testing.T) {
	f := newFixture(t)

	err := f.presale(t, seller).SetEndTimestamp(f.env.Now)
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	require.NoError(t, f.presale(t, platform).SetEndTimestamp(f.env.Now))
	start, end := f.presale(t, admin).EndTimestamp()
	assert.Equal(t, f.env.Now, start)
	assert.Equal(t, f.env.Now, end)

	err = f.presale(t, b1).Order(u(base), 1, "")
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

func TestRefundAfterDeadlineWhenRangeTaken(t *testing.T) {
	f := newFixture(t)
	f.freeze(t, b1, 2)
	require.NoError(t, f.presale(t, b1).Order(u(base), 2, ""))

	squatter := testutil.Addr("squatter")
	holder := testutil.Addr("holder")
	err := nft.New(f.env.Ctx(squatter)).Mint(squatter, u(base+1), "", true, false)
	assert.ErrorIs(t, err, core.ErrUnauthorized)
	require.NoError(t, nft.New(f.env.Ctx(holder)).SetApprovalForAll(squatter, true))
	require.NoError(t, nft.New(f.env.Ctx(squatter)).Mint(holder, u(base+1), "", true, false))

	f.env.Advance(time.Hour)
	err = f.presale(t, b1).MintByCustomer(u(base))
	assert.ErrorIs(t, err, core.ErrOwnershipConflict)

	require.NoError(t, f.presale(t, b1).Refund(u(base), 2))
	assert.Zero(t, f.frozen(t, b1))
	assert.Equal(t, uint64(50), f.env.Balance(b1))
	n, err := f.presale(t, admin).OrderCount(u(base))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRefundAfterDeadlineWhenOperatorRevoked(t *testing.T) {
	f := newFixture(t)
	f.freeze(t, b1, 2)
	require.NoError(t, f.presale(t, b1).Order(u(base), 2, ""))
	f.env.Advance(time.Hour)

	require.NoError(t, nft.New(f.env.Ctx(seller)).SetApprovalForAll(f.addr, false))
	err := f.presale(t, platform).MintByPlatform(u(base), 1)
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	require.NoError(t, f.presale(t, b1).Refund(u(base), 1))
	assert.Equal(t, uint64(1), f.frozen(t, b1))
	assert.Equal(t, uint64(49), f.env.Balance(b1))
}
