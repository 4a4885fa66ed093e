package storage_test

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/dmachain/core"
	"github.com/tolelom/dmachain/internal/testutil"
	"github.com/tolelom/dmachain/storage"
)

func TestSnapshotRevert(t *testing.T) {
	s := storage.NewStateDB(testutil.NewMemDB())
	require.NoError(t, s.Set("k", "before"))

	snap, err := s.Snapshot()
	require.NoError(t, err)
	require.NoError(t, s.Set("k", "after"))
	require.NoError(t, s.Delete("gone"))
	require.NoError(t, s.Set("new", 1))

	require.NoError(t, s.RevertToSnapshot(snap))

	var v string
	require.NoError(t, s.Get("k", &v))
	assert.Equal(t, "before", v)
	ok, err := s.Has("new")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Error(t, s.RevertToSnapshot(snap), "snapshot consumed")
}

func TestNestedSnapshots(t *testing.T) {
	s := storage.NewStateDB(testutil.NewMemDB())
	outer, err := s.Snapshot()
	require.NoError(t, err)
	require.NoError(t, s.Set("a", 1))
	_, err = s.Snapshot()
	require.NoError(t, err)
	require.NoError(t, s.Set("b", 2))

	require.NoError(t, s.RevertToSnapshot(outer))
	for _, k := range []string{"a", "b"} {
		ok, err := s.Has(k)
		require.NoError(t, err)
		assert.False(t, ok, k)
	}
}

func TestDeleteHidesPersistedValue(t *testing.T) {
	db := testutil.NewMemDB()
	s := storage.NewStateDB(db)
	require.NoError(t, s.Set("k", 7))
	require.NoError(t, s.Commit())

	require.NoError(t, s.Delete("k"))
	var v int
	assert.ErrorIs(t, s.Get("k", &v), core.ErrNotFound)

	require.NoError(t, s.Commit())
	fresh := storage.NewStateDB(db)
	assert.ErrorIs(t, fresh.Get("k", &v), core.ErrNotFound)
}

func TestComputeRootCoversBufferAndDisk(t *testing.T) {
	db := testutil.NewMemDB()
	s := storage.NewStateDB(db)
	require.NoError(t, s.SetAccount(&core.Account{Address: "a", Balance: uint256.NewInt(5)}))
	buffered := s.ComputeRoot()
	require.NoError(t, s.Commit())

	assert.Equal(t, buffered, s.ComputeRoot(), "commit does not change the root")
	assert.Equal(t, buffered, storage.NewStateDB(db).ComputeRoot())

	require.NoError(t, s.Set("x", true))
	assert.NotEqual(t, buffered, s.ComputeRoot())
	s.Discard()
	assert.Equal(t, buffered, s.ComputeRoot())
}

func TestUnknownAccountIsZero(t *testing.T) {
	s := storage.NewStateDB(testutil.NewMemDB())
	acc, err := s.GetAccount("nobody")
	require.NoError(t, err)
	assert.Equal(t, "nobody", acc.Address)
	assert.True(t, acc.Available().IsZero())
	assert.Zero(t, acc.Nonce)
}
