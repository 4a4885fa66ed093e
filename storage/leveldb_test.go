package storage_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/dmachain/core"
	"github.com/tolelom/dmachain/storage"
)

func openLevelDB(t *testing.T) *storage.LevelDB {
	t.Helper()
	db, err := storage.NewLevelDB(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestLevelDBPrefixIteration(t *testing.T) {
	db := openLevelDB(t)
	require.NoError(t, db.Set([]byte("state/b"), []byte("2")))
	require.NoError(t, db.Set([]byte("state/a"), []byte("1")))
	require.NoError(t, db.Set([]byte("block:x"), []byte("-")))

	it := db.NewIterator([]byte("state/"))
	defer it.Release()
	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.NoError(t, it.Error())
	assert.Equal(t, []string{"state/a", "state/b"}, keys)

	_, err := db.Get([]byte("missing"))
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestBlockStoreCommit(t *testing.T) {
	bs := storage.NewBlockStore(openLevelDB(t))

	tip, err := bs.GetTip()
	require.NoError(t, err)
	assert.Empty(t, tip)

	b := core.NewBlock(3, "prev", "proposer", nil)
	b.Hash = b.ComputeHash()
	require.NoError(t, bs.CommitBlock(b))

	tip, err = bs.GetTip()
	require.NoError(t, err)
	assert.Equal(t, b.Hash, tip)

	got, err := bs.GetBlockByHeight(3)
	require.NoError(t, err)
	assert.Equal(t, b.Header, got.Header)

	_, err = bs.GetBlockByHeight(4)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestStateSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	db, err := storage.NewLevelDB(path)
	require.NoError(t, err)
	s := storage.NewStateDB(db)
	require.NoError(t, s.Set("k", "v"))
	root := s.ComputeRoot()
	require.NoError(t, s.Commit())
	require.NoError(t, db.Close())

	db, err = storage.NewLevelDB(path)
	require.NoError(t, err)
	defer db.Close()
	s = storage.NewStateDB(db)
	var v string
	require.NoError(t, s.Get("k", &v))
	assert.Equal(t, "v", v)
	assert.Equal(t, root, s.ComputeRoot())
}
