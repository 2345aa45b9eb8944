package badger

import (
	"boardsync/core"
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *badgerStore {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)

	store := NewStoreFromDB(db)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBadgerStore_SaveLoadDelete(t *testing.T) {
	req := require.New(t)
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.LoadState(ctx, "board-1")
	req.ErrorIs(err, core.ErrStateNotFound)

	req.NoError(store.SaveState(ctx, "board-1", []byte("v1")))
	req.NoError(store.SaveState(ctx, "board-1", []byte("v2")))

	state, err := store.LoadState(ctx, "board-1")
	req.NoError(err)
	req.Equal("board-1", state.BoardID)
	req.Equal([]byte("v2"), state.Data)
	req.False(state.UpdatedAt.IsZero())

	req.NoError(store.DeleteState(ctx, "board-1"))
	_, err = store.LoadState(ctx, "board-1")
	req.ErrorIs(err, core.ErrStateNotFound)
}

func TestBadgerStore_EmptyState(t *testing.T) {
	req := require.New(t)
	store := setupTestStore(t)
	ctx := context.Background()

	req.NoError(store.SaveState(ctx, "board-1", nil))
	state, err := store.LoadState(ctx, "board-1")
	req.NoError(err)
	req.Empty(state.Data)
}

func TestBadgerStore_RejectsEmptyID(t *testing.T) {
	store := setupTestStore(t)
	require.Error(t, store.SaveState(context.Background(), "", []byte("x")))
}

func TestBadgerStore_CorruptRecord(t *testing.T) {
	req := require.New(t)
	store := setupTestStore(t)

	req.NoError(store.db.Update(func(txn *badger.Txn) error {
		return txn.Set(stateKey("board-1"), []byte{0x01})
	}))

	_, err := store.LoadState(context.Background(), "board-1")
	req.Error(err)
	req.NotErrorIs(err, core.ErrStateNotFound)
}
