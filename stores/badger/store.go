package badger

import (
	"boardsync/core"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "board_state:"

type badgerStore struct {
	db *badger.DB
}

// NewStore opens (or creates) a Badger database at path.
func NewStore(path string) *badgerStore {
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		log.Fatalf("failed to open badger database: %v", err)
	}
	return NewStoreFromDB(db)
}

// NewStoreFromDB wraps an already opened database.
func NewStoreFromDB(db *badger.DB) *badgerStore {
	return &badgerStore{db: db}
}

func (s *badgerStore) Close() error {
	return s.db.Close()
}

func stateKey(boardID string) []byte {
	return []byte(keyPrefix + boardID)
}

// Values are an 8-byte big-endian unix-nano timestamp followed by the state.
func encodeState(data []byte, updatedAt time.Time) []byte {
	buf := make([]byte, 8+len(data))
	binary.BigEndian.PutUint64(buf, uint64(updatedAt.UnixNano()))
	copy(buf[8:], data)
	return buf
}

func decodeState(boardID string, val []byte) (*core.BoardState, error) {
	if len(val) < 8 {
		return nil, fmt.Errorf("corrupt state record for board %s", boardID)
	}
	return &core.BoardState{
		BoardID:   boardID,
		UpdatedAt: time.Unix(0, int64(binary.BigEndian.Uint64(val[:8]))).UTC(),
		Data:      append([]byte(nil), val[8:]...),
	}, nil
}

func (s *badgerStore) LoadState(ctx context.Context, boardID string) (*core.BoardState, error) {
	var state *core.BoardState
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(stateKey(boardID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			state, err = decodeState(boardID, val)
			return err
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, core.ErrStateNotFound
		}
		logrus.WithField("board_id", boardID).WithError(err).Error("Failed to load board state")
		return nil, err
	}
	return state, nil
}

func (s *badgerStore) SaveState(ctx context.Context, boardID string, data []byte) error {
	if boardID == "" {
		return fmt.Errorf("board id is required")
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(stateKey(boardID), encodeState(data, time.Now()))
	})
	if err != nil {
		return fmt.Errorf("failed to save state for board %s: %w", boardID, err)
	}
	return nil
}

func (s *badgerStore) DeleteState(ctx context.Context, boardID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(stateKey(boardID))
	})
}
