package memory

import (
	"boardsync/core"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type permissionKey struct {
	boardID string
	userID  string
}

// memStore implements both StateStore and AccessStore for in-memory storage.
type memStore struct {
	mu          sync.RWMutex
	states      map[string]core.BoardState
	users       map[string]core.User
	boards      map[string]core.Board
	permissions map[permissionKey]core.Permission
	audit       []core.AuditEntry
}

// NewStore creates a new in-memory store.
func NewStore() *memStore {
	return &memStore{
		states:      make(map[string]core.BoardState),
		users:       make(map[string]core.User),
		boards:      make(map[string]core.Board),
		permissions: make(map[permissionKey]core.Permission),
	}
}

func (s *memStore) LoadState(ctx context.Context, boardID string) (*core.BoardState, error) {
	s.mu.RLock()
	state, ok := s.states[boardID]
	s.mu.RUnlock()

	log := logrus.WithField("board_id", boardID)
	if !ok {
		log.Debug("No saved state for board")
		return nil, core.ErrStateNotFound
	}
	state.Data = append([]byte(nil), state.Data...)
	log.WithField("data_length", len(state.Data)).Debug("Board state loaded")
	return &state, nil
}

func (s *memStore) SaveState(ctx context.Context, boardID string, data []byte) error {
	if boardID == "" {
		return fmt.Errorf("board id is required")
	}

	s.mu.Lock()
	s.states[boardID] = core.BoardState{
		BoardID:   boardID,
		Data:      append([]byte(nil), data...),
		UpdatedAt: time.Now().UTC(),
	}
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"board_id":    boardID,
		"data_length": len(data),
	}).Debug("Board state saved")
	return nil
}

func (s *memStore) DeleteState(ctx context.Context, boardID string) error {
	s.mu.Lock()
	delete(s.states, boardID)
	s.mu.Unlock()
	return nil
}

func (s *memStore) FindUser(ctx context.Context, userID string) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, core.ErrUserNotFound
	}
	return &user, nil
}

func (s *memStore) FindBoard(ctx context.Context, boardID string) (*core.Board, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	board, ok := s.boards[boardID]
	if !ok {
		return nil, core.ErrBoardNotFound
	}
	return &board, nil
}

func (s *memStore) FindPermission(ctx context.Context, boardID, userID string) (core.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	level, ok := s.permissions[permissionKey{boardID: boardID, userID: userID}]
	if !ok {
		return "", core.ErrPermissionNotFound
	}
	return level, nil
}

func (s *memStore) RecordAudit(ctx context.Context, entry *core.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	s.audit = append(s.audit, *entry)
	s.mu.Unlock()
	return nil
}

// CreateUser registers a user. An empty ID is replaced by a generated UUID.
func (s *memStore) CreateUser(ctx context.Context, user *core.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}

	s.mu.Lock()
	s.users[user.ID] = *user
	s.mu.Unlock()
	return nil
}

// CreateBoard registers a board. An empty ID is replaced by a generated UUID.
func (s *memStore) CreateBoard(ctx context.Context, board *core.Board) error {
	if board.OwnerID == "" {
		return fmt.Errorf("board owner is required")
	}
	if board.ID == "" {
		board.ID = uuid.NewString()
	}

	s.mu.Lock()
	s.boards[board.ID] = *board
	s.mu.Unlock()
	return nil
}

// GrantPermission sets the level for userID on a board; an empty userID sets
// the public level.
func (s *memStore) GrantPermission(ctx context.Context, boardID, userID string, level core.Permission) error {
	s.mu.Lock()
	s.permissions[permissionKey{boardID: boardID, userID: userID}] = level
	s.mu.Unlock()
	return nil
}

// AuditLog returns the recorded entries for a board, oldest first.
func (s *memStore) AuditLog(ctx context.Context, boardID string) ([]core.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]core.AuditEntry, 0)
	for _, e := range s.audit {
		if e.BoardID == boardID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}
