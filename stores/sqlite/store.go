package sqlite

import (
	"boardsync/core"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	db *sql.DB
}

var schema = []string{
	// Compacted engine state, one row per board. Not an update log.
	`CREATE TABLE IF NOT EXISTS board_states (
		board_id TEXT PRIMARY KEY,
		state BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS boards (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		title TEXT,
		is_public INTEGER NOT NULL DEFAULT 0
	);`,
	// A NULL user_id row is the board's public permission.
	`CREATE TABLE IF NOT EXISTS board_permissions (
		board_id TEXT NOT NULL,
		user_id TEXT,
		level TEXT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_board_permissions ON board_permissions (board_id, user_id);`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		board_id TEXT NOT NULL,
		action TEXT NOT NULL,
		permission_level TEXT,
		ip_address TEXT,
		user_agent TEXT,
		created_at INTEGER NOT NULL
	);`,
}

// NewStore creates a new SQLite-based store.
func NewStore(dataSourceName string) *sqliteStore {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		log.Fatalf("failed to open sqlite database: %v", err)
	}
	// sqlite serializes writers anyway; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err = db.Exec(stmt); err != nil {
			log.Fatalf("failed to initialize schema: %v", err)
		}
	}

	return &sqliteStore{db}
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// StateStore implementation
func (s *sqliteStore) LoadState(ctx context.Context, boardID string) (*core.BoardState, error) {
	log := logrus.WithField("board_id", boardID)
	log.Debug("Loading board state")

	var data []byte
	var updatedAt int64
	err := s.db.QueryRowContext(ctx, "SELECT state, updated_at FROM board_states WHERE board_id = ?", boardID).Scan(&data, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("No saved state for board")
			return nil, core.ErrStateNotFound
		}
		log.WithError(err).Error("Failed to load board state")
		return nil, err
	}

	return &core.BoardState{
		BoardID:   boardID,
		Data:      data,
		UpdatedAt: time.UnixMilli(updatedAt).UTC(),
	}, nil
}

func (s *sqliteStore) SaveState(ctx context.Context, boardID string, data []byte) error {
	log := logrus.WithFields(logrus.Fields{
		"board_id":    boardID,
		"data_length": len(data),
	})
	if data == nil {
		data = []byte{}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO board_states (board_id, state, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(board_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		boardID, data, time.Now().UnixMilli())
	if err != nil {
		log.WithError(err).Error("Failed to save board state")
		return err
	}
	log.Debug("Board state saved")
	return nil
}

func (s *sqliteStore) DeleteState(ctx context.Context, boardID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM board_states WHERE board_id = ?", boardID)
	if err != nil {
		logrus.WithField("board_id", boardID).WithError(err).Error("Failed to delete board state")
	}
	return err
}

// AccessStore implementation
func (s *sqliteStore) FindUser(ctx context.Context, userID string) (*core.User, error) {
	user := core.User{ID: userID}
	err := s.db.QueryRowContext(ctx, "SELECT username FROM users WHERE id = ?", userID).Scan(&user.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *sqliteStore) FindBoard(ctx context.Context, boardID string) (*core.Board, error) {
	board := core.Board{ID: boardID}
	var title sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT owner_id, title, is_public FROM boards WHERE id = ?", boardID).
		Scan(&board.OwnerID, &title, &board.IsPublic)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrBoardNotFound
		}
		return nil, err
	}
	board.Title = title.String
	return &board, nil
}

func (s *sqliteStore) FindPermission(ctx context.Context, boardID, userID string) (core.Permission, error) {
	var (
		level string
		err   error
	)
	if userID == "" {
		err = s.db.QueryRowContext(ctx,
			"SELECT level FROM board_permissions WHERE board_id = ? AND user_id IS NULL", boardID).Scan(&level)
	} else {
		err = s.db.QueryRowContext(ctx,
			"SELECT level FROM board_permissions WHERE board_id = ? AND user_id = ?", boardID, userID).Scan(&level)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", core.ErrPermissionNotFound
		}
		return "", err
	}
	return core.ParsePermission(level)
}

func (s *sqliteStore) RecordAudit(ctx context.Context, entry *core.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, user_id, board_id, action, permission_level, ip_address, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.UserID, entry.BoardID, entry.Action, string(entry.Permission),
		entry.IPAddress, entry.UserAgent, entry.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

// CreateUser inserts a user. An empty ID is replaced by a generated UUID.
func (s *sqliteStore) CreateUser(ctx context.Context, user *core.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, "INSERT INTO users (id, username) VALUES (?, ?)", user.ID, user.Username)
	return err
}

// CreateBoard inserts a board. An empty ID is replaced by a generated UUID.
func (s *sqliteStore) CreateBoard(ctx context.Context, board *core.Board) error {
	if board.OwnerID == "" {
		return fmt.Errorf("board owner is required")
	}
	if board.ID == "" {
		board.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO boards (id, owner_id, title, is_public) VALUES (?, ?, ?, ?)",
		board.ID, board.OwnerID, board.Title, board.IsPublic)
	return err
}

// GrantPermission replaces the level for userID on a board; an empty userID
// sets the public level.
func (s *sqliteStore) GrantPermission(ctx context.Context, boardID, userID string, level core.Permission) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var user sql.NullString
	if userID != "" {
		user = sql.NullString{String: userID, Valid: true}
		_, err = tx.ExecContext(ctx, "DELETE FROM board_permissions WHERE board_id = ? AND user_id = ?", boardID, userID)
	} else {
		_, err = tx.ExecContext(ctx, "DELETE FROM board_permissions WHERE board_id = ? AND user_id IS NULL", boardID)
	}
	if err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx,
		"INSERT INTO board_permissions (board_id, user_id, level) VALUES (?, ?, ?)",
		boardID, user, string(level)); err != nil {
		return err
	}
	return tx.Commit()
}

// AuditLog returns the recorded entries for a board, oldest first.
func (s *sqliteStore) AuditLog(ctx context.Context, boardID string) ([]core.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, board_id, action, permission_level, ip_address, user_agent, created_at
		FROM audit_logs WHERE board_id = ? ORDER BY created_at ASC, id ASC`, boardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]core.AuditEntry, 0)
	for rows.Next() {
		var (
			e                           core.AuditEntry
			level, ipAddress, userAgent sql.NullString
			createdAt                   int64
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.BoardID, &e.Action, &level, &ipAddress, &userAgent, &createdAt); err != nil {
			return nil, err
		}
		e.Permission = core.Permission(level.String)
		e.IPAddress = ipAddress.String
		e.UserAgent = userAgent.String
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
