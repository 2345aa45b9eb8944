package sqlite

import (
	"boardsync/core"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func setupTestDB(t *testing.T) *sqliteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store := NewStore(dbPath)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store := NewStore(dbPath)
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("NewStore() did not create database file")
	}
}

func TestNewStore_TablesCreated(t *testing.T) {
	store := setupTestDB(t)

	for _, table := range []string{"board_states", "users", "boards", "board_permissions", "audit_logs"} {
		var name string
		err := store.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("%s table not created: %v", table, err)
		}
	}
}

func TestNewStore_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	first := NewStore(dbPath)
	if err := first.SaveState(ctx, "board-1", []byte("persisted")); err != nil {
		t.Fatalf("SaveState() failed: %v", err)
	}
	first.Close()

	second := NewStore(dbPath)
	defer second.Close()
	state, err := second.LoadState(ctx, "board-1")
	if err != nil {
		t.Fatalf("LoadState() after reopen failed: %v", err)
	}
	if string(state.Data) != "persisted" {
		t.Errorf("LoadState() data = %q", state.Data)
	}
}

func TestLoadState_NotFound(t *testing.T) {
	store := setupTestDB(t)

	_, err := store.LoadState(context.Background(), "missing")
	if !errors.Is(err, core.ErrStateNotFound) {
		t.Errorf("LoadState() error = %v, want ErrStateNotFound", err)
	}
}

func TestSaveState_Upsert(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	if err := store.SaveState(ctx, "board-1", []byte("v1")); err != nil {
		t.Fatalf("SaveState() insert failed: %v", err)
	}
	if err := store.SaveState(ctx, "board-1", []byte("v2")); err != nil {
		t.Fatalf("SaveState() update failed: %v", err)
	}

	var count int
	if err := store.db.QueryRow("SELECT COUNT(*) FROM board_states WHERE board_id = ?", "board-1").Scan(&count); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != 1 {
		t.Errorf("board_states rows = %d, want 1", count)
	}

	state, err := store.LoadState(ctx, "board-1")
	if err != nil {
		t.Fatalf("LoadState() failed: %v", err)
	}
	if string(state.Data) != "v2" {
		t.Errorf("LoadState() data = %q, want v2", state.Data)
	}
	if state.UpdatedAt.IsZero() {
		t.Error("LoadState() returned zero UpdatedAt")
	}
}

func TestSaveState_Empty(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	if err := store.SaveState(ctx, "board-1", nil); err != nil {
		t.Fatalf("SaveState(nil) failed: %v", err)
	}
	state, err := store.LoadState(ctx, "board-1")
	if err != nil {
		t.Fatalf("LoadState() failed: %v", err)
	}
	if len(state.Data) != 0 {
		t.Errorf("LoadState() data length = %d, want 0", len(state.Data))
	}
}

func TestSaveState_ConcurrentBoards(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("board-%d", i)
			if err := store.SaveState(ctx, id, []byte(id)); err != nil {
				t.Errorf("SaveState(%s) failed: %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("board-%d", i)
		state, err := store.LoadState(ctx, id)
		if err != nil || string(state.Data) != id {
			t.Errorf("LoadState(%s) = %v, %v", id, state, err)
		}
	}
}

func TestDeleteState(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	_ = store.SaveState(ctx, "board-1", []byte("x"))
	if err := store.DeleteState(ctx, "board-1"); err != nil {
		t.Fatalf("DeleteState() failed: %v", err)
	}
	if _, err := store.LoadState(ctx, "board-1"); !errors.Is(err, core.ErrStateNotFound) {
		t.Errorf("LoadState() after delete error = %v", err)
	}
}

func TestBoardsAndPermissions(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	owner := &core.User{Username: "alice"}
	if err := store.CreateUser(ctx, owner); err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	board := &core.Board{OwnerID: owner.ID, Title: "Roadmap", IsPublic: true}
	if err := store.CreateBoard(ctx, board); err != nil {
		t.Fatalf("CreateBoard() failed: %v", err)
	}

	found, err := store.FindBoard(ctx, board.ID)
	if err != nil {
		t.Fatalf("FindBoard() failed: %v", err)
	}
	if found.OwnerID != owner.ID || !found.IsPublic || found.Title != "Roadmap" {
		t.Errorf("FindBoard() = %+v", found)
	}

	user, err := store.FindUser(ctx, owner.ID)
	if err != nil || user.Username != "alice" {
		t.Errorf("FindUser() = %+v, %v", user, err)
	}

	if _, err := store.FindPermission(ctx, board.ID, "bob"); !errors.Is(err, core.ErrPermissionNotFound) {
		t.Errorf("FindPermission() error = %v, want ErrPermissionNotFound", err)
	}

	if err := store.GrantPermission(ctx, board.ID, "bob", core.PermissionView); err != nil {
		t.Fatalf("GrantPermission() failed: %v", err)
	}
	if err := store.GrantPermission(ctx, board.ID, "bob", core.PermissionEdit); err != nil {
		t.Fatalf("GrantPermission() replace failed: %v", err)
	}
	if err := store.GrantPermission(ctx, board.ID, "", core.PermissionComment); err != nil {
		t.Fatalf("GrantPermission() public failed: %v", err)
	}

	if level, err := store.FindPermission(ctx, board.ID, "bob"); err != nil || level != core.PermissionEdit {
		t.Errorf("FindPermission(bob) = %q, %v; want edit", level, err)
	}
	if level, err := store.FindPermission(ctx, board.ID, ""); err != nil || level != core.PermissionComment {
		t.Errorf("FindPermission(public) = %q, %v; want comment", level, err)
	}

	if _, err := store.FindBoard(ctx, "nope"); !errors.Is(err, core.ErrBoardNotFound) {
		t.Errorf("FindBoard() error = %v, want ErrBoardNotFound", err)
	}
	if _, err := store.FindUser(ctx, "nope"); !errors.Is(err, core.ErrUserNotFound) {
		t.Errorf("FindUser() error = %v, want ErrUserNotFound", err)
	}
}

func TestRecordAudit(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	entry := &core.AuditEntry{
		UserID:     "u1",
		BoardID:    "b1",
		Action:     "access",
		Permission: core.PermissionView,
		IPAddress:  "10.0.0.1",
		UserAgent:  "test-agent",
	}
	if err := store.RecordAudit(ctx, entry); err != nil {
		t.Fatalf("RecordAudit() failed: %v", err)
	}
	if entry.ID == "" {
		t.Error("RecordAudit() did not assign an id")
	}

	entries, err := store.AuditLog(ctx, "b1")
	if err != nil {
		t.Fatalf("AuditLog() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("AuditLog() returned %d entries, want 1", len(entries))
	}
	got := entries[0]
	if got.UserID != "u1" || got.Permission != core.PermissionView || got.IPAddress != "10.0.0.1" || got.UserAgent != "test-agent" {
		t.Errorf("AuditLog() entry = %+v", got)
	}
}
