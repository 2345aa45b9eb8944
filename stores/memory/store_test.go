package memory

import (
	"boardsync/core"
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestNewStore(t *testing.T) {
	store := NewStore()
	if store == nil {
		t.Fatal("NewStore() returned nil")
	}
}

func TestLoadState_NotFound(t *testing.T) {
	store := NewStore()

	_, err := store.LoadState(context.Background(), "missing")
	if !errors.Is(err, core.ErrStateNotFound) {
		t.Errorf("LoadState() error = %v, want ErrStateNotFound", err)
	}
}

func TestSaveState_Upsert(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	if err := store.SaveState(ctx, "board-1", []byte("first")); err != nil {
		t.Fatalf("SaveState() failed: %v", err)
	}
	if err := store.SaveState(ctx, "board-1", []byte("second")); err != nil {
		t.Fatalf("SaveState() overwrite failed: %v", err)
	}

	state, err := store.LoadState(ctx, "board-1")
	if err != nil {
		t.Fatalf("LoadState() failed: %v", err)
	}
	if string(state.Data) != "second" {
		t.Errorf("LoadState() data = %q, want %q", state.Data, "second")
	}
	if state.UpdatedAt.IsZero() {
		t.Error("LoadState() returned zero UpdatedAt")
	}
}

func TestSaveState_EmptyBoardID(t *testing.T) {
	store := NewStore()
	if err := store.SaveState(context.Background(), "", []byte("x")); err == nil {
		t.Error("SaveState() accepted an empty board id")
	}
}

func TestSaveState_CopiesInput(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	data := []byte("original")
	if err := store.SaveState(ctx, "board-1", data); err != nil {
		t.Fatalf("SaveState() failed: %v", err)
	}
	copy(data, "mutated!")

	state, _ := store.LoadState(ctx, "board-1")
	if !bytes.Equal(state.Data, []byte("original")) {
		t.Errorf("stored data changed with caller buffer: %q", state.Data)
	}
}

func TestDeleteState(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	_ = store.SaveState(ctx, "board-1", []byte("x"))
	if err := store.DeleteState(ctx, "board-1"); err != nil {
		t.Fatalf("DeleteState() failed: %v", err)
	}
	if _, err := store.LoadState(ctx, "board-1"); !errors.Is(err, core.ErrStateNotFound) {
		t.Errorf("LoadState() after delete error = %v, want ErrStateNotFound", err)
	}

	// Deleting twice is fine.
	if err := store.DeleteState(ctx, "board-1"); err != nil {
		t.Errorf("second DeleteState() failed: %v", err)
	}
}

func TestConcurrentSaves(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("board-%d", i%5)
			if err := store.SaveState(ctx, id, []byte(id)); err != nil {
				t.Errorf("SaveState() failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("board-%d", i)
		state, err := store.LoadState(ctx, id)
		if err != nil {
			t.Fatalf("LoadState(%s) failed: %v", id, err)
		}
		if string(state.Data) != id {
			t.Errorf("LoadState(%s) = %q", id, state.Data)
		}
	}
}

func TestAccessRecords(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	owner := &core.User{Username: "alice"}
	if err := store.CreateUser(ctx, owner); err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	if owner.ID == "" {
		t.Fatal("CreateUser() did not assign an id")
	}

	board := &core.Board{OwnerID: owner.ID, Title: "Plan"}
	if err := store.CreateBoard(ctx, board); err != nil {
		t.Fatalf("CreateBoard() failed: %v", err)
	}

	if _, err := store.FindPermission(ctx, board.ID, "bob"); !errors.Is(err, core.ErrPermissionNotFound) {
		t.Errorf("FindPermission() error = %v, want ErrPermissionNotFound", err)
	}

	_ = store.GrantPermission(ctx, board.ID, "bob", core.PermissionComment)
	_ = store.GrantPermission(ctx, board.ID, "", core.PermissionView)

	if level, _ := store.FindPermission(ctx, board.ID, "bob"); level != core.PermissionComment {
		t.Errorf("FindPermission(bob) = %q, want comment", level)
	}
	if level, _ := store.FindPermission(ctx, board.ID, ""); level != core.PermissionView {
		t.Errorf("FindPermission(public) = %q, want view", level)
	}

	found, err := store.FindBoard(ctx, board.ID)
	if err != nil || found.OwnerID != owner.ID {
		t.Errorf("FindBoard() = %+v, %v", found, err)
	}
	if _, err := store.FindUser(ctx, "nobody"); !errors.Is(err, core.ErrUserNotFound) {
		t.Errorf("FindUser() error = %v, want ErrUserNotFound", err)
	}
}

func TestCreateBoard_RequiresOwner(t *testing.T) {
	store := NewStore()
	if err := store.CreateBoard(context.Background(), &core.Board{Title: "orphan"}); err == nil {
		t.Error("CreateBoard() accepted a board without owner")
	}
}

func TestRecordAudit(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	entry := &core.AuditEntry{UserID: "u1", BoardID: "b1", Action: "access", Permission: core.PermissionEdit}
	if err := store.RecordAudit(ctx, entry); err != nil {
		t.Fatalf("RecordAudit() failed: %v", err)
	}
	if len(entry.ID) != 26 {
		t.Errorf("RecordAudit() assigned id %q, want a ULID", entry.ID)
	}

	_ = store.RecordAudit(ctx, &core.AuditEntry{UserID: "u2", BoardID: "other", Action: "access"})

	entries, err := store.AuditLog(ctx, "b1")
	if err != nil {
		t.Fatalf("AuditLog() failed: %v", err)
	}
	if len(entries) != 1 || entries[0].UserID != "u1" {
		t.Errorf("AuditLog() = %+v", entries)
	}
}
