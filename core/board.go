package core

import (
	"context"
	"fmt"
	"time"
)

const (
	PermissionView    Permission = "view"
	PermissionComment Permission = "comment"
	PermissionEdit    Permission = "edit"
)

type (
	// Permission is the access level a user holds on a board.
	Permission string

	User struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	}

	Board struct {
		ID       string `json:"id"`
		OwnerID  string `json:"ownerId"`
		Title    string `json:"title"`
		IsPublic bool   `json:"isPublic"`
	}

	// Grant is the outcome of a successful access check.
	Grant struct {
		User       User
		BoardID    string
		Permission Permission
	}

	AuditEntry struct {
		ID         string
		UserID     string
		BoardID    string
		Action     string
		Permission Permission
		IPAddress  string
		UserAgent  string
		CreatedAt  time.Time
	}

	// AccessStore holds the relational data the access gate resolves against.
	AccessStore interface {
		FindUser(ctx context.Context, userID string) (*User, error)
		FindBoard(ctx context.Context, boardID string) (*Board, error)
		// FindPermission returns the explicit level for userID on a board. An empty
		// userID looks up the public permission row.
		FindPermission(ctx context.Context, boardID, userID string) (Permission, error)
		RecordAudit(ctx context.Context, entry *AuditEntry) error
	}
)

// ParsePermission validates a stored permission level.
func ParsePermission(s string) (Permission, error) {
	switch p := Permission(s); p {
	case PermissionView, PermissionComment, PermissionEdit:
		return p, nil
	}
	return "", fmt.Errorf("unknown permission level %q", s)
}

// CanEdit reports whether the level may send document deltas. Comment is
// receive-only for the sync protocol.
func (p Permission) CanEdit() bool {
	return p == PermissionEdit
}
