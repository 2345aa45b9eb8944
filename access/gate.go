// Package access decides who may open a board and at what level.
package access

import (
	"boardsync/core"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

const (
	ActionAccess      = "access"
	ActionReadState   = "read_state"
	ActionDeleteState = "delete_state"

	tokenLifetime = 7 * 24 * time.Hour
)

type (
	// Claims are the JWT claims issued to users. Subject carries the user ID.
	Claims struct {
		jwt.RegisteredClaims
		Username string `json:"username"`
	}

	Request struct {
		Token     string
		BoardID   string
		Action    string
		IPAddress string
		UserAgent string
	}
)

type Gate struct {
	store  core.AccessStore
	secret []byte
}

func NewGate(store core.AccessStore, secret []byte) *Gate {
	return &Gate{store: store, secret: secret}
}

// IssueToken signs a token for user.
func (g *Gate) IssueToken(user *core.User) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Username: user.Username,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(g.secret)
}

func (g *Gate) ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return g.secret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		if claims.Subject == "" {
			return nil, fmt.Errorf("token has no subject")
		}
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}

// Authenticate resolves a token to a known user. Any failure is reported as
// core.ErrUnauthorized.
func (g *Gate) Authenticate(ctx context.Context, tokenString string) (*core.User, error) {
	claims, err := g.ParseToken(tokenString)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrUnauthorized, err)
	}

	user, err := g.store.FindUser(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, core.ErrUserNotFound) {
			return nil, fmt.Errorf("%w: %v", core.ErrUnauthorized, err)
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	return user, nil
}

// Authorize resolves the caller's permission on a board. It returns
// core.ErrUnauthorized when the token, user or board is unknown and
// core.ErrForbidden when the user holds no permission. Granted access is
// recorded in the audit log.
func (g *Gate) Authorize(ctx context.Context, req Request) (*core.Grant, error) {
	user, err := g.Authenticate(ctx, req.Token)
	if err != nil {
		return nil, err
	}

	board, err := g.store.FindBoard(ctx, req.BoardID)
	if err != nil {
		if errors.Is(err, core.ErrBoardNotFound) {
			return nil, fmt.Errorf("%w: %v", core.ErrUnauthorized, err)
		}
		return nil, fmt.Errorf("failed to look up board: %w", err)
	}

	level, err := g.resolve(ctx, user, board)
	if err != nil {
		return nil, err
	}
	if level == "" {
		return nil, core.ErrForbidden
	}

	action := req.Action
	if action == "" {
		action = ActionAccess
	}
	entry := &core.AuditEntry{
		UserID:     user.ID,
		BoardID:    board.ID,
		Action:     action,
		Permission: level,
		IPAddress:  req.IPAddress,
		UserAgent:  req.UserAgent,
	}
	if err := g.store.RecordAudit(ctx, entry); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"user_id":  user.ID,
			"board_id": board.ID,
		}).Error("Failed to record board access")
	}

	return &core.Grant{User: *user, BoardID: board.ID, Permission: level}, nil
}

// resolve returns the effective level, or "" when the user has none. The
// owner always edits; otherwise an explicit grant wins over the public level.
func (g *Gate) resolve(ctx context.Context, user *core.User, board *core.Board) (core.Permission, error) {
	if board.OwnerID == user.ID {
		return core.PermissionEdit, nil
	}

	level, err := g.store.FindPermission(ctx, board.ID, user.ID)
	if err == nil {
		return level, nil
	}
	if !errors.Is(err, core.ErrPermissionNotFound) {
		return "", fmt.Errorf("failed to look up permission: %w", err)
	}

	if !board.IsPublic {
		return "", nil
	}
	level, err = g.store.FindPermission(ctx, board.ID, "")
	if errors.Is(err, core.ErrPermissionNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up public permission: %w", err)
	}
	return level, nil
}
