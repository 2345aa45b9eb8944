package core

import (
	"context"
	"time"
)

type (
	// BoardState is the latest compacted engine state of one board.
	BoardState struct {
		BoardID   string
		Data      []byte
		UpdatedAt time.Time
	}

	// StateStore keeps exactly one state blob per board.
	StateStore interface {
		// LoadState returns ErrStateNotFound when the board was never saved.
		LoadState(ctx context.Context, boardID string) (*BoardState, error)
		// SaveState inserts or overwrites the blob for a board.
		SaveState(ctx context.Context, boardID string, data []byte) error
		DeleteState(ctx context.Context, boardID string) error
	}

	// Store is the union every storage backend exposes to the server.
	Store interface {
		StateStore
		AccessStore
	}
)
