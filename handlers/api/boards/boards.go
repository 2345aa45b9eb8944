package boards

import (
	"boardsync/core"
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type (
	// LiveState reads and discards boards held in memory.
	LiveState interface {
		Snapshot(boardID string) ([]byte, bool)
		Discard(ctx context.Context, boardID string) error
	}

	// PersistedState reads state of boards that are not loaded.
	PersistedState interface {
		Load(ctx context.Context, boardID string) ([]byte, bool, error)
	}
)

// HandleGetState returns the board's full state, preferring the live room.
func HandleGetState(live LiveState, persisted PersistedState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		boardID := chi.URLParam(r, "boardID")

		data, ok := live.Snapshot(boardID)
		if !ok {
			var err error
			data, ok, err = persisted.Load(r.Context(), boardID)
			if err != nil {
				logrus.WithError(err).WithField("board_id", boardID).Error("Failed to load board state")
				http.Error(w, "Failed to load board state", http.StatusInternalServerError)
				return
			}
		}
		if !ok {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, map[string]string{"error": "Board has no state"})
			return
		}

		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}

// HandleDeleteState drops the board from memory and deletes its stored state.
func HandleDeleteState(live LiveState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		boardID := chi.URLParam(r, "boardID")
		log := logrus.WithField("board_id", boardID)

		if err := live.Discard(r.Context(), boardID); err != nil {
			if errors.Is(err, core.ErrRoomBusy) {
				render.Status(r, http.StatusConflict)
				render.JSON(w, r, map[string]string{"error": "Board has connected clients"})
				return
			}
			log.WithError(err).Error("Failed to delete board state")
			http.Error(w, "Failed to delete board state", http.StatusInternalServerError)
			return
		}

		log.Info("Board state deleted")
		w.WriteHeader(http.StatusNoContent)
	}
}
