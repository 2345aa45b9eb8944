// Package websocket serves the binary board sync protocol.
package websocket

import (
	"boardsync/access"
	"boardsync/core"
	"boardsync/middleware"
	"boardsync/rooms"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	CloseUnauthorized = 4001
	CloseForbidden    = 4003
)

type Options struct {
	SendQueueSize  int
	WriteTimeout   time.Duration
	MaxMessageSize int64
	// CheckOrigin overrides the default same-origin check.
	CheckOrigin func(r *http.Request) bool
}

type Handler struct {
	gate     *access.Gate
	registry *rooms.Registry
	opts     Options
	upgrader websocket.Upgrader
}

func NewHandler(gate *access.Gate, registry *rooms.Registry, opts Options) *Handler {
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = 256
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 5000000
	}
	return &Handler{
		gate:     gate,
		registry: registry,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
	}
}

func (h *Handler) pongWait() time.Duration {
	return h.opts.WriteTimeout * 6
}

func (h *Handler) pingPeriod() time.Duration {
	return h.pongWait() * 9 / 10
}

// requestToken prefers the token query parameter since browsers cannot set
// headers on WebSocket requests.
func requestToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	token, _ := middleware.BearerToken(r)
	return token
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	boardID := chi.URLParam(r, "boardID")
	log := logrus.WithField("board_id", boardID)

	grant, authErr := h.gate.Authorize(r.Context(), access.Request{
		Token:     requestToken(r),
		BoardID:   boardID,
		Action:    access.ActionAccess,
		IPAddress: middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	})

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("Failed to upgrade sync connection")
		return
	}

	if authErr != nil {
		code, reason := closeCodeFor(authErr)
		if code == websocket.CloseInternalServerErr {
			log.WithError(authErr).Error("Access check failed")
		} else {
			log.WithError(authErr).Info("Sync connection rejected")
		}
		reject(conn, code, reason, h.opts.WriteTimeout)
		return
	}

	h.serve(r.Context(), conn, grant)
}

func closeCodeFor(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrUnauthorized):
		return CloseUnauthorized, "unauthorized"
	case errors.Is(err, core.ErrForbidden):
		return CloseForbidden, "forbidden"
	default:
		return websocket.CloseInternalServerErr, "internal error"
	}
}

func reject(conn *websocket.Conn, code int, reason string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}

// serve runs an authorized session: join, deliver the full state, then apply
// the client's deltas until it disconnects.
func (h *Handler) serve(ctx context.Context, conn *websocket.Conn, grant *core.Grant) {
	p := newPeer(uuid.NewString(), conn, h.opts.SendQueueSize, h.opts.WriteTimeout, h.pingPeriod())
	log := logrus.WithFields(logrus.Fields{
		"board_id":   grant.BoardID,
		"peer_id":    p.id,
		"user_id":    grant.User.ID,
		"permission": grant.Permission,
	})

	if _, err := h.registry.Join(ctx, grant.BoardID, p); err != nil {
		if errors.Is(err, core.ErrRegistryClosed) {
			log.Info("Sync connection refused during shutdown")
			reject(conn, websocket.CloseGoingAway, "server shutting down", h.opts.WriteTimeout)
			return
		}
		log.WithError(err).Error("Failed to join board")
		reject(conn, websocket.CloseInternalServerErr, "failed to load board", h.opts.WriteTimeout)
		return
	}
	go p.writePump()
	log.Info("Sync session started")

	defer func() {
		h.registry.Leave(grant.BoardID, p)
		p.Close()
		log.Info("Sync session ended")
	}()

	conn.SetReadLimit(h.opts.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(h.pongWait()))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongWait()))
	})

	canEdit := grant.Permission.CanEdit()
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				log.WithError(err).Debug("Sync connection closed unexpectedly")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.pongWait()))

		if mt != websocket.BinaryMessage || !canEdit {
			continue
		}
		if err := h.registry.ApplyUpdate(grant.BoardID, data, p); err != nil {
			log.WithError(err).Warn("Rejected update")
		}
	}
}
