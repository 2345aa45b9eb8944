package boards

import (
	"boardsync/core"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

type mockLive struct {
	states     map[string][]byte
	busy       map[string]bool
	discardErr error
	discarded  []string
}

func (m *mockLive) Snapshot(boardID string) ([]byte, bool) {
	data, ok := m.states[boardID]
	return data, ok
}

func (m *mockLive) Discard(ctx context.Context, boardID string) error {
	if m.busy[boardID] {
		return core.ErrRoomBusy
	}
	if m.discardErr != nil {
		return m.discardErr
	}
	m.discarded = append(m.discarded, boardID)
	return nil
}

type mockPersisted struct {
	states  map[string][]byte
	loadErr error
}

func (m *mockPersisted) Load(ctx context.Context, boardID string) ([]byte, bool, error) {
	if m.loadErr != nil {
		return nil, false, m.loadErr
	}
	data, ok := m.states[boardID]
	return data, ok, nil
}

func newRouter(live *mockLive, persisted *mockPersisted) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/boards/{boardID}/state", HandleGetState(live, persisted))
	r.Delete("/api/boards/{boardID}/state", HandleDeleteState(live))
	return r
}

func serve(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHandleGetState(t *testing.T) {
	live := &mockLive{states: map[string][]byte{"loaded": []byte("live")}}
	persisted := &mockPersisted{states: map[string][]byte{
		"loaded": []byte("stale"),
		"cold":   []byte("disk"),
	}}
	h := newRouter(live, persisted)

	rec := serve(h, http.MethodGet, "/api/boards/loaded/state")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	require.Equal(t, "live", rec.Body.String())

	rec = serve(h, http.MethodGet, "/api/boards/cold/state")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "disk", rec.Body.String())

	rec = serve(h, http.MethodGet, "/api/boards/missing/state")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetState_LoadError(t *testing.T) {
	h := newRouter(&mockLive{}, &mockPersisted{loadErr: errors.New("disk on fire")})

	rec := serve(h, http.MethodGet, "/api/boards/cold/state")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleDeleteState(t *testing.T) {
	live := &mockLive{busy: map[string]bool{"busy": true}}
	h := newRouter(live, &mockPersisted{})

	rec := serve(h, http.MethodDelete, "/api/boards/idle/state")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, []string{"idle"}, live.discarded)

	rec = serve(h, http.MethodDelete, "/api/boards/busy/state")
	require.Equal(t, http.StatusConflict, rec.Code)

	live.discardErr = errors.New("bucket gone")
	rec = serve(h, http.MethodDelete, "/api/boards/other/state")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
