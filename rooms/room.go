package rooms

import (
	"boardsync/core"
	"sync"
	"time"
)

// Room is the live state of one loaded board. All fields are guarded by mu;
// only the Registry mutates membership.
type Room struct {
	boardID string

	mu           sync.Mutex
	engine       core.Engine
	clients      map[core.Peer]struct{}
	lastActivity time.Time
	// closed is set once the room has been evicted or discarded; a joiner that
	// finds it set must look the board up again.
	closed bool
}

func newRoom(boardID string, engine core.Engine, now time.Time) *Room {
	return &Room{
		boardID:      boardID,
		engine:       engine,
		clients:      make(map[core.Peer]struct{}),
		lastActivity: now,
	}
}

func (r *Room) ID() string {
	return r.boardID
}

func (r *Room) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

func (r *Room) LastActivity() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastActivity
}

func (r *Room) isOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed
}

func (r *Room) touch(now time.Time) {
	r.mu.Lock()
	r.lastActivity = now
	r.mu.Unlock()
}

// FullState returns a snapshot of the engine state.
func (r *Room) FullState() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engine.FullState()
}

// broadcastLocked sends payload to every client except exclude. Clients whose
// send fails are dropped and returned. r.mu must be held.
func (r *Room) broadcastLocked(payload []byte, exclude core.Peer) []core.Peer {
	var failed []core.Peer
	for c := range r.clients {
		if c == exclude {
			continue
		}
		if err := c.Send(payload); err != nil {
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		delete(r.clients, c)
	}
	return failed
}
