package rooms

import (
	"boardsync/core"
	"boardsync/persistence"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Gateway is the slice of the persistence gateway the registry relies on.
type Gateway interface {
	Load(ctx context.Context, boardID string) ([]byte, bool, error)
	Save(ctx context.Context, boardID string, data []byte) error
	SaveDebounced(boardID string, produce persistence.Producer)
	Cancel(boardID string) bool
	Delete(ctx context.Context, boardID string) error
	FlushPending() int
}

type (
	Options struct {
		InactivityTimeout time.Duration
		CleanupInterval   time.Duration
	}

	RoomInfo struct {
		BoardID      string    `json:"boardId"`
		Clients      int       `json:"clients"`
		LastActivity time.Time `json:"lastActivity"`
	}
)

// Registry owns every loaded Room and is the only place rooms are created,
// joined, left and evicted.
type Registry struct {
	gateway Gateway
	engines core.EngineFactory
	opts    Options
	now     func() time.Time

	mu      sync.RWMutex
	rooms   map[string]*Room
	closing bool
	// loads serializes loading and discarding per board.
	loads singleflight.Group

	stop context.CancelFunc
	done chan struct{}
}

func NewRegistry(gateway Gateway, engines core.EngineFactory, opts Options) *Registry {
	if opts.InactivityTimeout <= 0 {
		opts.InactivityTimeout = 30 * time.Minute
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = 5 * time.Minute
	}
	return &Registry{
		gateway: gateway,
		engines: engines,
		opts:    opts,
		now:     time.Now,
		rooms:   make(map[string]*Room),
	}
}

func (r *Registry) lookup(boardID string) *Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[boardID]
}

func (r *Registry) loaded() []*Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// remove drops room from the map if it is still the registered instance.
func (r *Registry) remove(room *Room) {
	r.mu.Lock()
	if r.rooms[room.boardID] == room {
		delete(r.rooms, room.boardID)
	}
	r.mu.Unlock()
}

// GetOrCreate returns the loaded room for boardID, loading it from storage on
// first use. Concurrent first requests share a single load, which is not tied
// to any one caller's context.
func (r *Registry) GetOrCreate(ctx context.Context, boardID string) (*Room, error) {
	for {
		if r.isClosing() {
			return nil, core.ErrRegistryClosed
		}
		if room := r.lookup(boardID); room != nil && room.isOpen() {
			room.touch(r.now())
			return room, nil
		}

		v, err, _ := r.loads.Do(boardID, func() (any, error) {
			return r.load(ctx, boardID)
		})
		if err != nil {
			return nil, err
		}
		if room, ok := v.(*Room); ok {
			return room, nil
		}

		// The flight was a discard of this board; look it up again.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

func (r *Registry) load(ctx context.Context, boardID string) (*Room, error) {
	if room := r.lookup(boardID); room != nil && room.isOpen() {
		return room, nil
	}

	// Other callers may be waiting on this load; one of them going away must
	// not fail the rest.
	data, found, err := r.gateway.Load(context.WithoutCancel(ctx), boardID)
	if err != nil {
		return nil, fmt.Errorf("failed to load board %s: %w", boardID, err)
	}

	engine := r.engines.New()
	if found {
		if err := engine.Apply(data); err != nil {
			return nil, fmt.Errorf("failed to restore board %s: %w", boardID, err)
		}
	}

	room := newRoom(boardID, engine, r.now())
	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		return nil, core.ErrRegistryClosed
	}
	r.rooms[boardID] = room
	r.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"board_id":    boardID,
		"restored":    found,
		"data_length": len(data),
	}).Info("Room loaded")
	return room, nil
}

func (r *Registry) isClosing() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closing
}

// Join adds peer to the board's room. The full state is queued on the peer
// before it becomes visible to broadcasts, so it always arrives first.
func (r *Registry) Join(ctx context.Context, boardID string, peer core.Peer) (*Room, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		room, err := r.GetOrCreate(ctx, boardID)
		if err != nil {
			return nil, err
		}

		room.mu.Lock()
		if room.closed {
			room.mu.Unlock()
			continue
		}
		if err := peer.Send(room.engine.FullState()); err != nil {
			room.mu.Unlock()
			return nil, fmt.Errorf("failed to queue initial state: %w", err)
		}
		room.clients[peer] = struct{}{}
		room.lastActivity = r.now()
		clients := len(room.clients)
		room.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"board_id":     boardID,
			"peer_id":      peer.ID(),
			"client_count": clients,
		}).Debug("Peer joined")
		return room, nil
	}
}

func (r *Registry) Leave(boardID string, peer core.Peer) {
	room := r.lookup(boardID)
	if room == nil {
		return
	}
	room.mu.Lock()
	delete(room.clients, peer)
	clients := len(room.clients)
	room.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"board_id":     boardID,
		"peer_id":      peer.ID(),
		"client_count": clients,
	}).Debug("Peer left")
}

// Broadcast delivers payload to every member except exclude and returns the
// peers that could not accept it. Those peers are no longer members.
func (r *Registry) Broadcast(boardID string, payload []byte, exclude core.Peer) []core.Peer {
	room := r.lookup(boardID)
	if room == nil {
		return nil
	}
	room.mu.Lock()
	failed := room.broadcastLocked(payload, exclude)
	room.mu.Unlock()
	logDropped(boardID, failed)
	return failed
}

// ApplyUpdate merges delta into the board, relays it verbatim to the other
// members and schedules a debounced save. Unknown boards are ignored.
func (r *Registry) ApplyUpdate(boardID string, delta []byte, source core.Peer) error {
	room := r.lookup(boardID)
	if room == nil {
		return nil
	}

	room.mu.Lock()
	if room.closed {
		room.mu.Unlock()
		return nil
	}
	if err := room.engine.Apply(delta); err != nil {
		room.mu.Unlock()
		return fmt.Errorf("failed to apply update to board %s: %w", boardID, err)
	}
	room.lastActivity = r.now()
	failed := room.broadcastLocked(delta, source)
	r.gateway.SaveDebounced(boardID, func() ([]byte, error) {
		return room.FullState(), nil
	})
	room.mu.Unlock()

	logDropped(boardID, failed)
	return nil
}

// Snapshot returns the full state of a loaded board.
func (r *Registry) Snapshot(boardID string) ([]byte, bool) {
	room := r.lookup(boardID)
	if room == nil {
		return nil, false
	}
	return room.FullState(), true
}

// Discard unloads the board and deletes its stored state. Boards with
// connected clients are left alone. Joiners arriving meanwhile wait for the
// delete and then start from an empty board.
func (r *Registry) Discard(ctx context.Context, boardID string) error {
	for {
		var (
			ran bool
			err error
		)
		r.loads.Do(boardID, func() (any, error) {
			ran = true
			err = r.discard(ctx, boardID)
			return nil, nil
		})
		if ran {
			return err
		}
		// Shared a load that was already in flight; try again once it is done.
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (r *Registry) discard(ctx context.Context, boardID string) error {
	room := r.lookup(boardID)
	if room != nil {
		room.mu.Lock()
		if len(room.clients) > 0 {
			room.mu.Unlock()
			return core.ErrRoomBusy
		}
		room.closed = true
		room.mu.Unlock()
		defer r.remove(room)
	}

	// A debounced save may be running its producer, which takes the room lock,
	// so the delete runs without it.
	if err := r.gateway.Delete(ctx, boardID); err != nil {
		return err
	}
	logrus.WithField("board_id", boardID).Info("Room discarded")
	return nil
}

func (r *Registry) Rooms() []RoomInfo {
	rooms := r.loaded()
	infos := make([]RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		room.mu.Lock()
		if !room.closed {
			infos = append(infos, RoomInfo{
				BoardID:      room.boardID,
				Clients:      len(room.clients),
				LastActivity: room.lastActivity,
			})
		}
		room.mu.Unlock()
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Clients != infos[j].Clients {
			return infos[i].Clients > infos[j].Clients
		}
		return infos[i].BoardID < infos[j].BoardID
	})
	return infos
}

// Start runs the inactivity sweep until ctx is done or Shutdown is called.
func (r *Registry) Start(ctx context.Context) {
	ctx, stop := context.WithCancel(ctx)
	r.stop = stop
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.opts.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweep(ctx, r.now())
			}
		}
	}()
}

func (r *Registry) sweep(ctx context.Context, now time.Time) int {
	evicted := 0
	for _, room := range r.loaded() {
		if r.evictIfIdle(ctx, room, now) {
			evicted++
		}
	}
	if evicted > 0 {
		logrus.WithField("evicted", evicted).Info("Inactive rooms unloaded")
	}
	return evicted
}

func (r *Registry) evictIfIdle(ctx context.Context, room *Room, now time.Time) bool {
	room.mu.Lock()
	defer room.mu.Unlock()

	if room.closed || len(room.clients) > 0 || now.Sub(room.lastActivity) <= r.opts.InactivityTimeout {
		return false
	}

	if err := r.gateway.Save(ctx, room.boardID, room.engine.FullState()); err != nil {
		logrus.WithError(err).WithField("board_id", room.boardID).Error("Failed to save inactive room, keeping it loaded")
		return false
	}
	r.gateway.Cancel(room.boardID)
	room.closed = true
	r.remove(room)

	logrus.WithFields(logrus.Fields{
		"board_id": room.boardID,
		"idle":     now.Sub(room.lastActivity).String(),
	}).Debug("Room evicted")
	return true
}

// Shutdown refuses new joins, stops the sweep, then saves every loaded room
// and closes its sessions so no edit can land after the final save. Saves
// still waiting on their debounce are cancelled.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closing = true
	r.mu.Unlock()

	if r.stop != nil {
		r.stop()
		<-r.done
	}

	var errs []error
	saved, closed := 0, 0
	for _, room := range r.loaded() {
		room.mu.Lock()
		if room.closed {
			room.mu.Unlock()
			continue
		}
		if err := r.gateway.Save(ctx, room.boardID, room.engine.FullState()); err != nil {
			errs = append(errs, fmt.Errorf("board %s: %w", room.boardID, err))
		} else {
			saved++
		}
		room.closed = true
		peers := make([]core.Peer, 0, len(room.clients))
		for p := range room.clients {
			peers = append(peers, p)
		}
		room.clients = make(map[core.Peer]struct{})
		r.remove(room)
		room.mu.Unlock()

		for _, p := range peers {
			p.Close()
		}
		closed += len(peers)
	}
	cancelled := r.gateway.FlushPending()

	logrus.WithFields(logrus.Fields{
		"saved":     saved,
		"cancelled": cancelled,
		"closed":    closed,
		"failed":    len(errs),
	}).Info("Room registry shut down")
	return errors.Join(errs...)
}

func logDropped(boardID string, failed []core.Peer) {
	for _, p := range failed {
		logrus.WithFields(logrus.Fields{
			"board_id": boardID,
			"peer_id":  p.ID(),
		}).Warn("Dropping peer that could not keep up")
	}
}
