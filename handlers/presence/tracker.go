// Package presence tells clients which users currently have a board open.
package presence

import (
	"sort"
	"sync"
)

type Member struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type membership struct {
	boardID string
	member  Member
}

// Tracker records which connection is present on which board. A connection
// is on at most one board at a time.
type Tracker struct {
	mu      sync.RWMutex
	boards  map[string]map[string]Member
	sockets map[string]membership
}

func NewTracker() *Tracker {
	return &Tracker{
		boards:  make(map[string]map[string]Member),
		sockets: make(map[string]membership),
	}
}

// Join places socketID on boardID and returns the members now online there.
// If the socket was on another board, that board is returned as previous.
func (t *Tracker) Join(socketID, boardID string, m Member) (online []Member, previous string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.sockets[socketID]; ok && prev.boardID != boardID {
		t.removeLocked(socketID, prev.boardID)
		previous = prev.boardID
	}

	members, ok := t.boards[boardID]
	if !ok {
		members = make(map[string]Member)
		t.boards[boardID] = members
	}
	members[socketID] = m
	t.sockets[socketID] = membership{boardID: boardID, member: m}

	return sortedMembers(members), previous
}

// Leave removes socketID from its board.
func (t *Tracker) Leave(socketID string) (boardID string, m Member, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, ok := t.sockets[socketID]
	if !ok {
		return "", Member{}, false
	}
	t.removeLocked(socketID, prev.boardID)
	return prev.boardID, prev.member, true
}

func (t *Tracker) removeLocked(socketID, boardID string) {
	delete(t.sockets, socketID)
	members := t.boards[boardID]
	delete(members, socketID)
	if len(members) == 0 {
		delete(t.boards, boardID)
	}
}

// online lists the members present on boardID.
func (t *Tracker) online(boardID string) []Member {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return sortedMembers(t.boards[boardID])
}

// Counts returns the number of present connections per board.
func (t *Tracker) Counts() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	counts := make(map[string]int, len(t.boards))
	for id, members := range t.boards {
		counts[id] = len(members)
	}
	return counts
}

func sortedMembers(members map[string]Member) []Member {
	out := make([]Member, 0, len(members))
	for _, m := range members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Username != out[j].Username {
			return out[i].Username < out[j].Username
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}
