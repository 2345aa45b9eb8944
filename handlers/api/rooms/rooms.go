package rooms

import (
	live "boardsync/rooms"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/render"
)

type (
	RoomLister interface {
		Rooms() []live.RoomInfo
	}

	PresenceCounter interface {
		Counts() map[string]int
	}

	Room struct {
		ID           string     `json:"id"`
		Clients      int        `json:"clients"`
		Present      int        `json:"present"`
		Loaded       bool       `json:"loaded"`
		LastActivity *time.Time `json:"lastActivity,omitempty"`
	}
)

// HandleList lists loaded rooms together with boards that only have presence
// connections.
func HandleList(registry RoomLister, presence PresenceCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts := presence.Counts()

		byID := make(map[string]*Room)
		for _, info := range registry.Rooms() {
			lastActivity := info.LastActivity
			byID[info.BoardID] = &Room{
				ID:           info.BoardID,
				Clients:      info.Clients,
				Loaded:       true,
				LastActivity: &lastActivity,
			}
		}
		for id, n := range counts {
			entry, ok := byID[id]
			if !ok {
				entry = &Room{ID: id}
				byID[id] = entry
			}
			entry.Present = n
		}

		list := make([]Room, 0, len(byID))
		for _, entry := range byID {
			list = append(list, *entry)
		}
		sort.Slice(list, func(i, j int) bool {
			if list[i].Clients != list[j].Clients {
				return list[i].Clients > list[j].Clients
			}
			if list[i].Present != list[j].Present {
				return list[i].Present > list[j].Present
			}
			return list[i].ID < list[j].ID
		})

		render.JSON(w, r, list)
	}
}
