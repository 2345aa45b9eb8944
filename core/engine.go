package core

type (
	// Engine is one replicated document. Deltas and full states are opaque bytes
	// only the engine understands. Implementations need not be safe for
	// concurrent use; the room serializes access.
	Engine interface {
		Apply(delta []byte) error
		FullState() []byte
	}

	EngineFactory interface {
		New() Engine
	}

	// Peer is one connected client as seen by a room. Send must not block on the
	// network; a returned error marks the peer dead. Close ends the session and
	// is safe to call more than once.
	Peer interface {
		ID() string
		Send(payload []byte) error
		Close()
	}
)
