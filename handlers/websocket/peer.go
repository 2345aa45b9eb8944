package websocket

import (
	"boardsync/core"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// peer is one sync connection. Send only enqueues; writePump owns all writes
// to conn.
type peer struct {
	id           string
	conn         *websocket.Conn
	send         chan []byte
	writeTimeout time.Duration
	pingPeriod   time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

func newPeer(id string, conn *websocket.Conn, queueSize int, writeTimeout, pingPeriod time.Duration) *peer {
	return &peer{
		id:           id,
		conn:         conn,
		send:         make(chan []byte, queueSize),
		writeTimeout: writeTimeout,
		pingPeriod:   pingPeriod,
		done:         make(chan struct{}),
	}
}

func (p *peer) ID() string {
	return p.id
}

func (p *peer) Send(payload []byte) error {
	select {
	case <-p.done:
		return core.ErrPeerClosed
	default:
	}

	select {
	case p.send <- payload:
		return nil
	default:
		p.Close()
		return core.ErrPeerSlow
	}
}

// Close stops the session; writePump sends the close frame and the read loop
// ends once the connection drops.
func (p *peer) Close() {
	p.closeOnce.Do(func() { close(p.done) })
}

// writePump drains the send queue until the peer is closed or a write fails.
// It closes the connection on exit, which ends the session's read loop.
func (p *peer) writePump() {
	ticker := time.NewTicker(p.pingPeriod)
	defer func() {
		ticker.Stop()
		p.Close()
		_ = p.conn.Close()
	}()

	log := logrus.WithField("peer_id", p.id)
	for {
		select {
		case payload := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
			if err := p.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
				log.WithError(err).Debug("Write failed")
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(p.writeTimeout)
			if err := p.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.WithError(err).Debug("Ping failed")
				return
			}
		case <-p.done:
			deadline := time.Now().Add(p.writeTimeout)
			_ = p.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		}
	}
}
