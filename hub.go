package main

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jsfillman/cyber-elephant/exchange"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

// serverMessage is the single outbound envelope. After every accepted
// action clients receive the full snapshot alongside the events, so a
// client that mangles its incremental state always resynchronizes.
type serverMessage struct {
	Type  string          `json:"type"` // "state", "event" or "error"
	State *exchange.Game  `json:"state,omitempty"`
	Event *exchange.Event `json:"event,omitempty"`
	Error string          `json:"error,omitempty"`
}

// clientMessage is the inbound envelope read off a websocket.
type clientMessage struct {
	Type   string          `json:"type"` // "action"
	Action exchange.Action `json:"action"`
}

type client struct {
	playerID string
	conn     *websocket.Conn
	send     chan serverMessage
	gone     bool // send closed; guarded by hub.mu
}

// hub tracks the live connections of one session, at most one per
// player. It only ever receives finished snapshots and events from the
// session actor, never the mutable state itself.
type hub struct {
	queueSize int

	mu    sync.Mutex
	conns map[string]*client
}

func newHub(queueSize int) *hub {
	return &hub{
		queueSize: queueSize,
		conns:     make(map[string]*client),
	}
}

// add registers a connection and queues the current snapshot for it
// inside the same critical section broadcast uses, so the snapshot is
// never older than a broadcast the connection missed. A newer
// connection for the same player supersedes the old one, which is
// closed.
func (h *hub) add(c *client, fetch func() *exchange.Game) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.conns[c.playerID]; ok {
		h.dropLocked(old)
	}
	h.conns[c.playerID] = c
	h.sendLocked(c, serverMessage{Type: "state", State: fetch()})
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.dropLocked(c)
}

func (h *hub) dropLocked(c *client) {
	if h.conns[c.playerID] == c {
		delete(h.conns, c.playerID)
	}
	if !c.gone {
		c.gone = true
		close(c.send)
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// trySend queues a message for one connection; if its queue is full the
// connection is closed rather than blocking the caller.
func (h *hub) trySend(c *client, msg serverMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sendLocked(c, msg)
}

func (h *hub) sendLocked(c *client, msg serverMessage) {
	if c.gone {
		return
	}
	select {
	case c.send <- msg:
	default:
		h.dropLocked(c)
	}
}

// broadcast fans the new snapshot plus its events out to every
// connection. A slow client is dropped, never waited for.
func (h *hub) broadcast(snapshot *exchange.Game, events []exchange.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range h.conns {
		h.sendLocked(c, serverMessage{Type: "state", State: snapshot})
		for i := range events {
			h.sendLocked(c, serverMessage{Type: "event", Event: &events[i]})
		}
	}
}

func (h *hub) connCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.conns)
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range h.conns {
		h.dropLocked(c)
	}
}

// writePump drains the outbound queue onto the wire and keeps the
// connection alive with periodic pings.
func (c *client) writePump(heartbeat time.Duration) {
	ticker := time.NewTicker(heartbeat)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
