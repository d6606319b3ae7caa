package main

import (
	"errors"
	"sync"
	"time"

	"github.com/jsfillman/cyber-elephant/exchange"
)

var errSessionClosed = errors.New("session closed")

type dispatchRequest struct {
	action exchange.Action
	reply  chan dispatchResult
}

type dispatchResult struct {
	snapshot *exchange.Game
	events   []exchange.Event
	err      error
}

// Session owns the canonical state of one game. All actions funnel
// through a single goroutine, so no two are ever evaluated against
// overlapping state; the rule engine sees them strictly in arrival
// order. The session is the only writer of its game.
type Session struct {
	id        string
	hostToken string
	cfg       *Config
	hub       *hub
	store     *stateStore // nil when persistence is disabled

	requests  chan dispatchRequest
	done      chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	game       *exchange.Game
	lastActive time.Time
}

func newSession(cfg *Config, store *stateStore, id, hostToken string, game *exchange.Game) *Session {
	s := &Session{
		id:         id,
		hostToken:  hostToken,
		cfg:        cfg,
		hub:        newHub(cfg.queueSize),
		store:      store,
		requests:   make(chan dispatchRequest),
		done:       make(chan struct{}),
		game:       game,
		lastActive: time.Now(),
	}

	go s.run()

	return s
}

func (s *Session) run() {
	for {
		select {
		case req := <-s.requests:
			next, events, err := exchange.Apply(s.Snapshot(), req.action)
			if err == nil {
				s.publish(next)
				s.hub.broadcast(next, events)
				if s.store != nil {
					s.store.put(s.id, s.hostToken, next)
				}
			}
			req.reply <- dispatchResult{snapshot: next, events: events, err: err}
		case <-s.done:
			s.hub.closeAll()
			return
		}
	}
}

// Dispatch submits one action and waits for the engine's verdict. Calls
// from any number of goroutines are applied one at a time in arrival
// order; a rejection leaves the published snapshot untouched.
func (s *Session) Dispatch(act exchange.Action) (*exchange.Game, []exchange.Event, error) {
	req := dispatchRequest{
		action: act,
		reply:  make(chan dispatchResult, 1),
	}

	select {
	case s.requests <- req:
	case <-s.done:
		return nil, nil, errSessionClosed
	}

	res := <-req.reply
	s.touch()

	return res.snapshot, res.events, res.err
}

// Snapshot returns the latest fully-applied state. Snapshots are
// immutable once published, so the pointer is safe to share.
func (s *Session) Snapshot() *exchange.Game {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.game
}

func (s *Session) publish(g *exchange.Game) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.game = g
}

func (s *Session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastActive = time.Now()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastActive
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// readPump consumes one connection's inbound actions. Only choose/steal
// arrive over the socket; lobby and privileged operations go through
// the HTTP layer, which does credential checks first. Rejections are
// reported to the offending connection alone.
func (s *Session) readPump(cfg *Config, c *client) {
	defer func() {
		s.hub.remove(c)
		_ = c.conn.Close()
	}()

	pongWait := cfg.heartbeat + writeWait

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		if msg.Type != "action" {
			continue
		}

		act := msg.Action
		act.PlayerID = c.playerID // identity comes from the connection, not the payload
		act.Privileged = false

		switch act.Type {
		case exchange.ActionChooseGift, exchange.ActionStealGift:
		default:
			s.hub.trySend(c, serverMessage{Type: "error", Error: string(exchange.ReasonInvalidAction)})
			continue
		}

		if _, _, err := s.Dispatch(act); err != nil {
			var rej *exchange.Rejection
			if errors.As(err, &rej) {
				s.hub.trySend(c, serverMessage{Type: "error", Error: string(rej.Reason)})
			}
		}
	}
}
