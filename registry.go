package main

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jsfillman/cyber-elephant/exchange"
)

// Registry is the process-wide lookup from game ID to session. Entries
// are added only by explicit creation (or restore from the state file)
// and removed only by explicit closure or the idle reaper, so sessions
// never contend with one another.
type Registry struct {
	cfg   *Config
	store *stateStore

	mu       sync.Mutex
	sessions map[string]*Session
}

func newRegistry(cfg *Config, store *stateStore) *Registry {
	r := &Registry{
		cfg:      cfg,
		store:    store,
		sessions: make(map[string]*Session),
	}

	if store != nil {
		store.each(func(id string, saved savedSession) {
			r.sessions[id] = newSession(cfg, store, id, saved.HostToken, saved.Game)
		})
	}

	if cfg.sessionTimeout > 0 {
		go r.reaperLoop()
	}

	return r
}

// CreateSession starts a fresh game in the lobby phase and returns its
// session. The host token is the capability for privileged actions.
func (r *Registry) CreateSession() *Session {
	id := uuid.NewString()
	hostToken := uuid.NewString()

	s := newSession(r.cfg, r.store, id, hostToken, exchange.NewGame(id))

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	if r.store != nil {
		r.store.put(id, hostToken, s.Snapshot())
	}

	logf(r.cfg, "GAMES: Created game %s", id)

	return s
}

// Get returns the session for an ID, or nil. Lookups never create:
// creation policy belongs to the HTTP layer's create endpoint.
func (r *Registry) Get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.sessions[id]
}

// CloseSession tears down a session and its connections. Returns false
// for unknown IDs.
func (r *Registry) CloseSession(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	s.close()
	if r.store != nil {
		r.store.remove(id)
	}

	logf(r.cfg, "GAMES: Closed game %s", id)

	return true
}

// reaperLoop periodically evicts sessions that have no connections and
// have seen no activity past the configured timeout.
func (r *Registry) reaperLoop() {
	ticker := time.NewTicker(r.cfg.sessionTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-r.cfg.sessionTimeout)

		r.mu.Lock()
		var expired []string
		for id, s := range r.sessions {
			if s.hub.connCount() == 0 && s.idleSince().Before(cutoff) {
				expired = append(expired, id)
			}
		}
		r.mu.Unlock()

		for _, id := range expired {
			logf(r.cfg, "GAMES: Reaping idle game %s", id)
			r.CloseSession(id)
		}
	}
}
