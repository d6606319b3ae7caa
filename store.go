package main

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"sync"

	"github.com/jsfillman/cyber-elephant/exchange"
)

type savedSession struct {
	HostToken string         `json:"host_token"`
	Game      *exchange.Game `json:"game"`
}

// stateStore mirrors every game to a single JSON file so a restart
// picks sessions back up. Mutations update the in-memory map and nudge
// the background flusher, so session goroutines never wait on file
// I/O; the flusher always writes the latest map.
type stateStore struct {
	cfg  *Config
	path string

	mu    sync.Mutex
	games map[string]savedSession

	flush chan struct{}
}

func newStateStore(cfg *Config, path string) (*stateStore, error) {
	st := &stateStore{
		cfg:   cfg,
		path:  path,
		games: make(map[string]savedSession),
		flush: make(chan struct{}, 1),
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := json.Unmarshal(data, &st.games); err != nil {
			return nil, err
		}
		logf(cfg, "STATE: Loaded %d game(s) from %s", len(st.games), path)
	}

	go st.flushLoop()

	return st, nil
}

func (st *stateStore) put(id, hostToken string, game *exchange.Game) {
	st.mu.Lock()
	st.games[id] = savedSession{HostToken: hostToken, Game: game}
	st.mu.Unlock()

	st.signal()
}

func (st *stateStore) remove(id string) {
	st.mu.Lock()
	delete(st.games, id)
	st.mu.Unlock()

	st.signal()
}

func (st *stateStore) each(fn func(id string, saved savedSession)) {
	st.mu.Lock()
	defer st.mu.Unlock()

	for id, saved := range st.games {
		fn(id, saved)
	}
}

// signal nudges the flusher without blocking; back-to-back mutations
// coalesce into one write of the latest map.
func (st *stateStore) signal() {
	select {
	case st.flush <- struct{}{}:
	default:
	}
}

func (st *stateStore) flushLoop() {
	for range st.flush {
		st.mu.Lock()
		data, err := json.MarshalIndent(st.games, "", "  ")
		st.mu.Unlock()
		if err != nil {
			logf(st.cfg, "STATE: marshal error: %v", err)
			continue
		}

		// Write-then-rename so a crash mid-write never leaves a
		// truncated state file behind.
		tmp := st.path + ".tmp"
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			logf(st.cfg, "STATE: write error: %v", err)
			continue
		}
		if err := os.Rename(tmp, st.path); err != nil {
			logf(st.cfg, "STATE: rename error: %v", err)
		}
	}
}
