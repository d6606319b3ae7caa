package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jsfillman/cyber-elephant/exchange"
)

func testConfig() *Config {
	return &Config{
		adminPassword: "changeme",
		bind:          "127.0.0.1",
		port:          8080,
		queueSize:     32,
		heartbeat:     30 * time.Second,
	}
}

func TestSessionSerializesConcurrentActions(t *testing.T) {
	cfg := testConfig()
	s := newSession(cfg, nil, "game", "token", exchange.NewGame("game"))
	defer s.close()

	const players = 10

	var wg sync.WaitGroup
	errs := make(chan error, players)
	for i := 0; i < players; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := s.Dispatch(exchange.Action{
				Type:     exchange.ActionJoin,
				PlayerID: fmt.Sprintf("p%d", i),
				Name:     fmt.Sprintf("player-%d", i),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.Len(t, s.Snapshot().Players, players)
}

func TestSessionRejectsOnlyTheLoser(t *testing.T) {
	cfg := testConfig()
	s := newSession(cfg, nil, "game", "token", exchange.NewGame("game"))
	defer s.close()

	// Two racing joins with the same name: exactly one side wins,
	// whichever order the actor happens to apply them in.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = s.Dispatch(exchange.Action{
				Type:     exchange.ActionJoin,
				PlayerID: fmt.Sprintf("p%d", i),
				Name:     "alice",
			})
		}(i)
	}
	wg.Wait()

	var rejections int
	for _, err := range errs {
		if err != nil {
			rej, ok := err.(*exchange.Rejection)
			require.True(t, ok)
			require.Equal(t, exchange.ReasonDuplicateName, rej.Reason)
			rejections++
		}
	}
	require.Equal(t, 1, rejections)
	require.Len(t, s.Snapshot().Players, 1)
}

func TestSessionSnapshotIsStable(t *testing.T) {
	cfg := testConfig()
	s := newSession(cfg, nil, "game", "token", exchange.NewGame("game"))
	defer s.close()

	_, _, err := s.Dispatch(exchange.Action{Type: exchange.ActionJoin, PlayerID: "p1", Name: "alice"})
	require.NoError(t, err)

	before := s.Snapshot()
	require.Len(t, before.Players, 1)

	_, _, err = s.Dispatch(exchange.Action{Type: exchange.ActionJoin, PlayerID: "p2", Name: "bob"})
	require.NoError(t, err)

	// The earlier snapshot must not change under later writes.
	require.Len(t, before.Players, 1)
	require.Len(t, s.Snapshot().Players, 2)
}

func TestSessionCloseStopsDispatch(t *testing.T) {
	cfg := testConfig()
	s := newSession(cfg, nil, "game", "token", exchange.NewGame("game"))

	s.close()
	s.close() // idempotent

	_, _, err := s.Dispatch(exchange.Action{Type: exchange.ActionJoin, PlayerID: "p1", Name: "alice"})
	require.ErrorIs(t, err, errSessionClosed)
}

func TestRegistryLifecycle(t *testing.T) {
	cfg := testConfig()
	reg := newRegistry(cfg, nil)

	s := reg.CreateSession()
	require.NotNil(t, s)
	require.NotEmpty(t, s.hostToken)
	require.Same(t, s, reg.Get(s.id))
	require.Equal(t, exchange.PhaseLobby, s.Snapshot().Phase)

	require.Nil(t, reg.Get("unknown"))

	require.True(t, reg.CloseSession(s.id))
	require.Nil(t, reg.Get(s.id))
	require.False(t, reg.CloseSession(s.id))
}

// waitForStateFile polls until the state file parses and the condition
// holds; flushing happens on a background goroutine, never inline.
func waitForStateFile(t *testing.T, path string, cond func(saved map[string]savedSession) bool) {
	t.Helper()

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(path)
		if err != nil {
			return false
		}
		var saved map[string]savedSession
		if json.Unmarshal(data, &saved) != nil {
			return false
		}
		return cond(saved)
	}, time.Second, 10*time.Millisecond)
}

func TestStateStoreRoundTrip(t *testing.T) {
	cfg := testConfig()
	path := filepath.Join(t.TempDir(), "state.json")

	store, err := newStateStore(cfg, path)
	require.NoError(t, err)

	reg := newRegistry(cfg, store)
	s := reg.CreateSession()

	_, _, err = s.Dispatch(exchange.Action{Type: exchange.ActionJoin, PlayerID: "p1", Name: "alice"})
	require.NoError(t, err)

	waitForStateFile(t, path, func(saved map[string]savedSession) bool {
		entry, ok := saved[s.id]
		return ok && entry.Game != nil && len(entry.Game.Players) == 1
	})

	// A new store on the same path restores the session and its state.
	reloaded, err := newStateStore(cfg, path)
	require.NoError(t, err)

	restored := newRegistry(cfg, reloaded)
	got := restored.Get(s.id)
	require.NotNil(t, got)
	require.Equal(t, s.hostToken, got.hostToken)
	require.Len(t, got.Snapshot().Players, 1)
	require.Equal(t, "alice", got.Snapshot().Players[0].Name)
}

func TestStateStoreRemove(t *testing.T) {
	cfg := testConfig()
	path := filepath.Join(t.TempDir(), "state.json")

	store, err := newStateStore(cfg, path)
	require.NoError(t, err)

	reg := newRegistry(cfg, store)
	s := reg.CreateSession()
	require.True(t, reg.CloseSession(s.id))

	waitForStateFile(t, path, func(saved map[string]savedSession) bool {
		return len(saved) == 0
	})
}
