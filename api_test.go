package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"

	"github.com/jsfillman/cyber-elephant/exchange"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := testConfig()
	reg := newRegistry(cfg, nil)
	mux := httprouter.New()
	registerExchange(cfg, reg, mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv
}

func doJSON(t *testing.T, method, url string, headers map[string]string, body any) (int, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	decoded := map[string]any{}
	_ = json.NewDecoder(res.Body).Decode(&decoded)

	return res.StatusCode, decoded
}

func createGame(t *testing.T, srv *httptest.Server) (gameID, hostToken string) {
	t.Helper()

	status, body := doJSON(t, http.MethodPost, srv.URL+"/api/game",
		map[string]string{"X-Admin-Password": "changeme"}, nil)
	require.Equal(t, http.StatusCreated, status)

	gameID, _ = body["game_id"].(string)
	hostToken, _ = body["host_token"].(string)
	require.NotEmpty(t, gameID)
	require.NotEmpty(t, hostToken)

	return gameID, hostToken
}

func joinPlayer(t *testing.T, srv *httptest.Server, gameID, name string) string {
	t.Helper()

	status, body := doJSON(t, http.MethodPost, srv.URL+"/api/game/"+gameID+"/join", nil,
		map[string]string{"name": name})
	require.Equal(t, http.StatusOK, status)

	playerID, _ := body["player_id"].(string)
	require.NotEmpty(t, playerID)

	return playerID
}

func submitGift(t *testing.T, srv *httptest.Server, gameID, playerID, hint string) {
	t.Helper()

	status, _ := doJSON(t, http.MethodPost, srv.URL+"/api/game/"+gameID+"/gift", nil,
		map[string]string{
			"player_id":   playerID,
			"product_url": "https://example.com/" + playerID,
			"hint":        hint,
		})
	require.Equal(t, http.StatusOK, status)
}

func readyGame(t *testing.T, srv *httptest.Server, names ...string) (gameID, hostToken string, players map[string]string) {
	t.Helper()

	gameID, hostToken = createGame(t, srv)
	players = make(map[string]string, len(names))
	for _, name := range names {
		players[name] = joinPlayer(t, srv, gameID, name)
	}

	status, _ := doJSON(t, http.MethodPost, srv.URL+"/api/game/"+gameID+"/open",
		map[string]string{"X-Host-Token": hostToken}, nil)
	require.Equal(t, http.StatusOK, status)

	for name, playerID := range players {
		submitGift(t, srv, gameID, playerID, "gift from "+name)
	}

	return gameID, hostToken, players
}

func TestCreateGameRequiresAdminPassword(t *testing.T) {
	srv := newTestServer(t)

	status, _ := doJSON(t, http.MethodPost, srv.URL+"/api/game", nil, nil)
	require.Equal(t, http.StatusUnauthorized, status)

	createGame(t, srv)
}

func TestJoinValidation(t *testing.T) {
	srv := newTestServer(t)
	gameID, _ := createGame(t, srv)

	joinPlayer(t, srv, gameID, "alice")

	status, body := doJSON(t, http.MethodPost, srv.URL+"/api/game/"+gameID+"/join", nil,
		map[string]string{"name": "ALICE"})
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "duplicate_name", body["error"])

	status, _ = doJSON(t, http.MethodPost, srv.URL+"/api/game/"+gameID+"/join", nil,
		map[string]string{"name": "  "})
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = doJSON(t, http.MethodPost, srv.URL+"/api/game/unknown/join", nil,
		map[string]string{"name": "bob"})
	require.Equal(t, http.StatusNotFound, status)
}

func TestGiftUpsertAndPhaseGate(t *testing.T) {
	srv := newTestServer(t)
	gameID, hostToken := createGame(t, srv)
	alice := joinPlayer(t, srv, gameID, "alice")
	bob := joinPlayer(t, srv, gameID, "bob")

	// Submissions are closed until the host opens them.
	status, body := doJSON(t, http.MethodPost, srv.URL+"/api/game/"+gameID+"/gift", nil,
		map[string]string{"player_id": alice, "product_url": "https://example.com/1", "hint": "first"})
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "invalid_phase", body["error"])

	status, _ = doJSON(t, http.MethodPost, srv.URL+"/api/game/"+gameID+"/open",
		map[string]string{"X-Host-Token": hostToken}, nil)
	require.Equal(t, http.StatusOK, status)

	status, body = doJSON(t, http.MethodPost, srv.URL+"/api/game/"+gameID+"/gift", nil,
		map[string]string{"player_id": alice, "product_url": "https://example.com/1", "hint": "first"})
	require.Equal(t, http.StatusOK, status)
	gift := body["gift"].(map[string]any)
	giftID := gift["id"].(string)
	require.Equal(t, "first", gift["hint"])

	// Editing before start keeps the same gift ID.
	status, body = doJSON(t, http.MethodPost, srv.URL+"/api/game/"+gameID+"/gift", nil,
		map[string]string{"player_id": alice, "product_url": "https://example.com/2", "hint": "updated"})
	require.Equal(t, http.StatusOK, status)
	gift = body["gift"].(map[string]any)
	require.Equal(t, giftID, gift["id"])
	require.Equal(t, "updated", gift["hint"])

	submitGift(t, srv, gameID, bob, "from bob")

	status, _ = doJSON(t, http.MethodPost, srv.URL+"/api/game/"+gameID+"/start?seed=42",
		map[string]string{"X-Host-Token": hostToken}, nil)
	require.Equal(t, http.StatusOK, status)

	// No edits once the game is running.
	status, body = doJSON(t, http.MethodPost, srv.URL+"/api/game/"+gameID+"/gift", nil,
		map[string]string{"player_id": alice, "product_url": "https://example.com/3", "hint": "late"})
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "invalid_phase", body["error"])
}

func TestStartChecks(t *testing.T) {
	srv := newTestServer(t)
	gameID, hostToken := createGame(t, srv)
	alice := joinPlayer(t, srv, gameID, "alice")
	joinPlayer(t, srv, gameID, "bob")

	status, _ := doJSON(t, http.MethodPost, srv.URL+"/api/game/"+gameID+"/open",
		map[string]string{"X-Host-Token": hostToken}, nil)
	require.Equal(t, http.StatusOK, status)

	// Host token is mandatory for privileged actions.
	status, _ = doJSON(t, http.MethodPost, srv.URL+"/api/game/"+gameID+"/start", nil, nil)
	require.Equal(t, http.StatusUnauthorized, status)

	// Everyone has to submit before the game can start.
	submitGift(t, srv, gameID, alice, "only one")
	status, body := doJSON(t, http.MethodPost, srv.URL+"/api/game/"+gameID+"/start",
		map[string]string{"X-Host-Token": hostToken}, nil)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "missing_gifts", body["error"])
}

func TestStartShufflesAndReportsActivePlayer(t *testing.T) {
	srv := newTestServer(t)
	gameID, hostToken, players := readyGame(t, srv, "alice", "bob", "carol")

	status, body := doJSON(t, http.MethodPost, srv.URL+"/api/game/"+gameID+"/start?seed=42",
		map[string]string{"X-Host-Token": hostToken}, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "in_progress", body["phase"])

	order := body["turn_order"].([]any)
	require.Len(t, order, 3)
	seen := map[string]bool{}
	for _, id := range order {
		seen[id.(string)] = true
	}
	for _, id := range players {
		require.True(t, seen[id])
	}
	require.Equal(t, order[0], body["active_player"])
}

func TestSnapshotAndCloseEndpoints(t *testing.T) {
	srv := newTestServer(t)
	gameID, hostToken := createGame(t, srv)
	joinPlayer(t, srv, gameID, "alice")

	status, body := doJSON(t, http.MethodGet, srv.URL+"/api/game/"+gameID, nil, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "lobby", body["phase"])
	require.Len(t, body["players"].([]any), 1)

	status, _ = doJSON(t, http.MethodGet, srv.URL+"/api/game/unknown", nil, nil)
	require.Equal(t, http.StatusNotFound, status)

	status, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/game/"+gameID,
		map[string]string{"X-Host-Token": "wrong"}, nil)
	require.Equal(t, http.StatusUnauthorized, status)

	status, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/game/"+gameID,
		map[string]string{"X-Host-Token": hostToken}, nil)
	require.Equal(t, http.StatusNoContent, status)

	status, _ = doJSON(t, http.MethodGet, srv.URL+"/api/game/"+gameID, nil, nil)
	require.Equal(t, http.StatusNotFound, status)
}

func TestQRCodeEndpoint(t *testing.T) {
	srv := newTestServer(t)
	gameID, _ := createGame(t, srv)

	res, err := http.Get(srv.URL + "/game/" + gameID + "/qr")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "image/png", res.Header.Get("Content-Type"))

	missing, err := http.Get(srv.URL + "/game/unknown/qr")
	require.NoError(t, err)
	defer missing.Body.Close()
	require.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func dialWS(t *testing.T, srv *httptest.Server, gameID, playerID string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") +
		fmt.Sprintf("/game/%s/ws?player_id=%s", gameID, playerID)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) serverMessage {
	t.Helper()

	var msg serverMessage
	require.NoError(t, conn.ReadJSON(&msg))

	return msg
}

func TestWebsocketSnapshotOnConnect(t *testing.T) {
	srv := newTestServer(t)
	gameID, hostToken, players := readyGame(t, srv, "alice", "bob")

	status, _ := doJSON(t, http.MethodPost, srv.URL+"/api/game/"+gameID+"/start?seed=1",
		map[string]string{"X-Host-Token": hostToken}, nil)
	require.Equal(t, http.StatusOK, status)

	conn := dialWS(t, srv, gameID, players["alice"])

	msg := readMessage(t, conn)
	require.Equal(t, "state", msg.Type)
	require.Equal(t, exchange.PhaseInProgress, msg.State.Phase)
	require.Len(t, msg.State.Gifts, 2)

	// Strangers do not get a socket.
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") +
		fmt.Sprintf("/game/%s/ws?player_id=%s", gameID, "stranger")
	_, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestWebsocketPlayAndRejection(t *testing.T) {
	srv := newTestServer(t)
	gameID, hostToken, players := readyGame(t, srv, "alice", "bob")

	status, body := doJSON(t, http.MethodPost, srv.URL+"/api/game/"+gameID+"/start?seed=1",
		map[string]string{"X-Host-Token": hostToken}, nil)
	require.Equal(t, http.StatusOK, status)
	active := body["active_player"].(string)

	var waiting string
	for _, id := range players {
		if id != active {
			waiting = id
		}
	}

	activeConn := dialWS(t, srv, gameID, active)
	waitingConn := dialWS(t, srv, gameID, waiting)

	snapshot := readMessage(t, activeConn)
	require.Equal(t, "state", snapshot.Type)
	readMessage(t, waitingConn)

	// Out-of-turn actions bounce back to the offender only.
	require.NoError(t, waitingConn.WriteJSON(clientMessage{
		Type:   "action",
		Action: exchange.Action{Type: exchange.ActionChooseGift, GiftID: snapshot.State.Gifts[0].ID},
	}))
	msg := readMessage(t, waitingConn)
	require.Equal(t, "error", msg.Type)
	require.Equal(t, string(exchange.ReasonNotActivePlayer), msg.Error)

	// The active player opens a gift; both connections see the state
	// update and the emitted events.
	require.NoError(t, activeConn.WriteJSON(clientMessage{
		Type:   "action",
		Action: exchange.Action{Type: exchange.ActionChooseGift, GiftID: snapshot.State.Gifts[0].ID},
	}))

	for _, conn := range []*websocket.Conn{activeConn, waitingConn} {
		state := readMessage(t, conn)
		require.Equal(t, "state", state.Type)
		require.Equal(t, exchange.GiftOpened, state.State.Gifts[0].State)
		require.Equal(t, active, state.State.Gifts[0].HeldBy)

		opened := readMessage(t, conn)
		require.Equal(t, "event", opened.Type)
		require.Equal(t, exchange.EventGiftOpened, opened.Event.Type)

		turn := readMessage(t, conn)
		require.Equal(t, "event", turn.Type)
		require.Equal(t, exchange.EventTurnChanged, turn.Event.Type)
		require.Equal(t, waiting, turn.Event.PlayerID)
	}
}
