package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"

	"github.com/jsfillman/cyber-elephant/exchange"
)

type createGameResponse struct {
	GameID    string `json:"game_id"`
	HostToken string `json:"host_token"`
}

type joinRequest struct {
	Name string `json:"name"`
}

type joinResponse struct {
	PlayerID string `json:"player_id"`
}

type giftRequest struct {
	PlayerID   string `json:"player_id"`
	ProductURL string `json:"product_url"`
	Hint       string `json:"hint"`
	ImageURL   string `json:"image_url,omitempty"`
	Title      string `json:"title,omitempty"`
}

type giftResponse struct {
	Gift exchange.Gift `json:"gift"`
}

type startResponse struct {
	Phase        exchange.Phase `json:"phase"`
	TurnOrder    []string       `json:"turn_order"`
	ActivePlayer string         `json:"active_player,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(cfg *Config, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	securityHeaders(cfg, w)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// reasonStatus maps engine rejections onto HTTP statuses for the lobby
// endpoints. Gameplay rejections over the websocket skip this entirely.
func reasonStatus(reason exchange.Reason) int {
	switch reason {
	case exchange.ReasonUnknownPlayer, exchange.ReasonUnknownGift:
		return http.StatusNotFound
	case exchange.ReasonInvalidName, exchange.ReasonInvalidGift,
		exchange.ReasonMissingGifts, exchange.ReasonInvalidAction:
		return http.StatusBadRequest
	case exchange.ReasonNotPrivileged:
		return http.StatusUnauthorized
	default:
		return http.StatusConflict
	}
}

func writeRejection(cfg *Config, w http.ResponseWriter, err error) {
	var rej *exchange.Rejection
	if errors.As(err, &rej) {
		writeJSON(cfg, w, reasonStatus(rej.Reason), errorResponse{Error: string(rej.Reason)})
		return
	}
	writeJSON(cfg, w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
}

func handleCreateGame(cfg *Config, reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if r.Header.Get("X-Admin-Password") != cfg.adminPassword {
			writeJSON(cfg, w, http.StatusUnauthorized, errorResponse{Error: "invalid admin password"})
			return
		}

		s := reg.CreateSession()

		writeJSON(cfg, w, http.StatusCreated, createGameResponse{
			GameID:    s.id,
			HostToken: s.hostToken,
		})
	}
}

func handleCloseGame(cfg *Config, reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		s := reg.Get(ps.ByName("gameid"))
		if s == nil {
			writeJSON(cfg, w, http.StatusNotFound, errorResponse{Error: "game not found"})
			return
		}
		if r.Header.Get("X-Host-Token") != s.hostToken {
			writeJSON(cfg, w, http.StatusUnauthorized, errorResponse{Error: "invalid host token"})
			return
		}

		reg.CloseSession(s.id)
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleJoinGame(cfg *Config, reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		s := reg.Get(ps.ByName("gameid"))
		if s == nil {
			writeJSON(cfg, w, http.StatusNotFound, errorResponse{Error: "game not found"})
			return
		}

		var req joinRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(cfg, w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}

		playerID := uuid.NewString()
		_, _, err := s.Dispatch(exchange.Action{
			Type:     exchange.ActionJoin,
			PlayerID: playerID,
			Name:     req.Name,
			JoinedAt: time.Now().UnixMilli(),
		})
		if err != nil {
			writeRejection(cfg, w, err)
			return
		}

		logf(cfg, "GAMES: Player %q joined %s from %s", req.Name, s.id, realIP(r))

		writeJSON(cfg, w, http.StatusOK, joinResponse{PlayerID: playerID})
	}
}

func handleSubmitGift(cfg *Config, reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		s := reg.Get(ps.ByName("gameid"))
		if s == nil {
			writeJSON(cfg, w, http.StatusNotFound, errorResponse{Error: "game not found"})
			return
		}

		var req giftRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(cfg, w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}

		snapshot, _, err := s.Dispatch(exchange.Action{
			Type:       exchange.ActionSubmitGift,
			PlayerID:   req.PlayerID,
			GiftID:     uuid.NewString(),
			ProductURL: req.ProductURL,
			Hint:       req.Hint,
			ImageURL:   req.ImageURL,
			Title:      req.Title,
		})
		if err != nil {
			writeRejection(cfg, w, err)
			return
		}

		for _, gift := range snapshot.Gifts {
			if gift.SubmittedBy == req.PlayerID {
				writeJSON(cfg, w, http.StatusOK, giftResponse{Gift: gift})
				return
			}
		}

		writeJSON(cfg, w, http.StatusInternalServerError, errorResponse{Error: "gift not recorded"})
	}
}

func hostAction(cfg *Config, reg *Registry, act exchange.Action, respond func(w http.ResponseWriter, snapshot *exchange.Game)) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		s := reg.Get(ps.ByName("gameid"))
		if s == nil {
			writeJSON(cfg, w, http.StatusNotFound, errorResponse{Error: "game not found"})
			return
		}
		if r.Header.Get("X-Host-Token") != s.hostToken {
			writeJSON(cfg, w, http.StatusUnauthorized, errorResponse{Error: "invalid host token"})
			return
		}

		// The engine never sees credentials, only this pre-verified flag.
		act.Privileged = true

		if act.Type == exchange.ActionStart {
			act.Seed = time.Now().UnixNano()
			if raw := r.URL.Query().Get("seed"); raw != "" {
				seed, err := strconv.ParseInt(raw, 10, 64)
				if err != nil {
					writeJSON(cfg, w, http.StatusBadRequest, errorResponse{Error: "invalid seed"})
					return
				}
				act.Seed = seed
			}
		}

		snapshot, _, err := s.Dispatch(act)
		if err != nil {
			writeRejection(cfg, w, err)
			return
		}

		logf(cfg, "GAMES: Host action %q on %s", act.Type, s.id)

		respond(w, snapshot)
	}
}

func handleOpenSubmissions(cfg *Config, reg *Registry) httprouter.Handle {
	return hostAction(cfg, reg, exchange.Action{Type: exchange.ActionOpenSubmissions},
		func(w http.ResponseWriter, snapshot *exchange.Game) {
			writeJSON(cfg, w, http.StatusOK, map[string]exchange.Phase{"phase": snapshot.Phase})
		})
}

func handleStartGame(cfg *Config, reg *Registry) httprouter.Handle {
	return hostAction(cfg, reg, exchange.Action{Type: exchange.ActionStart},
		func(w http.ResponseWriter, snapshot *exchange.Game) {
			writeJSON(cfg, w, http.StatusOK, startResponse{
				Phase:        snapshot.Phase,
				TurnOrder:    snapshot.TurnOrder,
				ActivePlayer: snapshot.ActivePlayer(),
			})
		})
}

func handleGetGame(cfg *Config, reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		s := reg.Get(ps.ByName("gameid"))
		if s == nil {
			writeJSON(cfg, w, http.StatusNotFound, errorResponse{Error: "game not found"})
			return
		}

		writeJSON(cfg, w, http.StatusOK, s.Snapshot())
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// serveWS upgrades a connection for a joined player. The player gets a
// full snapshot immediately, so reconnecting mid-game resynchronizes
// without any event replay.
func serveWS(cfg *Config, reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		s := reg.Get(ps.ByName("gameid"))
		if s == nil {
			http.Error(w, "game not found", http.StatusNotFound)
			return
		}

		playerID := r.URL.Query().Get("player_id")
		snapshot := s.Snapshot()
		if !knownPlayer(snapshot, playerID) {
			http.Error(w, "unknown player", http.StatusForbidden)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "SERVE: upgrade error: %v", err)
			return
		}

		c := &client{
			playerID: playerID,
			conn:     conn,
			send:     make(chan serverMessage, cfg.queueSize),
		}

		s.hub.add(c, s.Snapshot)
		s.touch()

		go c.writePump(cfg.heartbeat)
		s.readPump(cfg, c)
	}
}

func knownPlayer(g *exchange.Game, playerID string) bool {
	if playerID == "" {
		return false
	}
	for i := range g.Players {
		if g.Players[i].ID == playerID {
			return true
		}
	}
	return false
}

// qrHandler returns a PNG QR code pointing at the game's snapshot URL,
// for passing a lobby around a room. Unknown games get no code.
func qrHandler(cfg *Config, reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		s := reg.Get(ps.ByName("gameid"))
		if s == nil {
			http.Error(w, "game not found", http.StatusNotFound)
			return
		}

		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		url := scheme + "://" + r.Host + cfg.prefix + "/api/game/" + s.id

		const qrSize = 320
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}
}

// registerExchange wires the lobby API, the per-game websocket, and the
// QR share endpoint.
func registerExchange(cfg *Config, reg *Registry, mux *httprouter.Router) {
	mux.POST(cfg.prefix+"/api/game", handleCreateGame(cfg, reg))
	mux.DELETE(cfg.prefix+"/api/game/:gameid", handleCloseGame(cfg, reg))
	mux.GET(cfg.prefix+"/api/game/:gameid", handleGetGame(cfg, reg))
	mux.POST(cfg.prefix+"/api/game/:gameid/join", handleJoinGame(cfg, reg))
	mux.POST(cfg.prefix+"/api/game/:gameid/gift", handleSubmitGift(cfg, reg))
	mux.POST(cfg.prefix+"/api/game/:gameid/open", handleOpenSubmissions(cfg, reg))
	mux.POST(cfg.prefix+"/api/game/:gameid/start", handleStartGame(cfg, reg))

	mux.GET(cfg.prefix+"/game/:gameid/ws", serveWS(cfg, reg))
	mux.GET(cfg.prefix+"/game/:gameid/qr", qrHandler(cfg, reg))
}
