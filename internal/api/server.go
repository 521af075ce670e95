// Package api exposes the session manager over HTTP.
//
// Routes:
//
//	POST /sessions                                  create a session
//	GET  /sessions/{id}                             session metadata
//	POST /sessions/{id}/actions                     submit an action
//	GET  /sessions/{id}/state                       current state
//	GET  /sessions/{id}/state/{turn}                historical state
//	GET  /sessions/{id}/ledger?since_turn=N         ledger entries
//	GET  /sessions/{id}/verify                      chain verification
//	POST /sessions/{id}/archive                     archive the session
//	GET  /sessions/{id}/platforms/{platform}/ws     WebSocket push channel
//	GET  /healthz                                   Redis connectivity
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/dyluth/gambit/internal/broadcast"
	"github.com/dyluth/gambit/internal/session"
	"github.com/dyluth/gambit/pkg/world"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Pinger reports backend connectivity for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the handlers' dependencies.
type Server struct {
	manager   *session.Manager
	pinger    Pinger
	writeWait time.Duration
	upgrader  websocket.Upgrader
}

// NewServer creates the API server. writeWait bounds each WebSocket write.
func NewServer(m *session.Manager, p Pinger, writeWait time.Duration) *Server {
	return &Server{
		manager:   m,
		pinger:    p,
		writeWait: writeWait,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/sessions", func(api chi.Router) {
		api.Post("/", s.handleCreateSession)
		api.Route("/{session_id}", func(sr chi.Router) {
			sr.Get("/", s.handleGetSession)
			sr.Post("/actions", s.handleProcessAction)
			sr.Get("/state", s.handleCurrentState)
			sr.Get("/state/{turn}", s.handleStateAt)
			sr.Get("/ledger", s.handleLedger)
			sr.Get("/verify", s.handleVerify)
			sr.Post("/archive", s.handleArchive)
			sr.Get("/platforms/{platform}/ws", s.handleWebSocket)
		})
	})

	return r
}

// StateView is the wire form of a world state.
type StateView struct {
	SessionID  string                    `json:"session_id"`
	TurnNumber int                       `json:"turn_number"`
	StateHash  string                    `json:"state_hash"`
	Board      map[string]string         `json:"board_state"`
	Positions  map[string]world.Position `json:"positions"`
	Effects    []world.Effect            `json:"effects"`
	Objects    map[string][]world.Object `json:"objects"`
	Intents    []world.Intent            `json:"intents"`
}

// NewStateView converts a world state to its wire form.
func NewStateView(s *world.WorldState) StateView {
	return StateView{
		SessionID:  s.SessionID,
		TurnNumber: s.TurnNumber,
		StateHash:  s.Hash,
		Board:      s.Board,
		Positions:  s.Positions,
		Effects:    s.Effects,
		Objects:    s.Objects,
		Intents:    s.Intents,
	}
}

// CreateSessionRequest is the optional body of POST /sessions.
type CreateSessionRequest struct {
	Board map[string]string `json:"board"`
}

// ActionResponse is returned by POST /sessions/{id}/actions. Error is set
// for rejected actions.
type ActionResponse struct {
	session.Result
	Error string `json:"error,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HealthResponse is the JSON response structure for health checks.
type HealthResponse struct {
	Status string `json:"status"`
	Redis  string `json:"redis,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.pinger.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Redis: "disconnected", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Redis: "connected"})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := readJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error())
		return
	}

	created, err := s.manager.CreateSession(r.Context(), req.Board)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	got, err := s.manager.Session(r.Context(), chi.URLParam(r, "session_id"))
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, got)
}

func (s *Server) handleProcessAction(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_BODY", err.Error())
		return
	}

	// Bodies that do not decode cleanly are still ledgered as rejections
	id := chi.URLParam(r, "session_id")
	var res session.Result
	action, decodeErr := world.DecodeAction(body)
	if decodeErr != nil {
		res, err = s.manager.RejectAction(r.Context(), id, action, decodeErr)
	} else {
		res, err = s.manager.ProcessAction(r.Context(), id, action)
	}
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, ActionResponse{Result: res})
	case errors.Is(err, world.ErrMalformedAction), errors.Is(err, world.ErrUnknownActionType):
		writeJSON(w, http.StatusUnprocessableEntity, ActionResponse{Result: res, Error: err.Error()})
	default:
		writeManagerError(w, err)
	}
}

func (s *Server) handleCurrentState(w http.ResponseWriter, r *http.Request) {
	state, err := s.manager.CurrentState(r.Context(), chi.URLParam(r, "session_id"))
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewStateView(state))
}

func (s *Server) handleStateAt(w http.ResponseWriter, r *http.Request) {
	turn, err := strconv.Atoi(chi.URLParam(r, "turn"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_TURN", "turn must be an integer")
		return
	}

	state, err := s.manager.StateAt(r.Context(), chi.URLParam(r, "session_id"), turn)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewStateView(state))
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	sinceTurn := 0
	if raw := r.URL.Query().Get("since_turn"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "BAD_SINCE_TURN", "since_turn must be a non-negative integer")
			return
		}
		sinceTurn = n
	}

	entries, err := s.manager.Ledger(r.Context(), chi.URLParam(r, "session_id"), sinceTurn)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	report, err := s.manager.Verify(r.Context(), chi.URLParam(r, "session_id"))
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	if err := s.manager.ArchiveSession(r.Context(), id); err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id, "status": string(world.SessionStatusArchived)})
}

// handleWebSocket registers the connection as the platform's push adapter
// for as long as it stays open. Inbound frames are read and discarded so
// control frames (ping, close) are processed. A reconnect for the same
// platform replaces the binding, and the old connection's close then leaves
// the new one in place.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	platform := chi.URLParam(r, "platform")

	if _, err := s.manager.Session(r.Context(), id); err != nil {
		writeManagerError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[API] WebSocket upgrade failed for %s/%s: %v", id, platform, err)
		return
	}

	adapter := broadcast.NewWebSocket(conn, s.writeWait)
	ctx := context.WithoutCancel(r.Context())
	if err := s.manager.RegisterPlatform(ctx, id, platform, adapter); err != nil {
		log.Printf("[API] Failed to register platform %s on session %s: %v", platform, id, err)
		adapter.Close()
		return
	}
	log.Printf("[API] Platform %s connected to session %s", platform, id)

	defer func() {
		if err := s.manager.ReleasePlatform(ctx, id, platform, adapter); err != nil {
			log.Printf("[API] Failed to unregister platform %s: %v", platform, err)
		}
		adapter.Close()
		log.Printf("[API] Platform %s disconnected from session %s", platform, id)
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeManagerError maps session manager errors to HTTP statuses.
func writeManagerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "SESSION_NOT_FOUND", err.Error())
	case errors.Is(err, session.ErrTurnNotFound):
		writeError(w, http.StatusNotFound, "TURN_NOT_FOUND", err.Error())
	case errors.Is(err, session.ErrSessionArchived):
		writeError(w, http.StatusConflict, "SESSION_ARCHIVED", err.Error())
	case errors.Is(err, session.ErrPersistence):
		writeError(w, http.StatusServiceUnavailable, "PERSISTENCE_FAILURE", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
}

func readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}
