// ABOUTME: HTTP admin API for managing accounts and sending gateway commands
// ABOUTME: chi routes with optional JWT auth, health checks and the metrics endpoint

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/fleet/internal/account"
	"github.com/2389/fleet/internal/auth"
	"github.com/2389/fleet/internal/gateway"
	"github.com/2389/fleet/internal/protocol"
)

const maxBodyBytes = 64 << 10

// AccountResponse is the JSON shape of a registered account.
type AccountResponse struct {
	ID           string    `json:"id"`
	RecordID     string    `json:"record_id,omitempty"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	CreatedBy    string    `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
	Phase        string    `json:"phase"`
	LastSequence *int64    `json:"last_sequence,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// AddAccountRequest is the body of POST /api/accounts.
type AddAccountRequest struct {
	Token string `json:"token"`
}

// PresenceRequest is the body of POST /api/accounts/{id}/presence.
type PresenceRequest struct {
	Status     string              `json:"status"`
	AFK        bool                `json:"afk"`
	Since      *int64              `json:"since"`
	Activities []protocol.Activity `json:"activities"`
}

// VoiceRequest is the body of POST /api/accounts/{id}/voice. A null
// channel_id leaves voice.
type VoiceRequest struct {
	GuildID   string  `json:"guild_id"`
	ChannelID *string `json:"channel_id"`
	SelfMute  bool    `json:"self_mute"`
	SelfDeaf  bool    `json:"self_deaf"`
}

var validStatuses = map[string]bool{
	"online": true, "idle": true, "dnd": true, "invisible": true, "offline": true,
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/health/ready", s.handleReady)
	if s.config.Metrics.Enabled {
		r.Method(http.MethodGet, s.config.Metrics.Path, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/accounts", func(r chi.Router) {
		if s.verifier != nil {
			r.Use(auth.HTTPAuthMiddleware(s.verifier))
		}
		r.Get("/", s.handleListAccounts)
		r.Post("/", s.handleAddAccount)
		r.Get("/{id}", s.handleGetAccount)
		r.Delete("/{id}", s.handleRemoveAccount)
		r.Post("/{id}/presence", s.handlePresence)
		r.Post("/{id}/voice", s.handleVoice)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 once at least one account has an established session.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	handles := s.manager.List()
	established := 0
	for _, h := range handles {
		if h.Phase() == gateway.PhaseEstablished {
			established++
		}
	}
	if established == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no accounts connected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d/%d accounts)", established, len(handles))
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	handles := s.manager.List()
	out := make([]AccountResponse, 0, len(handles))
	for _, h := range handles {
		out = append(out, accountResponse(h))
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": out})
}

func (s *Server) handleAddAccount(w http.ResponseWriter, r *http.Request) {
	var req AddAccountRequest
	if err := decodeBody(r, &req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Token == "" {
		s.sendJSONError(w, http.StatusBadRequest, "token is required")
		return
	}

	h, err := s.manager.AddAccount(r.Context(), account.Credential{
		Token:     req.Token,
		CreatedBy: auth.SubjectFromContext(r.Context(), "anonymous"),
	})
	if err != nil {
		switch {
		case errors.Is(err, account.ErrInvalidCredential):
			s.sendJSONError(w, http.StatusUnprocessableEntity, "invalid credential")
		case errors.Is(err, account.ErrAccountExists):
			s.sendJSONError(w, http.StatusConflict, "account already registered")
		case errors.Is(err, account.ErrUpstreamUnavailable):
			s.logger.Warn("upstream unavailable while adding account", "error", err)
			s.sendJSONError(w, http.StatusBadGateway, "upstream unavailable")
		default:
			s.logger.Error("failed to add account", "error", err)
			s.sendJSONError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusCreated, accountResponse(h))
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	h, ok := s.manager.Get(chi.URLParam(r, "id"))
	if !ok {
		s.sendJSONError(w, http.StatusNotFound, "account not found")
		return
	}
	writeJSON(w, http.StatusOK, accountResponse(h))
}

func (s *Server) handleRemoveAccount(w http.ResponseWriter, r *http.Request) {
	err := s.manager.RemoveAccount(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, account.ErrAccountNotFound) {
		s.sendJSONError(w, http.StatusNotFound, "account not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to remove account", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	var req PresenceRequest
	if err := decodeBody(r, &req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !validStatuses[req.Status] {
		s.sendJSONError(w, http.StatusBadRequest, "status must be one of online, idle, dnd, invisible, offline")
		return
	}

	s.send(w, chi.URLParam(r, "id"), protocol.UpdatePresence{
		Since:      req.Since,
		Activities: req.Activities,
		Status:     req.Status,
		AFK:        req.AFK,
	})
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	var req VoiceRequest
	if err := decodeBody(r, &req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.GuildID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "guild_id is required")
		return
	}

	s.send(w, chi.URLParam(r, "id"), protocol.UpdateVoiceState{
		GuildID:   req.GuildID,
		ChannelID: req.ChannelID,
		SelfMute:  req.SelfMute,
		SelfDeaf:  req.SelfDeaf,
	})
}

// send queues cmd and answers 202; the command is written asynchronously.
func (s *Server) send(w http.ResponseWriter, accountID string, cmd protocol.Command) {
	err := s.manager.Send(accountID, cmd)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	case errors.Is(err, account.ErrAccountNotFound):
		s.sendJSONError(w, http.StatusNotFound, "account not found")
	case errors.Is(err, gateway.ErrNotConnected), errors.Is(err, gateway.ErrClosed):
		s.sendJSONError(w, http.StatusServiceUnavailable, "account not connected")
	default:
		s.logger.Error("failed to send command", "account_id", accountID, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func accountResponse(h *account.Handle) AccountResponse {
	resp := AccountResponse{
		ID:          h.Identity.AccountID,
		RecordID:    h.RecordID,
		Username:    h.Identity.Username,
		DisplayName: h.Identity.DisplayName,
		CreatedBy:   h.CreatedBy,
		CreatedAt:   h.CreatedAt,
		Phase:       h.Phase().String(),
	}
	if n, ok := h.LastSequence(); ok {
		resp.LastSequence = &n
	}
	if err := h.Err(); err != nil {
		resp.Error = err.Error()
	}
	return resp
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
