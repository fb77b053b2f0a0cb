// Package api exposes sessions, completions and tool servers over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/simonyos/mcpchat/internal/chat"
	"github.com/simonyos/mcpchat/internal/store"
	"github.com/simonyos/mcpchat/internal/tools"
)

// DefaultPollInterval is how often the replay endpoint checks in-flight content.
const DefaultPollInterval = 500 * time.Millisecond

// RelayStatus reports whether the optional event relay is connected.
type RelayStatus interface {
	IsConnected() bool
}

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	store    *store.SQLiteStore
	chat     *chat.Service
	registry *tools.Registry
	catalog  *tools.Catalog
	relay    RelayStatus
	logger   *slog.Logger

	pollInterval time.Duration
	now          func() time.Time
}

// Option configures a Server
type Option func(*Server)

// WithRelay reports relay connectivity on the health endpoint.
func WithRelay(r RelayStatus) Option {
	return func(s *Server) { s.relay = r }
}

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// New creates the API server.
func New(st *store.SQLiteStore, svc *chat.Service, registry *tools.Registry, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:        st,
		chat:         svc,
		registry:     registry,
		logger:       logger.With("component", "api"),
		pollInterval: DefaultPollInterval,
		now:          time.Now,
	}
	s.catalog = tools.NewCatalog(registry, s.logger)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("POST /session/create", s.handleCreateSession)
	mux.HandleFunc("DELETE /chat/{id}/session", s.handleDeleteSession)
	mux.HandleFunc("POST /chat/{id}/session/clear", s.handleClearSession)
	mux.HandleFunc("POST /chat/{id}/session/completion", s.handleCompletion)
	mux.HandleFunc("GET /chat/{id}/completion", s.handleReplay)

	mux.HandleFunc("GET /servers", s.handleListServers)
	mux.HandleFunc("POST /server", s.handleSaveServer)
	mux.HandleFunc("DELETE /server/{id}", s.handleDeleteServer)
	mux.HandleFunc("GET /server/{id}/abilities", s.handleAbilities)
	mux.HandleFunc("POST /server/{id}/enable", s.handleEnableServer)

	return s.logRequests(mux)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// handleHealth reports the state of the database, the tool servers and the relay.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	services := map[string]any{}

	if err := s.store.Ping(); err != nil {
		services["database"] = "error"
	} else {
		services["database"] = "ok"
	}

	servers := map[string]string{}
	for _, name := range s.registry.Names() {
		if conn, ok := s.registry.Get(name); ok {
			servers[name] = conn.State().String()
		}
	}
	services["tool_servers"] = servers

	switch {
	case s.relay == nil:
		services["relay"] = "disabled"
	case s.relay.IsConnected():
		services["relay"] = "connected"
	default:
		services["relay"] = "disconnected"
	}

	status := "ok"
	if services["database"] != "ok" {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"timestamp": s.now().UTC().Format(time.RFC3339),
		"services":  services,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendJSONError writes a JSON error response.
func sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// sendStoreError maps store and chat errors to HTTP statuses.
func (s *Server) sendStoreError(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		sendJSONError(w, http.StatusNotFound, what+" not found")
	case errors.Is(err, store.ErrDuplicateName):
		sendJSONError(w, http.StatusConflict, "name already exists")
	case errors.Is(err, chat.ErrEmptyMessage):
		sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrTurnInProgress):
		sendJSONError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("request failed", "resource", what, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// decodeBody decodes a JSON request body. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// writeSSE writes one data-only event and flushes it.
func (s *Server) writeSSE(w http.ResponseWriter, flusher http.Flusher, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to marshal SSE data", "error", err)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
	flusher.Flush()
}
