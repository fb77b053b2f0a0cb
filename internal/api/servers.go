package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/simonyos/mcpchat/internal/store"
	"github.com/simonyos/mcpchat/internal/toolserver"
	"github.com/simonyos/mcpchat/internal/tools"
)

// serverView is a stored server with its live connection state.
type serverView struct {
	*store.Server
	State string `json:"state"`
}

type enableRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) view(srv *store.Server) serverView {
	state := "disabled"
	if conn, ok := s.registry.Get(srv.Name); ok {
		state = conn.State().String()
	}
	return serverView{Server: srv, State: state}
}

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := s.store.ListServers(r.Context())
	if err != nil {
		s.sendStoreError(w, err, "servers")
		return
	}
	out := make([]serverView, 0, len(servers))
	for _, srv := range servers {
		out = append(out, s.view(srv))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleSaveServer creates a server, or updates it when the body carries an id.
func (s *Server) handleSaveServer(w http.ResponseWriter, r *http.Request) {
	var srv store.Server
	if err := decodeBody(r, &srv); err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if srv.Mode == "" {
		srv.Mode = toolserver.ModeSSE
	}
	if err := srv.ToolServerConfig().Validate(); err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	var previous string
	if srv.ID != "" {
		old, err := s.store.GetServer(ctx, srv.ID)
		if err != nil {
			s.sendStoreError(w, err, "server")
			return
		}
		previous = old.Name
	}

	if err := s.store.SaveServer(ctx, &srv); err != nil {
		s.sendStoreError(w, err, "server")
		return
	}

	if previous != "" && previous != srv.Name {
		s.registry.Remove(previous)
	}
	s.apply(&srv)

	status := http.StatusOK
	if previous == "" {
		status = http.StatusCreated
	}
	writeJSON(w, status, s.view(&srv))
}

func (s *Server) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	srv, err := s.store.GetServer(ctx, r.PathValue("id"))
	if err != nil {
		s.sendStoreError(w, err, "server")
		return
	}
	if err := s.store.DeleteServer(ctx, srv.ID); err != nil {
		s.sendStoreError(w, err, "server")
		return
	}
	s.registry.Remove(srv.Name)
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "id": srv.ID})
}

// handleAbilities initializes the live connection and lists its tools.
func (s *Server) handleAbilities(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	srv, err := s.store.GetServer(ctx, r.PathValue("id"))
	if err != nil {
		s.sendStoreError(w, err, "server")
		return
	}

	descs, err := s.catalog.ListServer(ctx, srv.Name)
	if err != nil {
		if errors.Is(err, tools.ErrServerNotFound) {
			sendJSONError(w, http.StatusConflict, "server is not enabled")
			return
		}
		s.logger.Warn("failed to list server tools", "server", srv.Name, "error", err)
		sendJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	if descs == nil {
		descs = []tools.Descriptor{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"server": srv.Name, "tools": descs})
}

func (s *Server) handleEnableServer(w http.ResponseWriter, r *http.Request) {
	var req enableRequest
	if err := decodeBody(r, &req); err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Enabled == nil {
		sendJSONError(w, http.StatusBadRequest, "enabled is required")
		return
	}

	ctx := r.Context()
	id := r.PathValue("id")
	if err := s.store.SetServerEnabled(ctx, id, *req.Enabled); err != nil {
		s.sendStoreError(w, err, "server")
		return
	}
	srv, err := s.store.GetServer(ctx, id)
	if err != nil {
		s.sendStoreError(w, err, "server")
		return
	}
	s.apply(srv)
	writeJSON(w, http.StatusOK, s.view(srv))
}

// apply hot-adds or removes the registry connection to match srv.
func (s *Server) apply(srv *store.Server) {
	if !srv.Enabled {
		s.registry.Remove(srv.Name)
		return
	}
	if err := s.registry.Add(srv.ToolServerConfig()); err != nil {
		s.logger.Warn("failed to register tool server", "server", srv.Name, "error", err)
	}
}

// SyncRegistry registers every enabled stored server.
func SyncRegistry(ctx context.Context, st *store.SQLiteStore, registry *tools.Registry) error {
	servers, err := st.ListEnabledServers(ctx)
	if err != nil {
		return err
	}
	cfgs := make([]toolserver.Config, 0, len(servers))
	for _, srv := range servers {
		cfgs = append(cfgs, srv.ToolServerConfig())
	}
	registry.Load(cfgs)
	return nil
}
