package api

import (
	"net/http"
	"time"

	"github.com/simonyos/mcpchat/internal/chat"
	"github.com/simonyos/mcpchat/internal/store"
)

type createSessionRequest struct {
	Name string `json:"name"`
}

type completionRequest struct {
	Message string `json:"message"`
}

// replayUpdate is a chat update sent by the replay endpoint.
type replayUpdate struct {
	chat.Update
	Loading bool `json:"loading,omitempty"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions(r.Context())
	if err != nil {
		s.sendStoreError(w, err, "sessions")
		return
	}
	if sessions == nil {
		sessions = []*store.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(r, &req); err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := s.store.CreateSession(r.Context(), req.Name)
	if err != nil {
		s.sendStoreError(w, err, "session")
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteSession(r.Context(), id); err != nil {
		s.sendStoreError(w, err, "session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "id": id})
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.ClearMessages(r.Context(), id); err != nil {
		s.sendStoreError(w, err, "session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleared": true, "id": id})
}

// handleCompletion runs a turn and streams its updates as SSE. The turn keeps
// running if the client goes away.
func (s *Server) handleCompletion(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	var req completionRequest
	if err := decodeBody(r, &req); err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	updates, err := s.chat.Complete(r.Context(), r.PathValue("id"), req.Message)
	if err != nil {
		s.sendStoreError(w, err, "session")
		return
	}

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			s.writeSSE(w, flusher, u)
		}
	}
}

// handleReplay streams the stored history, then the partial content of a running
// turn until it ends.
func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	id := r.PathValue("id")
	ctx := r.Context()
	if _, err := s.store.GetSession(ctx, id); err != nil {
		s.sendStoreError(w, err, "session")
		return
	}
	msgs, err := s.store.ListMessages(ctx, id)
	if err != nil {
		s.sendStoreError(w, err, "messages")
		return
	}

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	s.writeSSE(w, flusher, chat.Update{Status: "start"})
	for _, m := range msgs {
		s.writeSSE(w, flusher, historyUpdate(m))
	}

	if partial, running := s.chat.InFlight(id); running {
		last := partial
		if partial != "" {
			s.writeSSE(w, flusher, replayUpdate{Update: chat.Update{Response: partial}, Loading: true})
		}

		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
	poll:
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				partial, running = s.chat.InFlight(id)
				if !running {
					break poll
				}
				if partial != last {
					last = partial
					s.writeSSE(w, flusher, replayUpdate{Update: chat.Update{Response: partial}, Loading: true})
				}
			}
		}
	}

	s.writeSSE(w, flusher, chat.Update{Finish: true})
}

func historyUpdate(m *store.Message) chat.Update {
	switch m.Type {
	case store.MessageTypeToolCall:
		return chat.Update{FunctionCall: m}
	case store.MessageTypeToolResult:
		return chat.Update{ToolResult: m}
	default:
		return chat.Update{UpdateMsg: m}
	}
}
