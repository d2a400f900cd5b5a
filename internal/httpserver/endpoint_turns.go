package httpserver

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/octoprompt/octostream/internal/httpserver/protocol"
	"github.com/octoprompt/octostream/internal/sink"
)

type turnsEndpoint struct {
	server *Server
}

func newTurnsEndpoint(server *Server) protocol.Endpoint {
	return &turnsEndpoint{server: server}
}

func (e *turnsEndpoint) Name() string { return "turns" }

func (e *turnsEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/v1/turns/{turnID}", Handler: http.HandlerFunc(e.server.handleTurn)},
	}
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	turnID := chi.URLParam(r, "turnID")
	turn, err := s.store.Turn(r.Context(), turnID)
	if errors.Is(err, sink.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.logf("read turn=%s failed: %v", turnID, err)
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, turn)
}
