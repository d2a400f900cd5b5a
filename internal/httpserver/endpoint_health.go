package httpserver

import (
	"net/http"
	"time"

	"github.com/octoprompt/octostream/internal/health"
	"github.com/octoprompt/octostream/internal/httpserver/protocol"
	"github.com/octoprompt/octostream/internal/metrics"
	"github.com/octoprompt/octostream/internal/version"
)

type healthEndpoint struct {
	server *Server
}

func newHealthEndpoint(server *Server) protocol.Endpoint {
	return &healthEndpoint{server: server}
}

func (e *healthEndpoint) Name() string { return "health" }

func (e *healthEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/healthz", Handler: http.HandlerFunc(e.server.HandleHealth)},
	}
}

// HandleHealth reports liveness, build information and the state of the
// turn store. An unhealthy store answers 503.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())
	status := http.StatusOK
	state := "ok"
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
		state = string(report.Status)
	}
	s.respondJSON(w, status, map[string]any{
		"status":     state,
		"health":     report.Status,
		"components": report.Components,
		"time":       time.Now().UTC().Format(time.RFC3339),
		"version":    version.Info(),
	})
}

type providersEndpoint struct {
	server *Server
}

func newProvidersEndpoint(server *Server) protocol.Endpoint {
	return &providersEndpoint{server: server}
}

func (e *providersEndpoint) Name() string { return "providers" }

func (e *providersEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/v1/providers", Handler: http.HandlerFunc(e.server.handleProviders)},
	}
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"providers": s.router.ListProviders(),
		"routes":    s.router.ListRoutes(),
		"fallback":  s.router.Fallback(),
	})
}

type metricsEndpoint struct {
	server *Server
}

func newMetricsEndpoint(server *Server) protocol.Endpoint {
	return &metricsEndpoint{server: server}
}

func (e *metricsEndpoint) Name() string { return "metrics" }

func (e *metricsEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/metrics", Handler: http.HandlerFunc(e.server.handleMetrics)},
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(metrics.FormatPrometheus(s.metrics.Snapshot())))
}
