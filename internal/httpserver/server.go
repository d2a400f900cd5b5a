package httpserver

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/octoprompt/octostream/internal/adapter"
	adapterrouter "github.com/octoprompt/octostream/internal/adapter/router"
	"github.com/octoprompt/octostream/internal/health"
	"github.com/octoprompt/octostream/internal/httpserver/protocol"
	"github.com/octoprompt/octostream/internal/metrics"
	"github.com/octoprompt/octostream/internal/sink"
	"github.com/octoprompt/octostream/internal/stream"
)

var defaultEndpointKeys = []string{"stream", "turns", "providers", "metrics", "health"}

// Server exposes the streaming API over HTTP.
type Server struct {
	router   *adapterrouter.Router
	engine   *stream.Engine
	store    sink.Store
	metrics  *metrics.Collector
	health   *health.Checker
	defaults adapter.Options

	endpointKeys []string

	logger   *log.Logger
	logLevel string
}

// New constructs a Server. collector may be nil. Stores implementing
// sink.Pinger are probed by the health endpoint.
func New(router *adapterrouter.Router, engine *stream.Engine, store sink.Store, collector *metrics.Collector) *Server {
	checker := health.New(health.Config{})
	if p, ok := store.(sink.Pinger); ok {
		checker.Register("sink", "sink", true, p.Ping)
	}
	return &Server{
		router:       router,
		engine:       engine,
		store:        store,
		metrics:      collector,
		health:       checker,
		defaults:     adapter.DefaultOptions(),
		endpointKeys: defaultEndpointKeys,
	}
}

// SetLogger configures server-level logger and verbosity ("debug", "info", ...).
func (s *Server) SetLogger(level string, logger *log.Logger) {
	s.logLevel = strings.ToLower(strings.TrimSpace(level))
	if logger != nil {
		s.logger = logger
	}
}

// SetDefaults sets the sampling options applied when a request leaves them unset.
func (s *Server) SetDefaults(opts adapter.Options) {
	s.defaults = opts
}

// SetEndpoints limits the endpoint groups registered by Router.
func (s *Server) SetEndpoints(keys []string) {
	if len(keys) == 0 {
		keys = defaultEndpointKeys
	}
	s.endpointKeys = keys
}

// Router returns a configured chi router for embedding in HTTP servers.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)
	s.registerEndpointKeys(r, s.endpointKeys...)
	return r
}

func (s *Server) registerEndpointKeys(r chi.Router, keys ...string) int {
	seen := make(map[string]struct{}, len(keys))
	registered := 0
	for _, key := range keys {
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		ep := s.endpointByKey(key)
		if ep == nil {
			s.debugf("endpoint %s unavailable, skipping registration", key)
			continue
		}
		s.debugf("registering endpoint %s", ep.Name())
		for _, route := range ep.Routes() {
			r.Method(route.Method, route.Path, route.Handler)
		}
		registered++
	}
	return registered
}

func (s *Server) endpointByKey(key string) protocol.Endpoint {
	switch key {
	case "stream":
		return newStreamEndpoint(s)
	case "turns":
		if s.store == nil {
			return nil
		}
		return newTurnsEndpoint(s)
	case "providers":
		return newProvidersEndpoint(s)
	case "metrics":
		if s.metrics == nil {
			return nil
		}
		return newMetricsEndpoint(s)
	case "health", "status":
		return newHealthEndpoint(s)
	default:
		return nil
	}
}

// instrument records request counts and latency per route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			endpoint = rctx.RoutePattern()
		}
		s.metrics.RecordRequest(endpoint, time.Since(start))
		if ww.Status() >= http.StatusBadRequest {
			s.metrics.RecordError(endpoint)
		}
	})
}

func (s *Server) isDebug() bool { return s.logLevel == "debug" }
func (s *Server) debugf(format string, args ...any) {
	if s.logger != nil && s.isDebug() {
		s.logger.Printf("DEBUG "+format, args...)
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	s.respondJSON(w, status, map[string]any{"error": err.Error()})
}
