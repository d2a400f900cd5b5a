package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/octoprompt/octostream/internal/adapter"
	adapterrouter "github.com/octoprompt/octostream/internal/adapter/router"
	"github.com/octoprompt/octostream/internal/httpserver/protocol"
	"github.com/octoprompt/octostream/internal/sink"
	"github.com/octoprompt/octostream/internal/stream"
)

const maxStreamRequestBytes = 4 << 20

type streamEndpoint struct {
	server *Server
}

func newStreamEndpoint(server *Server) protocol.Endpoint {
	return &streamEndpoint{server: server}
}

func (e *streamEndpoint) Name() string { return "stream" }

func (e *streamEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodPost, Path: "/v1/chats/{chatID}/stream", Handler: http.HandlerFunc(e.server.handleStream)},
	}
}

// StreamRequest is the body of POST /v1/chats/{chatID}/stream.
type StreamRequest struct {
	Message          string            `json:"message"`
	TurnID           string            `json:"turn_id,omitempty"`
	Provider         string            `json:"provider,omitempty"`
	Model            string            `json:"model,omitempty"`
	System           string            `json:"system,omitempty"`
	History          []adapter.Message `json:"history,omitempty"`
	Temperature      *float64          `json:"temperature,omitempty"`
	MaxTokens        *int              `json:"max_tokens,omitempty"`
	TopP             *float64          `json:"top_p,omitempty"`
	TopK             *int              `json:"top_k,omitempty"`
	FrequencyPenalty *float64          `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64          `json:"presence_penalty,omitempty"`
	Stop             []string          `json:"stop,omitempty"`
}

func (b StreamRequest) options() adapter.Options {
	return adapter.Options{
		Model:            b.Model,
		Temperature:      b.Temperature,
		MaxTokens:        b.MaxTokens,
		TopP:             b.TopP,
		TopK:             b.TopK,
		FrequencyPenalty: b.FrequencyPenalty,
		PresencePenalty:  b.PresencePenalty,
		Stop:             b.Stop,
	}
}

// StreamEvent is the payload of every SSE event sent to the client.
type StreamEvent struct {
	TurnID   string `json:"turn_id,omitempty"`
	ChatID   string `json:"chat_id,omitempty"`
	Provider string `json:"provider,omitempty"`
	Delta    string `json:"delta,omitempty"`
	Terminal string `json:"terminal,omitempty"`
	Deltas   int    `json:"deltas,omitempty"`
	Error    string `json:"error,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Flushed  bool   `json:"flushed,omitempty"`
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	var body StreamRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxStreamRequestBytes)).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if strings.TrimSpace(body.Message) == "" {
		s.respondError(w, http.StatusBadRequest, adapter.ErrEmptyMessage)
		return
	}
	turnID := strings.TrimSpace(body.TurnID)
	if turnID == "" {
		turnID = uuid.NewString()
	}

	ctx := r.Context()
	var (
		plugin adapter.Plugin
		err    error
	)
	if body.Provider != "" {
		plugin, err = s.router.Plugin(ctx, body.Provider)
	} else {
		plugin, err = s.router.PluginForModel(ctx, body.Model)
	}
	if err != nil {
		s.respondError(w, statusForResolveError(err), err)
		return
	}

	req := adapter.StreamRequest{
		ChatID:  chatID,
		TurnID:  turnID,
		Message: body.Message,
		System:  body.System,
		History: body.History,
		Options: body.options().WithDefaults(s.defaults),
	}

	out := &sseWriter{w: w, start: StreamEvent{TurnID: turnID, ChatID: chatID, Provider: plugin.Name()}}
	relay := sink.NewRelay(s.store, func(delta string) error {
		return out.send("", StreamEvent{Delta: delta})
	})
	s.debugf("stream start chat=%s turn=%s provider=%s model=%s", chatID, turnID, plugin.Name(), body.Model)

	res, err := s.engine.Run(ctx, plugin, req, relay)
	if err != nil {
		var sErr *stream.Error
		if !errors.As(err, &sErr) && !out.started {
			// rejected before any byte was streamed
			s.respondError(w, statusForStreamError(err), err)
			return
		}
		ev := StreamEvent{TurnID: turnID, Error: err.Error()}
		if sErr != nil {
			ev.Kind = string(sErr.Kind)
			ev.Flushed = sErr.Flushed
		}
		if sendErr := out.send("error", ev); sendErr != nil {
			s.debugf("stream turn=%s client gone before error event: %v", turnID, sendErr)
		}
		return
	}
	if err := out.send("done", StreamEvent{TurnID: turnID, Terminal: string(res.Terminal), Deltas: res.Deltas}); err != nil {
		s.debugf("stream turn=%s client gone before done event: %v", turnID, err)
	}
}

// sseWriter writes the response headers and a start event on first use.
type sseWriter struct {
	w       http.ResponseWriter
	start   StreamEvent
	started bool
}

func (o *sseWriter) send(event string, payload StreamEvent) error {
	if !o.started {
		o.started = true
		h := o.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Turn-ID", o.start.TurnID)
		o.w.WriteHeader(http.StatusOK)
		if err := o.write("start", o.start); err != nil {
			return err
		}
	}
	return o.write(event, payload)
}

func (o *sseWriter) write(event string, payload StreamEvent) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var b strings.Builder
	if event != "" {
		b.WriteString("event: ")
		b.WriteString(event)
		b.WriteByte('\n')
	}
	b.WriteString("data: ")
	b.Write(data)
	b.WriteString("\n\n")
	if _, err := o.w.Write([]byte(b.String())); err != nil {
		return err
	}
	if f, ok := o.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

func statusForResolveError(err error) int {
	switch {
	case errors.Is(err, adapterrouter.ErrUnknownProvider), errors.Is(err, adapterrouter.ErrNoRoute):
		return http.StatusBadRequest
	case errors.Is(err, adapterrouter.ErrMissingKey):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func statusForStreamError(err error) int {
	var upErr *adapter.UpstreamError
	switch {
	case errors.Is(err, adapter.ErrEmptyMessage), errors.Is(err, adapter.ErrModelRequired):
		return http.StatusBadRequest
	case errors.As(err, &upErr):
		if upErr.StatusCode == http.StatusTooManyRequests {
			return http.StatusTooManyRequests
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
