// Package stream drives a provider plugin from request to final text,
// persisting the accumulated reply through a Sink after every delta.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/octoprompt/octostream/internal/adapter"
	"github.com/octoprompt/octostream/internal/frame"
)

// Terminal tells how a successful stream ended.
type Terminal string

const (
	// TerminalDone means the vendor sent its end marker.
	TerminalDone Terminal = "done"
	// TerminalEOF means the connection closed without an end marker. It is
	// treated as success but may hide a truncated reply.
	TerminalEOF Terminal = "eof"
)

// Result describes one stream. On failure it holds what was produced
// before the error.
type Result struct {
	TurnID     string
	Provider   string
	Text       string
	Deltas     int
	SinkWrites int
	Terminal   Terminal
	Duration   time.Duration
}

// Recorder observes stream lifecycles.
type Recorder interface {
	StreamStarted(provider string)
	StreamFinished(res Result, err error)
}

// Engine runs streams. It holds no per-stream state and is safe for
// concurrent use.
type Engine struct {
	logger       *log.Logger
	logLevel     string
	maxLineBytes int
	readBuffer   int
	flushTimeout time.Duration
	recorder     Recorder
}

// Option customises an Engine.
type Option func(*Engine)

// WithLogger sets the logger and verbosity ("debug", "info", ...).
func WithLogger(level string, logger *log.Logger) Option {
	return func(e *Engine) {
		e.logLevel = strings.ToLower(strings.TrimSpace(level))
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMaxLineBytes bounds a single line of the response body.
func WithMaxLineBytes(n int) Option {
	return func(e *Engine) { e.maxLineBytes = n }
}

// WithReadBufferSize sets the size of each body read.
func WithReadBufferSize(n int) Option {
	return func(e *Engine) { e.readBuffer = n }
}

// WithFlushTimeout bounds the best-effort flush after a failure.
func WithFlushTimeout(d time.Duration) Option {
	return func(e *Engine) { e.flushTimeout = d }
}

// WithRecorder registers a lifecycle observer.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		logger:       log.New(log.Writer(), "[stream] ", log.LstdFlags|log.Lmicroseconds),
		logLevel:     "info",
		maxLineBytes: frame.DefaultMaxLineBytes,
		flushTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run streams one reply. Each non-empty delta is appended to the reply and
// the full text is handed to sink before the next read. When the stream ends
// the final text is written once more. If the stream fails after producing
// text, that text is flushed to sink before the *Error is returned. Errors
// from PrepareRequest are returned unchanged and never touch sink.
func (e *Engine) Run(ctx context.Context, plugin adapter.Plugin, req adapter.StreamRequest, sink Sink) (Result, error) {
	if plugin == nil {
		return Result{}, errors.New("stream: plugin required")
	}
	if sink == nil {
		return Result{}, errors.New("stream: sink required")
	}
	if req.TurnID == "" {
		return Result{}, ErrTurnIDRequired
	}

	r := &run{
		engine: e,
		plugin: plugin,
		sink:   sink,
		start:  time.Now(),
		res:    Result{TurnID: req.TurnID, Provider: plugin.Name()},
	}
	if e.recorder != nil {
		e.recorder.StreamStarted(r.res.Provider)
	}
	err := r.exec(ctx, req)
	r.res.Text = r.acc.String()
	r.res.Duration = time.Since(r.start)
	if e.recorder != nil {
		e.recorder.StreamFinished(r.res, err)
	}
	return r.res, err
}

// run holds the state of a single stream.
type run struct {
	engine *Engine
	plugin adapter.Plugin
	sink   Sink
	start  time.Time
	acc    strings.Builder
	res    Result
}

func (r *run) exec(ctx context.Context, req adapter.StreamRequest) error {
	e := r.engine
	body, err := r.plugin.PrepareRequest(ctx, req)
	if err != nil {
		e.logger.Printf("turn=%s provider=%s request rejected: %v", req.TurnID, r.res.Provider, err)
		return err
	}
	defer body.Close()
	// cancellation aborts a blocked read
	stop := context.AfterFunc(ctx, func() { _ = body.Close() })
	defer stop()

	opts := []frame.ReaderOption{frame.WithMaxLineBytes(e.maxLineBytes)}
	if e.readBuffer > 0 {
		opts = append(opts, frame.WithReadBufferSize(e.readBuffer))
	}
	reader := frame.NewReader(body, r.plugin.Framing(), opts...)

	for {
		if err := ctx.Err(); err != nil {
			return r.fail(ctx, KindTransport, err)
		}
		lines, err := reader.NextEvent()
		if errors.Is(err, io.EOF) {
			r.res.Terminal = TerminalEOF
			e.debugf("turn=%s provider=%s stream closed without end marker", req.TurnID, r.res.Provider)
			return r.finalize(ctx)
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
				err = fmt.Errorf("%w (%v)", ctxErr, err)
			}
			return r.fail(ctx, KindTransport, err)
		}

		for _, line := range lines {
			delta, perr := r.plugin.ParseLine(line)
			if perr != nil {
				return r.fail(ctx, KindVendor, perr)
			}
			if delta.Text != "" {
				r.acc.WriteString(delta.Text)
				r.res.Deltas++
				if err := r.write(ctx); err != nil {
					return err
				}
			}
			if delta.Done {
				r.res.Terminal = TerminalDone
				return r.finalize(ctx)
			}
		}
	}
}

func (r *run) write(ctx context.Context) error {
	if err := r.sink.UpdateContent(ctx, r.res.TurnID, r.acc.String()); err != nil {
		r.engine.logger.Printf("turn=%s provider=%s sink update failed: %v", r.res.TurnID, r.res.Provider, err)
		return &Error{
			Kind:     KindSink,
			Provider: r.res.Provider,
			TurnID:   r.res.TurnID,
			Partial:  r.acc.String(),
			Err:      err,
		}
	}
	r.res.SinkWrites++
	return nil
}

func (r *run) finalize(ctx context.Context) error {
	if err := r.write(ctx); err != nil {
		return err
	}
	r.engine.debugf("turn=%s provider=%s finished terminal=%s deltas=%d chars=%d",
		r.res.TurnID, r.res.Provider, r.res.Terminal, r.res.Deltas, r.acc.Len())
	return nil
}

// fail flushes any produced text on a context detached from cancellation,
// then reports cause.
func (r *run) fail(ctx context.Context, kind ErrorKind, cause error) error {
	sErr := &Error{
		Kind:     kind,
		Provider: r.res.Provider,
		TurnID:   r.res.TurnID,
		Partial:  r.acc.String(),
		Err:      cause,
	}
	if sErr.Partial != "" {
		flushCtx := context.WithoutCancel(ctx)
		if d := r.engine.flushTimeout; d > 0 {
			var cancel context.CancelFunc
			flushCtx, cancel = context.WithTimeout(flushCtx, d)
			defer cancel()
		}
		if err := r.sink.UpdateContent(flushCtx, r.res.TurnID, sErr.Partial); err != nil {
			sErr.FlushErr = err
		} else {
			sErr.Flushed = true
			r.res.SinkWrites++
		}
	}
	r.engine.logger.Printf("turn=%s provider=%s %s error after %d deltas (flushed=%v): %v",
		r.res.TurnID, r.res.Provider, kind, r.res.Deltas, sErr.Flushed, cause)
	return sErr
}

func (e *Engine) isDebug() bool { return e.logLevel == "debug" }
func (e *Engine) debugf(format string, args ...any) {
	if e.logger != nil && e.isDebug() {
		e.logger.Printf("DEBUG "+format, args...)
	}
}
