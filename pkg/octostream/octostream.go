// Package octostream exposes the streaming engine and the provider plugin
// contract to code outside this module.
package octostream

import (
	"github.com/octoprompt/octostream/internal/adapter"
	"github.com/octoprompt/octostream/internal/frame"
	"github.com/octoprompt/octostream/internal/sink"
	"github.com/octoprompt/octostream/internal/stream"
)

type Plugin = adapter.Plugin
type Delta = adapter.Delta
type StreamRequest = adapter.StreamRequest
type Message = adapter.Message
type Options = adapter.Options
type UpstreamError = adapter.UpstreamError
type VendorError = adapter.VendorError

type FramingMode = frame.Mode

const (
	SSE    = frame.SSE
	NDJSON = frame.NDJSON
)

type Engine = stream.Engine
type EngineOption = stream.Option
type Result = stream.Result
type Terminal = stream.Terminal
type Sink = stream.Sink
type SinkFunc = stream.SinkFunc
type Error = stream.Error
type ErrorKind = stream.ErrorKind

const (
	TerminalDone  = stream.TerminalDone
	TerminalEOF   = stream.TerminalEOF
	KindTransport = stream.KindTransport
	KindVendor    = stream.KindVendor
	KindSink      = stream.KindSink
)

var (
	WithLogger         = stream.WithLogger
	WithMaxLineBytes   = stream.WithMaxLineBytes
	WithReadBufferSize = stream.WithReadBufferSize
	WithFlushTimeout   = stream.WithFlushTimeout
	WithRecorder       = stream.WithRecorder
	KindOf             = stream.KindOf
	DefaultOptions     = adapter.DefaultOptions
	TextDelta          = adapter.TextDelta
	DoneDelta          = adapter.DoneDelta
)

// NewEngine creates a streaming engine.
func NewEngine(opts ...EngineOption) *Engine {
	return stream.New(opts...)
}

// Store is a Sink that can read back what it persisted.
type Store = sink.Store
type Turn = sink.Turn

// NewMemoryStore returns an in-process Store.
func NewMemoryStore() Store {
	return sink.NewMemory()
}
