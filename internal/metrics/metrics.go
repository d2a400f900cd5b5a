package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/octoprompt/octostream/internal/stream"
)

var _ stream.Recorder = (*Collector)(nil)

// Collector collects stream and HTTP metrics and exports them in the
// Prometheus text format.
type Collector struct {
	mu sync.RWMutex

	// Request metrics
	totalRequests    map[string]int64 // by endpoint
	totalRequestsDur map[string]int64 // total duration in ms
	requestErrors    map[string]int64 // by endpoint

	// Stream metrics, keyed by provider
	streamsStarted  map[string]int64
	streamsInFlight map[string]int64
	streamsFinished map[string]int64 // provider|terminal
	streamErrors    map[string]int64 // provider|kind
	flushes         map[string]int64 // partial text persisted after a failure
	deltas          map[string]int64
	sinkWrites      map[string]int64
	streamChars     map[string]int64
	streamDuration  map[string]int64 // total ms

	startTime time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		totalRequests:    make(map[string]int64),
		totalRequestsDur: make(map[string]int64),
		requestErrors:    make(map[string]int64),
		streamsStarted:   make(map[string]int64),
		streamsInFlight:  make(map[string]int64),
		streamsFinished:  make(map[string]int64),
		streamErrors:     make(map[string]int64),
		flushes:          make(map[string]int64),
		deltas:           make(map[string]int64),
		sinkWrites:       make(map[string]int64),
		streamChars:      make(map[string]int64),
		streamDuration:   make(map[string]int64),
		startTime:        time.Now(),
	}
}

// RecordRequest records a request to an endpoint.
func (c *Collector) RecordRequest(endpoint string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalRequests[endpoint]++
	c.totalRequestsDur[endpoint] += duration.Milliseconds()
}

// RecordError records an error for an endpoint.
func (c *Collector) RecordError(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestErrors[endpoint]++
}

// StreamStarted implements stream.Recorder.
func (c *Collector) StreamStarted(provider string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.streamsStarted[provider]++
	c.streamsInFlight[provider]++
}

// StreamFinished implements stream.Recorder.
func (c *Collector) StreamFinished(res stream.Result, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := res.Provider
	if c.streamsInFlight[p] > 0 {
		c.streamsInFlight[p]--
	}
	c.deltas[p] += int64(res.Deltas)
	c.sinkWrites[p] += int64(res.SinkWrites)
	c.streamChars[p] += int64(len(res.Text))
	c.streamDuration[p] += res.Duration.Milliseconds()
	if err != nil {
		kind := string(stream.KindOf(err))
		if kind == "" {
			kind = "rejected"
		}
		c.streamErrors[p+"|"+kind]++
		var sErr *stream.Error
		if errors.As(err, &sErr) && sErr.Flushed {
			c.flushes[p]++
		}
		return
	}
	c.streamsFinished[p+"|"+string(res.Terminal)]++
}

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	Uptime int64 // seconds

	TotalRequests    map[string]int64
	TotalRequestsDur map[string]int64
	RequestErrors    map[string]int64

	StreamsStarted  map[string]int64
	StreamsInFlight map[string]int64
	StreamsFinished map[string]int64
	StreamErrors    map[string]int64
	Flushes         map[string]int64
	Deltas          map[string]int64
	SinkWrites      map[string]int64
	StreamChars     map[string]int64
	StreamDuration  map[string]int64
}

// Snapshot returns a copy of the current metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		Uptime:           int64(time.Since(c.startTime).Seconds()),
		TotalRequests:    copyMap(c.totalRequests),
		TotalRequestsDur: copyMap(c.totalRequestsDur),
		RequestErrors:    copyMap(c.requestErrors),
		StreamsStarted:   copyMap(c.streamsStarted),
		StreamsInFlight:  copyMap(c.streamsInFlight),
		StreamsFinished:  copyMap(c.streamsFinished),
		StreamErrors:     copyMap(c.streamErrors),
		Flushes:          copyMap(c.flushes),
		Deltas:           copyMap(c.deltas),
		SinkWrites:       copyMap(c.sinkWrites),
		StreamChars:      copyMap(c.streamChars),
		StreamDuration:   copyMap(c.streamDuration),
	}
}

func copyMap(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
