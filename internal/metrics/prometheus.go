package metrics

import (
	"fmt"
	"sort"
	"strings"
)

// FormatPrometheus formats metrics in Prometheus text format.
// See: https://prometheus.io/docs/instrumenting/exposition_formats/
func FormatPrometheus(snap Snapshot) string {
	var sb strings.Builder

	// Process uptime
	sb.WriteString("# HELP octostream_uptime_seconds Time since the daemon started\n")
	sb.WriteString("# TYPE octostream_uptime_seconds gauge\n")
	sb.WriteString(fmt.Sprintf("octostream_uptime_seconds %d\n", snap.Uptime))
	sb.WriteString("\n")

	writeCounter(&sb, "octostream_requests_total", "Total number of HTTP requests by endpoint", "endpoint", snap.TotalRequests)
	writeCounter(&sb, "octostream_request_errors_total", "Total number of HTTP request errors by endpoint", "endpoint", snap.RequestErrors)
	writeCounter(&sb, "octostream_request_duration_ms_total", "Total HTTP request duration in milliseconds", "endpoint", snap.TotalRequestsDur)

	writeCounter(&sb, "octostream_streams_started_total", "Streams started by provider", "provider", snap.StreamsStarted)

	// Streams in flight
	sb.WriteString("# HELP octostream_streams_in_flight Streams currently running\n")
	sb.WriteString("# TYPE octostream_streams_in_flight gauge\n")
	for _, provider := range sortedKeys(snap.StreamsInFlight) {
		if count := snap.StreamsInFlight[provider]; count > 0 {
			sb.WriteString(fmt.Sprintf("octostream_streams_in_flight{provider=\"%s\"} %d\n", provider, count))
		}
	}
	sb.WriteString("\n")

	writePairCounter(&sb, "octostream_streams_completed_total", "Streams that ended successfully", "terminal", snap.StreamsFinished)
	writePairCounter(&sb, "octostream_stream_errors_total", "Streams that failed, by error kind", "kind", snap.StreamErrors)
	writeCounter(&sb, "octostream_stream_flushes_total", "Partial replies persisted after a failure", "provider", snap.Flushes)
	writeCounter(&sb, "octostream_stream_deltas_total", "Text deltas received", "provider", snap.Deltas)
	writeCounter(&sb, "octostream_sink_writes_total", "Sink updates issued", "provider", snap.SinkWrites)
	writeCounter(&sb, "octostream_stream_bytes_total", "Reply bytes accumulated", "provider", snap.StreamChars)
	writeCounter(&sb, "octostream_stream_duration_ms_total", "Total stream duration in milliseconds", "provider", snap.StreamDuration)

	return sb.String()
}

func writeCounter(sb *strings.Builder, name, help, label string, values map[string]int64) {
	sb.WriteString(fmt.Sprintf("# HELP %s %s\n", name, help))
	sb.WriteString(fmt.Sprintf("# TYPE %s counter\n", name))
	for _, key := range sortedKeys(values) {
		sb.WriteString(fmt.Sprintf("%s{%s=\"%s\"} %d\n", name, label, key, values[key]))
	}
	sb.WriteString("\n")
}

// writePairCounter renders maps keyed by "provider|<label>".
func writePairCounter(sb *strings.Builder, name, help, label string, values map[string]int64) {
	sb.WriteString(fmt.Sprintf("# HELP %s %s\n", name, help))
	sb.WriteString(fmt.Sprintf("# TYPE %s counter\n", name))
	for _, key := range sortedKeys(values) {
		provider, second, _ := strings.Cut(key, "|")
		sb.WriteString(fmt.Sprintf("%s{provider=\"%s\",%s=\"%s\"} %d\n", name, provider, label, second, values[key]))
	}
	sb.WriteString("\n")
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
