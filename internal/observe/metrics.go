// Package observe provides application-wide observability primitives for
// voxcall: OpenTelemetry metrics, tracing helpers, trace-aware logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed for
// scraping through the Prometheus exporter bridge set up by [InitProvider].
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxcall metrics.
const meterName = "github.com/MrWong99/voxcall"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Call lifecycle ---

	// CallTransitions counts applied call state transitions. Attributes:
	//   attribute.String("from", ...), attribute.String("to", ...), attribute.String("cause", ...)
	CallTransitions metric.Int64Counter

	// CallDuration tracks how long calls stayed ongoing.
	CallDuration metric.Float64Histogram

	// ActiveCalls is 1 while a call is ongoing.
	ActiveCalls metric.Int64UpDownCounter

	// --- Audio ---

	// ChunksSent counts audio_chunk messages written to the relay. Attributes:
	//   attribute.String("mode", ...), attribute.Bool("terminal", ...)
	ChunksSent metric.Int64Counter

	// ChunksPlayed counts chunks appended to the playback sink.
	ChunksPlayed metric.Int64Counter

	// ChunksDropped counts discarded audio. Attributes:
	//   attribute.String("stage", "capture"|"playback"), attribute.String("reason", ...)
	ChunksDropped metric.Int64Counter

	// --- Signaling ---

	// MalformedMessages counts inbound frames that failed to decode.
	MalformedMessages metric.Int64Counter

	// ReconnectAttempts counts reconnect dials. Attribute:
	//   attribute.String("status", "ok"|"error")
	ReconnectAttempts metric.Int64Counter

	// Connected is 1 while the signaling connection is open.
	Connected metric.Int64UpDownCounter

	// ConnectDuration tracks websocket dial latency.
	ConnectDuration metric.Float64Histogram

	// --- Collaborators ---

	// DirectoryRequests counts directory HTTP calls. Attributes:
	//   attribute.String("op", ...), attribute.String("status", ...)
	DirectoryRequests metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	//   attribute.String("method", ...), attribute.String("path", ...),
	//   attribute.String("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets covers dial and HTTP latencies, in seconds.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// callBuckets covers call lengths, in seconds.
var callBuckets = []float64{
	5, 15, 30, 60, 120, 300, 600, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] using mp. It returns an
// error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CallTransitions, err = m.Int64Counter("voxcall.call.transitions",
		metric.WithDescription("Applied call state transitions by from, to, and cause."),
	); err != nil {
		return nil, err
	}
	if met.CallDuration, err = m.Float64Histogram("voxcall.call.duration",
		metric.WithDescription("Length of calls that reached the ongoing state."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(callBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveCalls, err = m.Int64UpDownCounter("voxcall.active_calls",
		metric.WithDescription("Number of ongoing calls."),
	); err != nil {
		return nil, err
	}

	if met.ChunksSent, err = m.Int64Counter("voxcall.audio.chunks_sent",
		metric.WithDescription("Audio chunks sent to the relay by capture mode and terminal flag."),
	); err != nil {
		return nil, err
	}
	if met.ChunksPlayed, err = m.Int64Counter("voxcall.audio.chunks_played",
		metric.WithDescription("Audio chunks appended to the playback sink."),
	); err != nil {
		return nil, err
	}
	if met.ChunksDropped, err = m.Int64Counter("voxcall.audio.chunks_dropped",
		metric.WithDescription("Audio discarded by stage and reason."),
	); err != nil {
		return nil, err
	}

	if met.MalformedMessages, err = m.Int64Counter("voxcall.signaling.malformed_messages",
		metric.WithDescription("Inbound signaling frames that could not be decoded."),
	); err != nil {
		return nil, err
	}
	if met.ReconnectAttempts, err = m.Int64Counter("voxcall.signaling.reconnect_attempts",
		metric.WithDescription("Reconnect dials by status."),
	); err != nil {
		return nil, err
	}
	if met.Connected, err = m.Int64UpDownCounter("voxcall.signaling.connected",
		metric.WithDescription("1 while the signaling connection is open."),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("voxcall.signaling.connect.duration",
		metric.WithDescription("Latency of opening the signaling connection."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.DirectoryRequests, err = m.Int64Counter("voxcall.directory.requests",
		metric.WithDescription("Directory HTTP requests by operation and status."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("voxcall.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call from [otel.GetMeterProvider]. It panics if instrument creation
// fails, which does not happen with the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordTransition counts one applied call state transition.
func (m *Metrics) RecordTransition(ctx context.Context, from, to, cause string) {
	m.CallTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
			attribute.String("cause", cause),
		),
	)
}

// RecordChunkSent counts one audio_chunk written to the relay.
func (m *Metrics) RecordChunkSent(ctx context.Context, mode string, terminal bool) {
	m.ChunksSent.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.Bool("terminal", terminal),
		),
	)
}

// RecordChunkDropped counts one discarded chunk or frame.
func (m *Metrics) RecordChunkDropped(ctx context.Context, stage, reason string) {
	m.ChunksDropped.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("reason", reason),
		),
	)
}

// RecordReconnectAttempt counts one reconnect dial.
func (m *Metrics) RecordReconnectAttempt(ctx context.Context, status string) {
	m.ReconnectAttempts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordDirectoryRequest counts one directory HTTP call.
func (m *Metrics) RecordDirectoryRequest(ctx context.Context, op, status string) {
	m.DirectoryRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", status),
		),
	)
}
