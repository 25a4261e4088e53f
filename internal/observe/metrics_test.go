package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

// sumPoint returns the value of the data point of the named Int64 sum whose
// attributes include key=value.
func sumPoint(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.Emit() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no data point with %s=%s", name, key, value)
	return 0
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"voxcall.call.duration", m.CallDuration},
		{"voxcall.signaling.connect.duration", m.ConnectDuration},
		{"voxcall.http.request.duration", m.HTTPRequestDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 42)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestRecordTransition(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTransition(ctx, "idle", "incoming", "incoming_call")
	m.RecordTransition(ctx, "incoming", "ongoing", "accept")
	m.RecordTransition(ctx, "idle", "incoming", "incoming_call")

	rm := collect(t, reader)
	if got := sumPoint(t, rm, "voxcall.call.transitions", "cause", "incoming_call"); got != 2 {
		t.Errorf("incoming_call transitions = %d, want 2", got)
	}
	if got := sumPoint(t, rm, "voxcall.call.transitions", "to", "ongoing"); got != 1 {
		t.Errorf("transitions to ongoing = %d, want 1", got)
	}
}

func TestRecordChunkSentAndDropped(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordChunkSent(ctx, "gated", false)
	m.RecordChunkSent(ctx, "gated", false)
	m.RecordChunkSent(ctx, "gated", true)
	m.RecordChunkDropped(ctx, "playback", "sink_busy")

	rm := collect(t, reader)
	if got := sumPoint(t, rm, "voxcall.audio.chunks_sent", "terminal", "false"); got != 2 {
		t.Errorf("non-terminal chunks = %d, want 2", got)
	}
	if got := sumPoint(t, rm, "voxcall.audio.chunks_sent", "terminal", "true"); got != 1 {
		t.Errorf("terminal chunks = %d, want 1", got)
	}
	if got := sumPoint(t, rm, "voxcall.audio.chunks_dropped", "reason", "sink_busy"); got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}

	sent := findMetric(rm, "voxcall.audio.chunks_sent").Data.(metricdata.Sum[int64])
	for _, dp := range sent.DataPoints {
		if v, ok := dp.Attributes.Value("terminal"); !ok || v.Type() != attribute.BOOL {
			t.Errorf("terminal attribute = %v, want a bool", v)
		}
	}
}

func TestRecordReconnectAndDirectory(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordReconnectAttempt(ctx, "error")
	m.RecordReconnectAttempt(ctx, "ok")
	m.RecordDirectoryRequest(ctx, "user", "ok")

	rm := collect(t, reader)
	if got := sumPoint(t, rm, "voxcall.signaling.reconnect_attempts", "status", "error"); got != 1 {
		t.Errorf("failed reconnects = %d, want 1", got)
	}
	if got := sumPoint(t, rm, "voxcall.directory.requests", "op", "user"); got != 1 {
		t.Errorf("directory requests = %d, want 1", got)
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.Connected.Add(ctx, 1)
	m.Connected.Add(ctx, -1)
	m.Connected.Add(ctx, 1)
	m.ActiveCalls.Add(ctx, 1)

	rm := collect(t, reader)

	gauges := []struct {
		name string
		want int64
	}{
		{"voxcall.signaling.connected", 1},
		{"voxcall.active_calls", 1},
	}

	for _, tc := range gauges {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not a sum", tc.name)
			}
			if len(sum.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := sum.DataPoints[0].Value; got != tc.want {
				t.Errorf("gauge value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
