package observe

import (
	"context"
	"errors"
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

// sumValue returns the value of the data point carrying key=value, or -1.
func sumValue(t *testing.T, met *metricdata.Metrics, key, value string) int64 {
	t.Helper()
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", met.Name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	return -1
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"meetrec.pipeline.stage.duration", m.StageDuration},
		{"meetrec.recording.duration", m.RecordingDuration},
		{"meetrec.http.request.duration", m.HTTPRequestDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
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

func TestRecordStage(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordStage(ctx, "transcribe", 1.5, nil)
	m.RecordStage(ctx, "transcribe", 2.5, nil)
	m.RecordStage(ctx, "translate", 0.5, errors.New("boom"))

	rm := collect(t, reader)
	met := findMetric(rm, "meetrec.pipeline.stage.requests")
	if met == nil {
		t.Fatal("metric not found")
	}
	if got := sumValue(t, met, "status", "error"); got != 1 {
		t.Errorf("error count = %d, want 1", got)
	}
	if got := sumValue(t, met, "status", "ok"); got != 2 {
		t.Errorf("ok count = %d, want 2", got)
	}

	dur := findMetric(rm, "meetrec.pipeline.stage.duration")
	if dur == nil {
		t.Fatal("duration metric not found")
	}
	hist := dur.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 2 {
		t.Errorf("duration data points = %d, want 2 (one per stage)", len(hist.DataPoints))
	}
}

func TestRecordTransition(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTransition(ctx, "idle", "awaitingSources")
	m.RecordTransition(ctx, "awaitingSources", "recording")
	m.RecordTransition(ctx, "paused", "recording")

	met := findMetric(collect(t, reader), "meetrec.session.transitions")
	if met == nil {
		t.Fatal("metric not found")
	}
	if got := sumValue(t, met, "to", "recording"); got < 1 {
		t.Errorf("transitions to recording = %d, want >= 1", got)
	}
	if got := sumValue(t, met, "from", "idle"); got != 1 {
		t.Errorf("transitions from idle = %d, want 1", got)
	}
}

func TestRecordAuthRefresh(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordAuthRefresh(ctx, nil)
	m.RecordAuthRefresh(ctx, errors.New("expired"))
	m.RecordAuthRefresh(ctx, errors.New("expired"))

	met := findMetric(collect(t, reader), "meetrec.auth.refreshes")
	if met == nil {
		t.Fatal("metric not found")
	}
	if got := sumValue(t, met, "status", "error"); got != 2 {
		t.Errorf("failed refreshes = %d, want 2", got)
	}
}

func TestRecordArtifact(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordArtifact(ctx, "audio/wav", 96000, 1)

	rm := collect(t, reader)
	met := findMetric(rm, "meetrec.recording.artifact.size")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[int64])
	if !ok {
		t.Fatal("metric is not an int64 histogram")
	}
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Sum != 96000 {
		t.Errorf("data points = %+v, want one with sum 96000", hist.DataPoints)
	}
	if findMetric(rm, "meetrec.recording.duration") == nil {
		t.Error("recording duration not recorded")
	}
}

func TestSegmentCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.Segments.Add(ctx, 3)
	m.EmptySegments.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)
	m.ActiveSessions.Add(ctx, 1)

	rm := collect(t, reader)

	tests := []struct {
		name string
		want int64
	}{
		{"meetrec.recording.segments", 3},
		{"meetrec.recording.segments.empty", 1},
		{"meetrec.active_sessions", 1},
	}
	for _, tc := range tests {
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
				t.Errorf("value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	if got := Status(nil); got != "ok" {
		t.Errorf("Status(nil) = %q, want ok", got)
	}
	if got := Status(errors.New("x")); got != "error" {
		t.Errorf("Status(err) = %q, want error", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
