// Package observe provides application-wide observability primitives for
// meetrec: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] and served on /metrics via
// [Telemetry.Handler]. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all meetrec metrics.
const meterName = "github.com/MrWong99/meetrec"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Processing pipeline ---

	// StageDuration tracks the latency of one pipeline stage. Use with attribute:
	//   attribute.String("stage", "transcribe"|"translate"|"analyze")
	StageDuration metric.Float64Histogram

	// StageRequests counts pipeline stage attempts. Use with attributes:
	//   attribute.String("stage", ...), attribute.String("status", "ok"|"error")
	StageRequests metric.Int64Counter

	// AuthRefreshes counts access-token refresh attempts. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	AuthRefreshes metric.Int64Counter

	// --- Recording ---

	// SessionTransitions counts controller state transitions. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	SessionTransitions metric.Int64Counter

	// Segments counts encoded segments appended to a recording.
	Segments metric.Int64Counter

	// EmptySegments counts segments that were discarded because they
	// carried no data.
	EmptySegments metric.Int64Counter

	// ArtifactSize tracks the size of finalized recordings. Use with attribute:
	//   attribute.String("encoding", ...)
	ArtifactSize metric.Int64Histogram

	// RecordingDuration tracks the elapsed (non-paused) time of finalized
	// recordings.
	RecordingDuration metric.Float64Histogram

	// --- Gauges ---

	// ActiveSessions is 1 while a session holds capture devices.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for remote
// processing stages, which range from sub-second lookups to multi-minute
// transcriptions.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// sizeBuckets defines artifact size boundaries in bytes (16 KiB to 256 MiB).
var sizeBuckets = []float64{
	1 << 14, 1 << 16, 1 << 18, 1 << 20, 1 << 22, 1 << 24, 1 << 26, 1 << 28,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.StageDuration, err = m.Float64Histogram("meetrec.pipeline.stage.duration",
		metric.WithDescription("Latency of a processing pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ArtifactSize, err = m.Int64Histogram("meetrec.recording.artifact.size",
		metric.WithDescription("Size of finalized recordings by encoding."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(sizeBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecordingDuration, err = m.Float64Histogram("meetrec.recording.duration",
		metric.WithDescription("Elapsed recording time excluding pauses."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.StageRequests, err = m.Int64Counter("meetrec.pipeline.stage.requests",
		metric.WithDescription("Total pipeline stage attempts by stage and status."),
	); err != nil {
		return nil, err
	}
	if met.AuthRefreshes, err = m.Int64Counter("meetrec.auth.refreshes",
		metric.WithDescription("Total access-token refresh attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.SessionTransitions, err = m.Int64Counter("meetrec.session.transitions",
		metric.WithDescription("Total recording session state transitions."),
	); err != nil {
		return nil, err
	}
	if met.Segments, err = m.Int64Counter("meetrec.recording.segments",
		metric.WithDescription("Total encoded segments appended to recordings."),
	); err != nil {
		return nil, err
	}
	if met.EmptySegments, err = m.Int64Counter("meetrec.recording.segments.empty",
		metric.WithDescription("Total empty segments discarded by the recorder."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("meetrec.active_sessions",
		metric.WithDescription("Number of sessions currently holding capture devices."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("meetrec.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// Status returns "ok" for a nil error and "error" otherwise.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordStage records one pipeline stage attempt with its latency.
func (m *Metrics) RecordStage(ctx context.Context, stage string, seconds float64, err error) {
	m.StageDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
	m.StageRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("status", Status(err)),
		),
	)
}

// RecordTransition records a session state transition.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.SessionTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordAuthRefresh records a token refresh attempt.
func (m *Metrics) RecordAuthRefresh(ctx context.Context, err error) {
	m.AuthRefreshes.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", Status(err))),
	)
}

// RecordArtifact records a finalized recording.
func (m *Metrics) RecordArtifact(ctx context.Context, encoding string, size int, seconds float64) {
	m.ArtifactSize.Record(ctx, int64(size),
		metric.WithAttributes(attribute.String("encoding", encoding)),
	)
	m.RecordingDuration.Record(ctx, seconds)
}
