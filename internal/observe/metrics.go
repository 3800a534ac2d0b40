// Package observe provides application-wide observability primitives for
// medscribe: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is set up by [InitTelemetry] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all medscribe metrics.
const meterName = "github.com/MrWong99/medscribe"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// LLMDuration tracks language-model call latency. Use with attributes:
	//   attribute.String("stage", ...), attribute.String("status", ...)
	LLMDuration metric.Float64Histogram

	// StageDuration tracks the wall time of a whole correction or extraction
	// stage, retries included. Use with attribute:
	//   attribute.String("stage", ...)
	StageDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// StageOutcomes counts terminal stage outcomes. Use with attributes:
	//   attribute.String("stage", ...), attribute.String("outcome", ...)
	StageOutcomes metric.Int64Counter

	// ModelAttempts counts individual model attempts inside a stage. Use with
	// attributes:
	//   attribute.String("stage", ...), attribute.String("status", ...)
	ModelAttempts metric.Int64Counter

	// NoteSections counts extracted note sections by quality. Use with
	// attributes:
	//   attribute.String("section", ...), attribute.String("quality", ...)
	NoteSections metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveTranscripts tracks transcripts currently being processed.
	ActiveTranscripts metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for hosted
// model calls, which range from sub-second to about a minute.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.LLMDuration, err = m.Float64Histogram("medscribe.llm.duration",
		metric.WithDescription("Latency of language-model calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StageDuration, err = m.Float64Histogram("medscribe.pipeline.stage.duration",
		metric.WithDescription("Wall time of a pipeline stage including retries."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("medscribe.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.StageOutcomes, err = m.Int64Counter("medscribe.pipeline.outcomes",
		metric.WithDescription("Terminal pipeline stage outcomes by stage and outcome."),
	); err != nil {
		return nil, err
	}
	if met.ModelAttempts, err = m.Int64Counter("medscribe.pipeline.attempts",
		metric.WithDescription("Model attempts by stage and attempt status."),
	); err != nil {
		return nil, err
	}
	if met.NoteSections, err = m.Int64Counter("medscribe.note.sections",
		metric.WithDescription("Extracted note sections by section and quality."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("medscribe.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveTranscripts, err = m.Int64UpDownCounter("medscribe.active_transcripts",
		metric.WithDescription("Number of transcripts currently being processed."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("medscribe.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordOutcome records the terminal outcome of a pipeline stage.
func (m *Metrics) RecordOutcome(ctx context.Context, stage, outcome string) {
	m.StageOutcomes.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordAttempt records one model attempt and its latency.
func (m *Metrics) RecordAttempt(ctx context.Context, stage, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("status", status),
	)
	m.ModelAttempts.Add(ctx, 1, attrs)
	m.LLMDuration.Record(ctx, seconds, attrs)
}

// RecordSection records the quality class of one extracted note section
// ("discussed", "short", "long", "not_discussed").
func (m *Metrics) RecordSection(ctx context.Context, section, quality string) {
	m.NoteSections.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("section", section),
			attribute.String("quality", quality),
		),
	)
}
