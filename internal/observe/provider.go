package observe

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// serviceName is the service.name resource attribute.
const serviceName = "medscribe"

// Resource attribute keys describing the primary language model. The
// Prometheus exporter publishes them as labels on target_info.
const (
	llmProviderKey = attribute.Key("medscribe.llm.provider")
	llmModelKey    = attribute.Key("medscribe.llm.model")
)

// TelemetryConfig configures [InitTelemetry].
type TelemetryConfig struct {
	// ServiceVersion is reported as service.version.
	ServiceVersion string

	// LLMProvider and LLMModel name the primary language model backend.
	// Empty values are omitted from the resource.
	LLMProvider string
	LLMModel    string

	// TraceExporter receives finished spans. When nil spans are still
	// created, so log lines carry trace_id, but nothing is exported.
	TraceExporter sdktrace.SpanExporter

	// Registry receives the OpenTelemetry bridge collector. When nil a fresh
	// registry with the Go runtime and process collectors is created.
	Registry *prometheus.Registry
}

// Telemetry is the process-wide OpenTelemetry setup: a meter provider
// bridged into a Prometheus registry, a tracer provider, and the medscribe
// instruments bound to them.
type Telemetry struct {
	// Metrics records pipeline, provider and HTTP metrics.
	Metrics *Metrics

	// Gatherer is the registry the /metrics route serves.
	Gatherer prometheus.Gatherer

	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// InitTelemetry builds the SDK providers, installs them as the global OTel
// providers and creates the medscribe instruments on the new meter provider.
// Call [Telemetry.Shutdown] before the process exits.
func InitTelemetry(ctx context.Context, cfg TelemetryConfig) (*Telemetry, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	}
	if cfg.LLMProvider != "" {
		attrs = append(attrs, llmProviderKey.String(cfg.LLMProvider))
	}
	if cfg.LLMModel != "" {
		attrs = append(attrs, llmModelKey.String(cfg.LLMModel))
	}
	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(attrs...),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	exp, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exp),
	)
	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	m, err := NewMetrics(mp)
	if err != nil {
		return nil, errors.Join(
			fmt.Errorf("observe: create instruments: %w", err),
			tp.Shutdown(ctx),
			mp.Shutdown(ctx),
		)
	}

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)
	return &Telemetry{Metrics: m, Gatherer: reg, tp: tp, mp: mp}, nil
}

// Shutdown flushes pending spans, then stops the meter provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.tp.Shutdown(ctx), t.mp.Shutdown(ctx))
}
