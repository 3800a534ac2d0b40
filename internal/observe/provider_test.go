package observe

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// initTestTelemetry runs InitTelemetry with cfg and restores the global
// providers afterwards.
func initTestTelemetry(t *testing.T, cfg TelemetryConfig) *Telemetry {
	t.Helper()
	origMP := otel.GetMeterProvider()
	origTP := otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	tel, err := InitTelemetry(context.Background(), cfg)
	if err != nil {
		t.Fatalf("InitTelemetry: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })
	return tel
}

func gatherFamily(t *testing.T, g prometheus.Gatherer, name string) *dto.MetricFamily {
	t.Helper()
	families, err := g.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

func TestInitTelemetry_OutcomesReachRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	tel := initTestTelemetry(t, TelemetryConfig{ServiceVersion: "test", Registry: reg})

	if tel.Gatherer != reg {
		t.Error("Gatherer is not the configured registry")
	}
	ctx := context.Background()
	tel.Metrics.RecordOutcome(ctx, "extraction", "salvaged")
	tel.Metrics.RecordOutcome(ctx, "extraction", "salvaged")
	tel.Metrics.RecordOutcome(ctx, "correction", "fallback_word_mismatch")

	f := gatherFamily(t, reg, "medscribe_pipeline_outcomes_total")
	if f == nil {
		t.Fatal("medscribe_pipeline_outcomes_total not exported")
	}
	got := make(map[string]float64)
	for _, m := range f.GetMetric() {
		got[labelValue(m, "stage")+"/"+labelValue(m, "outcome")] = m.GetCounter().GetValue()
	}
	if got["extraction/salvaged"] != 2 {
		t.Errorf("extraction/salvaged = %v, want 2", got["extraction/salvaged"])
	}
	if got["correction/fallback_word_mismatch"] != 1 {
		t.Errorf("correction/fallback_word_mismatch = %v, want 1", got["correction/fallback_word_mismatch"])
	}
}

func TestInitTelemetry_ResourceNamesModel(t *testing.T) {
	reg := prometheus.NewRegistry()
	tel := initTestTelemetry(t, TelemetryConfig{
		ServiceVersion: "1.2.3",
		LLMProvider:    "gemini",
		LLMModel:       "gemini-2.0-flash",
		Registry:       reg,
	})
	tel.Metrics.RecordOutcome(context.Background(), "correction", "accepted")

	f := gatherFamily(t, reg, "target_info")
	if f == nil || len(f.GetMetric()) == 0 {
		t.Fatal("target_info not exported")
	}
	m := f.GetMetric()[0]
	for label, want := range map[string]string{
		"service_name":           "medscribe",
		"service_version":        "1.2.3",
		"medscribe_llm_provider": "gemini",
		"medscribe_llm_model":    "gemini-2.0-flash",
	} {
		if got := labelValue(m, label); got != want {
			t.Errorf("target_info %s = %q, want %q", label, got, want)
		}
	}
}

func TestInitTelemetry_DefaultRegistryHasRuntimeCollectors(t *testing.T) {
	tel := initTestTelemetry(t, TelemetryConfig{})
	if gatherFamily(t, tel.Gatherer, "go_goroutines") == nil {
		t.Error("go_goroutines missing from the default registry")
	}
}

func TestInitTelemetry_ExportsPipelineSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	initTestTelemetry(t, TelemetryConfig{
		Registry:      prometheus.NewRegistry(),
		TraceExporter: exp,
	})

	ctx, span := StartSpan(context.Background(), "pipeline.extraction")
	if CorrelationID(ctx) == "" {
		t.Error("span from the installed tracer provider has no trace ID")
	}
	span.End()

	// Spans are batched; force them out.
	if err := otel.GetTracerProvider().(interface {
		ForceFlush(context.Context) error
	}).ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "pipeline.extraction" {
		t.Fatalf("exported spans = %v, want one pipeline.extraction", spans.Snapshots())
	}
	if got := spans[0].Resource.Attributes(); len(got) == 0 {
		t.Error("exported span carries no resource attributes")
	}
}
