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

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

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

// sumFor returns the value of the int64 sum data point whose attributes
// contain every key/value in want.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name string, want map[string]string) int64 {
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
		matched := 0
		for _, kv := range dp.Attributes.ToSlice() {
			if v, ok := want[string(kv.Key)]; ok && kv.Value.AsString() == v {
				matched++
			}
		}
		if matched == len(want) {
			return dp.Value
		}
	}
	t.Fatalf("metric %q: no data point with attributes %v", name, want)
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"medscribe.llm.duration", m.LLMDuration},
		{"medscribe.pipeline.stage.duration", m.StageDuration},
		{"medscribe.http.request.duration", m.HTTPRequestDuration},
	}
	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 1.5)
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

func TestProviderRequestsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "gemini", "llm", "ok")
	m.RecordProviderRequest(ctx, "gemini", "llm", "ok")
	m.RecordProviderRequest(ctx, "gemini", "llm", "error")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "medscribe.provider.requests", map[string]string{"status": "ok"}); got != 2 {
		t.Errorf("ok requests = %d, want 2", got)
	}
	if got := sumFor(t, rm, "medscribe.provider.requests", map[string]string{"status": "error"}); got != 1 {
		t.Errorf("error requests = %d, want 1", got)
	}
}

func TestProviderErrorsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordProviderError(context.Background(), "openai", "llm")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "medscribe.provider.errors", map[string]string{"provider": "openai"}); got != 1 {
		t.Errorf("counter value = %d, want 1", got)
	}
}

func TestRecordOutcome(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordOutcome(ctx, "correction", "accepted")
	m.RecordOutcome(ctx, "correction", "fallback_word_mismatch")
	m.RecordOutcome(ctx, "extraction", "salvaged")
	m.RecordOutcome(ctx, "extraction", "salvaged")

	rm := collect(t, reader)
	got := sumFor(t, rm, "medscribe.pipeline.outcomes", map[string]string{"stage": "extraction", "outcome": "salvaged"})
	if got != 2 {
		t.Errorf("salvaged = %d, want 2", got)
	}
	got = sumFor(t, rm, "medscribe.pipeline.outcomes", map[string]string{"stage": "correction", "outcome": "accepted"})
	if got != 1 {
		t.Errorf("accepted = %d, want 1", got)
	}
}

func TestRecordAttempt(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordAttempt(ctx, "extraction", "empty_response", 0.4)
	m.RecordAttempt(ctx, "extraction", "ok", 1.2)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "medscribe.pipeline.attempts", map[string]string{"status": "empty_response"}); got != 1 {
		t.Errorf("empty_response attempts = %d, want 1", got)
	}
	met := findMetric(rm, "medscribe.llm.duration")
	if met == nil {
		t.Fatal("llm duration not recorded")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	var total uint64
	for _, dp := range hist.DataPoints {
		total += dp.Count
	}
	if total != 2 {
		t.Errorf("llm duration samples = %d, want 2", total)
	}
}

func TestRecordSection(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordSection(context.Background(), "Plan", "short")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "medscribe.note.sections", map[string]string{"section": "Plan", "quality": "short"}); got != 1 {
		t.Errorf("counter value = %d, want 1", got)
	}
}

func TestActiveTranscriptsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveTranscripts.Add(ctx, 3)
	m.ActiveTranscripts.Add(ctx, -1)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "medscribe.active_transcripts", map[string]string{}); got != 2 {
		t.Errorf("gauge value = %d, want 2", got)
	}
}

func TestAttr(t *testing.T) {
	kv := Attr("stage", "correction")
	if kv != attribute.String("stage", "correction") {
		t.Errorf("Attr = %v", kv)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
