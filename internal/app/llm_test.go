package app_test

import (
	"context"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/medscribe/internal/app"
	"github.com/MrWong99/medscribe/internal/config"
	"github.com/MrWong99/medscribe/internal/observe"
	"github.com/MrWong99/medscribe/pkg/provider/llm"
	llmmock "github.com/MrWong99/medscribe/pkg/provider/llm/mock"
)

// counterValue returns the value of the int64 counter name at the data point
// whose attributes include want, or zero when there is none.
func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name string, want map[string]string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
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
		}
	}
	return 0
}

func TestBuildLLM_FailoverAndMetrics(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{CompleteErr: errors.New("quota exceeded")}
	secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}

	reg := config.NewRegistry()
	reg.RegisterLLM("gemini", func(config.ProviderEntry) (llm.Provider, error) { return primary, nil })
	reg.RegisterLLM("openai", func(config.ProviderEntry) (llm.Provider, error) { return secondary, nil })

	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	fb, err := app.BuildLLM(config.ProvidersConfig{
		LLM: config.ProviderEntry{Name: "gemini", Model: "gemini-2.5-flash"},
		LLMFallbacks: []config.ProviderEntry{
			{Name: "not-registered"},
			{Name: "openai", Model: "gpt-4o-mini"},
		},
	}, reg, m)
	if err != nil {
		t.Fatalf("BuildLLM: %v", err)
	}

	wantNames := []string{"gemini/gemini-2.5-flash", "openai/gpt-4o-mini"}
	names := fb.Names()
	if len(names) != len(wantNames) {
		t.Fatalf("Names() = %v, want %v", names, wantNames)
	}
	for i := range wantNames {
		if names[i] != wantNames[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, names[i], wantNames[i])
		}
	}

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("Content = %q, want ok", resp.Content)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if got := counterValue(t, rm, "medscribe.provider.requests", map[string]string{"provider": "gemini/gemini-2.5-flash", "status": "error"}); got != 1 {
		t.Errorf("primary error requests = %d, want 1", got)
	}
	if got := counterValue(t, rm, "medscribe.provider.errors", map[string]string{"provider": "gemini/gemini-2.5-flash", "kind": "llm"}); got != 1 {
		t.Errorf("primary errors = %d, want 1", got)
	}
	if got := counterValue(t, rm, "medscribe.provider.requests", map[string]string{"provider": "openai/gpt-4o-mini", "status": "ok"}); got != 1 {
		t.Errorf("fallback ok requests = %d, want 1", got)
	}
}

func TestBuildLLM_Errors(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	reg.RegisterLLM("broken", func(config.ProviderEntry) (llm.Provider, error) {
		return nil, errors.New("missing api key")
	})
	reg.RegisterLLM("gemini", func(config.ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{}, nil
	})

	tests := []struct {
		name    string
		cfg     config.ProvidersConfig
		wantErr error
	}{
		{
			name:    "primary not registered",
			cfg:     config.ProvidersConfig{LLM: config.ProviderEntry{Name: "nope"}},
			wantErr: config.ErrProviderNotRegistered,
		},
		{
			name: "primary factory fails",
			cfg:  config.ProvidersConfig{LLM: config.ProviderEntry{Name: "broken"}},
		},
		{
			name: "fallback factory fails",
			cfg: config.ProvidersConfig{
				LLM:          config.ProviderEntry{Name: "gemini"},
				LLMFallbacks: []config.ProviderEntry{{Name: "broken"}},
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := app.BuildLLM(tc.cfg, reg, nil)
			if err == nil {
				t.Fatal("BuildLLM: error = nil, want non-nil")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Errorf("BuildLLM error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestApp_LLMReadinessCheck(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	reg.RegisterLLM("gemini", func(config.ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{}, nil
	})
	fb, err := app.BuildLLM(config.ProvidersConfig{LLM: config.ProviderEntry{Name: "gemini"}}, reg, testMetrics(t))
	if err != nil {
		t.Fatalf("BuildLLM: %v", err)
	}

	a := newApp(t, testConfig(), fb)
	checks := a.Checkers()
	if len(checks) != 1 || checks[0].Name != "llm" {
		t.Fatalf("Checkers() = %+v, want one llm check", checks)
	}
	if err := checks[0].Check(context.Background()); err != nil {
		t.Errorf("llm check = %v, want nil", err)
	}
}
