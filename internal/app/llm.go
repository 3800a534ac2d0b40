package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/medscribe/internal/config"
	"github.com/MrWong99/medscribe/internal/observe"
	"github.com/MrWong99/medscribe/internal/resilience"
)

// BuildLLM instantiates the configured primary language model and its
// fallbacks through reg and chains them behind per-backend circuit breakers.
// Every call made against a backend is counted on m.
//
// A fallback whose name has no registered factory is skipped with a warning;
// the primary must be registered.
func BuildLLM(cfg config.ProvidersConfig, reg *config.Registry, m *observe.Metrics) (*resilience.LLMFallback, error) {
	if m == nil {
		m = observe.DefaultMetrics()
	}

	primary, err := reg.CreateLLM(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("app: create llm provider %q: %w", cfg.LLM.Name, err)
	}

	fb := resilience.NewLLMFallback(primary, backendName(cfg.LLM), resilience.FallbackConfig{
		OnAttempt: func(ctx context.Context, name string, err error) {
			status := "ok"
			if err != nil {
				status = "error"
				m.RecordProviderError(ctx, name, "llm")
			}
			m.RecordProviderRequest(ctx, name, "llm", status)
		},
	})
	slog.Info("provider created", "kind", "llm", "name", cfg.LLM.Name, "model", cfg.LLM.Model)

	for i, entry := range cfg.LLMFallbacks {
		p, err := reg.CreateLLM(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("fallback provider not registered, skipping", "kind", "llm", "name", entry.Name, "index", i)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("app: create llm fallback %q (index %d): %w", entry.Name, i, err)
		}
		fb.AddFallback(backendName(entry), p)
		slog.Info("fallback provider created", "kind", "llm", "name", entry.Name, "model", entry.Model)
	}
	return fb, nil
}

// backendName labels a backend in metrics and breaker state. The model is
// included so two entries of the same provider stay distinguishable.
func backendName(entry config.ProviderEntry) string {
	if entry.Model == "" {
		return entry.Name
	}
	return entry.Name + "/" + entry.Model
}
