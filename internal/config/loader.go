package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"gemini", "openai", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Providers
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	validateProviderName("llm", cfg.Providers.LLM.Name)

	seen := map[string]string{}
	if cfg.Providers.LLM.Name != "" {
		seen[providerKey(cfg.Providers.LLM)] = "providers.llm"
	}
	for i, fb := range cfg.Providers.LLMFallbacks {
		prefix := fmt.Sprintf("providers.llm_fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateProviderName("llm", fb.Name)
		if prev, ok := seen[providerKey(fb)]; ok {
			slog.Warn("llm fallback duplicates an earlier provider; it will fail the same way",
				"entry", prefix,
				"duplicate_of", prev,
			)
		}
		seen[providerKey(fb)] = prefix
	}

	// Pipeline
	p := cfg.Pipeline
	if p.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_attempts %d must not be negative", p.MaxAttempts))
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		errs = append(errs, fmt.Errorf("pipeline.temperature %.2f is out of range [0, 2]", p.Temperature))
	}
	if p.MaxOutputTokens < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_output_tokens %d must not be negative", p.MaxOutputTokens))
	}
	if p.MinSectionWords < 0 {
		errs = append(errs, fmt.Errorf("pipeline.min_section_words %d must not be negative", p.MinSectionWords))
	}
	if p.MaxSectionWords < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_section_words %d must not be negative", p.MaxSectionWords))
	}
	if p.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("pipeline.concurrency %d must not be negative", p.Concurrency))
	}
	if len(errs) == 0 {
		if err := p.Resolve().Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	// Store
	if cfg.Store.PostgresDSN == "" {
		slog.Debug("store.postgres_dsn is empty; processed records will not be persisted")
	}

	return errors.Join(errs...)
}

func providerKey(e ProviderEntry) string {
	return e.Name + "/" + e.Model
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, possibly a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
