// Command medscribe corrects speaker attribution in doctor-patient
// transcripts and extracts a SOAP note from each one.
//
// Transcripts are read from the files named on the command line, or from
// standard input when none are given (or "-" is given). The results are
// written as a JSON array to standard output or to the file named by -out.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/medscribe/internal/app"
	"github.com/MrWong99/medscribe/internal/config"
	"github.com/MrWong99/medscribe/internal/observe"
	"github.com/MrWong99/medscribe/pkg/provider/llm"
	"github.com/MrWong99/medscribe/pkg/provider/llm/anyllm"
	"github.com/MrWong99/medscribe/pkg/provider/llm/openai"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	patientID := flag.Int64("patient", 0, "patient ID stored with every record")
	outPath := flag.String("out", "", "write the JSON results to this file instead of stdout")
	envPath := flag.String("env", ".env", "optional dotenv file with provider API keys")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: medscribe [flags] [transcript-file ...]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	// ── Logger ────────────────────────────────────────────────────────────────
	// Until the config is loaded, log at info level.
	level := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	// ── Environment ───────────────────────────────────────────────────────────
	if err := loadEnv(*envPath); err != nil {
		slog.Error("failed to load env file", "path", *envPath, "err", err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(_, _ *config.Config, diff config.ConfigDiff) {
		if diff.LogLevelChanged {
			level.Set(slogLevel(diff.NewLogLevel))
			slog.Info("log level changed", "level", diff.NewLogLevel)
		}
		if diff.RequiresRestart() {
			slog.Warn("config changed, restart to apply",
				"pipeline", diff.PipelineChanged,
				"providers", diff.ProvidersChanged,
				"store", diff.StoreChanged,
			)
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "medscribe: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "medscribe: %v\n", err)
		}
		return 1
	}
	cfg := watcher.Current()
	level.Set(slogLevel(cfg.Server.LogLevel))

	slog.Info("medscribe starting",
		"version", version,
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
		"metrics_addr", cfg.Server.MetricsAddr,
	)

	// ── Inputs ────────────────────────────────────────────────────────────────
	inputs, err := readInputs(flag.Args(), *patientID, os.Stdin)
	if err != nil {
		slog.Error("failed to read transcripts", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitTelemetry(ctx, observe.TelemetryConfig{
		ServiceVersion: version,
		LLMProvider:    cfg.Providers.LLM.Name,
		LLMModel:       cfg.Providers.LLM.Model,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(tctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	model, err := app.BuildLLM(cfg.Providers, reg, telemetry.Metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, model,
		app.WithMetrics(telemetry.Metrics),
		app.WithGatherer(telemetry.Gatherer),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := application.Shutdown(sctx); err != nil {
			slog.Error("shutdown error", "err", err)
		}
	}()

	bgCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()
	go watcher.Run(bgCtx)
	go func() {
		if err := application.ServeMetrics(bgCtx); err != nil {
			slog.Error("metrics listener error", "err", err)
		}
	}()

	slog.Info("processing transcripts",
		"count", len(inputs),
		"providers", model.Names(),
		"workers", cfg.Pipeline.Workers(),
	)

	outputs, batchErr := application.ProcessBatch(ctx, inputs)
	if batchErr != nil {
		slog.Error("batch interrupted", "err", batchErr)
	}

	if err := writeResults(*outPath, outputs); err != nil {
		slog.Error("failed to write results", "err", err)
		return 1
	}
	if batchErr != nil {
		return 1
	}
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyllmBackends share the same pattern: optional APIKey and optional BaseURL.
var anyllmBackends = []string{
	"gemini", "anthropic", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	for _, providerName := range anyllmBackends {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(providerName, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		p, err := anyllm.New("ollama", entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		apiKey := entry.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if raw := optString(entry.Options, "timeout"); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("openai: options.timeout: %w", err)
			}
			opts = append(opts, openai.WithTimeout(d))
		}
		p, err := openai.New(apiKey, entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	slog.Debug("registered providers", "kind", "llm", "names", reg.LLMNames())
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// loadEnv loads a dotenv file into the process environment. A missing file
// is not an error; variables already set are not overridden.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a
// string or an integer.
func optString(opts map[string]any, key string) string {
	v, ok := opts[key]
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case int:
		return strconv.Itoa(s)
	default:
		return ""
	}
}
