// Package app wires the medscribe subsystems into a running application.
//
// New builds the two-stage pipeline from the configuration and an already
// constructed language model, opens the optional record store, and prepares
// the optional metrics listener. ProcessBatch runs many transcripts through
// the pipeline with bounded concurrency, and Shutdown tears everything down
// in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithMetrics, WithGatherer). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/medscribe/internal/config"
	"github.com/MrWong99/medscribe/internal/health"
	"github.com/MrWong99/medscribe/internal/observe"
	"github.com/MrWong99/medscribe/internal/pipeline"
	"github.com/MrWong99/medscribe/internal/store/postgres"
	"github.com/MrWong99/medscribe/internal/transcript/normalize"
	"github.com/MrWong99/medscribe/pkg/provider/llm"
)

// RecordStore persists processed consultations. *postgres.Store satisfies it.
type RecordStore interface {
	Save(ctx context.Context, rec postgres.Record) (*postgres.Record, error)
	Ping(ctx context.Context) error
}

var _ RecordStore = (*postgres.Store)(nil)

// readier is implemented by language models that can report whether any
// backend is currently usable, such as resilience.LLMFallback.
type readier interface {
	Ready(ctx context.Context) error
}

// Input is one transcript submitted for processing.
type Input struct {
	// Source names where the transcript came from (a file path or "stdin").
	// It is stored as the record's audio file name.
	Source string

	// PatientID associates the persisted record with a patient. Zero is
	// stored as is.
	PatientID int64

	// Transcript is the raw speech-recognition output.
	Transcript string
}

// Output is the result of processing one [Input].
type Output struct {
	Source string
	Result *pipeline.Result

	// RecordID is the ID assigned by the store, or zero when persistence is
	// disabled or failed.
	RecordID int64

	// StoreErr is set when the record could not be persisted. The pipeline
	// result is still valid.
	StoreErr error
}

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	llm      llm.Provider
	pipeline *pipeline.Pipeline
	store    RecordStore
	metrics  *observe.Metrics
	gatherer prometheus.Gatherer

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a record store instead of connecting to
// cfg.Store.PostgresDSN.
func WithStore(s RecordStore) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics records pipeline and HTTP metrics on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithGatherer serves g on /metrics instead of
// [prometheus.DefaultGatherer].
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *App) { a.gatherer = g }
}

// New creates an App by wiring all subsystems together. provider is the
// language model, typically built by [BuildLLM].
func New(ctx context.Context, cfg *config.Config, provider llm.Provider, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	if provider == nil {
		return nil, fmt.Errorf("app: %w", pipeline.ErrNoProvider)
	}

	a := &App{
		cfg: cfg,
		llm: provider,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.gatherer == nil {
		a.gatherer = prometheus.DefaultGatherer
	}

	// ── 1. Normalizer ────────────────────────────────────────────────────
	norm, err := a.buildNormalizer()
	if err != nil {
		return nil, fmt.Errorf("app: init normalizer: %w", err)
	}

	// ── 2. Pipeline ──────────────────────────────────────────────────────
	p, err := pipeline.New(provider,
		pipeline.WithConfig(cfg.Pipeline.Resolve()),
		pipeline.WithNormalizer(norm),
		pipeline.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}
	a.pipeline = p

	// ── 3. Record store ──────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	return a, nil
}

// buildNormalizer returns the built-in normalizer, extended by the
// configured vocabulary file when one is set.
func (a *App) buildNormalizer() (*normalize.Normalizer, error) {
	path := a.cfg.Pipeline.VocabularyFile
	if path == "" {
		return normalize.Default(), nil
	}
	vocab, err := normalize.LoadVocabulary(path)
	if err != nil {
		return nil, err
	}
	n, err := normalize.New(normalize.WithVocabulary(vocab))
	if err != nil {
		return nil, fmt.Errorf("vocabulary %q: %w", path, err)
	}
	slog.Info("loaded vocabulary", "path", path, "corrections", len(vocab))
	return n, nil
}

// initStore connects to PostgreSQL unless a store was injected or no DSN is
// configured.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	dsn := a.cfg.Store.PostgresDSN
	if dsn == "" {
		return nil
	}
	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	slog.Info("record store connected")
	return nil
}

// Checkers returns the readiness checks for the metrics listener: the
// language model (when it can report readiness) and the record store (when
// configured).
func (a *App) Checkers() []health.Checker {
	var checks []health.Checker
	if r, ok := a.llm.(readier); ok {
		checks = append(checks, health.Checker{Name: "llm", Check: r.Ready})
	}
	if a.store != nil {
		checks = append(checks, health.Ping("store", a.store))
	}
	return checks
}

// Process runs one transcript through the pipeline and persists the result
// when a store is configured. The returned error is non-nil only when ctx
// was done before processing started; a failed save is reported on
// Output.StoreErr.
func (a *App) Process(ctx context.Context, in Input) (Output, error) {
	res, err := a.pipeline.Process(ctx, in.Transcript)
	if err != nil {
		return Output{Source: in.Source}, fmt.Errorf("app: process %q: %w", in.Source, err)
	}
	out := Output{Source: in.Source, Result: res}

	if a.store == nil {
		return out, nil
	}
	rec, err := a.store.Save(ctx, postgres.Record{
		PatientID:          in.PatientID,
		AudioFileName:      in.Source,
		Transcript:         res.Corrected,
		OriginalTranscript: res.Original,
		Note:               res.Note,
		CorrectionOutcome:  string(res.CorrectionOutcome),
		ExtractionOutcome:  string(res.ExtractionOutcome),
	})
	if err != nil {
		observe.Logger(ctx).Error("failed to save record", "source", in.Source, "err", err)
		out.StoreErr = err
		return out, nil
	}
	out.RecordID = rec.ID
	observe.Logger(ctx).Info("record saved", "source", in.Source, "id", rec.ID, "patient_id", in.PatientID)
	return out, nil
}

// ProcessBatch processes inputs with at most cfg.Pipeline.Workers()
// transcripts in flight. Outputs are returned in input order. The batch
// stops early only when ctx is cancelled; the context error is returned
// together with the outputs completed so far (unprocessed entries carry only
// their Source).
func (a *App) ProcessBatch(ctx context.Context, inputs []Input) ([]Output, error) {
	outputs := make([]Output, len(inputs))
	for i, in := range inputs {
		outputs[i].Source = in.Source
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Pipeline.Workers())

	for i, in := range inputs {
		g.Go(func() error {
			out, err := a.Process(gctx, in)
			if err != nil {
				return err
			}
			outputs[i] = out
			return nil
		})
	}

	err := g.Wait()
	slog.Info("batch complete", "transcripts", len(inputs), "workers", a.cfg.Pipeline.Workers())
	return outputs, err
}

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
