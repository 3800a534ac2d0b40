// Package pipeline implements the two model-driven stages that turn a raw
// speaker-labelled medical transcript into a diarization-corrected transcript
// and a four-section SOAP note.
//
// Both stages treat the language model as an unreliable oracle. Each is an
// explicit state machine ([Corrector], [Extractor]) with a pure transition
// function; the driver loop performs model calls, logging and metrics. Every
// data-quality failure degrades to a defined fallback value and is reported
// as an [Outcome], never as an error.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/medscribe/internal/observe"
	"github.com/MrWong99/medscribe/internal/transcript/normalize"
	llm "github.com/MrWong99/medscribe/pkg/provider/llm"
	"github.com/MrWong99/medscribe/pkg/soap"
)

// ErrNoProvider is returned by constructors given a nil [llm.Provider].
var ErrNoProvider = errors.New("pipeline: llm provider is required")

// Option configures a [Pipeline], [Corrector] or [Extractor].
type Option func(*options)

type options struct {
	cfg        Config
	normalizer *normalize.Normalizer
	metrics    *observe.Metrics
}

// WithConfig replaces [DefaultConfig].
func WithConfig(cfg Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithNormalizer replaces the default vocabulary normalizer.
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(o *options) { o.normalizer = n }
}

// WithMetrics sets the metric instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(p llm.Provider, opts []Option) (options, error) {
	if p == nil {
		return options{}, ErrNoProvider
	}
	o := options{cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.cfg.Validate(); err != nil {
		return options{}, err
	}
	if o.normalizer == nil {
		o.normalizer = normalize.Default()
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o, nil
}

func stageAttr(s Stage) metric.RecordOption {
	return metric.WithAttributes(observe.Attr("stage", string(s)))
}

// Result is the output of one [Pipeline.Process] call.
type Result struct {
	// Original is the transcript as supplied by the caller.
	Original string

	// Corrected is the diarization-corrected transcript, or Original when
	// correction did not produce an accepted answer.
	Corrected string

	// Note is always fully populated.
	Note soap.Note

	CorrectionOutcome Outcome
	ExtractionOutcome Outcome

	// CorrectionAttempts and ExtractionAttempts count the model calls made
	// by each stage.
	CorrectionAttempts int
	ExtractionAttempts int
}

// Pipeline runs correction followed by extraction on the corrected text.
// It is safe for concurrent use.
type Pipeline struct {
	corrector *Corrector
	extractor *Extractor
	metrics   *observe.Metrics
}

// New creates a [Pipeline] backed by p. Both stages share the same options.
func New(p llm.Provider, opts ...Option) (*Pipeline, error) {
	o, err := buildOptions(p, opts)
	if err != nil {
		return nil, fmt.Errorf("pipeline: new: %w", err)
	}
	return &Pipeline{
		corrector: &Corrector{provider: p, cfg: o.cfg, normalizer: o.normalizer, metrics: o.metrics},
		extractor: &Extractor{provider: p, cfg: o.cfg, normalizer: o.normalizer, metrics: o.metrics},
		metrics:   o.metrics,
	}, nil
}

// Process corrects transcript and extracts a note from the result. The only
// error is a context that is already done before any work starts; all model
// failures are absorbed into the returned outcomes.
func (p *Pipeline) Process(ctx context.Context, transcript string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("pipeline: process: %w", err)
	}

	ctx, span := observe.StartSpan(ctx, "pipeline.process")
	defer span.End()

	p.metrics.ActiveTranscripts.Add(ctx, 1)
	defer p.metrics.ActiveTranscripts.Add(ctx, -1)

	corr := p.corrector.Correct(ctx, transcript)
	ext := p.extractor.Extract(ctx, corr.Text)

	return &Result{
		Original:           transcript,
		Corrected:          corr.Text,
		Note:               ext.Note,
		CorrectionOutcome:  corr.Outcome,
		ExtractionOutcome:  ext.Outcome,
		CorrectionAttempts: corr.Attempts,
		ExtractionAttempts: ext.Attempts,
	}, nil
}
