package pipeline

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/medscribe/internal/observe"
	"github.com/MrWong99/medscribe/internal/sanitize"
	"github.com/MrWong99/medscribe/internal/transcript"
	"github.com/MrWong99/medscribe/internal/transcript/normalize"
	"github.com/MrWong99/medscribe/internal/transcript/verify"
	llm "github.com/MrWong99/medscribe/pkg/provider/llm"
)

// CorrectionResult is the terminal value of a correction run.
type CorrectionResult struct {
	// Text is the accepted model output, or the unmodified input transcript
	// for every other outcome.
	Text string

	Outcome Outcome

	// Attempts is the number of model calls made.
	Attempts int

	// Diagnostic is set when the model output was rejected for altering the
	// words of the transcript.
	Diagnostic *verify.Diagnostic
}

// Corrector fixes speaker attribution in a transcript by asking the model to
// move words across turn boundaries, and accepts the answer only when the
// ordered word sequence is unchanged.
//
// A Corrector holds no mutable state and is safe for concurrent use.
type Corrector struct {
	provider   llm.Provider
	cfg        Config
	normalizer *normalize.Normalizer
	metrics    *observe.Metrics
}

// NewCorrector creates a [Corrector] that calls p.
func NewCorrector(p llm.Provider, opts ...Option) (*Corrector, error) {
	o, err := buildOptions(p, opts)
	if err != nil {
		return nil, err
	}
	return &Corrector{provider: p, cfg: o.cfg, normalizer: o.normalizer, metrics: o.metrics}, nil
}

// Correct runs the correction state machine over text. It never fails: every
// problem with the model or its output degrades to returning text unchanged.
// A cancelled ctx stops further attempts.
func (c *Corrector) Correct(ctx context.Context, text string) CorrectionResult {
	ctx, span := observe.StartSpan(ctx, "pipeline.correction")
	defer span.End()
	log := observe.Logger(ctx)
	start := time.Now()

	var (
		res        = CorrectionResult{Text: text}
		normalized string
		raw        string
		candidate  string
		lastErr    error
		state      = StateIdle
	)

	for !correctionTerminal(state) {
		var ev Event
		switch state {
		case StateIdle:
			ev = EventStart
			if strings.TrimSpace(text) == "" {
				log.Warn("pipeline: empty transcript, skipping correction")
				res.Outcome = OutcomeEmptyInput
				ev = EventEmptyInput
			}

		case StateStructuralCheck:
			ev = EventStructureOK
			if err := transcript.CheckStructure(text); err != nil {
				log.Warn("pipeline: transcript lacks speaker structure, skipping correction", "reason", err)
				res.Outcome = OutcomeSkipped
				ev = EventStructureInvalid
			} else {
				log.Debug("pipeline: transcript structure valid")
			}

		case StateNormalize:
			normalized = normalizeText(ctx, c.normalizer, text)
			log.Debug("pipeline: normalized transcript", "excerpt", observe.Excerpt(normalized, 300))
			ev = EventNormalized

		case StateModelCall:
			res.Attempts++
			content, err := generate(ctx, c.provider, c.cfg, c.metrics, StageCorrection, res.Attempts, correctionPrompt(normalized))
			switch {
			case err != nil:
				log.Warn("pipeline: correction attempt failed", "attempt", res.Attempts, "err", err)
				lastErr = err
				ev = EventTransportError
			case content == "":
				log.Warn("pipeline: empty correction response", "attempt", res.Attempts)
				lastErr = nil
				ev = EventEmptyResponse
			default:
				raw = content
				ev = EventResponse
			}

		case StateSanitize:
			candidate = raw
			if sanitize.HasFence(raw) {
				candidate = sanitize.StripFences(raw)
			}
			candidate = strings.TrimSpace(candidate)
			ev = EventSanitized

		case StateWordCheck:
			ok, diag := verify.PreservesWords(normalized, candidate)
			if ok {
				res.Outcome = OutcomeAccepted
				ev = EventWordsPreserved
			} else {
				log.Warn("pipeline: correction changed transcript words, using original",
					"attempt", res.Attempts,
					"missing", len(diag.Missing),
					"added", len(diag.Added),
					"order_only", diag.OrderOnly,
				)
				log.Debug("pipeline: word preservation diagnostic", "diagnostic", diag.String())
				res.Outcome = OutcomeFallbackWordMismatch
				res.Diagnostic = &diag
				ev = EventWordsChanged
			}

		case StateRetry:
			ev = EventRetry
			if err := ctx.Err(); err != nil {
				lastErr = err
				ev = EventCancelled
			}
		}

		next, ok := nextCorrection(state, ev, res.Attempts, c.cfg.MaxAttempts)
		if !ok {
			log.Error("pipeline: undefined correction transition", "state", state, "event", ev)
			lastErr = errUndefinedTransition
			next = StateFallback
		}
		state = next
	}

	switch state {
	case StateAccepted:
		res.Text = candidate
		before, after := transcript.CountTurns(text), transcript.CountTurns(candidate)
		log.Info("pipeline: correction accepted",
			"attempts", res.Attempts,
			"doctor_turns_before", before.Doctor,
			"patient_turns_before", before.Patient,
			"doctor_turns_after", after.Doctor,
			"patient_turns_after", after.Patient,
		)
	case StateFallback:
		if res.Outcome == "" {
			res.Outcome = OutcomeFallbackExhausted
			if lastErr != nil {
				res.Outcome = OutcomeFallbackError
			}
			log.Warn("pipeline: correction fell back to original transcript",
				"attempts", res.Attempts,
				"outcome", res.Outcome,
				"err", lastErr,
			)
		}
	}

	span.SetAttributes(
		attribute.String("outcome", string(res.Outcome)),
		attribute.Int("attempts", res.Attempts),
	)
	c.metrics.RecordOutcome(ctx, string(StageCorrection), string(res.Outcome))
	c.metrics.StageDuration.Record(ctx, time.Since(start).Seconds(), stageAttr(StageCorrection))
	return res
}
