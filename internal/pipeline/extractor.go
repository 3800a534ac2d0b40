package pipeline

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/medscribe/internal/observe"
	"github.com/MrWong99/medscribe/internal/sanitize"
	"github.com/MrWong99/medscribe/internal/transcript/normalize"
	llm "github.com/MrWong99/medscribe/pkg/provider/llm"
	"github.com/MrWong99/medscribe/pkg/soap"
)

// Section quality classes reported on the medscribe.note.sections counter.
const (
	qualityDiscussed    = "discussed"
	qualityNotDiscussed = "not_discussed"
	qualityShort        = "short"
	qualityLong         = "long"
)

// ExtractionResult is the terminal value of an extraction run.
type ExtractionResult struct {
	// Note is always fully populated. It is [soap.EmptyNote] for every
	// outcome other than accepted and salvaged.
	Note soap.Note

	Outcome Outcome

	// Attempts is the number of model calls made.
	Attempts int
}

// Extractor turns a transcript into a four-section SOAP note.
//
// An Extractor holds no mutable state and is safe for concurrent use.
type Extractor struct {
	provider   llm.Provider
	cfg        Config
	normalizer *normalize.Normalizer
	metrics    *observe.Metrics
}

// NewExtractor creates an [Extractor] that calls p.
func NewExtractor(p llm.Provider, opts ...Option) (*Extractor, error) {
	o, err := buildOptions(p, opts)
	if err != nil {
		return nil, err
	}
	return &Extractor{provider: p, cfg: o.cfg, normalizer: o.normalizer, metrics: o.metrics}, nil
}

// Extract runs the extraction state machine over text. It never fails: when
// no usable note can be obtained the all-sentinel note is returned.
func (e *Extractor) Extract(ctx context.Context, text string) ExtractionResult {
	ctx, span := observe.StartSpan(ctx, "pipeline.extraction")
	defer span.End()
	log := observe.Logger(ctx)
	start := time.Now()

	var (
		res        = ExtractionResult{Note: soap.EmptyNote()}
		normalized string
		raw        string
		payload    string
		decoded    map[string]any
		note       soap.Note
		lastErr    error
		state      = StateIdle
	)

	for !extractionTerminal(state) {
		var ev Event
		switch state {
		case StateIdle:
			ev = EventStart
			if strings.TrimSpace(text) == "" {
				log.Warn("pipeline: empty transcript, returning empty note")
				res.Outcome = OutcomeEmptyInput
				ev = EventEmptyInput
			}

		case StateNormalize:
			normalized = normalizeText(ctx, e.normalizer, text)
			ev = EventNormalized

		case StateModelCall:
			res.Attempts++
			content, err := generate(ctx, e.provider, e.cfg, e.metrics, StageExtraction, res.Attempts, soapPrompt(normalized))
			switch {
			case err != nil:
				log.Warn("pipeline: extraction attempt failed", "attempt", res.Attempts, "err", err)
				lastErr = err
				ev = EventTransportError
			case content == "":
				log.Warn("pipeline: empty extraction response", "attempt", res.Attempts)
				lastErr = nil
				ev = EventEmptyResponse
			default:
				raw = content
				ev = EventResponse
			}

		case StateSanitize:
			payload = sanitize.ExtractPayload(raw)
			log.Debug("pipeline: extraction payload", "excerpt", observe.Excerpt(payload, 500))
			ev = EventSanitized

		case StateParse:
			m, err := soap.Decode([]byte(payload))
			if err != nil {
				log.Warn("pipeline: note is not valid JSON, attempting salvage", "attempt", res.Attempts, "err", err)
				ev = EventParseFailed
			} else {
				decoded = m
				ev = EventParsed
			}

		case StateSchemaRepair:
			var repairs []soap.Repair
			note, repairs = soap.Repaired(decoded)
			for _, r := range repairs {
				log.Warn("pipeline: note section repaired", "section", r.Section, "reason", r.Reason)
			}
			res.Outcome = OutcomeAccepted
			ev = EventRepaired

		case StateSalvageAttempt:
			note = soap.Salvage(payload)
			res.Outcome = OutcomeSalvaged
			ev = EventSalvaged

		case StateRetry:
			ev = EventRetry
			if err := ctx.Err(); err != nil {
				lastErr = err
				ev = EventCancelled
			}
		}

		next, ok := nextExtraction(state, ev, res.Attempts, e.cfg.MaxAttempts)
		if !ok {
			log.Error("pipeline: undefined extraction transition", "state", state, "event", ev)
			lastErr = errUndefinedTransition
			next = StateEmptyNoteFallback
		}
		state = next
	}

	if state == StateAccepted {
		res.Note = note
		log.Info("pipeline: note extracted", "attempts", res.Attempts, "outcome", res.Outcome)
		e.reportSections(ctx, note)
	} else if res.Outcome != OutcomeEmptyInput {
		res.Outcome = OutcomeFallbackExhausted
		if lastErr != nil {
			res.Outcome = OutcomeFallbackError
		}
		log.Error("pipeline: note extraction failed, returning empty note",
			"attempts", res.Attempts,
			"outcome", res.Outcome,
			"err", lastErr,
		)
	}

	span.SetAttributes(
		attribute.String("outcome", string(res.Outcome)),
		attribute.Int("attempts", res.Attempts),
	)
	e.metrics.RecordOutcome(ctx, string(StageExtraction), string(res.Outcome))
	e.metrics.StageDuration.Record(ctx, time.Since(start).Seconds(), stageAttr(StageExtraction))
	return res
}

// reportSections logs per-section size and records each section's quality
// class. Short and long sections are advisory only.
func (e *Extractor) reportSections(ctx context.Context, note soap.Note) {
	log := observe.Logger(ctx)
	for _, st := range note.Stats() {
		quality := sectionQuality(st, e.cfg)
		log.Debug("pipeline: note section",
			"section", st.Section,
			"words", st.Words,
			"chars", st.Chars,
			"quality", quality,
		)
		switch quality {
		case qualityNotDiscussed:
			log.Warn("pipeline: note section not discussed", "section", st.Section)
		case qualityShort:
			log.Warn("pipeline: note section is very short", "section", st.Section, "words", st.Words)
		case qualityLong:
			log.Warn("pipeline: note section is unusually long", "section", st.Section, "words", st.Words)
		}
		e.metrics.RecordSection(ctx, string(st.Section), quality)
	}
}

func sectionQuality(st soap.SectionStats, cfg Config) string {
	switch {
	case !st.Discussed:
		return qualityNotDiscussed
	case st.Words < cfg.MinSectionWords:
		return qualityShort
	case st.Words > cfg.MaxSectionWords:
		return qualityLong
	default:
		return qualityDiscussed
	}
}
