package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/medscribe/internal/observe"
	"github.com/MrWong99/medscribe/internal/transcript/normalize"
	llm "github.com/MrWong99/medscribe/pkg/provider/llm"
)

// Attempt statuses reported on the medscribe.pipeline.attempts counter.
const (
	attemptOK    = "ok"
	attemptEmpty = "empty_response"
	attemptError = "error"
)

// generate performs one model call for the given stage. A nil or
// whitespace-only response is reported as an empty answer.
func generate(ctx context.Context, p llm.Provider, cfg Config, m *observe.Metrics, stage Stage, attempt int, prompt string) (string, error) {
	ctx, span := observe.StartSpan(ctx, "pipeline."+string(stage)+".attempt",
		trace.WithAttributes(attribute.Int("attempt", attempt)),
	)
	defer span.End()

	start := time.Now()
	resp, err := p.Complete(ctx, llm.CompletionRequest{
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxOutputTokens,
	})
	elapsed := time.Since(start).Seconds()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.RecordAttempt(ctx, string(stage), attemptError, elapsed)
		return "", fmt.Errorf("pipeline: %s attempt %d: %w", stage, attempt, err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		m.RecordAttempt(ctx, string(stage), attemptEmpty, elapsed)
		return "", nil
	}
	span.SetAttributes(
		attribute.Int("llm.prompt_tokens", resp.Usage.PromptTokens),
		attribute.Int("llm.completion_tokens", resp.Usage.CompletionTokens),
	)
	m.RecordAttempt(ctx, string(stage), attemptOK, elapsed)
	return resp.Content, nil
}

// normalizeText runs n over text and logs the vocabulary corrections it made.
func normalizeText(ctx context.Context, n *normalize.Normalizer, text string) string {
	out, rep := n.Apply(text)
	if len(rep.Replacements) > 0 {
		observe.Logger(ctx).Debug("pipeline: vocabulary corrections applied", "replacements", rep.Replacements)
	}
	return out
}
