package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	llm "github.com/MrWong99/medscribe/pkg/provider/llm"
	"github.com/MrWong99/medscribe/pkg/provider/llm/mock"
)

var errTransport = errors.New("transport failure")

// afterCall wraps a provider and runs hook after every Complete call.
type afterCall struct {
	llm.Provider
	hook func()
}

func (a *afterCall) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := a.Provider.Complete(ctx, req)
	a.hook()
	return resp, err
}

func newCorrector(t *testing.T, p llm.Provider, opts ...Option) *Corrector {
	t.Helper()
	c, err := NewCorrector(p, opts...)
	if err != nil {
		t.Fatalf("NewCorrector: %v", err)
	}
	return c
}

func TestCorrect_Scenarios(t *testing.T) {
	t.Parallel()

	const (
		movedInput = "Doctor: Good morning, what brings you in today? I've Patient: been having chest pain for three days."
		movedFixed = "Doctor: Good morning, what brings you in today?\nPatient: I've been having chest pain for three days."
		howInput   = "Doctor: How severe is the pain? Patient: About 7."
	)

	tests := []struct {
		name         string
		input        string
		script       []mock.Reply
		wantText     string
		wantOutcome  Outcome
		wantAttempts int
	}{
		{
			name:         "empty input",
			input:        "   \n\t",
			wantText:     "   \n\t",
			wantOutcome:  OutcomeEmptyInput,
			wantAttempts: 0,
		},
		{
			name:         "missing patient role",
			input:        "Doctor: How are you feeling today?",
			wantText:     "Doctor: How are you feeling today?",
			wantOutcome:  OutcomeSkipped,
			wantAttempts: 0,
		},
		{
			name:         "no markers",
			input:        "just some words",
			wantText:     "just some words",
			wantOutcome:  OutcomeSkipped,
			wantAttempts: 0,
		},
		{
			name:         "echo is accepted unchanged",
			input:        "Doctor: Hello. Patient: Hi.",
			script:       []mock.Reply{{Content: "Doctor: Hello. Patient: Hi."}},
			wantText:     "Doctor: Hello. Patient: Hi.",
			wantOutcome:  OutcomeAccepted,
			wantAttempts: 1,
		},
		{
			name:         "moved word across boundary",
			input:        movedInput,
			script:       []mock.Reply{{Content: movedFixed}},
			wantText:     movedFixed,
			wantOutcome:  OutcomeAccepted,
			wantAttempts: 1,
		},
		{
			name:         "fenced answer is unwrapped",
			input:        movedInput,
			script:       []mock.Reply{{Content: "```\n" + movedFixed + "\n```"}},
			wantText:     movedFixed,
			wantOutcome:  OutcomeAccepted,
			wantAttempts: 1,
		},
		{
			name:         "dropped word falls back without retry",
			input:        howInput,
			script:       []mock.Reply{{Content: "Doctor: severe is the pain? Patient: About 7."}, {Content: howInput}},
			wantText:     howInput,
			wantOutcome:  OutcomeFallbackWordMismatch,
			wantAttempts: 1,
		},
		{
			name:         "reordered words fall back",
			input:        howInput,
			script:       []mock.Reply{{Content: "Doctor: How is the severe pain? Patient: About 7."}},
			wantText:     howInput,
			wantOutcome:  OutcomeFallbackWordMismatch,
			wantAttempts: 1,
		},
		{
			name:         "empty response is retried",
			input:        howInput,
			script:       []mock.Reply{{Content: ""}, {Content: howInput}},
			wantText:     howInput,
			wantOutcome:  OutcomeAccepted,
			wantAttempts: 2,
		},
		{
			name:         "whitespace response counts as empty",
			input:        howInput,
			script:       []mock.Reply{{Content: " \n "}, {Content: howInput}},
			wantText:     howInput,
			wantOutcome:  OutcomeAccepted,
			wantAttempts: 2,
		},
		{
			name:         "transport error is retried",
			input:        howInput,
			script:       []mock.Reply{{Err: errTransport}, {Content: howInput}},
			wantText:     howInput,
			wantOutcome:  OutcomeAccepted,
			wantAttempts: 2,
		},
		{
			name:         "error on final attempt",
			input:        howInput,
			script:       []mock.Reply{{Content: ""}, {Err: errTransport}},
			wantText:     howInput,
			wantOutcome:  OutcomeFallbackError,
			wantAttempts: 2,
		},
		{
			name:         "all attempts empty",
			input:        howInput,
			script:       []mock.Reply{{Content: ""}, {Content: ""}, {Content: howInput}},
			wantText:     howInput,
			wantOutcome:  OutcomeFallbackExhausted,
			wantAttempts: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := &mock.Provider{Script: tt.script}
			res := newCorrector(t, p).Correct(context.Background(), tt.input)

			if res.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", res.Text, tt.wantText)
			}
			if res.Outcome != tt.wantOutcome {
				t.Errorf("Outcome = %q, want %q", res.Outcome, tt.wantOutcome)
			}
			if res.Attempts != tt.wantAttempts {
				t.Errorf("Attempts = %d, want %d", res.Attempts, tt.wantAttempts)
			}
			if got := p.Calls(); got != tt.wantAttempts {
				t.Errorf("model calls = %d, want %d", got, tt.wantAttempts)
			}
		})
	}
}

func TestCorrect_WordMismatchDiagnostic(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Script: []mock.Reply{{Content: "Doctor: severe is the pain? Patient: About 7."}}}
	res := newCorrector(t, p).Correct(context.Background(), "Doctor: How severe is the pain? Patient: About 7.")

	if res.Diagnostic == nil {
		t.Fatal("Diagnostic = nil, want non-nil")
	}
	if len(res.Diagnostic.Missing) != 1 || res.Diagnostic.Missing[0] != "how" {
		t.Errorf("Missing = %v, want [how]", res.Diagnostic.Missing)
	}
	if len(res.Diagnostic.Added) != 0 {
		t.Errorf("Added = %v, want none", res.Diagnostic.Added)
	}
}

func TestCorrect_RequestShape(t *testing.T) {
	t.Parallel()

	input := "Doctor:   How is the\nhigh pertension?   Patient: Better."
	p := &mock.Provider{Script: []mock.Reply{{Content: "x"}}}
	newCorrector(t, p).Correct(context.Background(), input)

	if len(p.CompleteCalls) != 1 {
		t.Fatalf("CompleteCalls = %d, want 1", len(p.CompleteCalls))
	}
	req := p.CompleteCalls[0].Req
	if req.Temperature != 0 {
		t.Errorf("Temperature = %g, want 0", req.Temperature)
	}
	if req.MaxTokens != 4096 {
		t.Errorf("MaxTokens = %d, want 4096", req.MaxTokens)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
		t.Fatalf("Messages = %+v, want one user message", req.Messages)
	}
	prompt := req.Messages[0].Content
	if !strings.Contains(prompt, "Doctor: How is the hypertension? Patient: Better.") {
		t.Errorf("prompt does not carry the normalized transcript:\n%s", prompt)
	}
	if !strings.HasSuffix(prompt, "### Corrected Transcript:\n") {
		t.Error("prompt does not end with the answer header")
	}
}

func TestCorrect_ChecksAgainstNormalizedInput(t *testing.T) {
	t.Parallel()

	// The model sees the normalized text, so an answer using the corrected
	// vocabulary preserves every word.
	input := "Doctor: Any new simptoms? Patient: No."
	p := &mock.Provider{Script: []mock.Reply{{Content: "Doctor: Any new symptoms?\nPatient: No."}}}
	res := newCorrector(t, p).Correct(context.Background(), input)

	if res.Outcome != OutcomeAccepted {
		t.Fatalf("Outcome = %q, want %q", res.Outcome, OutcomeAccepted)
	}
}

func TestCorrect_StopsWhenCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inner := &mock.Provider{Script: []mock.Reply{{Content: ""}, {Content: "Doctor: Hi. Patient: Hello."}}}
	p := &afterCall{Provider: inner, hook: cancel}
	res := newCorrector(t, p).Correct(ctx, "Doctor: Hi. Patient: Hello.")

	if res.Outcome != OutcomeFallbackError {
		t.Errorf("Outcome = %q, want %q", res.Outcome, OutcomeFallbackError)
	}
	if got := inner.Calls(); got != 1 {
		t.Errorf("model calls = %d, want 1", got)
	}
	if res.Text != "Doctor: Hi. Patient: Hello." {
		t.Errorf("Text = %q, want original", res.Text)
	}
}

func TestCorrect_MaxAttemptsFromConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MaxAttempts = 3
	p := &mock.Provider{}
	res := newCorrector(t, p, WithConfig(cfg)).Correct(context.Background(), "Doctor: Hi. Patient: Hello.")

	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}
	if res.Outcome != OutcomeFallbackExhausted {
		t.Errorf("Outcome = %q, want %q", res.Outcome, OutcomeFallbackExhausted)
	}
}

// captureLogs routes the default logger into a JSON buffer and installs an
// SDK tracer provider so spans carry real trace IDs.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	origLog := slog.Default()
	origTP := otel.GetTracerProvider()
	tp := sdktrace.NewTracerProvider()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		slog.SetDefault(origLog)
		otel.SetTracerProvider(origTP)
		_ = tp.Shutdown(context.Background())
	})
	return &buf
}

// findLog returns the first JSON log record with the given message.
func findLog(t *testing.T, buf *bytes.Buffer, msg string) map[string]any {
	t.Helper()
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("decode log line %q: %v", line, err)
		}
		if rec["msg"] == msg {
			return rec
		}
	}
	t.Fatalf("no log record %q in:\n%s", msg, buf.String())
	return nil
}

func TestCorrect_SkipLogCarriesTraceID(t *testing.T) {
	buf := captureLogs(t)
	p := &mock.Provider{}
	c := newCorrector(t, p)

	res := c.Correct(context.Background(), "Doctor: Hello?\nDoctor: Can you hear me?")
	if res.Outcome != OutcomeSkipped {
		t.Fatalf("outcome = %q, want %q", res.Outcome, OutcomeSkipped)
	}

	rec := findLog(t, buf, "pipeline: transcript lacks speaker structure, skipping correction")
	if id, _ := rec["trace_id"].(string); len(id) != 32 {
		t.Errorf("trace_id = %v, want a 32 char hex id", rec["trace_id"])
	}
	reason, _ := rec["reason"].(string)
	if !strings.Contains(reason, "imbalanced speakers") || !strings.Contains(reason, "doctor_turns=2") {
		t.Errorf("reason = %q, want imbalanced speakers with turn counts", reason)
	}
}

func TestCorrect_VocabularyLogCarriesTraceID(t *testing.T) {
	buf := captureLogs(t)
	const in = "Doctor: Any simptoms? Patient: Just my high pertension."
	p := &mock.Provider{Script: []mock.Reply{{Content: "Doctor: Any symptoms?\nPatient: Just my hypertension."}}}
	c := newCorrector(t, p)

	res := c.Correct(context.Background(), in)
	if res.Outcome != OutcomeAccepted {
		t.Fatalf("outcome = %q, want %q", res.Outcome, OutcomeAccepted)
	}

	rec := findLog(t, buf, "pipeline: vocabulary corrections applied")
	if id, _ := rec["trace_id"].(string); len(id) != 32 {
		t.Errorf("trace_id = %v, want a 32 char hex id", rec["trace_id"])
	}
	reps, _ := rec["replacements"].(map[string]any)
	if reps["hypertension"] != float64(1) || reps["symptoms"] != float64(1) {
		t.Errorf("replacements = %v, want one hypertension and one symptoms", rec["replacements"])
	}
}
