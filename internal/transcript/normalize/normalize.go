// Package normalize implements the deterministic cleanup applied to a
// transcript before any model call: whitespace collapsing and correction of
// known speech-recognition errors in medical vocabulary.
//
// Normalization is idempotent. Vocabulary entries that could break this
// (a corrected form containing an error phrase) are rejected by [New], and
// rules are reapplied until the text stops changing so that one correction
// exposing another error phrase is still resolved in a single call.
package normalize

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Entry maps a set of misrecognised phrases to their corrected form.
type Entry struct {
	Correct string
	Errors  []string
}

// DefaultVocabulary returns the built-in medical corrections, in the order
// they are applied.
func DefaultVocabulary() []Entry {
	return []Entry{
		{Correct: "hypertension", Errors: []string{"high pertension", "hyper tension"}},
		{Correct: "diabetes mellitus", Errors: []string{"diabete smellitus", "diabetus", "diabetes mellitas"}},
		{Correct: "myocardial infarction", Errors: []string{"myocardial in fraction"}},
		{Correct: "prescription", Errors: []string{"perscription"}},
		{Correct: "medication", Errors: []string{"mediction"}},
		{Correct: "symptoms", Errors: []string{"simptoms"}},
		{Correct: "diagnosis", Errors: []string{"diagnoses", "diagnosys"}},
	}
}

type rule struct {
	correct string
	phrase  string // lower-cased error phrase
	re      *regexp.Regexp
}

// Normalizer applies whitespace collapsing and vocabulary correction.
// It is immutable after construction and safe for concurrent use.
type Normalizer struct {
	rules []rule
}

// Option configures a [Normalizer].
type Option func(*options)

type options struct {
	noDefaults bool
	extra      []Entry
}

// WithoutDefaults drops the built-in vocabulary.
func WithoutDefaults() Option {
	return func(o *options) { o.noDefaults = true }
}

// WithEntries appends vocabulary entries after the built-in ones.
func WithEntries(entries ...Entry) Option {
	return func(o *options) { o.extra = append(o.extra, entries...) }
}

// WithVocabulary appends a correct -> errors mapping. Keys are applied in
// sorted order so the result does not depend on map iteration.
func WithVocabulary(vocab map[string][]string) Option {
	return func(o *options) {
		keys := make([]string, 0, len(vocab))
		for k := range vocab {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			o.extra = append(o.extra, Entry{Correct: k, Errors: vocab[k]})
		}
	}
}

// New builds a Normalizer. It fails when an entry is blank or when any
// corrected form contains an error phrase of any entry, since applying such a
// vocabulary twice would change the text again.
func New(opts ...Option) (*Normalizer, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	var entries []Entry
	if !o.noDefaults {
		entries = DefaultVocabulary()
	}
	entries = append(entries, o.extra...)

	var errs []error
	var rules []rule
	for _, e := range entries {
		correct := strings.Join(strings.Fields(e.Correct), " ")
		if correct == "" {
			errs = append(errs, fmt.Errorf("normalize: entry with errors %q has empty correct form", e.Errors))
			continue
		}
		for _, phrase := range e.Errors {
			phrase = strings.ToLower(strings.Join(strings.Fields(phrase), " "))
			if phrase == "" {
				errs = append(errs, fmt.Errorf("normalize: %q: empty error phrase", correct))
				continue
			}
			rules = append(rules, rule{
				correct: correct,
				phrase:  phrase,
				re:      regexp.MustCompile(`(?i)` + regexp.QuoteMeta(phrase)),
			})
		}
	}
	for _, r := range rules {
		lc := strings.ToLower(r.correct)
		for _, other := range rules {
			if strings.Contains(lc, other.phrase) {
				errs = append(errs, fmt.Errorf("normalize: correct form %q contains error phrase %q", r.correct, other.phrase))
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &Normalizer{rules: rules}, nil
}

// Default returns a Normalizer with the built-in vocabulary only.
func Default() *Normalizer {
	n, err := New()
	if err != nil {
		panic(err)
	}
	return n
}

// Report describes what a normalization pass did.
type Report struct {
	// Empty is true when the input was blank and returned unchanged.
	Empty bool
	// Replacements counts substitutions per corrected form.
	Replacements map[string]int
}

// Normalize returns the normalized text. See [Normalizer.Apply].
func (n *Normalizer) Normalize(text string) string {
	out, _ := n.Apply(text)
	return out
}

// Apply collapses every whitespace run, newlines included, to one space and
// replaces known error phrases case-insensitively. The rules are applied in
// passes until a pass changes nothing, bounded by one pass per rule plus one.
// Blank input is returned unchanged with Report.Empty set.
func (n *Normalizer) Apply(text string) (string, Report) {
	if strings.TrimSpace(text) == "" {
		return text, Report{Empty: true}
	}

	out := strings.Join(strings.Fields(text), " ")
	var rep Report
	for pass := 0; pass <= len(n.rules); pass++ {
		changed := false
		for _, r := range n.rules {
			if !strings.Contains(strings.ToLower(out), r.phrase) {
				continue
			}
			count := len(r.re.FindAllStringIndex(out, -1))
			out = r.re.ReplaceAllLiteralString(out, r.correct)
			if rep.Replacements == nil {
				rep.Replacements = make(map[string]int)
			}
			rep.Replacements[r.correct] += count
			changed = true
		}
		if !changed {
			break
		}
	}
	return out, rep
}
