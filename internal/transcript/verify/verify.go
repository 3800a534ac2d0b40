// Package verify checks that a model-corrected transcript kept every spoken
// word of its input, in order. Diarization correction may move words across a
// speaker boundary and re-label turns; it must never add, drop, alter, or
// reorder words.
package verify

import (
	"regexp"
	"sort"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/medscribe/internal/transcript"
)

// substitutionThreshold is the minimum Jaro-Winkler similarity for a
// missing/added token pair to be reported as a likely substitution.
const substitutionThreshold = 0.85

var tokenRE = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// Tokens returns the word tokens of text: role labels removed, case-folded,
// punctuation discarded. Numbers are compared literally ("7" != "seven").
func Tokens(text string) []string {
	return tokenRE.FindAllString(strings.ToLower(transcript.StripRoleLabels(text)), -1)
}

// Change is a contiguous region where the two token sequences differ.
type Change struct {
	Original  []string
	Corrected []string
}

// Substitution pairs a dropped token with a similar inserted one, which
// usually means the model "fixed" a word it should have left alone.
type Substitution struct {
	From       string
	To         string
	Similarity float64
}

// Diagnostic explains a failed check. It is the zero value when the check
// passes.
type Diagnostic struct {
	// Missing lists tokens present only in the original, sorted.
	Missing []string
	// Added lists tokens present only in the corrected text, sorted.
	Added []string
	// OrderOnly is true when both sides hold the same tokens with the same
	// counts but in a different order.
	OrderOnly bool
	// Changes lists the differing regions, aligned on the longest common
	// token subsequence. It is nil when the region between the common
	// prefix and suffix is too large to align.
	Changes []Change
	// Substitutions holds likely one-for-one word replacements.
	Substitutions []Substitution

	OriginalTokens  int
	CorrectedTokens int
}

// String renders a compact single-line summary for logs.
func (d Diagnostic) String() string {
	var b strings.Builder
	b.WriteString("missing=[")
	b.WriteString(strings.Join(d.Missing, " "))
	b.WriteString("] added=[")
	b.WriteString(strings.Join(d.Added, " "))
	b.WriteString("]")
	if d.OrderOnly {
		b.WriteString(" order_only")
	}
	for _, s := range d.Substitutions {
		b.WriteString(" ")
		b.WriteString(s.From)
		b.WriteString("->")
		b.WriteString(s.To)
	}
	return b.String()
}

// PreservesWords reports whether corrected has exactly the token sequence of
// original. On mismatch the returned Diagnostic describes the difference.
func PreservesWords(original, corrected string) (bool, Diagnostic) {
	orig := Tokens(original)
	corr := Tokens(corrected)
	if equal(orig, corr) {
		return true, Diagnostic{}
	}

	d := Diagnostic{
		OriginalTokens:  len(orig),
		CorrectedTokens: len(corr),
	}
	d.Missing, d.Added = setDifference(orig, corr)
	d.OrderOnly = sameMultiset(orig, corr)
	d.Changes = diffTokens(orig, corr)
	d.Substitutions = likelySubstitutions(d.Missing, d.Added)
	return false, d
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func setDifference(a, b []string) (onlyA, onlyB []string) {
	inA := make(map[string]struct{}, len(a))
	for _, t := range a {
		inA[t] = struct{}{}
	}
	inB := make(map[string]struct{}, len(b))
	for _, t := range b {
		inB[t] = struct{}{}
	}
	for t := range inA {
		if _, ok := inB[t]; !ok {
			onlyA = append(onlyA, t)
		}
	}
	for t := range inB {
		if _, ok := inA[t]; !ok {
			onlyB = append(onlyB, t)
		}
	}
	sort.Strings(onlyA)
	sort.Strings(onlyB)
	return onlyA, onlyB
}

func sameMultiset(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, t := range a {
		counts[t]++
	}
	for _, t := range b {
		counts[t]--
		if counts[t] < 0 {
			return false
		}
	}
	return true
}

// likelySubstitutions pairs each missing token with its most similar added
// token, keeping pairs above substitutionThreshold.
func likelySubstitutions(missing, added []string) []Substitution {
	var subs []Substitution
	for _, m := range missing {
		best := Substitution{From: m}
		for _, a := range added {
			if s := matchr.JaroWinkler(m, a, false); s > best.Similarity {
				best.To = a
				best.Similarity = s
			}
		}
		if best.Similarity >= substitutionThreshold {
			subs = append(subs, best)
		}
	}
	return subs
}
