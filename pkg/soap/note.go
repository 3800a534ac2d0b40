// Package soap defines the four-section clinical note produced by the
// extraction stage, together with the schema repair and salvage parsers that
// turn untrusted model output into a fully populated [Note].
//
// A [Note] is a fixed-shape record: every section is always present, and a
// section without extractable content carries [Sentinel]. Nothing in this
// package returns a partially populated note.
package soap

import (
	"encoding/json"
	"strings"
)

// Sentinel is the canonical placeholder for a section with no content.
const Sentinel = "Not discussed"

// Section names one of the four note sections. The string value is the JSON
// key used by the model and by persisted records.
type Section string

const (
	Subjective Section = "Subjective"
	Objective  Section = "Objective"
	Assessment Section = "Assessment"
	Plan       Section = "Plan"
)

// Sections returns the four sections in their canonical order.
func Sections() []Section {
	return []Section{Subjective, Objective, Assessment, Plan}
}

// Note is a structured SOAP note.
type Note struct {
	Subjective string `json:"Subjective"`
	Objective  string `json:"Objective"`
	Assessment string `json:"Assessment"`
	Plan       string `json:"Plan"`
}

// EmptyNote returns the note with every section set to [Sentinel].
func EmptyNote() Note {
	return Note{
		Subjective: Sentinel,
		Objective:  Sentinel,
		Assessment: Sentinel,
		Plan:       Sentinel,
	}
}

// Get returns the text of section s. Unknown sections return "".
func (n Note) Get(s Section) string {
	switch s {
	case Subjective:
		return n.Subjective
	case Objective:
		return n.Objective
	case Assessment:
		return n.Assessment
	case Plan:
		return n.Plan
	}
	return ""
}

// set assigns v to section s. Unknown sections are ignored.
func (n *Note) set(s Section, v string) {
	switch s {
	case Subjective:
		n.Subjective = v
	case Objective:
		n.Objective = v
	case Assessment:
		n.Assessment = v
	case Plan:
		n.Plan = v
	}
}

// IsEmpty reports whether every section holds [Sentinel].
func (n Note) IsEmpty() bool {
	for _, s := range Sections() {
		if n.Get(s) != Sentinel {
			return false
		}
	}
	return true
}

// Map returns the note as a key/value mapping with exactly four keys.
func (n Note) Map() map[string]string {
	m := make(map[string]string, 4)
	for _, s := range Sections() {
		m[string(s)] = n.Get(s)
	}
	return m
}

// SectionStats describes the size of one section's text.
type SectionStats struct {
	Section Section
	Words   int
	Chars   int
	// Discussed is false when the section holds [Sentinel].
	Discussed bool
}

// Stats returns per-section word and character counts in canonical order.
func (n Note) Stats() []SectionStats {
	out := make([]SectionStats, 0, 4)
	for _, s := range Sections() {
		v := n.Get(s)
		out = append(out, SectionStats{
			Section:   s,
			Words:     len(strings.Fields(v)),
			Chars:     len(v),
			Discussed: v != Sentinel,
		})
	}
	return out
}

// ShortSections returns the discussed sections whose word count is below
// minWords. The result is advisory; short sections are never repaired.
func (n Note) ShortSections(minWords int) []Section {
	var short []Section
	for _, st := range n.Stats() {
		if st.Discussed && st.Words < minWords {
			short = append(short, st.Section)
		}
	}
	return short
}

// Decode strictly parses data as a JSON object. It fails for malformed JSON
// and for any JSON value that is not an object.
func Decode(data []byte) (map[string]any, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errNotObject
	}
	return raw, nil
}

// ParseJSON decodes a strict JSON object and repairs it into a [Note] via
// [ValidateAndRepair].
func ParseJSON(data []byte) (Note, error) {
	raw, err := Decode(data)
	if err != nil {
		return Note{}, err
	}
	return ValidateAndRepair(raw), nil
}
