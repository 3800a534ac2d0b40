// Package transcript models speaker-labelled medical conversation text of the
// form "Doctor: ... Patient: ..." and provides the structural checks the
// correction stage applies before spending a model call.
//
// Roles are a closed set ([Doctor], [Patient]). Role markers are matched
// case-insensitively and may appear anywhere in the text, so both
// line-per-turn transcripts and whitespace-collapsed single-line transcripts
// are understood.
package transcript

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Role identifies the speaker of a turn.
type Role string

const (
	Doctor  Role = "Doctor"
	Patient Role = "Patient"
)

// Turn is one speaker-labelled utterance.
type Turn struct {
	// Role is empty for text that precedes the first role marker.
	Role Role
	Text string
}

// markerRE matches a role marker such as "Doctor:" or "patient :".
var markerRE = regexp.MustCompile(`(?i)\b(doctor|patient)\s*:`)

func roleOf(marker string) Role {
	if strings.HasPrefix(strings.ToLower(marker), "doctor") {
		return Doctor
	}
	return Patient
}

// Parse splits text into turns at every role marker. Utterance text is trimmed;
// empty unlabelled leading text is dropped.
func Parse(text string) []Turn {
	locs := markerRE.FindAllStringSubmatchIndex(text, -1)
	var turns []Turn
	if len(locs) == 0 {
		if t := strings.TrimSpace(text); t != "" {
			turns = append(turns, Turn{Text: t})
		}
		return turns
	}
	if lead := strings.TrimSpace(text[:locs[0][0]]); lead != "" {
		turns = append(turns, Turn{Text: lead})
	}
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		turns = append(turns, Turn{
			Role: roleOf(text[loc[2]:loc[3]]),
			Text: strings.TrimSpace(text[loc[1]:end]),
		})
	}
	return turns
}

// Render formats turns one per line as "<Role>: <text>".
func Render(turns []Turn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		if t.Role != "" {
			b.WriteString(string(t.Role))
			b.WriteString(": ")
		}
		b.WriteString(t.Text)
	}
	return b.String()
}

// StripRoleLabels removes every role marker from text, leaving the spoken
// words only.
func StripRoleLabels(text string) string {
	return markerRE.ReplaceAllString(text, " ")
}

// TurnCounts is the number of role markers per role.
type TurnCounts struct {
	Doctor  int
	Patient int
}

// CountTurns counts role markers in text, case-insensitively.
func CountTurns(text string) TurnCounts {
	var c TurnCounts
	for _, m := range markerRE.FindAllStringSubmatch(text, -1) {
		if roleOf(m[1]) == Doctor {
			c.Doctor++
		} else {
			c.Patient++
		}
	}
	return c
}

// Structural problems reported by [CheckStructure].
var (
	ErrEmpty         = errors.New("transcript: empty transcript")
	ErrMissingLabels = errors.New("transcript: missing speaker labels (Doctor:/Patient:)")
	ErrImbalanced    = errors.New("transcript: imbalanced speakers")
)

// CheckStructure reports why text is not eligible for diarization
// correction, or nil when it is. An eligible transcript is non-blank and
// contains at least one turn for each role. It does not judge whether the
// turns are attributed correctly.
func CheckStructure(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmpty
	}
	c := CountTurns(text)
	if c.Doctor == 0 && c.Patient == 0 {
		return ErrMissingLabels
	}
	if c.Doctor == 0 || c.Patient == 0 {
		return fmt.Errorf("%w: doctor_turns=%d patient_turns=%d", ErrImbalanced, c.Doctor, c.Patient)
	}
	return nil
}

// HasValidStructure reports whether [CheckStructure] accepts text.
func HasValidStructure(text string) bool {
	return CheckStructure(text) == nil
}
