package soap

import (
	"errors"
	"strings"
)

var errNotObject = errors.New("soap: payload is not a JSON object")

// placeholders are low-information values treated as absent, compared after
// trimming and case folding.
var placeholders = map[string]struct{}{
	"n/a":  {},
	"na":   {},
	"none": {},
}

// Repair records a section that [Repaired] replaced with [Sentinel].
type Repair struct {
	Section Section
	// Reason is one of "missing", "not a string", "empty" or "placeholder".
	Reason string
}

// ValidateAndRepair turns a decoded model payload into a fully populated
// [Note]. For each section in canonical order, the sentinel replaces a value
// that is absent, not a string, blank after trimming, or a placeholder such as
// "N/A". Accepted values are kept as the model wrote them. Extra keys are
// ignored.
func ValidateAndRepair(candidate map[string]any) Note {
	n, _ := Repaired(candidate)
	return n
}

// Repaired is [ValidateAndRepair] that also reports which sections were
// replaced and why.
func Repaired(candidate map[string]any) (Note, []Repair) {
	var (
		n       Note
		repairs []Repair
	)
	for _, s := range Sections() {
		v, reason := repairValue(candidate, s)
		if reason != "" {
			repairs = append(repairs, Repair{Section: s, Reason: reason})
		}
		n.set(s, v)
	}
	return n, repairs
}

func repairValue(candidate map[string]any, s Section) (string, string) {
	raw, ok := candidate[string(s)]
	if !ok {
		return Sentinel, "missing"
	}
	str, ok := raw.(string)
	if !ok {
		return Sentinel, "not a string"
	}
	trimmed := strings.TrimSpace(str)
	if trimmed == "" {
		return Sentinel, "empty"
	}
	if _, ok := placeholders[strings.ToLower(trimmed)]; ok {
		return Sentinel, "placeholder"
	}
	return str, ""
}
