// Package sanitize strips the markdown wrapping language models put around
// structured answers and extracts the embedded JSON payload.
//
// Nothing here fails: text without a recognisable payload is returned trimmed
// and the parser downstream decides what to do with it.
package sanitize

import (
	"regexp"
	"strings"
)

const fence = "```"

// taggedFenceRE matches a fenced block whose opening marker carries a
// language tag, e.g. ```json. The opening marker must start a line and the
// closing marker must end one, so backticks inside a value are not taken
// for a fence. The interior is captured without the whitespace adjacent to
// the markers.
var taggedFenceRE = regexp.MustCompile("(?ms)^[ \t]*```[A-Za-z0-9_+-]+\\s*(.*?)\\s*```[ \t]*$")

// HasFence reports whether text contains a fence marker anywhere.
func HasFence(text string) bool {
	return strings.Contains(text, fence)
}

// ExtractPayload returns the candidate JSON payload inside raw.
//
// The text is trimmed. A language-tagged fenced block yields its interior.
// Otherwise a leading generic fence line, and a trailing fence line if
// present, are removed. Finally, when the remainder contains a brace, the
// span from the first "{" to the last "}" is returned so surrounding prose
// is dropped.
func ExtractPayload(raw string) string {
	text := strings.TrimSpace(raw)

	if m := taggedFenceRE.FindStringSubmatch(text); m != nil {
		text = m[1]
	} else if strings.HasPrefix(text, fence) {
		text = stripGenericFence(text)
	}

	if start := strings.IndexByte(text, '{'); start >= 0 {
		if end := strings.LastIndexByte(text, '}'); end > start {
			return text[start : end+1]
		}
	}
	return text
}

// StripFences removes fence lines around plain text answers, such as a
// corrected transcript the model wrapped in a code block. Unlike
// [ExtractPayload] it never narrows to a brace span.
func StripFences(raw string) string {
	text := strings.TrimSpace(raw)
	if m := taggedFenceRE.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if strings.HasPrefix(text, fence) {
		return strings.TrimSpace(stripGenericFence(text))
	}
	return text
}

// stripGenericFence drops the opening fence line and a closing fence line.
func stripGenericFence(text string) string {
	lines := strings.Split(text, "\n")
	lines = lines[1:]
	if n := len(lines); n > 0 && strings.TrimSpace(lines[n-1]) == fence {
		lines = lines[:n-1]
	}
	return strings.Join(lines, "\n")
}
