package soap

import (
	"encoding/json"
	"regexp"
	"strings"
)

// salvagePatterns match `"<Section>": "<value>"` where value is a JSON string
// body, escapes included.
var salvagePatterns = func() map[Section]*regexp.Regexp {
	m := make(map[Section]*regexp.Regexp, 4)
	for _, s := range Sections() {
		m[s] = regexp.MustCompile(`"` + regexp.QuoteMeta(string(s)) + `"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	}
	return m
}()

// Salvage extracts note sections from malformed model output by matching each
// key/value pair directly. It is a secondary parser for text that failed
// strict JSON decoding. A section with no match gets [Sentinel]; a match with
// a blank or placeholder value is repaired the same way as in
// [ValidateAndRepair].
//
// Salvage cannot fail. A value holding an escape that JSON rejects, such as
// \' from a model quoting an apostrophe, is unescaped leniently instead.
func Salvage(raw string) Note {
	found := make(map[string]any, 4)
	for _, s := range Sections() {
		m := salvagePatterns[s].FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		found[string(s)] = decodeString(m[1])
	}
	return ValidateAndRepair(found)
}

// decodeString decodes a JSON string body. Raw control characters, which
// models often emit inside values, are escaped before decoding. Bodies that
// still do not decode go through [unescapeLenient].
func decodeString(body string) string {
	var v string
	if err := json.Unmarshal([]byte(`"`+controlEscaper.Replace(body)+`"`), &v); err != nil {
		return unescapeLenient(body)
	}
	return v
}

var controlEscaper = strings.NewReplacer("\n", `\n`, "\r", `\r`, "\t", `\t`)

// unescapeLenient resolves \" \\ \n \r and \t and drops the backslash of any
// other escape, keeping the character after it.
func unescapeLenient(body string) string {
	var b strings.Builder
	b.Grow(len(body))
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' || i+1 == len(body) {
			b.WriteByte(c)
			continue
		}
		i++
		switch body[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		default:
			b.WriteByte(body[i])
		}
	}
	return b.String()
}
