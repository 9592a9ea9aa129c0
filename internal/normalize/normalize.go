// Package normalize recovers a usable response envelope from raw backend
// text. Models wrap JSON in markdown fences, emit trailing commas, forget
// commas between objects, or abandon JSON entirely; [Structured] absorbs all
// of that and never returns an error. The worst case is the raw text carried
// through unchanged.
package normalize

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/lorekeep/lorekeep/pkg/types"
)

// Envelope is the structured response shape the narrative backends are asked
// to produce.
type Envelope struct {
	Text     string                   `json:"text"`
	Segments []types.NarrationSegment `json:"segments,omitempty"`
}

// Recovery strategies, recorded on [Result.Strategy] for metrics.
const (
	StrategyDirect  = "direct"
	StrategyPlain   = "plain"
	StrategyRepair  = "json_repair"
	StrategyExtract = "regex_extract"
	StrategyTrim    = "punctuation_trim"
	StrategyRaw     = "raw"
)

// Result is a recovered envelope plus the strategy that produced it.
type Result struct {
	Envelope

	// Strategy names the recovery path taken. [StrategyDirect] and
	// [StrategyPlain] mean no repair was needed.
	Strategy string
}

var (
	trailingCommaRE = regexp.MustCompile(`,\s*([}\]])`)
	missingCommaRE  = regexp.MustCompile(`}(\s*){`)
	colonSpacingRE  = regexp.MustCompile(`"\s+:`)
	textFieldRE     = regexp.MustCompile(`"text"\s*:\s*"((?:[^"\\]|\\.)*)"`)
)

// Structured recovers an [Envelope] from raw backend output. It never fails:
// every malformed input degrades to a plainer strategy, ending at the raw
// text itself.
func Structured(raw string) Result {
	s := stripFences(raw)

	// Plain prose with no envelope in sight is passed through untouched.
	if !strings.Contains(s, "{") || !strings.Contains(s, `"text"`) {
		return Result{Envelope: Envelope{Text: strings.TrimSpace(raw)}, Strategy: StrategyPlain}
	}

	bounded := boundBraces(s)
	if env, ok := parse(bounded); ok {
		return Result{Envelope: env, Strategy: StrategyDirect}
	}
	if env, ok := parse(repair(bounded)); ok {
		return Result{Envelope: env, Strategy: StrategyRepair}
	}
	if text, ok := extractTextField(bounded); ok {
		return Result{Envelope: Envelope{Text: text}, Strategy: StrategyExtract}
	}
	if trimmed := trimPunctuation(s); trimmed != "" {
		return Result{Envelope: Envelope{Text: trimmed}, Strategy: StrategyTrim}
	}
	return Result{Envelope: Envelope{Text: strings.TrimSpace(raw)}, Strategy: StrategyRaw}
}

// stripFences removes optional markdown code fences (```json ... ```) that
// some models prepend and append to JSON output.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}

// boundBraces cuts s down to the first '{' through the last '}', dropping
// any prose the model wrapped around the envelope.
func boundBraces(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}

// repair applies conservative syntax fixes: trailing commas before a closing
// brace or bracket, a missing comma between adjacent objects, whitespace
// between a key's closing quote and its colon, and literal control characters
// inside string values.
func repair(s string) string {
	s = trailingCommaRE.ReplaceAllString(s, "$1")
	s = missingCommaRE.ReplaceAllString(s, "},$1{")
	s = colonSpacingRE.ReplaceAllString(s, `":`)
	return escapeControlChars(s)
}

// escapeControlChars escapes raw newlines and tabs that appear inside JSON
// string literals, which strict parsers reject.
func escapeControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for _, r := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			case r == '\n':
				b.WriteString(`\n`)
				continue
			case r == '\t':
				b.WriteString(`\t`)
				continue
			case r == '\r':
				continue
			}
		} else if r == '"' {
			inString = true
		}
		b.WriteRune(r)
	}
	return b.String()
}

func parse(s string) (Envelope, bool) {
	var env Envelope
	if err := json.Unmarshal([]byte(s), &env); err != nil {
		return Envelope{}, false
	}
	// A parsed envelope with an empty text field but populated segments is
	// still usable: the text is the segments concatenated.
	if env.Text == "" && len(env.Segments) > 0 {
		var b strings.Builder
		for i, seg := range env.Segments {
			if i > 0 {
				b.WriteString(" ")
			}
			b.WriteString(strings.TrimSpace(seg.Text))
		}
		env.Text = b.String()
	}
	if env.Text == "" {
		return Envelope{}, false
	}
	return env, true
}

// extractTextField pulls the "text" value out of an unparseable envelope
// with a regex and unescapes the common sequences.
func extractTextField(s string) (string, bool) {
	m := textFieldRE.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	text := m[1]
	replacer := strings.NewReplacer(
		`\"`, `"`,
		`\n`, "\n",
		`\t`, "\t",
		`\\`, `\`,
	)
	text = strings.TrimSpace(replacer.Replace(text))
	return text, text != ""
}

// trimPunctuation strips surrounding JSON punctuation from text that was
// almost, but not quite, an envelope.
func trimPunctuation(s string) string {
	return strings.TrimSpace(strings.Trim(s, " \t\r\n{}[]\",:"))
}
