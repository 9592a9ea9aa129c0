// Package sidechannel pulls machine-readable markers out of narrative text:
// the versioned roll-request block and the <memories>/<world_updates> tag
// blocks. The two passes are independent and order-insensitive; everything
// extracted is stripped from the returned narrative.
package sidechannel

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"github.com/lorekeep/lorekeep/pkg/types"
)

// RollMarker is the versioned tag on the fenced roll-request block. Bumping
// the version requires a prompt change and a new constant here.
const RollMarker = "ROLL_REQUESTS_V1"

// Extraction is the result of both passes over one narrative.
type Extraction struct {
	// Text is the narrative with all recognised blocks stripped and
	// surrounding whitespace trimmed.
	Text string

	// Rolls holds the validated roll requests, in block order.
	Rolls []types.RollRequest

	// Memories holds the raw bullet contents of the <memories> block.
	Memories []string

	// WorldDeltas holds the parsed <world_updates> lines.
	WorldDeltas []types.WorldDelta

	// ArtPrompt is the payload of the first "ART:" line, a one-line scene
	// description for image generation. All ART lines are stripped.
	ArtPrompt string

	// HadTags reports whether a <memories> or <world_updates> block was
	// present. When false the caller falls back to oracle extraction.
	HadTags bool
}

var (
	rollBlockRE = regexp.MustCompile("(?s)```(?:json[ \t]*\n?)?[ \t]*" + RollMarker + "[ \t]*\n(.*?)```")
	memoriesRE  = regexp.MustCompile(`(?s)<memories>(.*?)</memories>`)
	worldRE     = regexp.MustCompile(`(?s)<world_updates>(.*?)</world_updates>`)
	artRE       = regexp.MustCompile(`(?m)^[ \t]*ART:[ \t]*([^\n]*)\n?`)
)

// Extract runs the roll pass and the tag pass over text.
func Extract(text string) Extraction {
	out := Extraction{}
	rest := text

	rest, out.Rolls = extractRolls(rest)

	if m := memoriesRE.FindStringSubmatch(rest); m != nil {
		out.HadTags = true
		out.Memories = bulletLines(m[1])
		rest = memoriesRE.ReplaceAllString(rest, "")
	}
	if m := worldRE.FindStringSubmatch(rest); m != nil {
		out.HadTags = true
		out.WorldDeltas = parseWorldLines(bulletLines(m[1]))
		rest = worldRE.ReplaceAllString(rest, "")
	}
	if ms := artRE.FindAllStringSubmatch(rest, -1); ms != nil {
		out.ArtPrompt = strings.TrimSpace(ms[0][1])
		rest = artRE.ReplaceAllString(rest, "")
	}

	out.Text = strings.TrimSpace(rest)
	return out
}

// StripSegments removes recognised blocks from per-speaker segments so that
// the segments keep concatenating to the stripped narrative. A segment left
// with no text after stripping is dropped.
func StripSegments(segs []types.NarrationSegment) []types.NarrationSegment {
	out := make([]types.NarrationSegment, 0, len(segs))
	for _, seg := range segs {
		stripped := stripBlocks(seg.Text)
		if stripped == seg.Text {
			out = append(out, seg)
			continue
		}
		stripped = strings.TrimSpace(stripped)
		if stripped == "" {
			continue
		}
		seg.Text = stripped
		out = append(out, seg)
	}
	return out
}

func stripBlocks(s string) string {
	if m := rollBlockRE.FindString(s); m != "" {
		s = strings.Replace(s, m, "", 1)
	}
	s = memoriesRE.ReplaceAllString(s, "")
	s = worldRE.ReplaceAllString(s, "")
	return artRE.ReplaceAllString(s, "")
}

// extractRolls locates the fenced roll block, parses its JSON payload, and
// returns the text with the block removed. A block that fails to parse is
// still stripped; its rolls are simply lost rather than leaking marker text
// to the player.
func extractRolls(text string) (string, []types.RollRequest) {
	m := rollBlockRE.FindStringSubmatch(text)
	if m == nil {
		return text, nil
	}
	stripped := strings.Replace(text, m[0], "", 1)

	var payload struct {
		Rolls []types.RollRequest `json:"rolls"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &payload); err != nil {
		slog.Warn("sidechannel: unparseable roll block dropped", "err", err)
		return stripped, nil
	}

	valid := payload.Rolls[:0]
	for _, r := range payload.Rolls {
		if !r.Type.IsValid() || r.Formula == "" {
			slog.Warn("sidechannel: invalid roll entry dropped", "type", r.Type, "formula", r.Formula)
			continue
		}
		valid = append(valid, r)
	}
	if len(valid) == 0 {
		return stripped, nil
	}
	return stripped, valid
}

// bulletLines returns the contents of every "- " line in block, trimmed.
func bulletLines(block string) []string {
	var out []string
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		content, ok := strings.CutPrefix(line, "- ")
		if !ok {
			continue
		}
		if content = strings.TrimSpace(content); content != "" {
			out = append(out, content)
		}
	}
	return out
}

// parseWorldLines matches each bullet against exactly one of the three line
// shapes. A line missing a required pipe segment is discarded whole.
//
//	npc: Name | Description | Location
//	location: Name | Description | Status
//	quest: Name | Update
func parseWorldLines(lines []string) []types.WorldDelta {
	var out []types.WorldDelta
	for _, line := range lines {
		delta, ok := parseWorldLine(line)
		if !ok {
			slog.Warn("sidechannel: malformed world line dropped", "line", line)
			continue
		}
		out = append(out, delta)
	}
	return out
}

func parseWorldLine(line string) (types.WorldDelta, bool) {
	kind, rest, found := strings.Cut(line, ":")
	if !found {
		return types.WorldDelta{}, false
	}
	parts := splitPipe(rest)

	switch types.WorldDeltaKind(strings.TrimSpace(strings.ToLower(kind))) {
	case types.DeltaNPC:
		if len(parts) != 3 {
			return types.WorldDelta{}, false
		}
		return types.WorldDelta{
			Kind:        types.DeltaNPC,
			Name:        parts[0],
			Description: parts[1],
			Location:    parts[2],
		}, true
	case types.DeltaLocation:
		if len(parts) != 3 {
			return types.WorldDelta{}, false
		}
		return types.WorldDelta{
			Kind:        types.DeltaLocation,
			Name:        parts[0],
			Description: parts[1],
			Status:      parts[2],
		}, true
	case types.DeltaQuest:
		if len(parts) != 2 {
			return types.WorldDelta{}, false
		}
		return types.WorldDelta{
			Kind:   types.DeltaQuest,
			Name:   parts[0],
			Update: parts[1],
		}, true
	}
	return types.WorldDelta{}, false
}

func splitPipe(s string) []string {
	raw := strings.Split(s, "|")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil // empty segment invalidates the whole line
		}
		out = append(out, p)
	}
	return out
}
