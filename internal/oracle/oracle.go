// Package oracle extracts campaign memories and world-state changes from
// turns whose narration carried no side-channel tags.
//
// The extractor makes one dedicated LLM call over the player message and the
// final narration, asking for a strict JSON verdict. Parse failures degrade
// to an empty extraction rather than an error: the oracle runs on the
// side-effect path and must never cost the player their turn.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lorekeep/lorekeep/internal/observe"
	"github.com/lorekeep/lorekeep/pkg/provider/llm"
	"github.com/lorekeep/lorekeep/pkg/types"
)

// extractionPrompt asks for the strict JSON verdict. Kinds and field names
// mirror the world-update tag vocabulary.
const extractionPrompt = `You extract durable campaign facts from one turn of a tabletop RPG session. Given the player's message and the game master's narration, respond with ONLY a JSON object:

{"memories": [{"content": "...", "type": "event|npc|discovery|decision", "importance": 1-10}],
 "world_updates": [{"kind": "npc", "name": "...", "description": "...", "location": "..."},
                   {"kind": "location", "name": "...", "description": "...", "status": "..."},
                   {"kind": "quest", "name": "...", "update": "..."}]}

Record only facts that will matter in later sessions. Both lists may be empty. No prose, no code fences.`

// Extraction is the oracle's parsed verdict.
type Extraction struct {
	Memories    []types.MemoryRecord
	WorldDeltas []types.WorldDelta
}

// Extractor runs the extraction call. Safe for concurrent use.
type Extractor struct {
	provider  llm.Provider
	maxTokens int
}

// Option configures an [Extractor].
type Option func(*Extractor)

// WithMaxTokens caps the verdict size. Defaults to 512.
func WithMaxTokens(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxTokens = n
		}
	}
}

// New creates an Extractor over provider.
func New(provider llm.Provider, opts ...Option) *Extractor {
	e := &Extractor{provider: provider, maxTokens: 512}
	for _, o := range opts {
		o(e)
	}
	return e
}

// wire shapes for the verdict JSON.
type verdict struct {
	Memories     []verdictMemory `json:"memories"`
	WorldUpdates []verdictWorld  `json:"world_updates"`
}

type verdictMemory struct {
	Content    string `json:"content"`
	Type       string `json:"type"`
	Importance int    `json:"importance"`
}

type verdictWorld struct {
	Kind        string `json:"kind"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Status      string `json:"status"`
	Update      string `json:"update"`
}

// Extract runs the extraction call for one turn. A provider failure is
// returned as an error; a malformed verdict is logged and yields an empty
// extraction.
func (e *Extractor) Extract(ctx context.Context, campaignID, sessionID, playerMessage, narration string) (*Extraction, error) {
	user := fmt.Sprintf("PLAYER:\n%s\n\nNARRATION:\n%s", playerMessage, narration)

	resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: extractionPrompt,
		Messages:     []llm.Message{{Role: "user", Content: user}},
		MaxTokens:    e.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("oracle: extraction call: %w", err)
	}

	var v verdict
	if err := json.Unmarshal([]byte(stripFences(resp.Content)), &v); err != nil {
		observe.Logger(ctx).Warn("oracle: unparseable verdict, skipping extraction", "err", err)
		return &Extraction{}, nil
	}

	out := &Extraction{}
	for _, m := range v.Memories {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		out.Memories = append(out.Memories, types.MemoryRecord{
			CampaignID: campaignID,
			SessionID:  sessionID,
			Content:    content,
			Type:       memoryType(m.Type),
			Importance: clampImportance(m.Importance),
		})
	}
	for _, w := range v.WorldUpdates {
		if d, ok := worldDelta(w); ok {
			out.WorldDeltas = append(out.WorldDeltas, d)
		}
	}
	return out, nil
}

func memoryType(t string) string {
	switch t {
	case "event", "npc", "discovery", "decision":
		return t
	}
	return "event"
}

func clampImportance(n int) int {
	if n < 1 {
		return 5
	}
	if n > 10 {
		return 10
	}
	return n
}

// worldDelta validates one verdict entry against the delta vocabulary.
// Entries with an unknown kind or empty name are dropped.
func worldDelta(w verdictWorld) (types.WorldDelta, bool) {
	name := strings.TrimSpace(w.Name)
	if name == "" {
		return types.WorldDelta{}, false
	}
	switch types.WorldDeltaKind(w.Kind) {
	case types.DeltaNPC:
		return types.WorldDelta{Kind: types.DeltaNPC, Name: name, Description: w.Description, Location: w.Location}, true
	case types.DeltaLocation:
		return types.WorldDelta{Kind: types.DeltaLocation, Name: name, Description: w.Description, Status: w.Status}, true
	case types.DeltaQuest:
		if strings.TrimSpace(w.Update) == "" {
			return types.WorldDelta{}, false
		}
		return types.WorldDelta{Kind: types.DeltaQuest, Name: name, Update: w.Update}, true
	}
	return types.WorldDelta{}, false
}

// stripFences removes a wrapping markdown code fence, with or without a
// language tag.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if after, ok := strings.CutPrefix(s, "```json"); ok {
		s = after
	} else if after, ok := strings.CutPrefix(s, "```"); ok {
		s = after
	}
	if before, ok := strings.CutSuffix(strings.TrimSpace(s), "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
