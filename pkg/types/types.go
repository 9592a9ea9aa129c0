// Package types defines the shared types used across all Lorekeep packages.
//
// These types form the lingua franca between the turn service, the backend
// router, the prompt assembler, and the persistence layers. They are
// intentionally minimal — each package defines its own domain types, but
// cross-cutting data structures live here to avoid circular imports.
package types

import "time"

// Role identifies who authored a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Plan is the subscription tier of the requesting player. It gates how often
// the oracle-based memory/world extraction paths run.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// ChatMessage is one prior turn in the conversation history.
type ChatMessage struct {
	// ID is the message's stable identifier (a UUID).
	ID string

	// Role is who authored the message.
	Role Role

	// Content is the full message text.
	Content string

	// Timestamp is when the message was recorded.
	Timestamp time.Time

	// Segments holds the attributed narration spans for assistant messages
	// produced with multi-voice narration. Nil for plain messages.
	Segments []NarrationSegment
}

// GameContext identifies the campaign, character, and session a turn belongs
// to, together with optional free-text summaries injected into the prompt.
type GameContext struct {
	CampaignID  string
	CharacterID string

	// SessionID is empty for turns taken outside a live session.
	SessionID string

	// CampaignDetails is an optional structured summary of the campaign
	// (genre, setting, tone, key NPCs). Keys are rendered in prompt order.
	CampaignDetails map[string]string

	// CharacterDetails describes the acting player character.
	CharacterDetails *CharacterDetails
}

// CharacterDetails is the character-sheet excerpt the prompt assembler needs.
// The full sheet lives in an external data service; only derived-stat inputs
// are carried here.
type CharacterDetails struct {
	Name  string
	Race  string
	Class string
	Level int

	// AbilityScores maps ability name (strength, dexterity, …) to raw score.
	AbilityScores map[string]int

	// SkillProficiencies lists skills the character is proficient in.
	SkillProficiencies []string

	// Description is free-text appearance/backstory.
	Description string
}

// StreamFunc receives incremental response text chunks as they arrive from
// the backend. An abandoned callback does not stop the underlying call.
type StreamFunc func(chunk string)

// TurnRequest is the input to one narrative turn generation.
type TurnRequest struct {
	// Message is the player's input. Empty on the opening turn.
	Message string

	// Context identifies campaign, character, and session.
	Context GameContext

	// History is the ordered prior conversation, oldest first.
	History []ChatMessage

	// OnStream, when non-nil, receives response chunks during generation.
	OnStream StreamFunc

	// Plan gates oracle-based extraction frequency. Empty means ungated.
	Plan Plan

	// TurnCount is the 1-based index of this turn within the session.
	TurnCount int
}

// SegmentType classifies a narration segment.
type SegmentType string

const (
	SegmentNarrator   SegmentType = "narrator"
	SegmentCharacter  SegmentType = "character"
	SegmentTransition SegmentType = "transition"
)

// NarrationSegment is one attributed span of response text. Segments
// concatenated in order must reconstitute the full narrative text.
type NarrationSegment struct {
	Type SegmentType `json:"type"`
	Text string      `json:"text"`

	// Speaker is the named speaking character for character segments.
	Speaker string `json:"speaker,omitempty"`

	// VoiceCategory is the backend-suggested or resolved voice bucket
	// (e.g. "gravelly_male", "ethereal"). Empty until resolved.
	VoiceCategory string `json:"voiceCategory,omitempty"`
}

// RollType enumerates the kinds of dice rolls the DM can request.
type RollType string

const (
	RollSkillCheck RollType = "skill_check"
	RollSave       RollType = "save"
	RollAttack     RollType = "attack"
	RollDamage     RollType = "damage"
	RollInitiative RollType = "initiative"
)

// IsValid reports whether t is a recognised roll type.
func (t RollType) IsValid() bool {
	switch t {
	case RollSkillCheck, RollSave, RollAttack, RollDamage, RollInitiative:
		return true
	}
	return false
}

// RollRequest is a machine-parseable dice-roll request embedded in a turn.
type RollRequest struct {
	// Type is the kind of roll.
	Type RollType `json:"type"`

	// Formula is the dice expression, e.g. "1d20+5".
	Formula string `json:"formula"`

	// Purpose is the human-readable reason, e.g. "Stealth check".
	Purpose string `json:"purpose"`

	// DC is the difficulty class for checks and saves. Nil when no target.
	DC *int `json:"dc,omitempty"`

	// AC is the armor class target for attack rolls. Nil when no target.
	AC *int `json:"ac,omitempty"`

	Advantage    bool `json:"advantage,omitempty"`
	Disadvantage bool `json:"disadvantage,omitempty"`

	// Skill names the skill for skill checks (e.g. "stealth").
	Skill string `json:"skill,omitempty"`

	// Ability names the ability for saves (e.g. "dexterity").
	Ability string `json:"ability,omitempty"`

	// AutoExecute requests that the client roll without player confirmation,
	// on behalf of Actor (an NPC or companion).
	AutoExecute bool   `json:"autoExecute,omitempty"`
	Actor       string `json:"actor,omitempty"`
}

// CombatSnapshot summarises the combat state the heuristic detector reported
// for this turn. Carried on the response so the client can render initiative
// UI without re-detecting.
type CombatSnapshot struct {
	Active     bool     `json:"active"`
	CombatType string   `json:"combatType,omitempty"`
	Enemies    []string `json:"enemies,omitempty"`
}

// TurnResponse is the produced narrative turn.
type TurnResponse struct {
	// Text is the full narrative text with all side-channel blocks stripped.
	Text string

	// Segments is the multi-voice narration breakdown, when present.
	Segments []NarrationSegment

	// RollRequests holds pending dice rolls the player must resolve.
	RollRequests []RollRequest

	// ArtPrompt is a one-line scene description for image generation,
	// when the narration carried one.
	ArtPrompt string

	// Combat is the combat state snapshot, when combat was detected.
	Combat *CombatSnapshot
}

// MemoryRecord is one extracted fact to persist against the campaign.
type MemoryRecord struct {
	SessionID  string
	CampaignID string
	Content    string

	// Type is a coarse category: "event", "npc", "discovery", "decision", …
	Type string

	// Importance is a bounded 1–10 scale used for retrieval ordering.
	Importance int
}

// WorldDeltaKind discriminates the WorldDelta union.
type WorldDeltaKind string

const (
	DeltaNPC      WorldDeltaKind = "npc"
	DeltaLocation WorldDeltaKind = "location"
	DeltaQuest    WorldDeltaKind = "quest"
)

// WorldDelta is a single world-state change extracted from a turn. Exactly
// one of the kind-specific field groups is meaningful, selected by Kind.
type WorldDelta struct {
	Kind WorldDeltaKind

	// Name identifies the NPC, location, or quest.
	Name string

	// Description applies to NPC and location deltas.
	Description string

	// Location is the NPC's whereabouts (NPC deltas only).
	Location string

	// Status applies to location deltas.
	Status string

	// Update applies to quest deltas.
	Update string
}

// TierID identifies one backend fallback tier.
type TierID string

const (
	TierExperimental TierID = "experimental"
	TierSecondary    TierID = "secondary"
	TierPrimary      TierID = "primary"
)

// Outcome classifies one tier attempt for the monitor.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeError    Outcome = "error"
	OutcomeFallback Outcome = "fallback"
)

// BackendOutcome is one observed tier attempt.
type BackendOutcome struct {
	Tier        TierID
	Outcome     Outcome
	Duration    time.Duration
	MessageLen  int
	ResponseLen int

	// ErrorClass is a coarse error label ("quota", "unavailable", …).
	// Empty on success.
	ErrorClass string

	SessionID string
	Timestamp time.Time
}
