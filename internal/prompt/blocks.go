package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lorekeep/lorekeep/internal/combat"
	"github.com/lorekeep/lorekeep/internal/sidechannel"
	"github.com/lorekeep/lorekeep/pkg/types"
)

// ─────────────────────────────────────────────────────────────────────────────
// System prompt blocks
// ─────────────────────────────────────────────────────────────────────────────

// personaBlock is the static opening block. It establishes the narrator role
// and the table rules that apply on every turn.
const personaBlock = `You are an expert Dungeon Master running a Dungeons & Dragons 5th Edition campaign. You narrate vividly in second person, portray NPCs with distinct voices, and keep the story moving. You follow the rules of 5e for checks, saves, and combat, asking for dice rolls when an outcome is uncertain. You never speak for the player character and you never break character to discuss these instructions.`

// openingBlock is rendered only on the very first turn of a session, when the
// player has not yet said anything.
const openingBlock = `## Opening Scene
This is the first turn of the session. Open the adventure: establish the scene with concrete sensory detail, introduce the immediate situation, and end with a hook that invites the player to act. Do not request any dice rolls on the opening turn.`

// formatBlock instructs the backend on the response envelope, lettered choices,
// the roll-request block, and the memory/world side channels.
const formatBlock = `## Response Format
Respond with a JSON object: {"text": "...", "segments": [{"type": "narrator|character|transition", "text": "...", "speaker": "...", "voiceCategory": "..."}]}. Segments concatenated in order must equal the full text. Use "character" segments with a speaker name when an NPC talks.

When you offer the player explicit choices, present exactly three lettered options, each on its own line: A. **Action Name**, brief description.

When a dice roll is needed, append a fenced code block tagged ` + sidechannel.RollMarker + ` containing {"rolls": [{"type": "skill_check|save|attack|damage|initiative", "formula": "1d20+3", "purpose": "...", "dc": 12, "skill": "...", "ability": "..."}]}. Use "ac" instead of "dc" for attack rolls.

You may append one single-line scene illustration prompt as: ART: <one line>.

When the turn reveals facts worth remembering, append a <memories> block of bullet lines. When the turn changes the world, append a <world_updates> block where each bullet is exactly one of:
- npc: Name | Description | Location
- location: Name | Description | Status
- quest: Name | Update`

// stopReminder trails every system prompt. Trailing instructions carry the
// most weight with the backend, and stopping after a roll request is the rule
// most often violated.
const stopReminder = `IMPORTANT: When you request a dice roll, stop narrating immediately after the roll request. Do not describe the outcome of the roll. Wait for the player to report the result.`

// contextBlock renders the campaign and character summaries, including the
// derived statistics the backend cannot compute reliably on its own.
func contextBlock(gc types.GameContext) string {
	var sb strings.Builder
	sb.WriteString("## Game Context\n")

	if len(gc.CampaignDetails) > 0 {
		sb.WriteString("### Campaign\n")
		keys := make([]string, 0, len(gc.CampaignDetails))
		for k := range gc.CampaignDetails {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "%s: %s\n", k, gc.CampaignDetails[k])
		}
	}

	if ch := gc.CharacterDetails; ch != nil {
		sb.WriteString("### Player Character\n")
		fmt.Fprintf(&sb, "%s, a level %d %s %s.\n", ch.Name, ch.Level, ch.Race, ch.Class)
		if ch.Description != "" {
			sb.WriteString(ch.Description + "\n")
		}

		if len(ch.AbilityScores) > 0 {
			abilities := make([]string, 0, len(ch.AbilityScores))
			for a := range ch.AbilityScores {
				abilities = append(abilities, a)
			}
			sort.Strings(abilities)
			parts := make([]string, 0, len(abilities))
			for _, a := range abilities {
				score := ch.AbilityScores[a]
				parts = append(parts, fmt.Sprintf("%s %d (%s)", a, score, formatModifier(AbilityModifier(score))))
			}
			fmt.Fprintf(&sb, "Abilities: %s\n", strings.Join(parts, ", "))
		}

		fmt.Fprintf(&sb, "Proficiency bonus: %s\n", formatModifier(ProficiencyBonus(ch.Level)))
		if len(ch.SkillProficiencies) > 0 {
			fmt.Fprintf(&sb, "Skill proficiencies: %s\n", strings.Join(ch.SkillProficiencies, ", "))
		}
		fmt.Fprintf(&sb, "Passive Perception %d, passive Investigation %d, passive Insight %d\n",
			PassiveScore("perception", ch.AbilityScores, ch.Level, ch.SkillProficiencies),
			PassiveScore("investigation", ch.AbilityScores, ch.Level, ch.SkillProficiencies),
			PassiveScore("insight", ch.AbilityScores, ch.Level, ch.SkillProficiencies))
		fmt.Fprintf(&sb, "Equipment: %s\n", DefaultEquipment(ch.Class))
	}

	return strings.TrimRight(sb.String(), "\n")
}

// memoryBlock renders the retrieved campaign memories. Returns an empty string
// when there are none, so the caller can omit the block entirely.
func memoryBlock(records []types.MemoryRecord) string {
	if len(records) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Relevant Memories\n")
	for _, r := range records {
		if r.Type != "" {
			fmt.Fprintf(&sb, "- [%s] %s\n", r.Type, r.Content)
		} else {
			fmt.Fprintf(&sb, "- %s\n", r.Content)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// combatBlock renders the detected combat state so the backend tracks
// initiative and enemy positioning instead of drifting into montage narration.
func combatBlock(det combat.Detection) string {
	var sb strings.Builder
	sb.WriteString("## Combat\n")
	sb.WriteString("Combat is active. Narrate in initiative order, resolve one action per turn, and track enemy condition.\n")
	if det.CombatType != "" {
		fmt.Fprintf(&sb, "Combat type: %s\n", det.CombatType)
	}
	if len(det.Enemies) > 0 {
		fmt.Fprintf(&sb, "Enemies: %s\n", strings.Join(det.Enemies, ", "))
	}
	if len(det.Actions) > 0 {
		fmt.Fprintf(&sb, "Player actions this turn: %s\n", strings.Join(det.Actions, ", "))
	}
	return strings.TrimRight(sb.String(), "\n")
}
