package router

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/lorekeep/lorekeep/pkg/types"
)

// ─────────────────────────────────────────────────────────────────────────────
// Heuristic roll inference
// ─────────────────────────────────────────────────────────────────────────────

// Default targets applied when the conversation never stated one.
const (
	defaultCheckDC  = 12
	defaultSaveDC   = 13
	defaultAttackAC = 13
)

// Standing formulas for heuristic roll requests. A generated character sheet
// is not available on the placeholder path, so modest mid-level bonuses are
// assumed.
const (
	checkFormula      = "1d20+3"
	saveFormula       = "1d20+2"
	attackFormula     = "1d20+5"
	initiativeFormula = "1d20+2"
)

var (
	dcRE = regexp.MustCompile(`(?i)\b(?:dc|difficulty\s*class)\s*(\d+)\b`)
	acRE = regexp.MustCompile(`(?i)\bac\s*(\d+)\b`)

	// rollResultREs match the common ways players report a die result:
	// "I rolled 12", "Rolled 1d20+3 = 15", "total: 10".
	rollResultREs = []*regexp.Regexp{
		regexp.MustCompile(`\bi\s*rolled\s*(\d+)\b`),
		regexp.MustCompile(`rolled[^\d]*(\d+)\b`),
		regexp.MustCompile(`\btotal\s*[:=]\s*(\d+)\b`),
	}
)

// skillList enumerates the 5e skills recognised in player messages.
var skillList = []string{
	"stealth", "perception", "investigation", "athletics", "acrobatics",
	"insight", "persuasion", "deception", "intimidation", "survival",
	"arcana", "history", "religion", "nature", "medicine", "performance",
	"sleight of hand", "animal handling",
}

// skillSynonyms maps action verbs to the skill they imply. Order matters:
// the first matching entry wins.
var skillSynonyms = []struct {
	skill string
	words []string
}{
	{"stealth", []string{"sneak", "sneaking", "sneakily", "quiet", "quietly", "hide", "hidden", "shadows", "creep", "silently", "tiptoe"}},
	{"deception", []string{"diversion", "distract", "distracting", "bluff", "mislead", "decoy"}},
	{"athletics", []string{"throw", "toss", "hurl", "shove", "lift", "climb", "jump", "grapple"}},
	{"acrobatics", []string{"tumble", "flip", "balance", "dodge", "roll away"}},
	{"persuasion", []string{"persuade", "convince", "appeal", "negotiate", "bargain", "charm"}},
	{"intimidation", []string{"intimidate", "threaten", "menace", "coerce", "scare"}},
	{"investigation", []string{"search", "examine", "inspect", "analyze", "study", "look over"}},
	{"perception", []string{"look", "listen", "scan", "spot", "notice", "observe", "hear"}},
	{"sleight of hand", []string{"pickpocket", "palm", "conceal", "snatch", "nimble fingers"}},
	{"survival", []string{"track", "forage", "navigate", "trail"}},
}

// parseDC extracts an explicit difficulty class from text, e.g. "dc 15" or
// "difficulty class 15".
func parseDC(text string) *int {
	m := dcRE.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &n
}

// InferRolls derives roll requests from the player's message alone. It is the
// local placeholder used when the remote orchestrator cannot be reached:
// named skills win over synonyms, and an explicit "dc NN" in the message sets
// the target.
func InferRolls(message string) []types.RollRequest {
	m := strings.ToLower(message)
	var rolls []types.RollRequest
	parsedDC := parseDC(m)

	if strings.Contains(m, "initiative") {
		rolls = append(rolls, types.RollRequest{Type: types.RollInitiative, Formula: initiativeFormula, Purpose: "Roll initiative"})
	}
	if strings.Contains(m, "attack") {
		ac := defaultAttackAC
		rolls = append(rolls, types.RollRequest{Type: types.RollAttack, Formula: attackFormula, Purpose: "Attack roll", AC: &ac})
	}

	detected := ""
	for _, syn := range skillSynonyms {
		for _, w := range syn.words {
			if strings.Contains(m, w) {
				detected = syn.skill
				break
			}
		}
		if detected != "" {
			break
		}
	}

	hasCheck := false
	for _, skill := range skillList {
		if strings.Contains(m, skill) {
			rolls = append(rolls, types.RollRequest{
				Type:    types.RollSkillCheck,
				Formula: checkFormula,
				Purpose: titleCase(skill) + " check",
				DC:      parsedDC,
				Skill:   skill,
			})
			hasCheck = true
			break
		}
	}
	if detected != "" && !hasCheck {
		rolls = append(rolls, types.RollRequest{
			Type:    types.RollSkillCheck,
			Formula: checkFormula,
			Purpose: titleCase(detected) + " check",
			DC:      parsedDC,
			Skill:   detected,
		})
		hasCheck = true
	}
	if strings.Contains(m, "check") && !hasCheck {
		rolls = append(rolls, types.RollRequest{Type: types.RollSkillCheck, Formula: checkFormula, Purpose: "Ability check", DC: parsedDC})
	}
	if strings.Contains(m, "save") {
		rolls = append(rolls, types.RollRequest{Type: types.RollSave, Formula: saveFormula, Purpose: "Saving throw", DC: parsedDC})
	}

	return rolls
}

// RollInstruction renders a roll request as a plain-text prompt, e.g.
// "Please roll Stealth check (DC 14)."
func RollInstruction(r types.RollRequest) string {
	purpose := r.Purpose
	if purpose == "" {
		purpose = typeLabel(r.Type)
	}
	target := ""
	switch {
	case r.DC != nil:
		target = fmt.Sprintf(" (DC %d)", *r.DC)
	case r.AC != nil:
		target = fmt.Sprintf(" (AC %d)", *r.AC)
	}
	return fmt.Sprintf("Please roll %s%s.", purpose, target)
}

func typeLabel(t types.RollType) string {
	switch t {
	case types.RollSkillCheck:
		return "Check"
	case types.RollSave:
		return "Saving Throw"
	case types.RollAttack:
		return "Attack"
	case types.RollDamage:
		return "Damage"
	case types.RollInitiative:
		return "Initiative"
	}
	return string(t)
}

// titleCase uppercases the first letter of each space-separated word.
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// ─────────────────────────────────────────────────────────────────────────────
// Roll follow-up narration
// ─────────────────────────────────────────────────────────────────────────────

// followUpScanDepth is how many trailing history entries are searched for the
// roll request the player is answering.
const followUpScanDepth = 8

var saveAbilities = []string{"strength", "dexterity", "constitution", "intelligence", "wisdom", "charisma"}

// RollFollowUp detects a numeric die result in the player's message and
// narrates the outcome against the most recent DC or AC stated by the DM.
// Returns false when the message carries no roll result.
func RollFollowUp(message string, history []types.ChatMessage) (string, bool) {
	m := strings.ToLower(message)

	result := -1
	for _, re := range rollResultREs {
		if sm := re.FindStringSubmatch(m); sm != nil {
			if n, err := strconv.Atoi(sm[1]); err == nil {
				result = n
				break
			}
		}
	}
	if result < 0 {
		return "", false
	}

	kind, skill, dc, ac := lastRollRequest(history)

	// Default targets when the DM never stated one.
	if kind == "check" && dc == nil {
		d := defaultCheckDC
		dc = &d
	}
	if kind == "save" && dc == nil {
		d := defaultSaveDC
		dc = &d
	}
	if kind == "attack" && ac == nil {
		a := defaultAttackAC
		ac = &a
	}

	summary := outcomeLine(kind, skill, dc, ac, result)

	var success *bool
	if (kind == "check" || kind == "save") && dc != nil {
		s := result >= *dc
		success = &s
	}
	if kind == "attack" && ac != nil {
		s := result >= *ac
		success = &s
	}

	text := summary + " What do you do next?" + letteredOptions(kind, skill, success)
	return text, true
}

// lastRollRequest scans the trailing history for the most recent assistant
// message that asked for a roll, returning its kind, skill, and any stated
// DC or AC.
func lastRollRequest(history []types.ChatMessage) (kind, skill string, dc, ac *int) {
	start := len(history) - followUpScanDepth
	if start < 0 {
		start = 0
	}
	recent := history[start:]

	for i := len(recent) - 1; i >= 0; i-- {
		h := recent[i]
		if h.Role != types.RoleAssistant {
			continue
		}
		content := strings.ToLower(h.Content)

		if m := dcRE.FindStringSubmatch(content); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				dc = &n
			}
		}
		if m := acRE.FindStringSubmatch(content); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				ac = &n
			}
		}

		if strings.Contains(content, "initiative") {
			kind = "initiative"
			return
		}
		for _, s := range skillList {
			if strings.Contains(content, s+" check") || strings.Contains(content, "roll "+s) || strings.Contains(content, "roll for "+s) {
				kind, skill = "check", s
				return
			}
		}
		for _, abil := range saveAbilities {
			if strings.Contains(content, abil+" saving throw") {
				kind, skill = "save", abil
				return
			}
		}
		if strings.Contains(content, "attack roll") || strings.Contains(content, "make an attack") || strings.Contains(content, "please roll attack") {
			kind = "attack"
			return
		}
	}
	return
}

// outcomeLine renders the result of the roll against its target.
func outcomeLine(kind, skill string, dc, ac *int, total int) string {
	switch kind {
	case "initiative":
		return fmt.Sprintf("Initiative noted: %d.", total)
	case "attack":
		if ac == nil {
			return fmt.Sprintf("Your attack roll is %d.", total)
		}
		verdict := "(miss)"
		if total >= *ac {
			verdict = "(hit)"
		}
		return fmt.Sprintf("Your attack roll is %d %s.", total, verdict)
	case "save":
		if dc == nil {
			return fmt.Sprintf("Your saving throw total is %d.", total)
		}
		name := skill
		if name == "" {
			name = "saving"
		}
		verdict := "(failure)"
		if total >= *dc {
			verdict = "(success)"
		}
		return fmt.Sprintf("Your %s throw is %d %s.", name, total, verdict)
	case "check":
		name := skill
		if name == "" {
			name = "ability"
		}
		if dc == nil {
			return fmt.Sprintf("Your %s check totals %d.", name, total)
		}
		verdict := "(failure)"
		if total >= *dc {
			verdict = "(success)"
		}
		return fmt.Sprintf("Your %s check is %d %s.", name, total, verdict)
	}
	return fmt.Sprintf("Roll total recorded: %d.", total)
}

// ─────────────────────────────────────────────────────────────────────────────
// Lettered continuation options
// ─────────────────────────────────────────────────────────────────────────────

// letteredOptions builds three A./B./C. options keyed to the kind of roll,
// the skill involved, and whether the roll succeeded. A nil success means no
// target was known.
func letteredOptions(kind, skill string, success *bool) string {
	var options []string
	ok := success != nil && *success

	switch kind {
	case "check":
		switch skill {
		case "deception", "persuasion", "intimidation":
			if ok {
				options = []string{
					"A. **Slip away under the distraction**, moving quickly while their attention is elsewhere.",
					"B. **Reposition for advantage**, circling behind cover to set up your next move.",
					"C. **Press the bluff**, doubling down to steer them where you want.",
				}
			} else {
				options = []string{
					"A. **Duck into cover**, using shadows and obstacles to break line of sight.",
					"B. **Change tactics**, shift to stealth or speed instead of misdirection.",
					"C. **Create a louder diversion**, throw debris or shout from another angle.",
				}
			}
		case "stealth":
			if ok {
				options = []string{
					"A. **Shadow the pursuers**, tailing them to learn their route.",
					"B. **Slip past**, bypassing the danger to reach your objective.",
					"C. **Set an ambush**, choose a chokepoint and prepare.",
				}
			} else {
				options = []string{
					"A. **Freeze and conceal**, minimize movement and sound.",
					"B. **Break line of sight**, dash to sturdier cover immediately.",
					"C. **Create a cover noise**, toss something to mask your movement.",
				}
			}
		case "athletics", "acrobatics":
			if ok {
				options = []string{
					"A. **Scale the terrain**, gaining a high vantage to escape or observe.",
					"B. **Dash through obstacles**, using momentum to widen the gap.",
					"C. **Shove or trip**, hinder a pursuer to buy time.",
				}
			} else {
				options = []string{
					"A. **Retreat to safer footing**, then try a different approach.",
					"B. **Use the environment**, topple a crate or door to block pursuit.",
					"C. **Switch tactics**, avoid risky stunts and move cautiously.",
				}
			}
		default:
			if ok {
				options = []string{
					"A. **Capitalize immediately**, act before the window closes.",
					"B. **Gather more information**, probe for extra clues.",
					"C. **Set up allies**, coordinate for a stronger follow-through.",
				}
			} else {
				options = []string{
					"A. **Try a different angle**, apply another skill or approach.",
					"B. **Leverage the environment**, find cover or tools nearby.",
					"C. **Withdraw briefly**, reassess and plan your next move.",
				}
			}
		}
	case "attack":
		if ok {
			options = []string{
				"A. **Press the attack**, keep the pressure on your target.",
				"B. **Grapple or shove**, control their movement to gain advantage.",
				"C. **Withdraw to cover**, reposition before their counterattack.",
			}
		} else {
			options = []string{
				"A. **Feint then strike**, change timing to throw them off.",
				"B. **Disengage and reposition**, set up a better line or range.",
				"C. **Switch tactics**, try a different target or approach.",
			}
		}
	case "save":
		if ok {
			options = []string{
				"A. **Push the advantage**, advance while the danger subsides.",
				"B. **Aid an ally**, help someone still in peril.",
				"C. **Secure a safer position**, reduce future risk.",
			}
		} else {
			options = []string{
				"A. **Seek cover immediately**, minimize ongoing effects.",
				"B. **Use a resource**, potion or feature to mitigate harm.",
				"C. **Call for aid**, coordinate with allies.",
			}
		}
	case "initiative":
		options = []string{
			"A. **Act decisively**, take the first aggressive move.",
			"B. **Hold and observe**, wait for an opening.",
			"C. **Reposition**, move to advantageous terrain.",
		}
	default:
		options = []string{
			"A. **Approach cautiously**, gather more information before acting.",
			"B. **Create a distraction**, change the situation in your favor.",
			"C. **Withdraw and reassess**, plan a better approach.",
		}
	}

	return "\n" + strings.Join(options, "\n")
}
