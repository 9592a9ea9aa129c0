package prompt

import (
	"fmt"
	"strings"
)

// ─────────────────────────────────────────────────────────────────────────────
// Derived character statistics
// ─────────────────────────────────────────────────────────────────────────────

// AbilityModifier derives the ability modifier from a raw ability score using
// the standard table: 10-11 → +0, each two points above or below shifts the
// modifier by one.
func AbilityModifier(score int) int {
	return score/2 - 5
}

// ProficiencyBonus derives the proficiency bonus from character level. Levels
// outside [1, 20] are clamped.
func ProficiencyBonus(level int) int {
	if level < 1 {
		level = 1
	}
	if level > 20 {
		level = 20
	}
	return 2 + (level-1)/4
}

// passiveAbility maps the three passively-scored skills to their governing
// ability.
var passiveAbility = map[string]string{
	"perception":    "wisdom",
	"investigation": "intelligence",
	"insight":       "wisdom",
}

// PassiveScore derives a passive skill score: 10 + ability modifier, plus the
// proficiency bonus when the character is proficient in the skill.
func PassiveScore(skill string, scores map[string]int, level int, proficiencies []string) int {
	ability := passiveAbility[strings.ToLower(skill)]
	mod := AbilityModifier(scores[ability])
	score := 10 + mod
	for _, p := range proficiencies {
		if strings.EqualFold(p, skill) {
			score += ProficiencyBonus(level)
			break
		}
	}
	return score
}

// classEquipment holds the default starting kit rendered for each class when
// no explicit inventory is available.
var classEquipment = map[string]string{
	"barbarian": "greataxe, two handaxes, explorer's pack, four javelins",
	"bard":      "rapier, entertainer's pack, lute, leather armor, dagger",
	"cleric":    "mace, scale mail, shield, holy symbol, priest's pack",
	"druid":     "wooden shield, scimitar, leather armor, druidic focus, explorer's pack",
	"fighter":   "chain mail, longsword, shield, light crossbow with 20 bolts, dungeoneer's pack",
	"monk":      "shortsword, ten darts, explorer's pack",
	"paladin":   "chain mail, longsword, shield, five javelins, holy symbol, priest's pack",
	"ranger":    "scale mail, two shortswords, longbow with 20 arrows, explorer's pack",
	"rogue":     "rapier, shortbow with 20 arrows, leather armor, two daggers, thieves' tools, burglar's pack",
	"sorcerer":  "light crossbow with 20 bolts, arcane focus, two daggers, dungeoneer's pack",
	"warlock":   "light crossbow with 20 bolts, arcane focus, leather armor, two daggers, scholar's pack",
	"wizard":    "quarterstaff, arcane focus, spellbook, scholar's pack",
}

// DefaultEquipment returns the default starting equipment for a class, or a
// generic kit for unrecognised classes.
func DefaultEquipment(class string) string {
	if eq, ok := classEquipment[strings.ToLower(strings.TrimSpace(class))]; ok {
		return eq
	}
	return "explorer's pack, simple weapon"
}

// formatModifier renders a modifier with an explicit sign, e.g. "+3" or "-1".
func formatModifier(mod int) string {
	return fmt.Sprintf("%+d", mod)
}
