// Package combat classifies player text for combat intent. The turn pipeline
// treats the detector as an opaque collaborator and only branches on its
// boolean and enumerated outputs.
package combat

import "strings"

// Detection is the classification of one player message.
type Detection struct {
	// IsCombat reports whether the message carries combat intent.
	IsCombat bool

	// Confidence is a coarse 0..1 score based on how many signals matched.
	Confidence float64

	// CombatType is "melee", "ranged", or "spell" when inferable.
	CombatType string

	// ShouldStart is true when the message initiates combat against a
	// recognised enemy.
	ShouldStart bool

	// ShouldEnd is true when the message signals disengagement.
	ShouldEnd bool

	// Enemies lists the recognised enemy names mentioned, in order.
	Enemies []string

	// Actions lists the recognised combat verbs mentioned, in order.
	Actions []string
}

// Detector classifies player text for combat intent.
type Detector interface {
	Detect(text string) Detection
}

// Word lists for the default heuristic. Matching is substring-based over the
// lowercased message, mirroring how skill synonyms are matched elsewhere.
var (
	meleeActions  = []string{"attack", "strike", "slash", "stab", "swing", "charge", "grapple", "shove", "punch"}
	rangedActions = []string{"shoot", "fire an arrow", "loose an arrow", "throw a dagger", "sling"}
	spellActions  = []string{"cast", "fireball", "magic missile", "eldritch blast", "hex", "smite"}

	enemyNames = []string{
		"goblin", "orc", "bandit", "wolf", "skeleton", "zombie", "kobold",
		"troll", "ogre", "dragon", "cultist", "guard", "spider", "ghoul",
		"mercenary", "wraith", "golem",
	}

	endSignals = []string{
		"flee", "retreat", "run away", "surrender", "stand down",
		"sheathe", "lower my weapon", "stop fighting", "truce",
	}
)

// KeywordDetector is the default [Detector]: substring heuristics over
// action verbs, known enemy names, and disengagement phrases.
type KeywordDetector struct{}

var _ Detector = KeywordDetector{}

// Detect implements [Detector].
func (KeywordDetector) Detect(text string) Detection {
	m := strings.ToLower(text)
	d := Detection{}

	matchAll := func(words []string) []string {
		var hits []string
		for _, w := range words {
			if strings.Contains(m, w) {
				hits = append(hits, w)
			}
		}
		return hits
	}

	melee := matchAll(meleeActions)
	ranged := matchAll(rangedActions)
	spell := matchAll(spellActions)
	d.Actions = append(append(append([]string{}, melee...), ranged...), spell...)
	if len(d.Actions) == 0 {
		d.Actions = nil
	}
	d.Enemies = matchAll(enemyNames)

	switch {
	case len(spell) > 0:
		d.CombatType = "spell"
	case len(ranged) > 0:
		d.CombatType = "ranged"
	case len(melee) > 0:
		d.CombatType = "melee"
	}

	ends := matchAll(endSignals)
	d.ShouldEnd = len(ends) > 0

	signals := len(d.Actions) + len(d.Enemies)
	d.IsCombat = len(d.Actions) > 0 && !d.ShouldEnd
	d.ShouldStart = d.IsCombat && len(d.Enemies) > 0

	// One signal is weak evidence; three or more is near certain.
	switch {
	case d.ShouldEnd:
		d.Confidence = 0.5
	case signals >= 3:
		d.Confidence = 0.9
	case signals == 2:
		d.Confidence = 0.7
	case signals == 1:
		d.Confidence = 0.4
	}

	return d
}
