// Package voice resolves narration segment speakers to stable voice
// categories.
//
// A speaker keeps the same voice for the whole session: the first resolution
// persists a (session, normalized name) → category mapping, and every later
// turn reuses it. New speakers take the backend-suggested category when one
// is present, then keyword inference over the name, then the default.
package voice

import (
	"context"
	"fmt"
	"strings"

	"github.com/lorekeep/lorekeep/pkg/memory"
	"github.com/lorekeep/lorekeep/pkg/types"
)

// DefaultCategory is applied when nothing better is known about a speaker.
const DefaultCategory = "neutral"

// knownCategories is the closed vocabulary accepted from backend suggestions.
var knownCategories = map[string]bool{
	"neutral":        true,
	"warm_female":    true,
	"warm_male":      true,
	"gravelly_male":  true,
	"gruff_male":     true,
	"bright_female":  true,
	"elderly_male":   true,
	"elderly_female": true,
	"child":          true,
	"ethereal":       true,
	"booming":        true,
	"sinister":       true,
}

// categoryKeywords infers a category from words in the speaker's name or
// title. First match wins.
var categoryKeywords = []struct {
	category string
	words    []string
}{
	{"elderly_male", []string{"old man", "elder", "sage", "hermit"}},
	{"elderly_female", []string{"old woman", "crone", "grandmother"}},
	{"gruff_male", []string{"guard", "captain", "sergeant", "mercenary", "blacksmith"}},
	{"gravelly_male", []string{"dwarf", "orc", "pirate", "bandit"}},
	{"ethereal", []string{"ghost", "spirit", "wisp", "oracle", "fey"}},
	{"sinister", []string{"necromancer", "cultist", "assassin", "witch"}},
	{"booming", []string{"giant", "dragon", "demon", "god"}},
	{"child", []string{"child", "boy", "girl", "urchin"}},
	{"bright_female", []string{"barmaid", "princess", "maiden"}},
	{"warm_female", []string{"lady", "queen", "priestess", "mother"}},
	{"warm_male", []string{"lord", "king", "priest", "innkeeper"}},
}

// Assignment is one resolved speaker → category mapping.
type Assignment struct {
	// Speaker is the segment's speaker name as written.
	Speaker string

	// Category is the resolved voice category.
	Category string

	// Reused reports whether the mapping came from the session store rather
	// than being created on this turn.
	Reused bool
}

// Resolver resolves speakers against the session's persisted mappings.
type Resolver struct {
	store memory.VoiceStore
}

// NewResolver creates a Resolver backed by store.
func NewResolver(store memory.VoiceStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve assigns a voice category to every segment that names a speaker.
// Segments without a speaker are skipped. Mappings are reused within the
// call, so a speaker appearing in several segments resolves once.
func (r *Resolver) Resolve(ctx context.Context, sessionID string, segments []types.NarrationSegment) ([]Assignment, error) {
	var out []Assignment
	seen := make(map[string]string)

	for _, seg := range segments {
		speaker := strings.TrimSpace(seg.Speaker)
		if speaker == "" {
			continue
		}
		norm := normalizeName(speaker)

		if cat, ok := seen[norm]; ok {
			out = append(out, Assignment{Speaker: speaker, Category: cat, Reused: true})
			continue
		}

		cat, reused, err := r.resolveOne(ctx, sessionID, norm, seg.VoiceCategory)
		if err != nil {
			return nil, err
		}
		seen[norm] = cat
		out = append(out, Assignment{Speaker: speaker, Category: cat, Reused: reused})
	}
	return out, nil
}

// Apply writes resolved categories back onto the segments in place.
func Apply(segments []types.NarrationSegment, assignments []Assignment) {
	byName := make(map[string]string, len(assignments))
	for _, a := range assignments {
		byName[normalizeName(a.Speaker)] = a.Category
	}
	for i := range segments {
		if cat, ok := byName[normalizeName(segments[i].Speaker)]; ok && segments[i].Speaker != "" {
			segments[i].VoiceCategory = cat
		}
	}
}

func (r *Resolver) resolveOne(ctx context.Context, sessionID, norm, suggested string) (string, bool, error) {
	cat, ok, err := r.store.Category(ctx, sessionID, norm)
	if err != nil {
		return "", false, fmt.Errorf("voice: look up %q: %w", norm, err)
	}
	if ok {
		if err := r.store.IncrementUse(ctx, sessionID, norm); err != nil {
			return "", false, fmt.Errorf("voice: increment use for %q: %w", norm, err)
		}
		return cat, true, nil
	}

	cat = pickCategory(norm, suggested)
	if err := r.store.SaveCategory(ctx, sessionID, norm, cat); err != nil {
		return "", false, fmt.Errorf("voice: save mapping for %q: %w", norm, err)
	}
	return cat, false, nil
}

// pickCategory chooses a category for a new speaker: backend suggestion when
// it names a known category, keyword inference over the name, then the
// default.
func pickCategory(norm, suggested string) string {
	if s := strings.ToLower(strings.TrimSpace(suggested)); knownCategories[s] {
		return s
	}
	for _, kw := range categoryKeywords {
		for _, w := range kw.words {
			if strings.Contains(norm, w) {
				return kw.category
			}
		}
	}
	return DefaultCategory
}

// normalizeName lowercases and collapses internal whitespace so "Captain
// Hale" and "captain  hale" share a mapping.
func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
