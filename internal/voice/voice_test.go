package voice

import (
	"context"
	"errors"
	"testing"

	"github.com/lorekeep/lorekeep/pkg/memory/mock"
	"github.com/lorekeep/lorekeep/pkg/types"
)

func segs(speakers ...string) []types.NarrationSegment {
	out := make([]types.NarrationSegment, 0, len(speakers)+1)
	out = append(out, types.NarrationSegment{Type: types.SegmentNarrator, Text: "The door opens."})
	for _, s := range speakers {
		out = append(out, types.NarrationSegment{Type: types.SegmentCharacter, Text: "...", Speaker: s})
	}
	return out
}

func TestResolve_ReusesPersistedMapping(t *testing.T) {
	t.Parallel()

	store := &mock.VoiceStore{Categories: map[string]string{"captain hale": "gravelly_male"}}
	r := NewResolver(store)

	got, err := r.Resolve(context.Background(), "sess-1", segs("Captain Hale"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d assignments, want 1", len(got))
	}
	if !got[0].Reused || got[0].Category != "gravelly_male" {
		t.Errorf("assignment = %+v, want reused gravelly_male", got[0])
	}
	if store.CallCount("IncrementUse") != 1 {
		t.Errorf("usage counter not bumped")
	}
	if store.CallCount("SaveCategory") != 0 {
		t.Errorf("existing mapping re-saved")
	}
}

func TestResolve_BackendSuggestionForNewSpeaker(t *testing.T) {
	t.Parallel()

	store := &mock.VoiceStore{}
	r := NewResolver(store)

	segments := []types.NarrationSegment{
		{Type: types.SegmentCharacter, Text: "...", Speaker: "Marla", VoiceCategory: "warm_female"},
	}
	got, err := r.Resolve(context.Background(), "sess-1", segments)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got[0].Category != "warm_female" || got[0].Reused {
		t.Errorf("assignment = %+v, want new warm_female", got[0])
	}
	if store.CallCount("SaveCategory") != 1 {
		t.Errorf("new mapping not persisted")
	}
}

func TestResolve_KeywordInference(t *testing.T) {
	t.Parallel()

	tests := []struct {
		speaker string
		want    string
	}{
		{"Gate Guard", "gruff_male"},
		{"The Ghost of Aldric", "ethereal"},
		{"Dwarf Merchant", "gravelly_male"},
		{"Some Stranger", DefaultCategory},
	}
	for _, tt := range tests {
		store := &mock.VoiceStore{}
		got, err := NewResolver(store).Resolve(context.Background(), "sess-1", segs(tt.speaker))
		if err != nil {
			t.Fatalf("Resolve(%q): %v", tt.speaker, err)
		}
		if got[0].Category != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.speaker, got[0].Category, tt.want)
		}
	}
}

func TestResolve_UnknownSuggestionFallsBack(t *testing.T) {
	t.Parallel()

	store := &mock.VoiceStore{}
	segments := []types.NarrationSegment{
		{Type: types.SegmentCharacter, Text: "...", Speaker: "Townsfolk", VoiceCategory: "robot_9000"},
	}
	got, err := NewResolver(store).Resolve(context.Background(), "sess-1", segments)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got[0].Category != DefaultCategory {
		t.Errorf("unknown suggestion accepted: %+v", got[0])
	}
}

func TestResolve_SpeakerResolvedOncePerCall(t *testing.T) {
	t.Parallel()

	store := &mock.VoiceStore{}
	got, err := NewResolver(store).Resolve(context.Background(), "sess-1", segs("Marla", "MARLA", "marla"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d assignments, want 3", len(got))
	}
	if store.CallCount("SaveCategory") != 1 {
		t.Errorf("speaker persisted %d times, want 1", store.CallCount("SaveCategory"))
	}
	for _, a := range got[1:] {
		if !a.Reused {
			t.Errorf("repeat segment not marked reused: %+v", a)
		}
	}
}

func TestResolve_StoreErrorPropagates(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	store := &mock.VoiceStore{CategoryErr: cause}
	_, err := NewResolver(store).Resolve(context.Background(), "sess-1", segs("Marla"))
	if !errors.Is(err, cause) {
		t.Fatalf("got %v, want wrapped store error", err)
	}
}

func TestApply(t *testing.T) {
	t.Parallel()

	segments := segs("Marla")
	Apply(segments, []Assignment{{Speaker: "Marla", Category: "warm_female"}})
	if segments[1].VoiceCategory != "warm_female" {
		t.Errorf("category not applied: %+v", segments[1])
	}
	if segments[0].VoiceCategory != "" {
		t.Errorf("narrator segment given a voice: %+v", segments[0])
	}
}
