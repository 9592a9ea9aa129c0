package postprocess

import (
	"context"
	"errors"
	"testing"

	"github.com/lorekeep/lorekeep/internal/oracle"
	"github.com/lorekeep/lorekeep/internal/sidechannel"
	"github.com/lorekeep/lorekeep/internal/voice"
	"github.com/lorekeep/lorekeep/pkg/memory/mock"
	"github.com/lorekeep/lorekeep/pkg/provider/llm"
	llmmock "github.com/lorekeep/lorekeep/pkg/provider/llm/mock"
	"github.com/lorekeep/lorekeep/pkg/types"
)

func baseRequest(plan types.Plan, turn int) types.TurnRequest {
	return types.TurnRequest{
		Message:   "I talk to Marla",
		Plan:      plan,
		TurnCount: turn,
		Context:   types.GameContext{CampaignID: "camp-1", SessionID: "sess-1"},
	}
}

func TestRun_TaggedMemoriesPersisted(t *testing.T) {
	t.Parallel()

	memories := &mock.MemoryStore{}
	c := New(memories, nil)

	ext := sidechannel.Extraction{
		HadTags:  true,
		Memories: []string{"[npc] Marla distrusts the guard captain", "The cellar door was left unlocked"},
	}
	c.Run(context.Background(), baseRequest(types.PlanPro, 1), &types.TurnResponse{Text: "ok"}, ext)

	calls := memories.Calls()
	if len(calls) != 1 || calls[0].Method != "InsertMemories" {
		t.Fatalf("calls = %+v, want one InsertMemories", calls)
	}
	records := calls[0].Args[0].([]types.MemoryRecord)
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Type != "npc" || records[0].Content != "Marla distrusts the guard captain" {
		t.Errorf("typed draft = %+v", records[0])
	}
	if records[1].Type != "event" || records[1].CampaignID != "camp-1" {
		t.Errorf("default draft = %+v", records[1])
	}
}

func TestRun_WorldDeltasApplied(t *testing.T) {
	t.Parallel()

	world := &mock.WorldStore{}
	c := New(nil, world)

	ext := sidechannel.Extraction{
		HadTags: true,
		WorldDeltas: []types.WorldDelta{
			{Kind: types.DeltaNPC, Name: "Marla", Description: "Innkeeper", Location: "The Gilded Boar"},
			{Kind: types.DeltaQuest, Name: "The Debt", Update: "Repayment agreed"},
		},
	}
	c.Run(context.Background(), baseRequest(types.PlanPro, 1), &types.TurnResponse{Text: "ok"}, ext)

	if world.CallCount("ApplyDelta") != 2 {
		t.Fatalf("ApplyDelta called %d times, want 2", world.CallCount("ApplyDelta"))
	}
}

func TestRun_MemoryFailureDoesNotStopWorldStep(t *testing.T) {
	t.Parallel()

	memories := &mock.MemoryStore{InsertMemoriesErr: errors.New("connection refused")}
	world := &mock.WorldStore{}
	c := New(memories, world)

	ext := sidechannel.Extraction{
		HadTags:     true,
		Memories:    []string{"something happened"},
		WorldDeltas: []types.WorldDelta{{Kind: types.DeltaQuest, Name: "Q", Update: "done"}},
	}
	c.Run(context.Background(), baseRequest(types.PlanPro, 1), &types.TurnResponse{Text: "ok"}, ext)

	if world.CallCount("ApplyDelta") != 1 {
		t.Errorf("world step skipped after memory failure")
	}
}

func TestRun_OracleGatingByPlan(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		plan     types.Plan
		turn     int
		wantCall bool
	}{
		{"free plan off-cadence", types.PlanFree, 2, false},
		{"free plan on-cadence", types.PlanFree, 3, true},
		{"free plan sixth turn", types.PlanFree, 6, true},
		{"pro plan every turn", types.PlanPro, 2, true},
		{"unset plan every turn", types.Plan(""), 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			provider := &llmmock.Provider{
				CompleteResponse: &llm.CompletionResponse{
					Content: `{"memories": [{"content": "fact", "type": "event", "importance": 4}], "world_updates": []}`,
				},
			}
			memories := &mock.MemoryStore{}
			c := New(memories, nil, WithOracle(oracle.New(provider)))

			c.Run(context.Background(), baseRequest(tt.plan, tt.turn), &types.TurnResponse{Text: "narration"}, sidechannel.Extraction{})

			called := len(provider.CompleteCalls) > 0
			if called != tt.wantCall {
				t.Errorf("oracle called = %v, want %v", called, tt.wantCall)
			}
			if tt.wantCall && memories.CallCount("InsertMemories") != 1 {
				t.Errorf("oracle memories not persisted")
			}
		})
	}
}

func TestRun_OracleSkippedWhenTagsPresent(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{}
	c := New(&mock.MemoryStore{}, nil, WithOracle(oracle.New(provider)))

	ext := sidechannel.Extraction{HadTags: true, Memories: []string{"tagged fact"}}
	c.Run(context.Background(), baseRequest(types.PlanPro, 1), &types.TurnResponse{Text: "ok"}, ext)

	if len(provider.CompleteCalls) != 0 {
		t.Errorf("oracle consulted despite explicit tags")
	}
}

func TestRun_OracleWorldDeltasApplied(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"memories": [], "world_updates": [{"kind": "npc", "name": "Marla", "description": "Innkeeper"}]}`,
		},
	}
	world := &mock.WorldStore{}
	c := New(nil, world, WithOracle(oracle.New(provider)))

	c.Run(context.Background(), baseRequest(types.PlanPro, 1), &types.TurnResponse{Text: "ok"}, sidechannel.Extraction{})

	if world.CallCount("ApplyDelta") != 1 {
		t.Errorf("oracle world delta not applied")
	}
}

func TestRun_VoiceAssignment(t *testing.T) {
	t.Parallel()

	voices := &mock.VoiceStore{Categories: map[string]string{"marla": "warm_female"}}
	c := New(nil, nil, WithVoices(voice.NewResolver(voices)))

	resp := &types.TurnResponse{
		Text: "ok",
		Segments: []types.NarrationSegment{
			{Type: types.SegmentNarrator, Text: "The inn is quiet."},
			{Type: types.SegmentCharacter, Text: "Welcome back.", Speaker: "Marla"},
		},
	}
	c.Run(context.Background(), baseRequest(types.PlanPro, 1), resp, sidechannel.Extraction{HadTags: true})

	if resp.Segments[1].VoiceCategory != "warm_female" {
		t.Errorf("voice not applied: %+v", resp.Segments[1])
	}
	if voices.CallCount("IncrementUse") != 1 {
		t.Errorf("usage counter not bumped on reuse")
	}
}

func TestRun_VoiceSkippedWithoutSegments(t *testing.T) {
	t.Parallel()

	voices := &mock.VoiceStore{}
	c := New(nil, nil, WithVoices(voice.NewResolver(voices)))

	c.Run(context.Background(), baseRequest(types.PlanPro, 1), &types.TurnResponse{Text: "plain"}, sidechannel.Extraction{HadTags: true})

	if len(voices.Calls()) != 0 {
		t.Errorf("voice store consulted with no segments: %+v", voices.Calls())
	}
}
