package oracle

import (
	"context"
	"errors"
	"testing"

	"github.com/lorekeep/lorekeep/pkg/provider/llm"
	llmmock "github.com/lorekeep/lorekeep/pkg/provider/llm/mock"
	"github.com/lorekeep/lorekeep/pkg/types"
)

func TestExtract_ParsesVerdict(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "```json\n" + `{
			"memories": [
				{"content": "The party owes Marla fifty gold", "type": "decision", "importance": 7},
				{"content": "   ", "type": "event", "importance": 3}
			],
			"world_updates": [
				{"kind": "npc", "name": "Marla", "description": "Innkeeper", "location": "The Gilded Boar"},
				{"kind": "quest", "name": "The Debt", "update": "Accepted repayment terms"},
				{"kind": "quest", "name": "No Update"},
				{"kind": "weather", "name": "Storm"}
			]
		}` + "\n```"},
	}

	got, err := New(provider).Extract(context.Background(), "camp-1", "sess-1", "I agree to her terms", "Marla nods slowly.")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if len(got.Memories) != 1 {
		t.Fatalf("got %d memories, want 1 (blank dropped): %+v", len(got.Memories), got.Memories)
	}
	m := got.Memories[0]
	if m.CampaignID != "camp-1" || m.SessionID != "sess-1" || m.Type != "decision" || m.Importance != 7 {
		t.Errorf("memory = %+v", m)
	}

	if len(got.WorldDeltas) != 2 {
		t.Fatalf("got %d deltas, want 2 (invalid kinds dropped): %+v", len(got.WorldDeltas), got.WorldDeltas)
	}
	if got.WorldDeltas[0].Kind != types.DeltaNPC || got.WorldDeltas[0].Location != "The Gilded Boar" {
		t.Errorf("npc delta = %+v", got.WorldDeltas[0])
	}
	if got.WorldDeltas[1].Kind != types.DeltaQuest || got.WorldDeltas[1].Update != "Accepted repayment terms" {
		t.Errorf("quest delta = %+v", got.WorldDeltas[1])
	}
}

func TestExtract_MalformedVerdictIsEmptyNotError(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "The party had a lovely evening."},
	}
	got, err := New(provider).Extract(context.Background(), "camp-1", "", "hello", "narration")
	if err != nil {
		t.Fatalf("malformed verdict must not error, got %v", err)
	}
	if len(got.Memories) != 0 || len(got.WorldDeltas) != 0 {
		t.Errorf("expected empty extraction: %+v", got)
	}
}

func TestExtract_ProviderErrorPropagates(t *testing.T) {
	t.Parallel()

	cause := errors.New("model offline")
	provider := &llmmock.Provider{CompleteErr: cause}

	_, err := New(provider).Extract(context.Background(), "camp-1", "", "hello", "narration")
	if !errors.Is(err, cause) {
		t.Fatalf("got %v, want wrapped provider error", err)
	}
}

func TestExtract_ImportanceClamped(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"memories": [{"content": "a", "importance": 99}, {"content": "b", "importance": 0}], "world_updates": []}`,
		},
	}
	got, err := New(provider).Extract(context.Background(), "c", "", "m", "n")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.Memories[0].Importance != 10 || got.Memories[1].Importance != 5 {
		t.Errorf("importance not clamped: %+v", got.Memories)
	}
}
