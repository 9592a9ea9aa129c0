package turn

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lorekeep/lorekeep/internal/combat"
	"github.com/lorekeep/lorekeep/internal/config"
	"github.com/lorekeep/lorekeep/internal/postprocess"
	"github.com/lorekeep/lorekeep/internal/router"
	"github.com/lorekeep/lorekeep/pkg/memory/mock"
	"github.com/lorekeep/lorekeep/pkg/types"
)

// fixedTier returns a canned router result.
type fixedTier struct {
	result *router.Result
	err    error
	calls  atomic.Int32
	block  chan struct{}
}

func (f *fixedTier) ID() types.TierID { return types.TierPrimary }

func (f *fixedTier) Generate(ctx context.Context, _ types.TurnRequest) (*router.Result, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func primaryOnly(tier router.Tier) *router.Router {
	return router.New(nil, nil, tier, nil, router.WithFlagReader(func() (config.Flags, error) {
		return config.Flags{}, nil
	}))
}

func request(message string) types.TurnRequest {
	return types.TurnRequest{
		Message: message,
		Context: types.GameContext{CampaignID: "camp-1", SessionID: "sess-1"},
		History: []types.ChatMessage{{Role: types.RoleAssistant, Content: "You stand at the gate."}},
	}
}

func TestGenerateTurn_FullPipeline(t *testing.T) {
	t.Parallel()

	raw := `{"text": "The guard squints at you.` +
		`\n\n` + "```" + `ROLL_REQUESTS_V1\n{\"rolls\": [{\"type\": \"skill_check\", \"formula\": \"1d20+3\", \"purpose\": \"Stealth check\", \"dc\": 14, \"skill\": \"stealth\"}]}\n` + "```" + `\n\n<memories>\n- [npc] The gate guard is suspicious\n</memories>"}`

	tier := &fixedTier{result: &router.Result{Tier: types.TierPrimary, Raw: raw, Structured: true}}
	messages := &mock.MessageStore{}
	memories := &mock.MemoryStore{}
	post := postprocess.New(memories, nil)

	svc := New(primaryOnly(tier), messages, post)
	resp, err := svc.GenerateTurn(context.Background(), request("I sneak past the gate"))
	if err != nil {
		t.Fatalf("GenerateTurn: %v", err)
	}

	if resp.Text != "The guard squints at you." {
		t.Errorf("side-channel blocks not stripped: %q", resp.Text)
	}
	if len(resp.RollRequests) != 1 || resp.RollRequests[0].Skill != "stealth" {
		t.Errorf("rolls not extracted: %+v", resp.RollRequests)
	}
	if messages.CallCount("InsertMessage") != 2 {
		t.Errorf("got %d persisted messages, want player + narration", messages.CallCount("InsertMessage"))
	}
	if memories.CallCount("InsertMemories") != 1 {
		t.Errorf("tagged memories not persisted")
	}
}

func TestGenerateTurn_PersistenceFailureIsHard(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	tier := &fixedTier{result: &router.Result{Tier: types.TierPrimary, Raw: "ok"}}
	messages := &mock.MessageStore{InsertMessageErr: cause}

	svc := New(primaryOnly(tier), messages, nil)
	_, err := svc.GenerateTurn(context.Background(), request("hello"))
	if !errors.Is(err, cause) {
		t.Fatalf("got %v, want wrapped persistence error", err)
	}
}

func TestGenerateTurn_RouterFailurePropagates(t *testing.T) {
	t.Parallel()

	tier := &fixedTier{err: errors.New("model offline")}
	svc := New(primaryOnly(tier), nil, nil)

	_, err := svc.GenerateTurn(context.Background(), request("hello"))
	if !errors.Is(err, router.ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
}

func TestGenerateTurn_ConcurrentDuplicatesShareExecution(t *testing.T) {
	t.Parallel()

	tier := &fixedTier{
		result: &router.Result{Tier: types.TierPrimary, Raw: "The gate opens."},
		block:  make(chan struct{}),
	}
	messages := &mock.MessageStore{}
	svc := New(primaryOnly(tier), messages, nil)

	const n = 4
	var wg sync.WaitGroup
	responses := make([]*types.TurnResponse, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			responses[i], errs[i] = svc.GenerateTurn(context.Background(), request("I push the gate"))
		}(i)
	}

	// Let the duplicates pile onto the in-flight entry, then release.
	time.Sleep(50 * time.Millisecond)
	close(tier.block)
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("call %d: %v", i, errs[i])
		}
		if responses[i].Text != "The gate opens." {
			t.Errorf("call %d text = %q", i, responses[i].Text)
		}
	}
	if got := tier.calls.Load(); got != 1 {
		t.Errorf("backend executed %d times, want 1", got)
	}
	// Side effects happen once: one player message, one narration.
	if messages.CallCount("InsertMessage") != 2 {
		t.Errorf("got %d persisted messages, want 2", messages.CallCount("InsertMessage"))
	}
}

func TestGenerateTurn_OpeningTurnSkipsPlayerMessage(t *testing.T) {
	t.Parallel()

	tier := &fixedTier{result: &router.Result{Tier: types.TierPrimary, Raw: "You wake in a cold cell."}}
	messages := &mock.MessageStore{}
	svc := New(primaryOnly(tier), messages, nil)

	req := types.TurnRequest{Context: types.GameContext{CampaignID: "camp-1", SessionID: "sess-1"}}
	resp, err := svc.GenerateTurn(context.Background(), req)
	if err != nil {
		t.Fatalf("GenerateTurn: %v", err)
	}
	if resp.Text == "" {
		t.Fatalf("empty opening narration")
	}
	if messages.CallCount("InsertMessage") != 1 {
		t.Errorf("got %d persisted messages, want narration only", messages.CallCount("InsertMessage"))
	}
}

func TestGenerateTurn_CombatSnapshotCarried(t *testing.T) {
	t.Parallel()

	tier := &fixedTier{result: &router.Result{
		Tier: types.TierPrimary,
		Raw:  "The goblin shrieks.",
		Combat: combat.Detection{
			IsCombat:   true,
			CombatType: "melee",
			Enemies:    []string{"goblin"},
		},
	}}
	svc := New(primaryOnly(tier), nil, nil)

	resp, err := svc.GenerateTurn(context.Background(), request("I attack the goblin"))
	if err != nil {
		t.Fatalf("GenerateTurn: %v", err)
	}
	if resp.Combat == nil || !resp.Combat.Active || resp.Combat.Enemies[0] != "goblin" {
		t.Errorf("combat snapshot = %+v", resp.Combat)
	}
}

func TestGenerateTurn_MalformedEnvelopeRecovered(t *testing.T) {
	t.Parallel()

	raw := "```json\n{\"text\": \"The door gives way.\",}\n```"
	tier := &fixedTier{result: &router.Result{Tier: types.TierPrimary, Raw: raw, Structured: true}}
	svc := New(primaryOnly(tier), nil, nil)

	resp, err := svc.GenerateTurn(context.Background(), request("I force the door"))
	if err != nil {
		t.Fatalf("GenerateTurn: %v", err)
	}
	if resp.Text != "The door gives way." {
		t.Errorf("got %q", resp.Text)
	}
}

func TestGenerateTurn_SegmentsStrippedWithText(t *testing.T) {
	t.Parallel()

	raw := `{"text": "The hall falls silent.\n\nWho goes there?\n\n<memories>\n- The sentinel challenged the party\n</memories>", "segments": [` +
		`{"type": "narrator", "text": "The hall falls silent."}, ` +
		`{"type": "character", "text": "Who goes there?", "speaker": "Sentinel"}, ` +
		`{"type": "narrator", "text": "<memories>\n- The sentinel challenged the party\n</memories>"}]}`

	tier := &fixedTier{result: &router.Result{Tier: types.TierPrimary, Raw: raw, Structured: true}}
	messages := &mock.MessageStore{}
	svc := New(primaryOnly(tier), messages, nil)

	resp, err := svc.GenerateTurn(context.Background(), request("I step into the hall"))
	if err != nil {
		t.Fatalf("GenerateTurn: %v", err)
	}

	if strings.Contains(resp.Text, "<memories>") {
		t.Errorf("tag block leaked into narrative: %q", resp.Text)
	}
	if len(resp.Segments) != 2 {
		t.Fatalf("block-only segment not dropped: %+v", resp.Segments)
	}
	var joined strings.Builder
	for i, seg := range resp.Segments {
		if strings.Contains(seg.Text, "<memories>") {
			t.Errorf("tag block leaked into segment %d: %q", i, seg.Text)
		}
		if i > 0 {
			joined.WriteString("\n\n")
		}
		joined.WriteString(seg.Text)
	}
	if joined.String() != resp.Text {
		t.Errorf("segments no longer reconstitute the narrative:\n%q\nvs\n%q", joined.String(), resp.Text)
	}
}

func TestGenerateTurn_ArtPromptCarried(t *testing.T) {
	t.Parallel()

	raw := "The dragon circles overhead.\nART: a red dragon circling a ruined tower at dusk"
	tier := &fixedTier{result: &router.Result{Tier: types.TierPrimary, Raw: raw}}
	svc := New(primaryOnly(tier), nil, nil)

	resp, err := svc.GenerateTurn(context.Background(), request("I look up"))
	if err != nil {
		t.Fatalf("GenerateTurn: %v", err)
	}
	if resp.ArtPrompt != "a red dragon circling a ruined tower at dusk" {
		t.Errorf("ArtPrompt = %q", resp.ArtPrompt)
	}
	if strings.Contains(resp.Text, "ART:") {
		t.Errorf("art line leaked into narrative: %q", resp.Text)
	}
}

func TestGenerateTurn_OutOfBandRollsMerged(t *testing.T) {
	t.Parallel()

	dc := 14
	tier := &fixedTier{result: &router.Result{
		Tier: types.TierSecondary,
		Raw:  "Please roll Stealth check (DC 14).",
		Rolls: []types.RollRequest{
			{Type: types.RollSkillCheck, Formula: "1d20+3", Purpose: "Stealth check", DC: &dc, Skill: "stealth"},
		},
	}}
	svc := New(primaryOnly(tier), nil, nil)

	resp, err := svc.GenerateTurn(context.Background(), request("I sneak in"))
	if err != nil {
		t.Fatalf("GenerateTurn: %v", err)
	}
	if len(resp.RollRequests) != 1 {
		t.Fatalf("got %d rolls, want 1", len(resp.RollRequests))
	}
	if !strings.Contains(resp.Text, "Please roll") {
		t.Errorf("plain instruction text lost: %q", resp.Text)
	}
}
