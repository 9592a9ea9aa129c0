// Package prompt assembles the layered generation request for every narrative
// turn.
//
// The system prompt is built from fixed-order blocks: persona and table rules,
// game context with derived character statistics, retrieved campaign memories,
// the opening-scene block on first turns, combat state when the heuristic
// detector reports a fight, the response-format contract, and a trailing
// stop-after-roll reminder. Conversation history is replayed afterwards as
// role-tagged messages.
//
// Use [Assembler.Assemble] to produce an [Assembled] request ready for a
// backend tier.
package prompt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lorekeep/lorekeep/internal/combat"
	"github.com/lorekeep/lorekeep/pkg/memory"
	"github.com/lorekeep/lorekeep/pkg/provider/llm"
	"github.com/lorekeep/lorekeep/pkg/types"
)

// DefaultMemoryTopK is the number of campaign memories retrieved per turn.
const DefaultMemoryTopK = 8

// Assembled is the fully built generation request for one turn.
type Assembled struct {
	// System is the layered system prompt.
	System string

	// Messages is the conversation history replayed as role-tagged messages,
	// ending with the player's current message when present.
	Messages []llm.Message

	// Combat is the detector's verdict for this turn, carried so the router
	// and the response can reuse it without re-detecting.
	Combat combat.Detection

	// Memories are the retrieved records injected into the memory block.
	Memories []types.MemoryRecord

	// AssemblyDuration records how long [Assembler.Assemble] took.
	AssemblyDuration time.Duration
}

// Assembler builds [Assembled] requests. Memory retrieval and combat
// detection run concurrently.
type Assembler struct {
	memories memory.MemoryStore
	detector combat.Detector
	topK     int
}

// Option is a functional option for [NewAssembler].
type Option func(*Assembler)

// WithTopK sets how many memories are retrieved per turn. Defaults to
// [DefaultMemoryTopK].
func WithTopK(k int) Option {
	return func(a *Assembler) { a.topK = k }
}

// NewAssembler creates an [Assembler]. memories may be nil, in which case the
// memory block is always omitted. detector may be nil, in which case combat
// detection is skipped.
func NewAssembler(memories memory.MemoryStore, detector combat.Detector, opts ...Option) *Assembler {
	a := &Assembler{
		memories: memories,
		detector: detector,
		topK:     DefaultMemoryTopK,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Assemble builds the generation request for req.
//
// Memory retrieval and combat detection run in parallel via errgroup. A
// memory retrieval error aborts assembly; combat detection is pure and cannot
// fail. Assemble respects context cancellation on the retrieval call.
func (a *Assembler) Assemble(ctx context.Context, req types.TurnRequest) (*Assembled, error) {
	start := time.Now()

	var (
		records []types.MemoryRecord
		det     combat.Detection
	)

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		if a.memories == nil {
			return nil
		}
		recs, err := a.memories.TopK(egCtx, req.Context.CampaignID, req.Message, a.topK)
		if err != nil {
			return fmt.Errorf("assemble prompt: retrieve memories for campaign %q: %w", req.Context.CampaignID, err)
		}
		records = recs
		return nil
	})

	eg.Go(func() error {
		if a.detector != nil {
			det = a.detector.Detect(req.Message)
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return &Assembled{
		System:           buildSystem(req, records, det),
		Messages:         buildMessages(req),
		Combat:           det,
		Memories:         records,
		AssemblyDuration: time.Since(start),
	}, nil
}

// buildSystem concatenates the prompt blocks in their fixed order. Optional
// blocks that have no content are omitted entirely. The stop reminder is
// always last.
func buildSystem(req types.TurnRequest, records []types.MemoryRecord, det combat.Detection) string {
	blocks := []string{personaBlock, contextBlock(req.Context)}

	if mb := memoryBlock(records); mb != "" {
		blocks = append(blocks, mb)
	}
	if req.Message == "" && len(req.History) == 0 {
		blocks = append(blocks, openingBlock)
	}
	if det.IsCombat {
		blocks = append(blocks, combatBlock(det))
	}
	blocks = append(blocks, formatBlock, stopReminder)

	return strings.Join(blocks, "\n\n")
}

// buildMessages replays the conversation history as role-tagged messages and
// appends the player's current message.
func buildMessages(req types.TurnRequest) []llm.Message {
	msgs := make([]llm.Message, 0, len(req.History)+1)
	for _, m := range req.History {
		msgs = append(msgs, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	if req.Message != "" {
		msgs = append(msgs, llm.Message{Role: string(types.RoleUser), Content: req.Message})
	}
	return msgs
}
