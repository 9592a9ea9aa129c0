// Package postprocess applies a turn's side effects after the response text
// is final: memory persistence, world-state deltas, and voice assignment.
//
// Every step is fault isolated. A failing or panicking step is logged,
// counted, and skipped; the player's turn is already complete by the time
// this package runs and nothing here may take it back.
package postprocess

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lorekeep/lorekeep/internal/observe"
	"github.com/lorekeep/lorekeep/internal/oracle"
	"github.com/lorekeep/lorekeep/internal/sidechannel"
	"github.com/lorekeep/lorekeep/internal/voice"
	"github.com/lorekeep/lorekeep/pkg/memory"
	"github.com/lorekeep/lorekeep/pkg/types"
)

// DefaultOracleCadence is how often the oracle path runs for free-plan turns:
// every 3rd turn. Pro and enterprise plans are not gated.
const DefaultOracleCadence = 3

// Coordinator runs the post-turn steps in fixed order: memory, world, voice.
type Coordinator struct {
	memories memory.MemoryStore
	world    memory.WorldStore
	voices   *voice.Resolver
	oracle   *oracle.Extractor
	metrics  *observe.Metrics
	cadence  int
}

// Option configures a [Coordinator].
type Option func(*Coordinator)

// WithOracle enables oracle extraction for turns whose narration carried no
// side-channel tags.
func WithOracle(e *oracle.Extractor) Option {
	return func(c *Coordinator) { c.oracle = e }
}

// WithVoices enables voice assignment for multi-voice narration segments.
func WithVoices(r *voice.Resolver) Option {
	return func(c *Coordinator) { c.voices = r }
}

// WithMetrics replaces the default metrics instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithOracleCadence sets the free-plan oracle cadence. Defaults to
// [DefaultOracleCadence].
func WithOracleCadence(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.cadence = n
		}
	}
}

// New creates a Coordinator. memories and world may be nil; the matching
// steps then become no-ops.
func New(memories memory.MemoryStore, world memory.WorldStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		memories: memories,
		world:    world,
		metrics:  observe.DefaultMetrics(),
		cadence:  DefaultOracleCadence,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run applies the side effects for one completed turn. It never returns an
// error: each step is isolated, and a failure in one does not stop the next.
func (c *Coordinator) Run(ctx context.Context, req types.TurnRequest, resp *types.TurnResponse, ext sidechannel.Extraction) {
	var fromOracle *oracle.Extraction

	c.step(ctx, "memory", func() error {
		if ext.HadTags {
			return c.persistMemories(ctx, draftRecords(req.Context, ext.Memories))
		}
		if c.oracle == nil || !c.oracleDue(req.Plan, req.TurnCount) {
			return nil
		}
		out, err := c.oracle.Extract(ctx, req.Context.CampaignID, req.Context.SessionID, req.Message, resp.Text)
		if err != nil {
			return err
		}
		c.metrics.OracleExtractions.Add(ctx, 1)
		fromOracle = out
		return c.persistMemories(ctx, out.Memories)
	})

	c.step(ctx, "world", func() error {
		deltas := ext.WorldDeltas
		if fromOracle != nil {
			deltas = append(deltas, fromOracle.WorldDeltas...)
		}
		if c.world == nil {
			return nil
		}
		var errs []error
		for _, d := range deltas {
			if err := c.world.ApplyDelta(ctx, req.Context.CampaignID, d); err != nil {
				errs = append(errs, fmt.Errorf("apply %s delta %q: %w", d.Kind, d.Name, err))
			}
		}
		return errors.Join(errs...)
	})

	c.step(ctx, "voice", func() error {
		if c.voices == nil || len(resp.Segments) == 0 {
			return nil
		}
		assignments, err := c.voices.Resolve(ctx, req.Context.SessionID, resp.Segments)
		if err != nil {
			return err
		}
		voice.Apply(resp.Segments, assignments)
		return nil
	})
}

// step runs one side-effect step, absorbing both errors and panics.
func (c *Coordinator) step(ctx context.Context, name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			observe.Logger(ctx).Error("post-processing step panicked", "step", name, "panic", r)
			c.metrics.RecordPostProcessFailure(ctx, name)
		}
	}()
	if err := fn(); err != nil {
		observe.Logger(ctx).Warn("post-processing step failed", "step", name, "err", err)
		c.metrics.RecordPostProcessFailure(ctx, name)
	}
}

func (c *Coordinator) persistMemories(ctx context.Context, records []types.MemoryRecord) error {
	if c.memories == nil || len(records) == 0 {
		return nil
	}
	return c.memories.InsertMemories(ctx, records)
}

// oracleDue reports whether the oracle path runs on this turn. Free-plan
// turns run it on every cadence-th turn; all other plans always run it.
func (c *Coordinator) oracleDue(plan types.Plan, turnCount int) bool {
	if plan != types.PlanFree {
		return true
	}
	return turnCount > 0 && turnCount%c.cadence == 0
}

// draftRecords turns <memories> bullet contents into records. A leading
// "[type]" marker sets the memory type; everything else defaults to an event
// of middling importance.
func draftRecords(gc types.GameContext, lines []string) []types.MemoryRecord {
	var out []types.MemoryRecord
	for _, line := range lines {
		content := strings.TrimSpace(line)
		if content == "" {
			continue
		}
		typ := "event"
		if strings.HasPrefix(content, "[") {
			if i := strings.Index(content, "]"); i > 1 {
				typ = strings.ToLower(strings.TrimSpace(content[1:i]))
				content = strings.TrimSpace(content[i+1:])
			}
		}
		if content == "" {
			continue
		}
		out = append(out, types.MemoryRecord{
			CampaignID: gc.CampaignID,
			SessionID:  gc.SessionID,
			Content:    content,
			Type:       typ,
			Importance: 5,
		})
	}
	return out
}
