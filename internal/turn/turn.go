// Package turn implements the narrative turn pipeline.
//
// One call runs: request deduplication, backend tier routing, response
// normalization, side-channel extraction, and post-processing. Message
// persistence is the only core side effect: a failure to record the player's
// message or the final narration fails the turn, while everything in the
// post-processing coordinator is isolated and best-effort.
package turn

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lorekeep/lorekeep/internal/dedupe"
	"github.com/lorekeep/lorekeep/internal/normalize"
	"github.com/lorekeep/lorekeep/internal/observe"
	"github.com/lorekeep/lorekeep/internal/postprocess"
	"github.com/lorekeep/lorekeep/internal/router"
	"github.com/lorekeep/lorekeep/internal/sidechannel"
	"github.com/lorekeep/lorekeep/pkg/memory"
	"github.com/lorekeep/lorekeep/pkg/types"
)

// Service generates narrative turns. Safe for concurrent use; identical
// concurrent requests share a single generation through the dedupe group.
type Service struct {
	router   *router.Router
	messages memory.MessageStore
	post     *postprocess.Coordinator
	group    *dedupe.Group[*types.TurnResponse]
	metrics  *observe.Metrics
}

// Option configures a [Service].
type Option func(*Service)

// WithDedupTTL overrides the dedupe window. Defaults to [dedupe.DefaultTTL].
func WithDedupTTL(ttl time.Duration) Option {
	return func(s *Service) { s.group = dedupe.New[*types.TurnResponse](ttl) }
}

// WithMetrics replaces the default metrics instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New creates a Service. messages may be nil, disabling transcript
// persistence (useful for previews); post may be nil, disabling side effects.
func New(r *router.Router, messages memory.MessageStore, post *postprocess.Coordinator, opts ...Option) *Service {
	s := &Service{
		router:   r,
		messages: messages,
		post:     post,
		group:    dedupe.New[*types.TurnResponse](dedupe.DefaultTTL),
		metrics:  observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// GenerateTurn produces the narrative turn for req. Concurrent calls with the
// same session, message prefix, and history length share one execution and
// one set of side effects.
func (s *Service) GenerateTurn(ctx context.Context, req types.TurnRequest) (*types.TurnResponse, error) {
	start := time.Now()
	s.metrics.ActiveTurns.Add(ctx, 1)
	defer s.metrics.ActiveTurns.Add(ctx, -1)
	defer func() {
		s.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())
	}()

	key := dedupe.Key(req.Context.SessionID, req.Message, len(req.History))
	resp, shared, err := s.group.Do(ctx, key, func() (*types.TurnResponse, error) {
		return s.generate(ctx, req)
	})
	if shared {
		s.metrics.DedupHits.Add(ctx, 1)
		observe.Logger(ctx).Info("duplicate turn joined in-flight generation",
			"session_id", req.Context.SessionID)
	}
	return resp, err
}

// generate runs the pipeline for a single deduplicated execution.
func (s *Service) generate(ctx context.Context, req types.TurnRequest) (*types.TurnResponse, error) {
	if err := s.persistMessage(ctx, req.Context, types.ChatMessage{
		ID:        uuid.NewString(),
		Role:      types.RoleUser,
		Content:   req.Message,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("turn: persist player message: %w", err)
	}

	res, err := s.router.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("turn: %w", err)
	}

	env := normalize.Envelope{Text: res.Raw}
	if res.Structured {
		nr := normalize.Structured(res.Raw)
		env = nr.Envelope
		switch nr.Strategy {
		case normalize.StrategyDirect, normalize.StrategyPlain:
		default:
			s.metrics.RecordRecovery(ctx, nr.Strategy)
			observe.Logger(ctx).Warn("structured output recovered",
				"strategy", nr.Strategy, "tier", res.Tier)
		}
	}

	ext := sidechannel.Extract(env.Text)

	resp := &types.TurnResponse{
		Text:         ext.Text,
		Segments:     sidechannel.StripSegments(env.Segments),
		RollRequests: append(res.Rolls, ext.Rolls...),
		ArtPrompt:    ext.ArtPrompt,
	}
	if res.Combat.IsCombat {
		resp.Combat = &types.CombatSnapshot{
			Active:     true,
			CombatType: res.Combat.CombatType,
			Enemies:    res.Combat.Enemies,
		}
	}

	if err := s.persistMessage(ctx, req.Context, types.ChatMessage{
		ID:        uuid.NewString(),
		Role:      types.RoleAssistant,
		Content:   resp.Text,
		Timestamp: time.Now().UTC(),
		Segments:  resp.Segments,
	}); err != nil {
		return nil, fmt.Errorf("turn: persist narration: %w", err)
	}

	if s.post != nil {
		s.post.Run(ctx, req, resp, ext)
	}
	return resp, nil
}

// persistMessage records one transcript entry. Empty messages (the opening
// turn) and a nil store are skipped.
func (s *Service) persistMessage(ctx context.Context, gc types.GameContext, msg types.ChatMessage) error {
	if s.messages == nil || msg.Content == "" {
		return nil
	}
	return s.messages.InsertMessage(ctx, gc.CampaignID, gc.SessionID, msg)
}
