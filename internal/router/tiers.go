package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lorekeep/lorekeep/internal/observe"
	"github.com/lorekeep/lorekeep/internal/prompt"
	"github.com/lorekeep/lorekeep/internal/rotation"
	"github.com/lorekeep/lorekeep/pkg/provider/llm"
	"github.com/lorekeep/lorekeep/pkg/types"
)

// ─────────────────────────────────────────────────────────────────────────────
// Model tier (primary, experimental)
// ─────────────────────────────────────────────────────────────────────────────

// ProviderFactory builds a provider bound to one API key. The model tier
// rotates keys through the factory on transient failure.
type ProviderFactory func(apiKey string) (llm.Provider, error)

// ModelTier generates turns through an [llm.Provider], with key rotation and
// retry handled by a [rotation.Executor]. It expects the structured JSON
// envelope back from the model.
type ModelTier struct {
	id        types.TierID
	factory   ProviderFactory
	assembler *prompt.Assembler
	exec      *rotation.Executor

	temperature float64
	maxTokens   int

	mu    sync.Mutex
	cache map[string]llm.Provider
}

// ModelTierOption configures a [ModelTier].
type ModelTierOption func(*ModelTier)

// WithSampling sets the generation temperature and completion token cap.
func WithSampling(temperature float64, maxTokens int) ModelTierOption {
	return func(t *ModelTier) {
		t.temperature = temperature
		t.maxTokens = maxTokens
	}
}

// WithExecutor replaces the default rotation executor.
func WithExecutor(exec *rotation.Executor) ModelTierOption {
	return func(t *ModelTier) { t.exec = exec }
}

// NewModelTier creates a model tier. factory may be nil, in which case
// Generate always returns [ErrTierNotReady]; this is how an unconfigured
// experimental tier is represented.
func NewModelTier(id types.TierID, keys []string, factory ProviderFactory, assembler *prompt.Assembler, opts ...ModelTierOption) *ModelTier {
	t := &ModelTier{
		id:        id,
		factory:   factory,
		assembler: assembler,
		exec:      rotation.New(keys),
		cache:     make(map[string]llm.Provider),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// ID implements [Tier].
func (t *ModelTier) ID() types.TierID { return t.id }

// Generate implements [Tier]. It assembles the layered prompt, then runs the
// completion under the rotation executor, streaming chunks to req.OnStream
// when set.
func (t *ModelTier) Generate(ctx context.Context, req types.TurnRequest) (*Result, error) {
	if t.factory == nil {
		return nil, fmt.Errorf("%s tier: %w", t.id, ErrTierNotReady)
	}

	asm, err := t.assembler.Assemble(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s tier: %w", t.id, err)
	}

	creq := llm.CompletionRequest{
		Messages:     asm.Messages,
		SystemPrompt: asm.System,
		Temperature:  t.temperature,
		MaxTokens:    t.maxTokens,
	}

	content, err := rotation.ExecuteWithResult(ctx, t.exec, func(ctx context.Context, apiKey string) (string, error) {
		p, perr := t.providerFor(apiKey)
		if perr != nil {
			// A factory failure will not heal with another key.
			return "", rotation.Permanent(perr)
		}
		return t.complete(ctx, p, creq, req.OnStream)
	})
	if err != nil {
		return nil, fmt.Errorf("%s tier: %w", t.id, err)
	}

	return &Result{
		Tier:       t.id,
		Raw:        content,
		Structured: true,
		Combat:     asm.Combat,
	}, nil
}

func (t *ModelTier) providerFor(apiKey string) (llm.Provider, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.cache[apiKey]; ok {
		return p, nil
	}
	p, err := t.factory(apiKey)
	if err != nil {
		return nil, err
	}
	t.cache[apiKey] = p
	return p, nil
}

func (t *ModelTier) complete(ctx context.Context, p llm.Provider, creq llm.CompletionRequest, onStream types.StreamFunc) (string, error) {
	if onStream == nil {
		resp, err := p.Complete(ctx, creq)
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	}

	ch, err := p.StreamCompletion(ctx, creq)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for chunk := range ch {
		if chunk.FinishReason == "error" {
			// A terminal error chunk carries the backend error in Text, not
			// narration. It must never reach onStream, and the message must
			// survive into the returned error so quota failures classify.
			if chunk.Text != "" {
				return "", fmt.Errorf("stream ended with error: %s", chunk.Text)
			}
			return "", errors.New("stream ended with error")
		}
		if chunk.Text != "" {
			sb.WriteString(chunk.Text)
			onStream(chunk.Text)
		}
	}
	return sb.String(), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Secondary tier (remote orchestrator + local placeholder)
// ─────────────────────────────────────────────────────────────────────────────

// SecondaryTier talks to the remote turn orchestrator over HTTP. When the
// orchestrator is unreachable it degrades to the local heuristic placeholder:
// a roll follow-up narration when the player reported a die result, otherwise
// roll requests inferred from the message alone.
type SecondaryTier struct {
	url    string
	apiKey string
	client *http.Client
}

// NewSecondaryTier creates the secondary tier. url may be empty, in which
// case every call takes the local placeholder path. timeout bounds the remote
// call; zero means 60 seconds.
func NewSecondaryTier(url, apiKey string, timeout time.Duration) *SecondaryTier {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &SecondaryTier{
		url:    strings.TrimRight(url, "/"),
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

// ID implements [Tier].
func (t *SecondaryTier) ID() types.TierID { return types.TierSecondary }

// Generate implements [Tier].
func (t *SecondaryTier) Generate(ctx context.Context, req types.TurnRequest) (*Result, error) {
	// A reported die result is answered locally; the orchestrator has no
	// access to the pending roll state.
	if text, ok := RollFollowUp(req.Message, req.History); ok {
		return &Result{Tier: types.TierSecondary, Raw: text}, nil
	}

	if t.url != "" {
		res, err := t.callOrchestrator(ctx, req)
		if err == nil {
			return res, nil
		}
		observe.Logger(ctx).Warn("secondary tier: orchestrator unreachable, using local placeholder", "err", err)
	}

	return &Result{
		Tier:        types.TierSecondary,
		Placeholder: true,
		Rolls:       InferRolls(req.Message),
	}, nil
}

// orchestratorRequest is the wire request for the remote orchestrator's
// /dm/respond endpoint.
type orchestratorRequest struct {
	Message string                `json:"message"`
	History []orchestratorMessage `json:"history,omitempty"`
}

type orchestratorMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// orchestratorResponse mirrors the orchestrator's DM response shape. Roll
// kinds come back in the orchestrator's vocabulary ("check") and are mapped
// to ours.
type orchestratorResponse struct {
	Text         string             `json:"text"`
	RollRequests []orchestratorRoll `json:"roll_requests,omitempty"`
}

type orchestratorRoll struct {
	Type    string `json:"type"`
	Formula string `json:"formula"`
	Purpose string `json:"purpose"`
	DC      *int   `json:"dc,omitempty"`
	AC      *int   `json:"ac,omitempty"`
	Skill   string `json:"skill,omitempty"`
	Ability string `json:"ability,omitempty"`
}

func (t *SecondaryTier) callOrchestrator(ctx context.Context, req types.TurnRequest) (*Result, error) {
	wire := orchestratorRequest{Message: req.Message}
	for _, h := range req.History {
		wire.History = append(wire.History, orchestratorMessage{Role: string(h.Role), Content: h.Content})
	}
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal orchestrator request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url+"/dm/respond", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build orchestrator request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("orchestrator call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPaymentRequired {
		return nil, fmt.Errorf("orchestrator call: %w", ErrQuota)
	}
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("orchestrator call: status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var decoded orchestratorResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode orchestrator response: %w", err)
	}

	return &Result{
		Tier:  types.TierSecondary,
		Raw:   decoded.Text,
		Rolls: mapOrchestratorRolls(decoded.RollRequests),
	}, nil
}

// mapOrchestratorRolls converts orchestrator roll kinds to ours, dropping
// entries with unknown kinds or missing formulas.
func mapOrchestratorRolls(rolls []orchestratorRoll) []types.RollRequest {
	var out []types.RollRequest
	for _, r := range rolls {
		kind := types.RollType(r.Type)
		if r.Type == "check" {
			kind = types.RollSkillCheck
		}
		if !kind.IsValid() || r.Formula == "" {
			continue
		}
		out = append(out, types.RollRequest{
			Type:    kind,
			Formula: r.Formula,
			Purpose: r.Purpose,
			DC:      r.DC,
			AC:      r.AC,
			Skill:   r.Skill,
			Ability: r.Ability,
		})
	}
	return out
}
