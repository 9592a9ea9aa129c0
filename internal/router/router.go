// Package router drives turn generation through the ordered backend tiers.
//
// Tiers are tried in order: experimental, secondary, primary. The first two
// are gated by per-call environment flags so a tier can be toggled on a
// running server; the primary tier always runs. A tier that errors or reports
// [ErrTierNotReady] falls through to the next. Every attempt is timed and
// reported to the outcome monitor.
//
// Two degradations never surface as errors: quota exhaustion produces an
// in-character pause with a best-guess roll instruction or generic lettered
// choices, and a secondary placeholder result is completed either by a
// synthesized roll instruction or by one supplementary primary call for
// prose.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lorekeep/lorekeep/internal/combat"
	"github.com/lorekeep/lorekeep/internal/config"
	"github.com/lorekeep/lorekeep/internal/monitor"
	"github.com/lorekeep/lorekeep/internal/observe"
	"github.com/lorekeep/lorekeep/pkg/types"
)

// ErrTierNotReady is returned by a tier that is configured out of the
// rotation, e.g. an experimental tier with no provider set. The router falls
// through without counting it as a failure of the backend itself.
var ErrTierNotReady = errors.New("router: tier not ready")

// ErrQuota marks a quota or payment failure on a backend call.
var ErrQuota = errors.New("router: backend quota exhausted")

// ErrUnavailable is returned when every eligible tier failed.
var ErrUnavailable = errors.New("router: narrative service unavailable")

// quotaPatterns are matched case-insensitively against error text from
// backends that do not surface a clean 402.
var quotaPatterns = []string{
	"quota",
	"payment required",
	"insufficient credit",
	"billing",
	"402",
}

// IsQuota reports whether err represents quota exhaustion, either via the
// [ErrQuota] sentinel or a recognised message pattern.
func IsQuota(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrQuota) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range quotaPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// Result is one tier's output, before normalization.
type Result struct {
	// Tier identifies which tier produced the result.
	Tier types.TierID

	// Raw is the backend text. Empty on a placeholder result.
	Raw string

	// Structured reports whether Raw is expected to carry the JSON
	// envelope. Placeholder and degradation text is plain.
	Structured bool

	// Rolls are roll requests produced out-of-band, e.g. parsed by the
	// secondary orchestrator or inferred heuristically. They are merged
	// with any rolls embedded in Raw downstream.
	Rolls []types.RollRequest

	// Placeholder marks a minimal local result from the secondary tier
	// that still needs completion by the router.
	Placeholder bool

	// Combat is the detector verdict computed during prompt assembly.
	// Zero for tiers that do not assemble a prompt.
	Combat combat.Detection

	// Degraded marks a quota degradation result.
	Degraded bool
}

// Tier is one backend in the fallback chain.
type Tier interface {
	ID() types.TierID
	Generate(ctx context.Context, req types.TurnRequest) (*Result, error)
}

// Router tries the ordered tiers and applies the placeholder and quota
// degradations.
type Router struct {
	experimental Tier
	secondary    Tier
	primary      Tier
	mon          *monitor.Monitor
	readFlags    func() (config.Flags, error)
}

// RouterOption configures a [Router].
type RouterOption func(*Router)

// WithFlagReader replaces the environment flag reader, for tests.
func WithFlagReader(fn func() (config.Flags, error)) RouterOption {
	return func(r *Router) { r.readFlags = fn }
}

// New creates a Router. primary must be non-nil; experimental and secondary
// may be nil when not configured.
func New(experimental, secondary, primary Tier, mon *monitor.Monitor, opts ...RouterOption) *Router {
	r := &Router{
		experimental: experimental,
		secondary:    secondary,
		primary:      primary,
		mon:          mon,
		readFlags:    config.ReadFlags,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Generate runs req through the eligible tiers in order and returns the first
// usable result.
func (r *Router) Generate(ctx context.Context, req types.TurnRequest) (*Result, error) {
	tiers := r.eligibleTiers(ctx)

	var lastErr error
	for i, tier := range tiers {
		last := i == len(tiers)-1

		start := time.Now()
		res, err := tier.Generate(ctx, req)
		duration := time.Since(start)

		if err == nil {
			r.record(ctx, tier.ID(), types.OutcomeSuccess, duration, req, res.Raw, "")
			return r.finish(ctx, req, res)
		}
		lastErr = err

		if IsQuota(err) {
			r.record(ctx, tier.ID(), types.OutcomeError, duration, req, "", "quota")
			return r.degradeQuota(ctx, req), nil
		}

		outcome := types.OutcomeFallback
		class := "unavailable"
		if errors.Is(err, ErrTierNotReady) {
			class = "not_ready"
		}
		if last {
			outcome = types.OutcomeError
		}
		r.record(ctx, tier.ID(), outcome, duration, req, "", class)

		if !last {
			observe.Logger(ctx).Warn("backend tier failed, falling through",
				"tier", tier.ID(), "err", err)
		}
	}

	return nil, fmt.Errorf("%w: %w", ErrUnavailable, lastErr)
}

// eligibleTiers builds the ordered tier list for this call. Flags are re-read
// from the environment on every call; a flag read failure disables the
// optional tiers rather than the turn.
func (r *Router) eligibleTiers(ctx context.Context) []Tier {
	flags, err := r.readFlags()
	if err != nil {
		observe.Logger(ctx).Warn("router: flag read failed, optional tiers disabled", "err", err)
		flags = config.Flags{}
	}

	var tiers []Tier
	if flags.ExperimentalTier && r.experimental != nil {
		tiers = append(tiers, r.experimental)
	}
	if flags.SecondaryTier && r.secondary != nil {
		tiers = append(tiers, r.secondary)
	}
	tiers = append(tiers, r.primary)
	return tiers
}

// finish completes a successful tier result. A secondary placeholder with
// roll requests becomes a plain roll instruction; a placeholder without rolls
// gets one supplementary primary call for prose, keeping the secondary's roll
// requests either way.
func (r *Router) finish(ctx context.Context, req types.TurnRequest, res *Result) (*Result, error) {
	if !res.Placeholder {
		return res, nil
	}

	if len(res.Rolls) > 0 {
		res.Raw = RollInstruction(res.Rolls[0])
		res.Structured = false
		res.Placeholder = false
		return res, nil
	}

	start := time.Now()
	prose, err := r.primary.Generate(ctx, req)
	duration := time.Since(start)
	if err != nil {
		// Keep the placeholder usable rather than failing the turn.
		r.record(ctx, r.primary.ID(), types.OutcomeFallback, duration, req, "", "unavailable")
		observe.Logger(ctx).Warn("supplementary prose call failed, keeping placeholder", "err", err)
		res.Raw = "The scene awaits your action. Describe what you do next and I'll respond with clear consequences and options."
		res.Placeholder = false
		return res, nil
	}
	r.record(ctx, r.primary.ID(), types.OutcomeSuccess, duration, req, prose.Raw, "")

	prose.Rolls = res.Rolls
	return prose, nil
}

// degradeQuota builds the in-character quota degradation: a pause in the
// narration, plus either a best-guess roll instruction inferred from the
// player's message or generic lettered continuation choices.
func (r *Router) degradeQuota(ctx context.Context, req types.TurnRequest) *Result {
	observe.Logger(ctx).Warn("backend quota exhausted, degrading in-character")

	const pause = "The Dungeon Master pauses for a moment, considering the scene before you."

	rolls := InferRolls(req.Message)
	if len(rolls) > 0 {
		return &Result{
			Tier:     types.TierPrimary,
			Raw:      pause + " " + RollInstruction(rolls[0]),
			Rolls:    rolls,
			Degraded: true,
		}
	}
	return &Result{
		Tier:     types.TierPrimary,
		Raw:      pause + " What do you do next?" + letteredOptions("", "", nil),
		Degraded: true,
	}
}

func (r *Router) record(ctx context.Context, tier types.TierID, outcome types.Outcome, d time.Duration, req types.TurnRequest, response, class string) {
	if r.mon == nil {
		return
	}
	r.mon.Record(ctx, types.BackendOutcome{
		Tier:        tier,
		Outcome:     outcome,
		Duration:    d,
		MessageLen:  len(req.Message),
		ResponseLen: len(response),
		ErrorClass:  class,
		SessionID:   req.Context.SessionID,
	})
}
