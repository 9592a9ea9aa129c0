// Package monitor records per-tier backend outcomes so the three narrative
// tiers can be compared operationally: attempt counts, latency, error
// classes, and fallback frequency.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/lorekeep/lorekeep/internal/observe"
	"github.com/lorekeep/lorekeep/pkg/memory"
	"github.com/lorekeep/lorekeep/pkg/types"
)

// Monitor fans a [types.BackendOutcome] out to the otel instruments and,
// when configured, a persisted sink. Recording never fails the turn: sink
// errors are logged and dropped.
type Monitor struct {
	metrics *observe.Metrics
	sink    memory.OutcomeStore // nil when persistence is disabled
}

// Option configures a [Monitor].
type Option func(*Monitor)

// WithSink persists every outcome to store in addition to the metrics.
func WithSink(store memory.OutcomeStore) Option {
	return func(m *Monitor) { m.sink = store }
}

// New creates a Monitor recording to metrics. A nil metrics falls back to
// [observe.DefaultMetrics].
func New(metrics *observe.Metrics, opts ...Option) *Monitor {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	m := &Monitor{metrics: metrics}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Record observes one backend attempt. A zero timestamp is stamped with the
// current time.
func (m *Monitor) Record(ctx context.Context, o types.BackendOutcome) {
	if o.Timestamp.IsZero() {
		o.Timestamp = time.Now()
	}

	m.metrics.RecordTierRequest(ctx, string(o.Tier), string(o.Outcome))
	m.metrics.TierDuration.Record(ctx, o.Duration.Seconds(),
		metric.WithAttributes(observe.Attr("tier", string(o.Tier))),
	)
	if o.Outcome == types.OutcomeError && o.ErrorClass != "" {
		m.metrics.RecordTierError(ctx, string(o.Tier), o.ErrorClass)
	}

	if m.sink != nil {
		if err := m.sink.RecordOutcome(ctx, o); err != nil {
			observe.Logger(ctx).Warn("monitor: outcome sink write failed",
				slog.String("tier", string(o.Tier)),
				slog.Any("err", err),
			)
		}
	}
}
