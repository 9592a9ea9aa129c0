// Package observe provides application-wide observability primitives for
// lorekeep: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all lorekeep metrics.
const meterName = "github.com/lorekeep/lorekeep"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TurnDuration tracks end-to-end turn generation latency.
	TurnDuration metric.Float64Histogram

	// TierDuration tracks per-backend-tier latency. Use with attribute:
	//   attribute.String("tier", ...)
	TierDuration metric.Float64Histogram

	// --- Counters ---

	// TierRequests counts backend tier attempts. Use with attributes:
	//   attribute.String("tier", ...), attribute.String("outcome", ...)
	TierRequests metric.Int64Counter

	// TierErrors counts backend tier failures. Use with attributes:
	//   attribute.String("tier", ...), attribute.String("class", ...)
	TierErrors metric.Int64Counter

	// DedupHits counts turn requests answered from the dedup cache.
	DedupHits metric.Int64Counter

	// NormalizerRecoveries counts structured-output recoveries by strategy.
	// Use with attribute: attribute.String("strategy", ...)
	NormalizerRecoveries metric.Int64Counter

	// OracleExtractions counts oracle extraction passes. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("status", ...)
	OracleExtractions metric.Int64Counter

	// PostProcessFailures counts swallowed post-processing failures by stage.
	// Use with attribute: attribute.String("stage", ...)
	PostProcessFailures metric.Int64Counter

	// --- Gauges ---

	// ActiveTurns tracks the number of turn generations in flight.
	ActiveTurns metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// LLM-backed turn latencies.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TurnDuration, err = m.Float64Histogram("lorekeep.turn.duration",
		metric.WithDescription("End-to-end turn generation latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TierDuration, err = m.Float64Histogram("lorekeep.tier.duration",
		metric.WithDescription("Backend tier latency by tier."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.TierRequests, err = m.Int64Counter("lorekeep.tier.requests",
		metric.WithDescription("Total backend tier attempts by tier and outcome."),
	); err != nil {
		return nil, err
	}
	if met.TierErrors, err = m.Int64Counter("lorekeep.tier.errors",
		metric.WithDescription("Total backend tier failures by tier and error class."),
	); err != nil {
		return nil, err
	}
	if met.DedupHits, err = m.Int64Counter("lorekeep.dedup.hits",
		metric.WithDescription("Turn requests answered from the dedup cache."),
	); err != nil {
		return nil, err
	}
	if met.NormalizerRecoveries, err = m.Int64Counter("lorekeep.normalizer.recoveries",
		metric.WithDescription("Structured-output recoveries by strategy."),
	); err != nil {
		return nil, err
	}
	if met.OracleExtractions, err = m.Int64Counter("lorekeep.oracle.extractions",
		metric.WithDescription("Oracle extraction passes by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.PostProcessFailures, err = m.Int64Counter("lorekeep.postprocess.failures",
		metric.WithDescription("Swallowed post-processing failures by stage."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveTurns, err = m.Int64UpDownCounter("lorekeep.active_turns",
		metric.WithDescription("Number of turn generations in flight."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("lorekeep.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTierRequest is a convenience method that records a tier attempt with
// the standard attribute set.
func (m *Metrics) RecordTierRequest(ctx context.Context, tier, outcome string) {
	m.TierRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tier", tier),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordTierError is a convenience method that records a tier failure with
// the standard attribute set.
func (m *Metrics) RecordTierError(ctx context.Context, tier, class string) {
	m.TierErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tier", tier),
			attribute.String("class", class),
		),
	)
}

// RecordRecovery is a convenience method that records a normalizer recovery
// by strategy.
func (m *Metrics) RecordRecovery(ctx context.Context, strategy string) {
	m.NormalizerRecoveries.Add(ctx, 1,
		metric.WithAttributes(attribute.String("strategy", strategy)),
	)
}

// RecordPostProcessFailure is a convenience method that records a swallowed
// post-processing failure by stage.
func (m *Metrics) RecordPostProcessFailure(ctx context.Context, stage string) {
	m.PostProcessFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}
