package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"lorekeep.turn.duration", m.TurnDuration},
		{"lorekeep.tier.duration", m.TierDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 1.5)
		tc.h.Record(ctx, 4.2)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			found := findMetric(rm, tc.name)
			if found == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := found.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a float64 histogram", tc.name)
			}
			if len(hist.DataPoints) != 1 {
				t.Fatalf("expected 1 data point, got %d", len(hist.DataPoints))
			}
			if hist.DataPoints[0].Count != 2 {
				t.Errorf("expected count 2, got %d", hist.DataPoints[0].Count)
			}
		})
	}
}

func TestRecordTierRequest_Attributes(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTierRequest(ctx, "secondary", "fallback")
	m.RecordTierRequest(ctx, "primary", "success")
	m.RecordTierRequest(ctx, "primary", "success")

	rm := collect(t, reader)
	found := findMetric(rm, "lorekeep.tier.requests")
	if found == nil {
		t.Fatal("metric lorekeep.tier.requests not found")
	}
	sum, ok := found.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("lorekeep.tier.requests is not an int64 sum")
	}
	if len(sum.DataPoints) != 2 {
		t.Fatalf("expected 2 attribute sets, got %d", len(sum.DataPoints))
	}

	for _, dp := range sum.DataPoints {
		tier, _ := dp.Attributes.Value(attribute.Key("tier"))
		switch tier.AsString() {
		case "primary":
			if dp.Value != 2 {
				t.Errorf("primary count = %d, want 2", dp.Value)
			}
		case "secondary":
			if dp.Value != 1 {
				t.Errorf("secondary count = %d, want 1", dp.Value)
			}
		default:
			t.Errorf("unexpected tier attribute %q", tier.AsString())
		}
	}
}

func TestRecordRecovery_Strategy(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRecovery(ctx, "regex_extract")

	rm := collect(t, reader)
	found := findMetric(rm, "lorekeep.normalizer.recoveries")
	if found == nil {
		t.Fatal("metric lorekeep.normalizer.recoveries not found")
	}
	sum, ok := found.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("lorekeep.normalizer.recoveries is not an int64 sum")
	}
	if len(sum.DataPoints) != 1 {
		t.Fatalf("expected 1 data point, got %d", len(sum.DataPoints))
	}
	strategy, _ := sum.DataPoints[0].Attributes.Value(attribute.Key("strategy"))
	if strategy.AsString() != "regex_extract" {
		t.Errorf("strategy attribute = %q, want regex_extract", strategy.AsString())
	}
}

func TestActiveTurns_UpDown(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveTurns.Add(ctx, 1)
	m.ActiveTurns.Add(ctx, 1)
	m.ActiveTurns.Add(ctx, -1)

	rm := collect(t, reader)
	found := findMetric(rm, "lorekeep.active_turns")
	if found == nil {
		t.Fatal("metric lorekeep.active_turns not found")
	}
	sum, ok := found.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("lorekeep.active_turns is not an int64 sum")
	}
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Errorf("expected value 1 after +1 +1 -1, got %+v", sum.DataPoints)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics should return the same pointer")
	}
}
