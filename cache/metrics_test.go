package cache

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fzpathan/dr-rag-project/query"
)

func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %s is not an int64 sum", name)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestService_Metrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	p := &fakePipeline{}
	svc := newTestService(t, p, Options{Meter: provider.Meter("cache-test")})
	ctx := context.Background()

	req := query.Request{Question: "remedy for a stiff neck"}
	svc.Query(ctx, req) // miss + upstream call
	svc.Query(ctx, req) // hit
	svc.Query(ctx, req) // hit

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	if got := counterValue(t, rm, "cache.query.hits"); got != 2 {
		t.Errorf("cache.query.hits = %d, want 2", got)
	}
	if got := counterValue(t, rm, "cache.query.misses"); got != 1 {
		t.Errorf("cache.query.misses = %d, want 1", got)
	}
}

func TestService_EvictionMetric(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	p := &fakePipeline{}
	svc := newTestService(t, p, Options{MaxEntries: 2, Meter: provider.Meter("cache-test")})
	ctx := context.Background()

	svc.Query(ctx, query.Request{Question: "first question"})
	svc.Query(ctx, query.Request{Question: "second question"})
	svc.Query(ctx, query.Request{Question: "third question"}) // evicts one

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if got := counterValue(t, rm, "cache.evictions"); got != 1 {
		t.Errorf("cache.evictions = %d, want 1", got)
	}
	if got := svc.Stats().Evictions; got != 1 {
		t.Errorf("Stats().Evictions = %d, want 1", got)
	}
}
