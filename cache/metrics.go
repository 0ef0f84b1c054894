package cache

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// serviceMetrics records cache behavior through an OpenTelemetry meter.
type serviceMetrics struct {
	hits         metric.Int64Counter
	misses       metric.Int64Counter
	evictions    metric.Int64Counter
	coalesced    metric.Int64Counter
	upstreamHist metric.Float64Histogram
}

func newServiceMetrics(meter metric.Meter) (*serviceMetrics, error) {
	hits, err := meter.Int64Counter(
		"cache.query.hits",
		metric.WithDescription("Queries answered from the cache"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		return nil, err
	}

	misses, err := meter.Int64Counter(
		"cache.query.misses",
		metric.WithDescription("Queries that required an upstream computation"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		return nil, err
	}

	evictions, err := meter.Int64Counter(
		"cache.evictions",
		metric.WithDescription("Entries evicted to stay within capacity"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	coalesced, err := meter.Int64Counter(
		"cache.coalesced_waits",
		metric.WithDescription("Queries that joined another caller's in-flight computation"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		return nil, err
	}

	upstreamHist, err := meter.Float64Histogram(
		"rag.answer.duration_ms",
		metric.WithDescription("Upstream RAG pipeline call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &serviceMetrics{
		hits:         hits,
		misses:       misses,
		evictions:    evictions,
		coalesced:    coalesced,
		upstreamHist: upstreamHist,
	}, nil
}

func (m *serviceMetrics) hit(ctx context.Context)      { m.hits.Add(ctx, 1) }
func (m *serviceMetrics) miss(ctx context.Context)     { m.misses.Add(ctx, 1) }
func (m *serviceMetrics) eviction(ctx context.Context) { m.evictions.Add(ctx, 1) }
func (m *serviceMetrics) coalesce(ctx context.Context) { m.coalesced.Add(ctx, 1) }

func (m *serviceMetrics) observeUpstream(ctx context.Context, d time.Duration) {
	m.upstreamHist.Record(ctx, float64(d)/float64(time.Millisecond))
}
