package cache

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/fzpathan/dr-rag-project/query"
)

// Defaults for Options.
const (
	DefaultMaxEntries      = 1000
	DefaultTTL             = 24 * time.Hour
	DefaultTopK            = 5
	DefaultUpstreamTimeout = 60 * time.Second
)

// Pipeline produces an answer for a request on a cache miss. It is the
// cache's only upstream collaborator; implementations are expected to carry
// their own transport-level behavior (retries, connection handling).
type Pipeline interface {
	Answer(ctx context.Context, req query.Request) (*query.Answer, error)
}

// Options configures a Service.
type Options struct {
	// MaxEntries bounds the number of live cache entries. Default: 1000.
	MaxEntries int

	// TTL is the lifespan of a cache entry. Default: 24 hours.
	TTL time.Duration

	// DefaultTopK is substituted for requests without an explicit top_k.
	// Default: 5.
	DefaultTopK int

	// UpstreamTimeout bounds a single pipeline computation. The timeout is
	// attached to a context detached from the requesting caller, so one
	// caller aborting never cancels a computation other callers wait on.
	// Default: 60 seconds.
	UpstreamTimeout time.Duration

	// Logger receives structured logs. Default: slog.Default().
	Logger *slog.Logger

	// Meter records cache metrics. Default: no-op.
	Meter metric.Meter

	// Tracer traces query handling. Default: no-op.
	Tracer trace.Tracer
}

func (o Options) withDefaults() Options {
	if o.MaxEntries <= 0 {
		o.MaxEntries = DefaultMaxEntries
	}
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.DefaultTopK <= 0 {
		o.DefaultTopK = DefaultTopK
	}
	if o.UpstreamTimeout <= 0 {
		o.UpstreamTimeout = DefaultUpstreamTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Meter == nil {
		o.Meter = metricnoop.NewMeterProvider().Meter("cache")
	}
	if o.Tracer == nil {
		o.Tracer = tracenoop.NewTracerProvider().Tracer("cache")
	}
	return o
}

// Service is the public face of the query cache. Construct one per process
// (or per test) and pass it by handle; there is no package-level instance.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Errors: upstream errors are surfaced verbatim, never cached.
type Service struct {
	opts      Options
	pipeline  Pipeline
	builder   *FingerprintBuilder
	store     *Store
	coalescer Coalescer
	metrics   *serviceMetrics
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewService creates a cache service in front of pipeline.
func NewService(pipeline Pipeline, opts Options) (*Service, error) {
	if pipeline == nil {
		return nil, ErrNilPipeline
	}
	opts = opts.withDefaults()

	metrics, err := newServiceMetrics(opts.Meter)
	if err != nil {
		return nil, err
	}

	s := &Service{
		opts:     opts,
		pipeline: pipeline,
		builder:  NewFingerprintBuilder(opts.DefaultTopK),
		store:    NewStore(opts.MaxEntries),
		metrics:  metrics,
		logger:   opts.Logger,
		tracer:   opts.Tracer,
	}
	s.store.onEvict = func(Fingerprint) {
		s.metrics.eviction(context.Background())
	}
	return s, nil
}

// Query answers a request, from the cache when possible. cached reports
// whether the answer was served from the cache so the boundary layer can
// surface it to the caller.
//
// On a cold fingerprint the caller becomes the leader of a coalesced
// computation; concurrent callers for the same fingerprint wait for that
// single computation instead of issuing their own. A failed computation is
// reported to every waiter and nothing is cached, so the next identical
// query retries fresh.
func (s *Service) Query(ctx context.Context, req query.Request) (answer *query.Answer, cached bool, err error) {
	if err := req.Validate(); err != nil {
		return nil, false, err
	}
	req = req.Sanitized()

	ctx, span := s.tracer.Start(ctx, "cache.Query")
	defer span.End()

	fp := s.builder.Fingerprint(req)
	if answer, ok := s.store.Get(fp); ok {
		s.metrics.hit(ctx)
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return answer, true, nil
	}
	s.metrics.miss(ctx)
	span.SetAttributes(attribute.Bool("cache.hit", false))

	answer, cached, shared, err := s.coalescer.Resolve(ctx, fp, func() (*query.Answer, bool, error) {
		// Another caller may have finished and populated the store between
		// our miss and this computation starting.
		if answer, ok := s.store.lookup(fp, false); ok {
			return answer, true, nil
		}
		return s.computeAndStore(ctx, fp, req)
	})
	if shared {
		s.metrics.coalesce(ctx)
	}
	if err != nil {
		return nil, false, err
	}
	return answer, cached, nil
}

// computeAndStore calls the pipeline and installs the result. The upstream
// call runs on a context detached from the caller: waiters and the leader
// share the computation, so only its own timeout may cancel it.
func (s *Service) computeAndStore(ctx context.Context, fp Fingerprint, req query.Request) (*query.Answer, bool, error) {
	upCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.UpstreamTimeout)
	defer cancel()

	start := time.Now()
	answer, err := s.pipeline.Answer(upCtx, req)
	s.metrics.observeUpstream(ctx, time.Since(start))
	if err != nil {
		s.logger.WarnContext(ctx, "upstream query failed",
			"fingerprint", truncateFingerprint(fp),
			"error", err,
		)
		return nil, false, err
	}

	s.store.Put(fp, answer, s.opts.TTL)
	s.logger.DebugContext(ctx, "cached upstream answer",
		"fingerprint", truncateFingerprint(fp),
		"duration", time.Since(start),
	)
	return answer, false, nil
}

// Stats returns a snapshot of the cache counters.
func (s *Service) Stats() Stats {
	return s.store.Stats()
}

// Clear removes all cached entries. Lifetime counters are preserved.
func (s *Service) Clear() {
	s.store.Clear()
	s.logger.Info("cache cleared")
}

// ResetStats zeroes the lifetime counters without touching cache content.
func (s *Service) ResetStats() {
	s.store.ResetStats()
}

// Invalidate removes the single entry matching req, if present.
func (s *Service) Invalidate(req query.Request) {
	s.store.Invalidate(s.builder.Fingerprint(req.Sanitized()))
}

// Options returns the effective configuration, with defaults applied.
func (s *Service) Options() Options {
	return s.opts
}

func truncateFingerprint(fp Fingerprint) string {
	if len(fp) > 8 {
		return string(fp[:8])
	}
	return string(fp)
}
