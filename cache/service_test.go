package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fzpathan/dr-rag-project/query"
)

// fakePipeline is a scriptable Pipeline for service tests.
type fakePipeline struct {
	mu      sync.Mutex
	calls   atomic.Int64
	answer  func(ctx context.Context, req query.Request) (*query.Answer, error)
	block   chan struct{} // when non-nil, Answer blocks until closed
	started chan struct{} // closed when the first Answer call begins
}

func (p *fakePipeline) Answer(ctx context.Context, req query.Request) (*query.Answer, error) {
	if p.calls.Add(1) == 1 && p.started != nil {
		close(p.started)
	}
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p.mu.Lock()
	fn := p.answer
	p.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return &query.Answer{
		ID:          "pipeline-id",
		Question:    req.Question,
		Answer:      "answer for " + req.Question,
		SourcesUsed: []string{"Book A"},
	}, nil
}

func newTestService(t *testing.T, p Pipeline, opts Options) *Service {
	t.Helper()
	svc, err := NewService(p, opts)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc
}

func TestNewService_NilPipeline(t *testing.T) {
	_, err := NewService(nil, Options{})
	if !errors.Is(err, ErrNilPipeline) {
		t.Errorf("got %v, want ErrNilPipeline", err)
	}
}

func TestService_Defaults(t *testing.T) {
	svc := newTestService(t, &fakePipeline{}, Options{})
	opts := svc.Options()
	if opts.MaxEntries != DefaultMaxEntries {
		t.Errorf("MaxEntries = %d, want %d", opts.MaxEntries, DefaultMaxEntries)
	}
	if opts.TTL != DefaultTTL {
		t.Errorf("TTL = %v, want %v", opts.TTL, DefaultTTL)
	}
	if opts.DefaultTopK != DefaultTopK {
		t.Errorf("DefaultTopK = %d, want %d", opts.DefaultTopK, DefaultTopK)
	}
}

func TestService_QueryIdempotence(t *testing.T) {
	p := &fakePipeline{}
	svc := newTestService(t, p, Options{})
	ctx := context.Background()

	req := query.Request{Question: "what helps with a sore throat"}

	first, cached, err := svc.Query(ctx, req)
	if err != nil {
		t.Fatalf("first query failed: %v", err)
	}
	if cached {
		t.Error("first query should not be cached")
	}

	second, cached, err := svc.Query(ctx, req)
	if err != nil {
		t.Fatalf("second query failed: %v", err)
	}
	if !cached {
		t.Error("second query should be cached")
	}
	if first.Answer != second.Answer || first.ID != second.ID {
		t.Error("second query returned a different answer")
	}
	if got := p.calls.Load(); got != 1 {
		t.Errorf("pipeline invoked %d times, want 1", got)
	}
}

func TestService_SemanticallyEquivalentRequestsShareEntry(t *testing.T) {
	p := &fakePipeline{}
	svc := newTestService(t, p, Options{DefaultTopK: 5})
	ctx := context.Background()

	if _, _, err := svc.Query(ctx, query.Request{Question: "Sore  Throat remedy", SourceFilter: []string{"B", "A"}}); err != nil {
		t.Fatal(err)
	}
	_, cached, err := svc.Query(ctx, query.Request{Question: "sore throat remedy", SourceFilter: []string{"A", "B", "A"}, TopK: 5})
	if err != nil {
		t.Fatal(err)
	}
	if !cached {
		t.Error("semantically equivalent request should hit the cache")
	}
	if got := p.calls.Load(); got != 1 {
		t.Errorf("pipeline invoked %d times, want 1", got)
	}
}

func TestService_ValidationRejectedBeforePipeline(t *testing.T) {
	p := &fakePipeline{}
	svc := newTestService(t, p, Options{})

	_, _, err := svc.Query(context.Background(), query.Request{Question: ""})
	if !errors.Is(err, query.ErrQuestionTooShort) {
		t.Errorf("got %v, want ErrQuestionTooShort", err)
	}
	if p.calls.Load() != 0 {
		t.Error("invalid request must never reach the pipeline")
	}

	stats := svc.Stats()
	if stats.Hits != 0 || stats.Misses != 0 {
		t.Error("invalid request must never touch the cache")
	}
}

func TestService_ConcurrentQueriesCoalesce(t *testing.T) {
	p := &fakePipeline{
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	svc := newTestService(t, p, Options{})
	ctx := context.Background()

	req := query.Request{Question: "remedies for a common cold"}

	const callers = 16
	var wg sync.WaitGroup
	answers := make([]*query.Answer, callers)
	errs := make([]error, callers)

	wg.Add(1)
	go func() {
		defer wg.Done()
		answers[0], _, errs[0] = svc.Query(ctx, req)
	}()
	<-p.started

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			answers[i], _, errs[i] = svc.Query(ctx, req)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(p.block)
	wg.Wait()

	if got := p.calls.Load(); got != 1 {
		t.Errorf("pipeline invoked %d times for %d concurrent callers, want 1", got, callers)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if answers[i].Answer != answers[0].Answer {
			t.Errorf("caller %d received a different answer", i)
		}
	}
}

func TestService_FailureIsolation(t *testing.T) {
	boom := errors.New("upstream unavailable")
	p := &fakePipeline{}
	p.answer = func(context.Context, query.Request) (*query.Answer, error) {
		return nil, boom
	}
	svc := newTestService(t, p, Options{})
	ctx := context.Background()

	req := query.Request{Question: "what helps with insomnia"}

	_, cached, err := svc.Query(ctx, req)
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want upstream error", err)
	}
	if cached {
		t.Error("failed query must not report cached")
	}

	// The failure is not cached: the next identical query retries fresh
	// and succeeds.
	p.mu.Lock()
	p.answer = nil
	p.mu.Unlock()

	answer, cached, err := svc.Query(ctx, req)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if cached {
		t.Error("retry after failure should not be served from cache")
	}
	if answer == nil {
		t.Fatal("retry returned no answer")
	}
	if p.calls.Load() != 2 {
		t.Errorf("pipeline invoked %d times, want 2", p.calls.Load())
	}
}

func TestService_FailurePropagatesToAllCoalescedCallers(t *testing.T) {
	boom := errors.New("generation failed")
	p := &fakePipeline{
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	p.answer = func(context.Context, query.Request) (*query.Answer, error) {
		return nil, boom
	}
	svc := newTestService(t, p, Options{})
	ctx := context.Background()

	req := query.Request{Question: "does echinacea help"}

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _, errs[0] = svc.Query(ctx, req)
	}()
	<-p.started

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = svc.Query(ctx, req)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(p.block)
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, boom) {
			t.Errorf("caller %d got %v, want the upstream error", i, err)
		}
	}
	if p.calls.Load() != 1 {
		t.Errorf("pipeline invoked %d times, want 1", p.calls.Load())
	}
}

func TestService_WaiterCancellation(t *testing.T) {
	p := &fakePipeline{
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	svc := newTestService(t, p, Options{})

	req := query.Request{Question: "remedies for migraines"}

	leaderDone := make(chan error, 1)
	go func() {
		_, _, err := svc.Query(context.Background(), req)
		leaderDone <- err
	}()
	<-p.started

	waiterCtx, cancel := context.WithCancel(context.Background())
	waiterDone := make(chan error, 1)
	go func() {
		_, _, err := svc.Query(waiterCtx, req)
		waiterDone <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	if err := <-waiterDone; !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled waiter got %v, want context.Canceled", err)
	}

	close(p.block)
	if err := <-leaderDone; err != nil {
		t.Errorf("leader failed after waiter cancellation: %v", err)
	}
	if p.calls.Load() != 1 {
		t.Errorf("pipeline invoked %d times, want 1", p.calls.Load())
	}
}

func TestService_UpstreamTimeout(t *testing.T) {
	p := &fakePipeline{block: make(chan struct{})} // never released
	svc := newTestService(t, p, Options{UpstreamTimeout: 30 * time.Millisecond})

	req := query.Request{Question: "slow upstream question"}

	_, _, err := svc.Query(context.Background(), req)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want context.DeadlineExceeded", err)
	}

	// The in-flight slot was cleaned up; a retry computes again.
	_, _, err = svc.Query(context.Background(), req)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("retry got %v, want context.DeadlineExceeded", err)
	}
	if p.calls.Load() != 2 {
		t.Errorf("pipeline invoked %d times, want 2", p.calls.Load())
	}
}

func TestService_InvalidateAndClear(t *testing.T) {
	p := &fakePipeline{}
	svc := newTestService(t, p, Options{})
	ctx := context.Background()

	reqA := query.Request{Question: "remedy for headache"}
	reqB := query.Request{Question: "remedy for fever"}

	if _, _, err := svc.Query(ctx, reqA); err != nil {
		t.Fatal(err)
	}
	if _, _, err := svc.Query(ctx, reqB); err != nil {
		t.Fatal(err)
	}

	// Invalidate removes exactly one entry; normalization applies.
	svc.Invalidate(query.Request{Question: "  Remedy   for HEADACHE "})
	if _, cached, _ := svc.Query(ctx, reqA); cached {
		t.Error("invalidated entry should be recomputed")
	}
	if _, cached, _ := svc.Query(ctx, reqB); !cached {
		t.Error("other entries should survive Invalidate")
	}

	svc.Clear()
	if _, cached, _ := svc.Query(ctx, reqA); cached {
		t.Error("Clear should drop all entries")
	}
	if svc.Stats().Hits == 0 {
		t.Error("Clear must keep lifetime counters")
	}
}

func TestService_StatsSnapshot(t *testing.T) {
	p := &fakePipeline{}
	svc := newTestService(t, p, Options{})
	ctx := context.Background()

	req := query.Request{Question: "remedy for cough"}
	svc.Query(ctx, req) // miss
	svc.Query(ctx, req) // hit
	svc.Query(ctx, req) // hit

	stats := svc.Stats()
	if stats.Hits != 2 || stats.Misses != 1 || stats.Size != 1 {
		t.Errorf("stats = %+v, want hits=2 misses=1 size=1", stats)
	}

	svc.ResetStats()
	stats = svc.Stats()
	if stats.Hits != 0 || stats.Misses != 0 {
		t.Errorf("counters after ResetStats = %+v, want zeros", stats)
	}
	if stats.Size != 1 {
		t.Error("ResetStats must not touch cache content")
	}
}

func TestService_TTLExpiryEndToEnd(t *testing.T) {
	clock := newFakeClock()
	p := &fakePipeline{}
	svc := newTestService(t, p, Options{TTL: time.Second})
	svc.store.now = clock.now
	ctx := context.Background()

	req := query.Request{Question: "remedy for hiccups"}

	if _, _, err := svc.Query(ctx, req); err != nil {
		t.Fatal(err)
	}

	clock.advance(500 * time.Millisecond)
	if _, cached, _ := svc.Query(ctx, req); !cached {
		t.Error("lookup before TTL should hit")
	}

	clock.advance(time.Second)
	if _, cached, _ := svc.Query(ctx, req); cached {
		t.Error("lookup after TTL should miss and recompute")
	}
	if p.calls.Load() != 2 {
		t.Errorf("pipeline invoked %d times, want 2", p.calls.Load())
	}
}
