package cache

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/fzpathan/dr-rag-project/query"
)

// computeResult carries an answer through the singleflight group along with
// whether it was served from the store by the leader's re-check.
type computeResult struct {
	answer *query.Answer
	cached bool
}

// Coalescer guarantees at most one in-flight computation per fingerprint.
// Concurrent callers for the same fingerprint join the leader's computation
// and all receive the same answer or the same error. The zero value is
// ready to use.
type Coalescer struct {
	group singleflight.Group
}

// Resolve runs compute for fp, deduplicated across concurrent callers.
//
// The caller's context cancels only its own wait: the leader's computation
// keeps running and other waiters are unaffected. Failed computations are
// forgotten immediately, so the next caller retries instead of being served
// a cached failure. shared reports whether the result was produced by
// another caller's computation.
func (c *Coalescer) Resolve(ctx context.Context, fp Fingerprint, compute func() (*query.Answer, bool, error)) (answer *query.Answer, cached, shared bool, err error) {
	ch := c.group.DoChan(string(fp), func() (any, error) {
		answer, cached, err := compute()
		if err != nil {
			return nil, err
		}
		return computeResult{answer: answer, cached: cached}, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Shared, res.Err
		}
		cr := res.Val.(computeResult)
		answer = cr.answer
		if res.Shared {
			// Waiters get their own copy so no two callers alias the
			// same answer.
			answer = answer.Clone()
		}
		return answer, cr.cached, res.Shared, nil
	}
}
