// Package health provides readiness and liveness checks for the server's
// dependencies (catalog database, upstream pipeline).
package health

import (
	"context"
	"sync"
	"time"
)

// Status represents the health of a component.
type Status int

const (
	StatusHealthy Status = iota
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Result is the outcome of a single check.
type Result struct {
	Status   Status
	Error    error
	Duration time.Duration
}

// CheckFunc probes one dependency. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

// Registry holds named checks and runs them together.
type Registry struct {
	mu     sync.Mutex
	checks map[string]CheckFunc
	order  []string
}

// NewRegistry creates an empty check registry.
func NewRegistry() *Registry {
	return &Registry{checks: make(map[string]CheckFunc)}
}

// Register adds a named check. Re-registering a name replaces the check.
func (r *Registry) Register(name string, check CheckFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.checks[name]; !ok {
		r.order = append(r.order, name)
	}
	r.checks[name] = check
}

// CheckAll runs every registered check and returns per-check results.
func (r *Registry) CheckAll(ctx context.Context) map[string]Result {
	r.mu.Lock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	checks := make(map[string]CheckFunc, len(r.checks))
	for name, check := range r.checks {
		checks[name] = check
	}
	r.mu.Unlock()

	results := make(map[string]Result, len(names))
	for _, name := range names {
		start := time.Now()
		err := checks[name](ctx)
		result := Result{Status: StatusHealthy, Duration: time.Since(start)}
		if err != nil {
			result.Status = StatusUnhealthy
			result.Error = err
		}
		results[name] = result
	}
	return results
}

// Overall reduces per-check results to a single status: unhealthy if any
// check failed.
func Overall(results map[string]Result) Status {
	for _, r := range results {
		if r.Status != StatusHealthy {
			return StatusUnhealthy
		}
	}
	return StatusHealthy
}
