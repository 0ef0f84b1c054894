package cache

import "errors"

// Sentinel errors for cache construction.
var (
	// ErrNilPipeline is returned when a Service is constructed without
	// an upstream pipeline.
	ErrNilPipeline = errors.New("cache: pipeline is nil")
)
