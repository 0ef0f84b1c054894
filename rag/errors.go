package rag

import "errors"

// Sentinel errors classifying pipeline failures.
var (
	// ErrUpstream marks transient failures: network errors, timeouts and
	// upstream 5xx responses. Safe to retry.
	ErrUpstream = errors.New("rag: upstream unavailable")

	// ErrBadRequest marks permanent failures: the upstream rejected the
	// request as malformed. Retrying the same request will not help.
	ErrBadRequest = errors.New("rag: upstream rejected request")

	// ErrMissingURL is returned when a client is constructed without a
	// base URL.
	ErrMissingURL = errors.New("rag: base URL is required")
)
