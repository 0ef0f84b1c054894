// Package cache provides the query-result cache that fronts the RAG pipeline.
//
// It provides fingerprint derivation from normalized requests, a bounded
// LRU store with TTL expiry, and request coalescing so concurrent identical
// queries trigger at most one upstream computation.
package cache
