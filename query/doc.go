// Package query defines the remedy query request and answer types shared
// by the cache, the RAG pipeline client, and the HTTP boundary.
package query
